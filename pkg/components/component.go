// Package components lets game objects carry named behavior fragments
// ("components") instead of growing deep type hierarchies.
//
// A component's identity lives in two places: the host attribute
// COMPONENT_NAMES holds the ordered list of attached names and survives
// restarts, while a Handler keeps the live component values. On reload the
// live values are rebuilt from the list through each Class's Load function;
// they are never deserialized directly.
package components

import (
	"errors"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
)

// NamesAttr is the host attribute holding the persisted component names.
const NamesAttr = "COMPONENT_NAMES"

// TagCategory is the host tag category marking attached components.
const TagCategory = "components"

var (
	// ErrComponentNotFound means a name does not resolve to a registered Class.
	ErrComponentNotFound = errors.New("component class not found")
	// ErrNotRegistered means the host has no live component under that name.
	ErrNotRegistered = errors.New("component not registered")
	// ErrAlreadyRegistered means the host already carries a component under that name.
	ErrAlreadyRegistered = errors.New("component already registered")
)

// Component is a named behavior fragment owned by exactly one host.
type Component interface {
	Name() string
	// AtAdded runs after the component is attached through Handler.Add.
	AtAdded(h *Handler)
	// AtRemoved runs before the component is detached.
	AtRemoved(h *Handler)
	TagFields() []TagField
	TagValue(field string) string
	SetTagValue(field, value string)
}

// TagField is a component field stored as a host tag. Its category is
// "<component>::<field>" so other code can search hosts by it.
type TagField struct {
	Name    string
	Default string
}

// TagFieldCategory returns the host tag category for a component's field.
func TagFieldCategory(component, field string) string {
	return component + "::" + field
}

// Base implements the bookkeeping half of Component. Embed it and override
// AtAdded / AtRemoved as needed.
type Base struct {
	name   string
	host   *gamedb.Object
	fields []TagField
}

// NewBase returns a Base for the named component on host.
func NewBase(name string, host *gamedb.Object, fields ...TagField) Base {
	return Base{name: name, host: host, fields: fields}
}

func (b *Base) Name() string { return b.name }

// Host returns the object this component is attached to.
func (b *Base) Host() *gamedb.Object { return b.host }

func (b *Base) AtAdded(*Handler)   {}
func (b *Base) AtRemoved(*Handler) {}

func (b *Base) TagFields() []TagField { return b.fields }

// TagValue returns the field's current host tag, or "" if unset.
func (b *Base) TagValue(field string) string {
	keys := b.host.Tags.Keys(TagFieldCategory(b.name, field))
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// SetTagValue replaces the field's host tag. An empty value clears it.
func (b *Base) SetTagValue(field, value string) {
	cat := TagFieldCategory(b.name, field)
	b.host.Tags.Clear(cat)
	if value != "" {
		b.host.Tags.Add(value, cat)
	}
}

// DBField reads a component data field stored on the host as
// "<component>::<field>".
func (b *Base) DBField(field string) string {
	return b.host.GetAttr(dbFieldAttr(b.name, field))
}

// SetDBField writes a component data field to the host.
func (b *Base) SetDBField(field, value string) {
	b.host.SetAttr(dbFieldAttr(b.name, field), value)
}

// ClearDBFields removes every data field this component stored on the host.
func (b *Base) ClearDBFields() {
	for _, name := range b.host.AttrNames(b.name + "::") {
		b.host.SetAttr(name, "")
	}
}

func dbFieldAttr(component, field string) string {
	return strings.ToUpper(component + "::" + field)
}
