// Package stock holds the components shipped with the server: health for
// anything that can be hurt, and faction for anything that takes sides.
package stock

import (
	"fmt"
	"strconv"

	"github.com/crystal-mush/mushcontrib/pkg/components"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
)

const (
	HealthName  = "health"
	FactionName = "faction"

	DefaultMaxHealth = 100
	DefaultFaction   = "neutral"
)

// Health tracks hit points in the host's HEALTH::MAX and HEALTH::CURRENT attributes.
type Health struct {
	components.Base
}

func newHealth(host *gamedb.Object) *Health {
	return &Health{Base: components.NewBase(HealthName, host)}
}

func (h *Health) Max() int     { return h.intField("max", DefaultMaxHealth) }
func (h *Health) Current() int { return h.intField("current", h.Max()) }

func (h *Health) intField(field string, def int) int {
	n, err := strconv.Atoi(h.DBField(field))
	if err != nil {
		return def
	}
	return n
}

// Damage lowers current health, never below zero, and returns the new value.
func (h *Health) Damage(n int) int {
	cur := max(h.Current()-n, 0)
	h.SetDBField("current", strconv.Itoa(cur))
	return cur
}

// Heal raises current health, never above max, and returns the new value.
func (h *Health) Heal(n int) int {
	cur := min(h.Current()+n, h.Max())
	h.SetDBField("current", strconv.Itoa(cur))
	return cur
}

func (h *Health) Dead() bool { return h.Current() <= 0 }

func (h *Health) AtAdded(*components.Handler) {
	if h.DBField("max") == "" {
		h.SetDBField("max", strconv.Itoa(DefaultMaxHealth))
	}
	if h.DBField("current") == "" {
		h.SetDBField("current", h.DBField("max"))
	}
}

func (h *Health) AtRemoved(*components.Handler) {
	h.ClearDBFields()
}

func createHealth(host *gamedb.Object, values map[string]string) (components.Component, error) {
	h := newHealth(host)
	maxHP := DefaultMaxHealth
	if v, ok := values["max"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("health: bad max %q", v)
		}
		maxHP = n
	}
	h.SetDBField("max", strconv.Itoa(maxHP))
	h.SetDBField("current", strconv.Itoa(maxHP))
	return h, nil
}

// Faction records allegiance as a tag so hosts can be searched by side.
type Faction struct {
	components.Base
}

var factionFields = []components.TagField{{Name: "allegiance", Default: DefaultFaction}}

func newFaction(host *gamedb.Object) *Faction {
	return &Faction{Base: components.NewBase(FactionName, host, factionFields...)}
}

func (f *Faction) Allegiance() string        { return f.TagValue("allegiance") }
func (f *Faction) SetAllegiance(side string) { f.SetTagValue("allegiance", side) }

// Allied reports whether two factions share an allegiance.
func (f *Faction) Allied(other *Faction) bool {
	return other != nil && f.Allegiance() == other.Allegiance()
}

func createFaction(host *gamedb.Object, values map[string]string) (components.Component, error) {
	f := newFaction(host)
	if side := values["allegiance"]; side != "" {
		f.SetAllegiance(side)
	}
	return f, nil
}

// Register adds the stock classes to r.
func Register(r *components.ClassRegistry) error {
	for _, c := range []components.Class{
		{
			Name:   HealthName,
			Create: createHealth,
			Load: func(host *gamedb.Object) (components.Component, error) {
				return newHealth(host), nil
			},
		},
		{
			Name:   FactionName,
			Create: createFaction,
			Load: func(host *gamedb.Object) (components.Component, error) {
				return newFaction(host), nil
			},
		},
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Typeclasses returns the stock typeclasses: "object" declares nothing,
// "character" is alive and neutral, "guard" is a character sworn to the city.
func Typeclasses() []*components.Typeclass {
	object := components.NewTypeclass("object", nil)
	character := components.NewTypeclass("character", object).
		Declare(HealthName, nil).
		Declare(FactionName, nil)
	guard := components.NewTypeclass("guard", character).
		Declare(HealthName, map[string]string{"max": "150"}).
		Declare(FactionName, map[string]string{"allegiance": "city"})
	return []*components.Typeclass{object, character, guard}
}
