package gamedb

import (
	"strings"
	"time"
)

// Attribute names are case-insensitive and stored upper-cased, as in MUSH.
func attrKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// GetAttr returns the value of an attribute, or "" if unset.
func (o *Object) GetAttr(name string) string {
	if o.Attrs == nil {
		return ""
	}
	return o.Attrs[attrKey(name)]
}

// HasAttr reports whether the attribute is set.
func (o *Object) HasAttr(name string) bool {
	if o.Attrs == nil {
		return false
	}
	_, ok := o.Attrs[attrKey(name)]
	return ok
}

// SetAttr sets an attribute. An empty value clears it.
func (o *Object) SetAttr(name, value string) {
	key := attrKey(name)
	if value == "" {
		delete(o.Attrs, key)
	} else {
		if o.Attrs == nil {
			o.Attrs = make(map[string]string)
		}
		o.Attrs[key] = value
	}
	o.LastMod = time.Now()
}

// AttrList reads an attribute as a space-separated word list.
func (o *Object) AttrList(name string) []string {
	return strings.Fields(o.GetAttr(name))
}

// SetAttrList stores words as a space-separated list. An empty list clears
// the attribute.
func (o *Object) SetAttrList(name string, words []string) {
	o.SetAttr(name, strings.Join(words, " "))
}

// AttrNames returns the names of attributes with the given prefix.
func (o *Object) AttrNames(prefix string) []string {
	prefix = attrKey(prefix)
	var names []string
	for k := range o.Attrs {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	return names
}
