package gamedb

import "strings"

// PermHierarchy lists the hierarchical permissions from lowest to highest.
// Holding a permission implies every permission below it.
var PermHierarchy = []string{"Guest", "Player", "Helper", "Builder", "Admin", "Developer"}

// PermLevel returns the hierarchy index of perm, or -1 if it is not a
// hierarchical permission.
func PermLevel(perm string) int {
	for i, p := range PermHierarchy {
		if strings.EqualFold(p, perm) {
			return i
		}
	}
	return -1
}

// HasPerm reports whether the object holds perm, either directly or through a
// higher entry in PermHierarchy. The God object holds every permission.
func (o *Object) HasPerm(perm string) bool {
	if o == nil {
		return false
	}
	if o.DBRef == GodRef {
		return true
	}
	want := PermLevel(perm)
	for _, p := range o.Perms {
		if strings.EqualFold(p, perm) {
			return true
		}
		if want >= 0 && PermLevel(p) >= want {
			return true
		}
	}
	return false
}

// AddPerm grants a permission. Duplicates are ignored.
func (o *Object) AddPerm(perm string) {
	for _, p := range o.Perms {
		if strings.EqualFold(p, perm) {
			return
		}
	}
	o.Perms = append(o.Perms, perm)
}
