package gamedb

import "strings"

// Tag is a lightweight label attached to an object or message. Keys are
// compared case-insensitively; the category partitions the tag namespace.
type Tag struct {
	Key      string
	Category string
}

// TagSet is an ordered set of tags.
type TagSet []Tag

func (t Tag) matches(key, category string) bool {
	return strings.EqualFold(t.Key, key) && t.Category == category
}

// Has reports whether key is present under category.
func (ts TagSet) Has(key, category string) bool {
	for _, t := range ts {
		if t.matches(key, category) {
			return true
		}
	}
	return false
}

// HasKey reports whether key is present under any category.
func (ts TagSet) HasKey(key string) bool {
	for _, t := range ts {
		if strings.EqualFold(t.Key, key) {
			return true
		}
	}
	return false
}

// Add inserts a tag unless it is already present.
func (ts *TagSet) Add(key, category string) {
	if key == "" || ts.Has(key, category) {
		return
	}
	*ts = append(*ts, Tag{Key: strings.ToLower(key), Category: category})
}

// Remove deletes a tag. It returns false if the tag was not present.
func (ts *TagSet) Remove(key, category string) bool {
	for i, t := range *ts {
		if t.matches(key, category) {
			*ts = append((*ts)[:i], (*ts)[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every tag in category and returns how many were removed.
func (ts *TagSet) Clear(category string) int {
	kept := (*ts)[:0]
	removed := 0
	for _, t := range *ts {
		if t.Category == category {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	*ts = kept
	return removed
}

// Keys returns the keys tagged under category, in insertion order.
func (ts TagSet) Keys(category string) []string {
	var keys []string
	for _, t := range ts {
		if t.Category == category {
			keys = append(keys, t.Key)
		}
	}
	return keys
}

// Clone returns a copy that does not share backing storage.
func (ts TagSet) Clone() TagSet {
	if ts == nil {
		return nil
	}
	out := make(TagSet, len(ts))
	copy(out, ts)
	return out
}
