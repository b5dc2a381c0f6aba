package gamedb

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DBRef is the fundamental object reference type.
type DBRef int

// Nothing is the null reference.
const Nothing DBRef = -1

// GodRef is the superuser object; it passes every permission and lock check.
const GodRef DBRef = 1

func (r DBRef) String() string {
	return fmt.Sprintf("#%d", int(r))
}

// ObjectType represents the type of a game object.
type ObjectType int

const (
	TypeRoom    ObjectType = 0
	TypeThing   ObjectType = 1
	TypePlayer  ObjectType = 3
	TypeScript  ObjectType = 6
	TypeGarbage ObjectType = 5
)

func (t ObjectType) String() string {
	switch t {
	case TypeRoom:
		return "ROOM"
	case TypeThing:
		return "THING"
	case TypePlayer:
		return "PLAYER"
	case TypeScript:
		return "SCRIPT"
	case TypeGarbage:
		return "GARBAGE"
	default:
		return "UNKNOWN"
	}
}

// Object is a persistent game object. Rooms, things, players and report
// hubs all share this shape; the Typeclass name selects which components a
// freshly created object receives.
type Object struct {
	DBRef     DBRef
	Name      string
	Type      ObjectType
	Typeclass string
	Location  DBRef
	Owner     DBRef
	Perms     []string
	Password  string // bcrypt or legacy DES hash, players only
	Created   time.Time
	LastMod   time.Time
	Attrs     map[string]string
	Tags      TagSet
}

// Ref returns the object's dbref.
func (o *Object) Ref() DBRef {
	return o.DBRef
}

// IsGoing returns true if the object has been destroyed.
func (o *Object) IsGoing() bool {
	return o.Type == TypeGarbage
}

// Database holds the complete in-memory game state.
type Database struct {
	Objects map[DBRef]*Object
	NextRef DBRef
}

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{
		Objects: make(map[DBRef]*Object),
	}
}

// Get returns a live (non-garbage) object by reference.
func (db *Database) Get(ref DBRef) (*Object, bool) {
	obj, ok := db.Objects[ref]
	if !ok || obj.IsGoing() {
		return nil, false
	}
	return obj, true
}

// Add assigns the next free dbref to obj and inserts it.
func (db *Database) Add(obj *Object) DBRef {
	for {
		if _, taken := db.Objects[db.NextRef]; !taken {
			break
		}
		db.NextRef++
	}
	obj.DBRef = db.NextRef
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]string)
	}
	now := time.Now()
	if obj.Created.IsZero() {
		obj.Created = now
	}
	obj.LastMod = now
	db.Objects[obj.DBRef] = obj
	db.NextRef++
	return obj.DBRef
}

// Put inserts obj under its existing dbref (used by loaders).
func (db *Database) Put(obj *Object) {
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]string)
	}
	db.Objects[obj.DBRef] = obj
	if obj.DBRef >= db.NextRef {
		db.NextRef = obj.DBRef + 1
	}
}

// FindByName returns the first live object of the given type whose name
// matches case-insensitively. Lowest dbref wins so lookups are stable.
func (db *Database) FindByName(name string, typ ObjectType) (*Object, bool) {
	var found *Object
	for _, obj := range db.Objects {
		if obj.Type != typ || !strings.EqualFold(obj.Name, name) {
			continue
		}
		if found == nil || obj.DBRef < found.DBRef {
			found = obj
		}
	}
	return found, found != nil
}

// Contents returns the live objects located in loc, ordered by dbref.
func (db *Database) Contents(loc DBRef) []*Object {
	var out []*Object
	for _, obj := range db.Objects {
		if obj.Location == loc && !obj.IsGoing() {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DBRef < out[j].DBRef })
	return out
}
