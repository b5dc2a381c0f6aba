package server

import (
	"errors"
	"fmt"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"go.uber.org/zap"
)

const destroyLock = "cmd:perm(Builder)"

const destroyHelp = `@destroy <object>

Destroys a thing or room. Its components are detached first, and anything
inside it is moved to the starting room. Players, report hubs, God and the
starting room cannot be destroyed.`

var (
	errDestroyPlayer  = errors.New("players cannot be destroyed")
	errIndestructible = errors.New("object cannot be destroyed")
	errNoSuchObject   = errors.New("no such object")
)

// DestroyObject removes obj from the world. The store delete runs first, so
// a failed write leaves the game untouched. Then every component gets
// AtRemoved, the object leaves the database and its contents fall to the
// starting room. The caller holds g.mu.
func (g *Game) DestroyObject(obj *gamedb.Object) error {
	if _, ok := g.DB.Get(obj.DBRef); !ok {
		return errNoSuchObject
	}
	start := g.Conf.StartingRoom()
	switch {
	case obj.Type == gamedb.TypePlayer:
		return errDestroyPlayer
	case obj.DBRef == gamedb.GodRef, obj.DBRef == start, obj.Type == gamedb.TypeScript:
		return errIndestructible
	}

	if g.Store != nil {
		if err := g.Store.DeleteObject(obj); err != nil {
			return err
		}
	}
	g.Holders.Destroy(obj.DBRef)
	delete(g.DB.Objects, obj.DBRef)

	var moved []*gamedb.Object
	for _, o := range g.DB.Contents(obj.DBRef) {
		o.Location = start
		moved = append(moved, o)
	}
	if len(moved) > 0 {
		g.PersistObjects(moved...)
	}
	zap.L().Info("server: destroyed object",
		zap.Stringer("ref", obj.DBRef), zap.String("name", obj.Name), zap.Int("contents_moved", len(moved)))
	return nil
}

func cmdDestroy(g *Game, d *Descriptor, args string, _ []string) {
	if args == "" {
		d.Send("Destroy what?")
		return
	}
	target, ok := g.MatchObject(d, args)
	if !ok {
		return
	}
	obj, ok := g.DB.Get(target)
	if !ok {
		d.Send("No such object.")
		return
	}
	name := obj.Name
	switch err := g.DestroyObject(obj); {
	case errors.Is(err, errDestroyPlayer):
		d.Send("You can't destroy players.")
		return
	case errors.Is(err, errIndestructible):
		d.Send("That object cannot be destroyed.")
		return
	case err != nil:
		zap.L().Error("server: @destroy failed", zap.Stringer("target", target), zap.Error(err))
		d.Send("Something went wrong destroying that object.")
		return
	}
	d.Send(fmt.Sprintf("Destroyed: %s(%s)", name, target))
}
