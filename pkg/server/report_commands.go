package server

import (
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/reports"
)

// playerCaller adapts a connected player to reports.Caller.
type playerCaller struct {
	g   *Game
	d   *Descriptor
	obj *gamedb.Object
}

func (g *Game) callerFor(d *Descriptor) (*playerCaller, bool) {
	obj, ok := g.DB.Get(d.Player)
	if !ok {
		return nil, false
	}
	return &playerCaller{g: g, d: d, obj: obj}, true
}

func (c *playerCaller) Ref() gamedb.DBRef        { return c.obj.DBRef }
func (c *playerCaller) HasPerm(perm string) bool { return c.obj.HasPerm(perm) }
func (c *playerCaller) Msg(text string)          { c.d.Send(text) }

func (c *playerCaller) Search(term string) (gamedb.DBRef, bool) {
	return c.g.MatchObject(c.d, term)
}

var _ reports.Caller = (*playerCaller)(nil)

// reportHandler binds a report command to the name it is invoked by, so
// "ideas" lists while "idea" files.
func reportHandler(rc *reports.Command, invokedAs string) CommandHandler {
	return func(g *Game, d *Descriptor, args string, _ []string) {
		caller, ok := g.callerFor(d)
		if !ok {
			return
		}
		g.Reports.Run(rc, caller, invokedAs, args)
	}
}

func cmdManage(g *Game, d *Descriptor, args string, _ []string) {
	caller, ok := g.callerFor(d)
	if !ok {
		return
	}
	sess := g.Reports.Manage(&menuCaller{playerCaller: caller}, args)
	if sess != nil {
		d.Menu = sess
	}
}

// menuCaller sends through the descriptor's menu channel so WebSocket
// clients can tell menu screens from ordinary output.
type menuCaller struct {
	*playerCaller
}

func (c *menuCaller) Msg(text string) { c.d.menuOutput(text) }
