package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/menu"
	"github.com/crystal-mush/mushcontrib/pkg/reports"
	"go.uber.org/zap"
)

// CommandHandler is the signature for game command implementations.
type CommandHandler func(g *Game, d *Descriptor, args string, switches []string)

// Command represents a registered game command.
type Command struct {
	Name    string
	Handler CommandHandler
	// Lock is checked with access type "cmd" before the handler runs. Empty
	// means anyone connected.
	Lock string
	Help string
}

// InitCommands registers the built-in game commands. Report commands depend
// on configuration and are added by syncReportCommands.
func InitCommands() map[string]*Command {
	cmds := make(map[string]*Command)

	register := func(name string, handler CommandHandler, lock, help string) {
		cmds[strings.ToLower(name)] = &Command{Name: name, Handler: handler, Lock: lock, Help: help}
	}

	register("look", cmdLook, "", "look [<object>]\n\nShows your surroundings, or an object.")
	register("l", cmdLook, "", "")
	register("WHO", cmdWho, "", "WHO\n\nLists connected players.")
	register("QUIT", cmdQuit, "", "QUIT\n\nDisconnects you.")
	register("help", cmdHelp, "", "help [<topic>]\n\nLists commands, or shows help for one.")
	register("@doing", cmdSetDoing, "", "@doing <message>\n\nSets your WHO list message.")
	register("version", cmdVersion, "", "version\n\nShows the server version.")
	register("@version", cmdVersion, "", "")
	register("@component", cmdComponent, componentLock, componentHelp)
	register("@archive", cmdArchive, archiveLock, archiveHelp)
	register("@destroy", cmdDestroy, destroyLock, destroyHelp)

	return cmds
}

// syncReportCommands registers the filing commands for the configured report
// types and the manage command. Called at start and after config reloads;
// the caller holds g.mu or has not yet shared g.
func (g *Game) syncReportCommands() {
	for _, name := range g.reportCmds {
		delete(g.Commands, name)
	}
	g.reportCmds = g.reportCmds[:0]

	add := func(c *Command) {
		key := strings.ToLower(c.Name)
		g.Commands[key] = c
		g.reportCmds = append(g.reportCmds, key)
	}
	for _, rc := range g.Reports.Commands() {
		for _, name := range append([]string{rc.Key}, rc.Aliases...) {
			add(&Command{Name: name, Handler: reportHandler(rc, name), Lock: reports.FileLock, Help: rc.Help})
		}
	}
	add(&Command{Name: "manage", Handler: cmdManage, Lock: reports.ManageLock, Help: g.Reports.ManageHelp()})
}

// DispatchCommand parses and executes a command for a connected player.
func DispatchCommand(g *Game, d *Descriptor, input string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// An open menu gets the line; "|" escapes to a normal command.
	if d.Menu != nil {
		if rest, ok := strings.CutPrefix(input, "|"); ok {
			runCommand(g, d, rest)
			if d.Menu != nil {
				d.menuOutput(menu.Prompt)
			}
			return
		}
		d.Menu.Input(input)
		if d.Menu.Done() {
			d.Menu = nil
		}
		return
	}
	runCommand(g, d, input)
}

func runCommand(g *Game, d *Descriptor, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	g.Metrics.CommandProcessed()

	var cmdName, args string
	if spaceIdx := strings.IndexByte(input, ' '); spaceIdx >= 0 {
		cmdName = input[:spaceIdx]
		args = strings.TrimSpace(input[spaceIdx+1:])
	} else {
		cmdName = input
	}

	// Parse /switches from command name (e.g. "@component/add" -> "@component", ["add"])
	var switches []string
	if slashIdx := strings.IndexByte(cmdName, '/'); slashIdx >= 0 {
		parts := strings.Split(cmdName, "/")
		cmdName = parts[0]
		switches = parts[1:]
	}

	cmd, ok := g.Commands[strings.ToLower(cmdName)]
	if !ok {
		d.Send(`Huh?  (Type "help" for help.)`)
		return
	}
	player, ok := g.DB.Get(d.Player)
	if !ok {
		d.Send(`Huh?  (Type "help" for help.)`)
		return
	}
	if !canUse(cmd, player) {
		d.Send("Permission denied.")
		return
	}
	zap.L().Debug("server: command",
		zap.Int("desc", d.ID), zap.Stringer("player", d.Player), zap.String("cmd", cmd.Name))
	cmd.Handler(g, d, args, switches)
}

func canUse(cmd *Command, who gamedb.Accessor) bool {
	return cmd.Lock == "" || gamedb.CheckLock(cmd.Lock, "cmd", who, true)
}

// --- Built-in commands ---

func cmdLook(g *Game, d *Descriptor, args string, _ []string) {
	if args == "" || strings.EqualFold(args, "here") {
		g.ShowRoom(d, g.PlayerLocation(d.Player))
		return
	}
	target, ok := g.MatchObject(d, args)
	if !ok {
		return
	}
	if obj, ok := g.DB.Get(target); ok && obj.Type == gamedb.TypeRoom {
		g.ShowRoom(d, target)
		return
	}
	g.ShowObject(d, target)
}

// ShowObject displays a non-room object, including its components.
func (g *Game) ShowObject(d *Descriptor, ref gamedb.DBRef) {
	obj, ok := g.DB.Get(ref)
	if !ok {
		d.Send("I don't see that here.")
		return
	}
	d.Send(fmt.Sprintf("%s(%s)", obj.Name, obj.DBRef))
	if desc := obj.GetAttr("DESC"); desc != "" {
		d.Send(desc)
	} else {
		d.Send("You see nothing special.")
	}
	if h, ok := g.Holders.Handler(ref); ok && h.Len() > 0 {
		d.Send(describeComponents(h))
	}
}

func cmdWho(g *Game, d *Descriptor, _ string, _ []string) {
	g.ShowWho(d)
}

func cmdQuit(g *Game, d *Descriptor, _ string, _ []string) {
	d.Send("Going home.")
	d.Close()
}

func cmdSetDoing(g *Game, d *Descriptor, args string, _ []string) {
	d.DoingStr = args
	d.Send("Set.")
}

func cmdVersion(g *Game, d *Descriptor, _ string, _ []string) {
	d.Send(VersionString())
}

func cmdHelp(g *Game, d *Descriptor, args string, _ []string) {
	player, _ := g.DB.Get(d.Player)
	topic := strings.ToLower(strings.TrimSpace(args))
	if topic != "" {
		cmd, ok := g.Commands[topic]
		if !ok || cmd.Help == "" || !canUse(cmd, player) {
			d.Send(fmt.Sprintf("No entry for '%s'.", args))
			return
		}
		d.Send(cmd.Help)
		return
	}

	var names []string
	for _, cmd := range g.Commands {
		if cmd.Help != "" && canUse(cmd, player) {
			names = append(names, cmd.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	d.Send("Commands available to you:\n  " + strings.Join(names, "  ") + "\nType \"help <command>\" for more.")
}
