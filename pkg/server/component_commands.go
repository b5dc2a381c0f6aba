package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/components"
	"github.com/crystal-mush/mushcontrib/pkg/events"
	"go.uber.org/zap"
)

const componentLock = "cmd:perm(Builder)"

const componentHelp = `@component <object>
@component/add <object> = <component>
@component/remove <object> = <component>
@component/classes

Lists, attaches or detaches components. /classes lists the component
types that can be attached.`

func cmdComponent(g *Game, d *Descriptor, args string, switches []string) {
	sw := ""
	if len(switches) > 0 {
		sw = strings.ToLower(switches[0])
	}
	if sw == "classes" {
		d.Send("Component classes: " + strings.Join(g.Holders.Classes().Names(), ", "))
		return
	}

	objName, compName, _ := strings.Cut(args, "=")
	objName, compName = strings.TrimSpace(objName), strings.ToLower(strings.TrimSpace(compName))
	if objName == "" {
		d.Send("Usage: @component[/add|/remove] <object>[=<component>]")
		return
	}
	target, ok := g.MatchObject(d, objName)
	if !ok {
		return
	}
	h, ok := g.Holders.Handler(target)
	if !ok {
		d.Send("That object cannot hold components.")
		return
	}
	name := g.PlayerName(target)

	switch sw {
	case "":
		if h.Len() == 0 {
			d.Send(fmt.Sprintf("%s has no components.", name))
			return
		}
		d.Send(fmt.Sprintf("%s(%s)\n%s", name, target, describeComponents(h)))
		return
	case "add", "remove":
	default:
		d.Send(fmt.Sprintf("Unknown switch '%s'.", sw))
		return
	}

	if compName == "" {
		d.Send(fmt.Sprintf("Usage: @component/%s <object>=<component>", sw))
		return
	}
	var err error
	if sw == "add" {
		err = h.AddDefault(compName)
	} else {
		err = h.RemoveByName(compName)
	}
	switch {
	case errors.Is(err, components.ErrComponentNotFound):
		d.Send(fmt.Sprintf("There is no component called '%s'.", compName))
		return
	case errors.Is(err, components.ErrAlreadyRegistered):
		d.Send(fmt.Sprintf("%s already has %s.", name, compName))
		return
	case errors.Is(err, components.ErrNotRegistered):
		d.Send(fmt.Sprintf("%s has no %s component.", name, compName))
		return
	case err != nil:
		zap.L().Error("server: @component failed",
			zap.String("op", sw), zap.Stringer("target", target), zap.String("component", compName), zap.Error(err))
		d.Send("Something went wrong changing that object's components.")
		return
	}

	g.Metrics.ComponentChanged(sw)
	if sw == "add" {
		d.Send(fmt.Sprintf("Added %s to %s.", compName, name))
	} else {
		d.Send(fmt.Sprintf("Removed %s from %s.", compName, name))
	}
	g.Emit(events.Event{
		Type:   events.EvComponent,
		Player: d.Player,
		Source: d.Player,
		Data: map[string]any{
			"op":         sw,
			"target":     int(target),
			"component":  compName,
			"components": h.Names(),
		},
	})
}

// describeComponents renders a handler's components and their tag fields.
func describeComponents(h *components.Handler) string {
	var b strings.Builder
	b.WriteString("Components:")
	for _, cname := range h.Names() {
		c, _ := h.Get(cname)
		var fields []string
		for _, f := range c.TagFields() {
			fields = append(fields, fmt.Sprintf("%s: %s", f.Name, c.TagValue(f.Name)))
		}
		if len(fields) > 0 {
			fmt.Fprintf(&b, "\n  %s (%s)", cname, strings.Join(fields, ", "))
		} else {
			fmt.Fprintf(&b, "\n  %s", cname)
		}
	}
	return b.String()
}
