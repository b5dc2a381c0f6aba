package reports

import (
	"fmt"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"go.uber.org/zap"
)

// DateFormat is how report dates are shown to players and staff.
const DateFormat = "2006-01-02 15:04"

const (
	// FileLock gates the filing commands: anyone connected may file.
	FileLock = "cmd:all()"
	// ManageLock gates the manage command.
	ManageLock = "cmd:pperm(Admin)"
)

// Command is one report-filing command. Commands differ only in their
// category, whether a target is required, the read lock put on new reports
// and the confirmation text.
type Command struct {
	Key     string
	Aliases []string
	Help    string
	// Category names the hub; it defaults to Key.
	Category      string
	RequireTarget bool
	// Locks is the lock string stored on every report this command files.
	Locks      string
	SuccessMsg string
	// ListAlias, when invoked by name, lists the caller's own open reports
	// instead of filing one.
	ListAlias  string
	ListHeader string
	ListEmpty  string
}

const (
	defaultLocks   = "read:pperm(Admin)"
	defaultSuccess = "Your report has been filed."
	failureMsg     = "Something went wrong creating your report. Please try again later or contact staff directly."
)

// Bug files a bug report, optionally against an object.
func Bug() *Command {
	return &Command{
		Key:   "bug",
		Locks: "read:pperm(Developer)",
		Help: `file a bug

Usage:
  bug [<target> =] <message>

If a specific object, location or character is bugged, please target it.

Examples:
  bug hammer = This doesn't work as a crafting tool but it should
  bug every time I go through a door I get the message twice`,
	}
}

// Report files a report about another player.
func Report() *Command {
	return &Command{
		Key:           "report",
		Category:      "player",
		RequireTarget: true,
		Help: `report a player

Usage:
  report <player> = <message>

All player reports will be reviewed.`,
	}
}

// Idea files a suggestion; "ideas" lists the caller's open suggestions.
func Idea() *Command {
	return &Command{
		Key:        "idea",
		Aliases:    []string{"ideas"},
		Locks:      "read:pperm(Builder)",
		SuccessMsg: "Thank you for your suggestion!",
		ListAlias:  "ideas",
		ListHeader: "Ideas you've submitted:",
		ListEmpty:  "You have no open suggestions.",
		Help: `submit a suggestion

Usage:
  ideas
  idea <message>

Example:
  idea wouldn't it be cool if we had horses we could ride`,
	}
}

func (c *Command) category() string {
	if c.Category != "" {
		return c.Category
	}
	return c.Key
}

func (c *Command) locks() string {
	if c.Locks != "" {
		return c.Locks
	}
	return defaultLocks
}

func (c *Command) successMsg() string {
	if c.SuccessMsg != "" {
		return c.SuccessMsg
	}
	return defaultSuccess
}

// ParseArgs splits "[<target> =] <message>". With no right-hand side the
// whole input is the message.
func ParseArgs(args string) (target, message string) {
	lhs, rhs, _ := strings.Cut(args, "=")
	lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)
	if rhs != "" {
		return lhs, rhs
	}
	return "", lhs
}

// Run executes c for caller. cmdstring is the name the command was invoked
// by and args the text after it. It returns the filed message, or nil if
// nothing was filed.
func (s *Service) Run(c *Command, caller Caller, cmdstring, args string) *gamedb.Message {
	category := c.category()
	hub, err := s.hubs.Get(category)
	if err != nil {
		// No hub, no command. The framework treats this as a cancelled command.
		zap.L().Warn("reports: command cancelled, hub unavailable",
			zap.String("cmd", c.Key), zap.String("category", category), zap.Error(err))
		return nil
	}

	if c.ListAlias != "" && strings.EqualFold(cmdstring, c.ListAlias) {
		s.listOwn(c, caller, hub)
		return nil
	}

	args = strings.TrimSpace(args)
	if args == "" {
		caller.Msg("You must provide a message.")
		return nil
	}
	targetStr, message := ParseArgs(args)

	target := gamedb.Nothing
	if targetStr != "" {
		ref, ok := caller.Search(targetStr)
		if !ok {
			return nil
		}
		target = ref
	} else if c.RequireTarget {
		caller.Msg("You must include a target.")
		return nil
	}
	if message == "" {
		caller.Msg("You must provide a message.")
		return nil
	}

	receivers := []gamedb.DBRef{hub}
	if target != gamedb.Nothing && target != hub {
		receivers = append(receivers, target)
	}
	msg := gamedb.NewMessage(caller.Ref(), message, receivers, c.locks(), ReportTag)
	if err := s.store.CreateMessage(msg); err != nil {
		zap.L().Error("reports: create report failed",
			zap.String("category", category), zap.Stringer("sender", caller.Ref()), zap.Error(err))
		caller.Msg(failureMsg)
		return nil
	}
	zap.L().Info("reports: filed",
		zap.String("category", category), zap.Stringer("sender", caller.Ref()),
		zap.Stringer("id", msg.ID), zap.Int("receivers", len(receivers)))
	caller.Msg(c.successMsg())
	if s.OnFiled != nil {
		s.OnFiled(category, msg)
	}
	return msg
}

func (s *Service) listOwn(c *Command, caller Caller, hub gamedb.DBRef) {
	q := gamedb.NewMessageQuery()
	q.Sender = caller.Ref()
	q.Receiver = hub
	q.ExcludeTag = ClosedTag
	msgs, err := s.store.SearchMessages(q)
	if err != nil {
		zap.L().Error("reports: list own failed", zap.Stringer("sender", caller.Ref()), zap.Error(err))
		caller.Msg(failureMsg)
		return
	}
	if len(msgs) == 0 {
		caller.Msg(c.ListEmpty)
		return
	}
	var b strings.Builder
	b.WriteString(c.ListHeader)
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n  %s (submitted %s)", m.Body, m.Created.Format(DateFormat))
	}
	caller.Msg(b.String())
}
