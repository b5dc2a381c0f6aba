package reports

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/menu"
	"go.uber.org/zap"
)

// ManageHelp builds the manage command's help from the configured types.
func (s *Service) ManageHelp() string {
	return fmt.Sprintf(`manage the various reports

Usage:
  manage [report type]

Available report types:
  %s

Opens a menu for reviewing and changing the status of current reports.`,
		strings.Join(s.Config().Types, "\n  "))
}

// Manage opens the management menu for a plural category name. It returns
// nil after telling the caller why if the menu cannot be opened.
func (s *Service) Manage(caller Caller, plural string) *menu.Session {
	plural = strings.ToLower(strings.TrimSpace(plural))
	if plural == "" {
		caller.Msg(s.ManageHelp())
		return nil
	}
	if plural == "reports" {
		plural = "players"
	}
	if !s.HasType(plural) {
		caller.Msg(fmt.Sprintf("'%s' is not a valid report category.", plural))
		return nil
	}
	category := strings.TrimSuffix(plural, "s")
	hub, err := s.hubs.Get(category)
	if err != nil {
		zap.L().Warn("reports: manage without hub", zap.String("category", category), zap.Error(err))
		caller.Msg("You cannot manage that.")
		return nil
	}

	st := &manageState{svc: s, caller: caller, hub: hub, category: category}
	sess, err := s.manageMenu(category).Open(caller.Msg, st)
	if err != nil {
		zap.L().Error("reports: open menu", zap.Error(err))
		caller.Msg("You cannot manage that.")
		return nil
	}
	return sess
}

type manageState struct {
	svc      *Service
	caller   Caller
	hub      gamedb.DBRef
	category string
	page     int
	reports  []*gamedb.Message
	current  *gamedb.Message
}

func (st *manageState) load() error {
	msgs, err := st.svc.List(st.category, st.caller, true)
	if err != nil {
		return err
	}
	st.reports = msgs
	if last := st.pages() - 1; st.page > last {
		st.page = last
	}
	return nil
}

func (st *manageState) pageSize() int { return st.svc.Config().PageSize }

func (st *manageState) pages() int {
	n := (len(st.reports) + st.pageSize() - 1) / st.pageSize()
	return max(n, 1)
}

func (st *manageState) pageItems() []*gamedb.Message {
	lo := st.page * st.pageSize()
	hi := min(lo+st.pageSize(), len(st.reports))
	if lo >= hi {
		return nil
	}
	return st.reports[lo:hi]
}

func (s *Service) manageMenu(category string) *menu.Menu {
	return menu.New(category+" reports menu", "list").
		Add(menu.Node{Name: "list", Render: renderList, Handle: handleList}).
		Add(menu.Node{Name: "report", Render: renderReport, Handle: handleReport})
}

func renderList(s *menu.Session) string {
	st := s.Data.(*manageState)
	if err := st.load(); err != nil {
		zap.L().Error("reports: load list", zap.String("category", st.category), zap.Error(err))
		return "Could not load reports."
	}
	if len(st.reports) == 0 {
		return fmt.Sprintf("There are no %s reports.\n'q' to quit.", st.category)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Managing %s reports (page %d of %d):", st.category, st.page+1, st.pages())
	base := st.page * st.pageSize()
	for i, m := range st.pageItems() {
		fmt.Fprintf(&b, "\n %3d. [%s] %s - %s (%s)",
			base+i+1, st.svc.Status(m), truncate(m.Body, 40),
			st.svc.dir.Name(m.Sender), m.Created.Format(DateFormat))
	}
	b.WriteString("\nEnter a number to view a report, 'next' or 'prev' to page, 'q' to quit.")
	return b.String()
}

func handleList(s *menu.Session, input string) {
	st := s.Data.(*manageState)
	switch strings.ToLower(input) {
	case "":
		return
	case "n", "next":
		if st.page+1 < st.pages() {
			st.page++
		} else {
			s.Send("That is the last page.")
		}
		return
	case "p", "prev":
		if st.page > 0 {
			st.page--
		} else {
			s.Send("That is the first page.")
		}
		return
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(st.reports) {
		s.Send("Invalid choice.")
		return
	}
	st.current = st.reports[n-1]
	s.Goto("report")
}

func renderReport(s *menu.Session) string {
	st := s.Data.(*manageState)
	m := st.current
	dir := st.svc.dir
	var targets []string
	for _, r := range m.Receivers {
		if r != st.hub {
			targets = append(targets, dir.Name(r))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s report by %s on %s\n", st.category, dir.Name(m.Sender), m.Created.Format(DateFormat))
	if len(targets) > 0 {
		fmt.Fprintf(&b, "Target: %s\n", strings.Join(targets, ", "))
	}
	fmt.Fprintf(&b, "Status: %s\n\n%s\n", st.svc.Status(m), m.Body)
	for i, tag := range st.svc.Config().StatusTags {
		verb := "Mark"
		if m.Tags.Has(tag, "") {
			verb = "Unmark"
		}
		fmt.Fprintf(&b, "\n %d. %s as %s", i+1, verb, tag)
	}
	b.WriteString("\n 'back' to return to the list, 'q' to quit.")
	return b.String()
}

func handleReport(s *menu.Session, input string) {
	st := s.Data.(*manageState)
	switch strings.ToLower(input) {
	case "":
		return
	case "b", "back":
		st.current = nil
		s.Goto("list")
		return
	}
	tags := st.svc.Config().StatusTags
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(tags) {
		s.Send("Invalid choice.")
		return
	}
	set, err := st.svc.ToggleStatus(st.current, tags[n-1])
	if err != nil {
		zap.L().Error("reports: toggle status", zap.Stringer("id", st.current.ID), zap.Error(err))
		s.Send("Could not update that report.")
		return
	}
	if set {
		s.Send(fmt.Sprintf("Marked as %s.", tags[n-1]))
	} else {
		s.Send(fmt.Sprintf("No longer %s.", tags[n-1]))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
