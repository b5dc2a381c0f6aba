// Package reports lets players file bug reports, ideas and reports about
// other players, and lets staff triage them through a menu.
//
// Every category has a hub: one persistent object named "<category>_reports"
// that receives every report of that category. Reports are gamedb.Messages
// tagged "report" whose receivers are the hub and, optionally, a target.
package reports

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportTag marks every filed report.
const ReportTag = "report"

// ClosedTag hides a report from its author's open list.
const ClosedTag = "closed"

// Caller is the player or connection running a report command.
type Caller interface {
	gamedb.Accessor
	Msg(text string)
	// Search resolves term from the caller's point of view. On failure it has
	// already told the caller why.
	Search(term string) (gamedb.DBRef, bool)
}

// Directory finds and creates hub objects.
type Directory interface {
	FindHub(key string) (gamedb.DBRef, bool)
	CreateHub(key string) (gamedb.DBRef, error)
	Name(ref gamedb.DBRef) string
}

// MessageStore persists reports. boltstore.Store and sqlstore.Store both
// satisfy it.
type MessageStore interface {
	CreateMessage(msg *gamedb.Message) error
	UpdateMessage(msg *gamedb.Message) error
	GetMessage(id uuid.UUID) (*gamedb.Message, error)
	SearchMessages(q gamedb.MessageQuery) ([]*gamedb.Message, error)
}

// Config is the hot-reloadable part of the reporting setup.
type Config struct {
	// Types are the plural category names staff can manage.
	Types []string
	// StatusTags are the tags staff can toggle on a report.
	StatusTags []string
	// PageSize is the number of reports per menu page.
	PageSize int
}

// DefaultConfig returns the stock categories and statuses.
func DefaultConfig() Config {
	return Config{
		Types:      []string{"bugs", "ideas", "players"},
		StatusTags: []string{ClosedTag, "in progress"},
		PageSize:   10,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if len(c.Types) == 0 {
		zap.L().Warn("reports: no report types configured, using defaults", zap.Strings("types", d.Types))
		c.Types = d.Types
	}
	c.Types = lowerAll(c.Types)
	c.StatusTags = lowerAll(c.StatusTags)
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	return c
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HubKey is the deterministic hub name for a category.
func HubKey(category string) string {
	return strings.ToLower(category) + "_reports"
}

// Hubs resolves category hubs, creating each on first use. The mutex keeps
// two callers from both missing the lookup and creating duplicates.
type Hubs struct {
	dir Directory
	mu  sync.Mutex
}

func NewHubs(dir Directory) *Hubs {
	return &Hubs{dir: dir}
}

// Get returns the hub for category, looking it up before creating it.
func (h *Hubs) Get(category string) (gamedb.DBRef, error) {
	key := HubKey(category)
	h.mu.Lock()
	defer h.mu.Unlock()
	if ref, ok := h.dir.FindHub(key); ok {
		return ref, nil
	}
	ref, err := h.dir.CreateHub(key)
	if err != nil {
		return gamedb.Nothing, fmt.Errorf("reports: create hub %s: %w", key, err)
	}
	zap.L().Info("reports: created hub", zap.String("key", key), zap.Stringer("ref", ref))
	return ref, nil
}

// Service files and lists reports.
type Service struct {
	hubs  *Hubs
	store MessageStore
	dir   Directory

	mu   sync.RWMutex
	conf Config

	// OnFiled, if set, runs after a report is stored.
	OnFiled func(category string, msg *gamedb.Message)
}

// NewService wires the report commands to a directory and a store.
func NewService(dir Directory, store MessageStore, conf Config) *Service {
	return &Service{
		hubs:  NewHubs(dir),
		store: store,
		dir:   dir,
		conf:  conf.normalized(),
	}
}

// Config returns a copy of the current configuration.
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.conf
	c.Types = slices.Clone(c.Types)
	c.StatusTags = slices.Clone(c.StatusTags)
	return c
}

// SetConfig swaps the configuration; used by config hot reload.
func (s *Service) SetConfig(c Config) {
	c = c.normalized()
	s.mu.Lock()
	s.conf = c
	s.mu.Unlock()
	zap.L().Info("reports: config updated",
		zap.Strings("types", c.Types), zap.Strings("status_tags", c.StatusTags), zap.Int("page_size", c.PageSize))
}

// HasType reports whether the plural category is configured.
func (s *Service) HasType(plural string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.conf.Types, strings.ToLower(plural))
}

// Commands returns the filing commands for the configured categories.
func (s *Service) Commands() []*Command {
	var out []*Command
	for _, c := range []*Command{Bug(), Idea(), Report()} {
		if s.HasType(c.category() + "s") {
			out = append(out, c)
		}
	}
	return out
}

// List returns the reports filed to category's hub that reader may read,
// newest first. Closed reports are left out unless includeClosed is set.
func (s *Service) List(category string, reader gamedb.Accessor, includeClosed bool) ([]*gamedb.Message, error) {
	hub, err := s.hubs.Get(category)
	if err != nil {
		return nil, err
	}
	q := gamedb.NewMessageQuery()
	q.Receiver = hub
	q.Tag = ReportTag
	if !includeClosed {
		q.ExcludeTag = ClosedTag
	}
	msgs, err := s.store.SearchMessages(q)
	if err != nil {
		return nil, fmt.Errorf("reports: list %s: %w", category, err)
	}
	return slices.DeleteFunc(msgs, func(m *gamedb.Message) bool { return !m.CanRead(reader) }), nil
}

// ToggleStatus flips a status tag on a report and stores it. It returns
// true if the tag is now set.
func (s *Service) ToggleStatus(msg *gamedb.Message, status string) (bool, error) {
	status = strings.ToLower(status)
	set := !msg.Tags.Remove(status, "")
	if set {
		msg.Tags.Add(status, "")
	}
	if err := s.store.UpdateMessage(msg); err != nil {
		return false, fmt.Errorf("reports: update %s: %w", msg.ID, err)
	}
	return set, nil
}

// Status renders a report's status tags, or "open" if none are set.
func (s *Service) Status(msg *gamedb.Message) string {
	var set []string
	for _, t := range s.Config().StatusTags {
		if msg.Tags.Has(t, "") {
			set = append(set, t)
		}
	}
	if len(set) == 0 {
		return "open"
	}
	return strings.Join(set, ", ")
}
