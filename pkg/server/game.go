package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/archive"
	"github.com/crystal-mush/mushcontrib/pkg/boltstore"
	"github.com/crystal-mush/mushcontrib/pkg/components"
	"github.com/crystal-mush/mushcontrib/pkg/components/stock"
	mushcrypt "github.com/crystal-mush/mushcontrib/pkg/crypt"
	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/reports"
	"go.uber.org/zap"
)

// Game is the running world: objects, connections, commands and the two
// add-on subsystems. mu serializes command execution; every entry point
// that touches the database takes it.
type Game struct {
	mu sync.Mutex

	DB       *gamedb.Database
	Store    *boltstore.Store
	Conns    *ConnManager
	Commands map[string]*Command
	Conf     *GameConf
	EventBus *events.Bus
	Holders  *components.Holders
	Reports  *reports.Service
	Metrics  *Metrics

	// ConfPath is the config file to include in archives. Empty skips it.
	ConfPath string

	reportCmds     []string // names registered from the report service
	reportSnapshot archive.Snapshotter
	reportCount    func() (int, error)
}

// NewGame builds a game over an opened store. msgs holds reports; nil means
// the bolt store's message buckets.
func NewGame(store *boltstore.Store, conf *GameConf, msgs reports.MessageStore) (*Game, error) {
	if conf == nil {
		conf = DefaultGameConf()
	}
	classes := components.NewClassRegistry()
	if err := stock.Register(classes); err != nil {
		return nil, fmt.Errorf("server: register components: %w", err)
	}
	types := components.NewTypeclassRegistry()
	for _, tc := range stock.Typeclasses() {
		if err := types.Register(tc); err != nil {
			return nil, fmt.Errorf("server: register typeclasses: %w", err)
		}
	}
	if msgs == nil {
		msgs = store
	}

	bus := events.NewBus()
	cm := NewConnManager()
	cm.EventBus = bus
	g := &Game{
		DB:       store.DB(),
		Store:    store,
		Conns:    cm,
		Commands: InitCommands(),
		Conf:     conf,
		EventBus: bus,
		Holders:  components.NewHolders(classes, types, store),
	}
	if s, ok := msgs.(interface{ Snapshot(string) error }); ok {
		g.reportSnapshot = s.Snapshot
	}
	if c, ok := msgs.(interface{ MessageCount() (int, error) }); ok {
		g.reportCount = c.MessageCount
	}
	g.Reports = reports.NewService(gameDirectory{g}, msgs, conf.ReportsConfig())
	g.Reports.OnFiled = g.reportFiled
	g.Metrics = NewMetrics(g, time.Now())
	bus.Tap(g.Metrics.EventEmitted)
	g.syncReportCommands()
	return g, nil
}

// Emit sends an event to the player specified in ev.Player via the event bus.
func (g *Game) Emit(ev events.Event) {
	g.EventBus.Emit(ev)
}

// EmitRoomExcept sends an event to all players in a room except one.
func (g *Game) EmitRoomExcept(room gamedb.DBRef, except gamedb.DBRef, ev events.Event) {
	g.EventBus.EmitToRoomExcept(g.DB, room, except, ev)
}

// PersistObject writes a single object to the bolt store.
func (g *Game) PersistObject(obj *gamedb.Object) {
	if g.Store == nil || obj == nil {
		return
	}
	if err := g.Store.PutObject(obj); err != nil {
		zap.L().Error("server: persist object", zap.Stringer("ref", obj.DBRef), zap.Error(err))
	}
}

// PersistObjects writes several objects in one transaction.
func (g *Game) PersistObjects(objs ...*gamedb.Object) {
	if g.Store == nil {
		return
	}
	if err := g.Store.PutObjects(objs...); err != nil {
		zap.L().Error("server: persist objects", zap.Int("count", len(objs)), zap.Error(err))
	}
}

// CreateObject adds a new object and runs its typeclass's component setup.
// If setup fails the object is discarded.
func (g *Game) CreateObject(name string, typ gamedb.ObjectType, typeclass string, loc, owner gamedb.DBRef) (*gamedb.Object, error) {
	obj := &gamedb.Object{
		Name:      name,
		Type:      typ,
		Typeclass: typeclass,
		Location:  loc,
		Owner:     owner,
	}
	ref := g.DB.Add(obj)
	if _, err := g.Holders.Setup(obj); err != nil {
		delete(g.DB.Objects, ref)
		return nil, err
	}
	zap.L().Info("server: created object",
		zap.Stringer("ref", ref), zap.String("name", name),
		zap.Stringer("type", typ), zap.String("typeclass", typeclass))
	return obj, nil
}

// Seed populates an empty database with the starting room and the God
// player.
func (g *Game) Seed(godPassword string) error {
	room, err := g.CreateObject("Limbo", gamedb.TypeRoom, "", gamedb.Nothing, gamedb.GodRef)
	if err != nil {
		return fmt.Errorf("server: seed room: %w", err)
	}
	god, err := g.CreateObject("Wizard", gamedb.TypePlayer, g.Conf.PlayerTypeclass, room.DBRef, gamedb.GodRef)
	if err != nil {
		return fmt.Errorf("server: seed god: %w", err)
	}
	if god.DBRef != gamedb.GodRef {
		return fmt.Errorf("server: seed: god created as %s, want %s", god.DBRef, gamedb.GodRef)
	}
	if err := g.SetPassword(god, godPassword); err != nil {
		return err
	}
	god.AddPerm("Developer")
	g.PersistObject(god)
	zap.L().Info("server: seeded new database", zap.Stringer("room", room.DBRef), zap.Stringer("god", god.DBRef))
	return nil
}

// SetPassword hashes and stores a player's password.
func (g *Game) SetPassword(player *gamedb.Object, password string) error {
	hash, err := mushcrypt.Hash(password)
	if err != nil {
		return fmt.Errorf("server: hash password for %s: %w", player.DBRef, err)
	}
	player.Password = hash
	g.PersistObject(player)
	return nil
}

// gameDirectory lets the report service find and create hub objects.
type gameDirectory struct{ g *Game }

func (gd gameDirectory) FindHub(key string) (gamedb.DBRef, bool) {
	obj, ok := gd.g.DB.FindByName(key, gamedb.TypeScript)
	if !ok {
		return gamedb.Nothing, false
	}
	return obj.DBRef, true
}

func (gd gameDirectory) CreateHub(key string) (gamedb.DBRef, error) {
	obj, err := gd.g.CreateObject(key, gamedb.TypeScript, "", gamedb.Nothing, gamedb.GodRef)
	if err != nil {
		return gamedb.Nothing, err
	}
	return obj.DBRef, nil
}

func (gd gameDirectory) Name(ref gamedb.DBRef) string {
	return gd.g.PlayerName(ref)
}

// reportFiled announces a new report to connected staff who can read it.
func (g *Game) reportFiled(category string, msg *gamedb.Message) {
	g.Metrics.ReportFiled(category)
	var readers []gamedb.DBRef
	for _, player := range g.Conns.ConnectedPlayers() {
		if player == msg.Sender {
			continue
		}
		if obj, ok := g.DB.Get(player); ok && msg.CanRead(obj) {
			readers = append(readers, player)
		}
	}
	if len(readers) == 0 {
		return
	}
	g.EventBus.EmitTo(readers, events.Event{
		Type:   events.EvReport,
		Source: msg.Sender,
		Text:   fmt.Sprintf("[Reports] New %s report from %s.", category, g.PlayerName(msg.Sender)),
		Data: map[string]any{
			"category": category,
			"id":       msg.ID.String(),
			"sender":   int(msg.Sender),
		},
	})
}

// ReloadConf applies a hot-reloaded config. Only the reporting settings take
// effect without a restart.
func (g *Game) ReloadConf(gc *GameConf) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Conf.ReportTypes = gc.ReportTypes
	g.Conf.ReportStatusTags = gc.ReportStatusTags
	g.Conf.ReportPageSize = gc.ReportPageSize
	g.Reports.SetConfig(g.Conf.ReportsConfig())
	g.syncReportCommands()
}

// LookupPlayer finds a player by name through the store's player index.
func (g *Game) LookupPlayer(name string) (*gamedb.Object, bool) {
	if g.Store != nil {
		if ref, ok := g.Store.LookupPlayer(name); ok {
			if obj, ok := g.DB.Get(ref); ok && obj.Type == gamedb.TypePlayer {
				return obj, true
			}
		}
	}
	return g.DB.FindByName(name, gamedb.TypePlayer)
}

// PlayerName returns the name of an object, or its dbref if it is gone.
func (g *Game) PlayerName(ref gamedb.DBRef) string {
	if obj, ok := g.DB.Get(ref); ok {
		return obj.Name
	}
	return ref.String()
}

// PlayerLocation returns where an object is.
func (g *Game) PlayerLocation(ref gamedb.DBRef) gamedb.DBRef {
	if obj, ok := g.DB.Get(ref); ok {
		return obj.Location
	}
	return gamedb.Nothing
}

// MatchObject resolves a name from a player's point of view: me, here,
// #dbref, things in the room or carried, then any player by name. On failure
// the player has been told why.
func (g *Game) MatchObject(d *Descriptor, name string) (gamedb.DBRef, bool) {
	name = strings.TrimSpace(name)
	loc := g.PlayerLocation(d.Player)
	switch strings.ToLower(name) {
	case "":
		d.Send("I don't see that here.")
		return gamedb.Nothing, false
	case "me":
		return d.Player, true
	case "here":
		if loc != gamedb.Nothing {
			return loc, true
		}
	}
	if strings.HasPrefix(name, "#") {
		n, err := strconv.Atoi(name[1:])
		if err == nil {
			if _, ok := g.DB.Get(gamedb.DBRef(n)); ok {
				return gamedb.DBRef(n), true
			}
		}
		d.Send("I don't see that here.")
		return gamedb.Nothing, false
	}

	candidates := g.DB.Contents(d.Player)
	if loc != gamedb.Nothing {
		candidates = append(g.DB.Contents(loc), candidates...)
	}
	var exact, partial []gamedb.DBRef
	lower := strings.ToLower(name)
	for _, obj := range candidates {
		objName := strings.ToLower(obj.Name)
		switch {
		case objName == lower:
			exact = append(exact, obj.DBRef)
		case strings.HasPrefix(objName, lower):
			partial = append(partial, obj.DBRef)
		}
	}
	matches := exact
	if len(matches) == 0 {
		matches = partial
	}
	switch len(matches) {
	case 1:
		return matches[0], true
	case 0:
	default:
		d.Send("I don't know which one you mean!")
		return gamedb.Nothing, false
	}

	if player, ok := g.LookupPlayer(strings.TrimPrefix(name, "*")); ok {
		return player.DBRef, true
	}
	d.Send("I don't see that here.")
	return gamedb.Nothing, false
}

// ShowRoom displays a room to a player.
func (g *Game) ShowRoom(d *Descriptor, room gamedb.DBRef) {
	roomObj, ok := g.DB.Get(room)
	if !ok {
		d.Send("You see nothing special.")
		return
	}
	d.Send(fmt.Sprintf("%s(%s)", roomObj.Name, roomObj.DBRef))
	if desc := roomObj.GetAttr("DESC"); desc != "" {
		d.Send(desc)
	}

	var contents []string
	for _, obj := range g.DB.Contents(room) {
		if obj.DBRef == d.Player {
			continue
		}
		if obj.Type == gamedb.TypePlayer && !g.Conns.IsConnected(obj.DBRef) {
			continue
		}
		contents = append(contents, obj.Name)
	}
	if len(contents) > 0 {
		d.Send("Contents:\n" + strings.Join(contents, "\n"))
	}
}

// ShowWho displays the list of connected players.
func (g *Game) ShowWho(d *Descriptor) {
	now := time.Now()
	d.Send(fmt.Sprintf("%-16s%9s %4s  %s", "Player Name", "On For", "Idle", "Doing"))

	type whoEntry struct {
		name  string
		onFor string
		idle  string
		doing string
	}
	var entries []whoEntry
	for _, dd := range g.Conns.AllDescriptors() {
		if dd.State != ConnConnected {
			continue
		}
		entries = append(entries, whoEntry{
			name:  g.PlayerName(dd.Player),
			onFor: FormatConnTime(now.Sub(dd.ConnTime)),
			idle:  FormatIdleTime(now.Sub(dd.LastCmd)),
			doing: dd.DoingStr,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})
	for _, e := range entries {
		d.Send(fmt.Sprintf("%-16s%9s %4s  %s", e.name, e.onFor, e.idle, e.doing))
	}
	d.Send(fmt.Sprintf("%d Players logged in.", len(entries)))
}

// ConnectionStats counts live connections by transport.
func (g *Game) ConnectionStats() map[TransportType]int {
	stats := map[TransportType]int{TransportTCP: 0, TransportWebSocket: 0}
	for _, d := range g.Conns.AllDescriptors() {
		if d.State == ConnConnected {
			stats[d.Transport]++
		}
	}
	return stats
}

// DisconnectPlayer announces a departing player to their room.
func (g *Game) DisconnectPlayer(d *Descriptor) {
	if d.State != ConnConnected || d.Player == gamedb.Nothing {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Menu = nil
	if len(g.Conns.GetByPlayer(d.Player)) > 1 {
		return
	}
	name := g.PlayerName(d.Player)
	g.EmitRoomExcept(g.PlayerLocation(d.Player), d.Player, events.Event{
		Type:   events.EvDisconnect,
		Source: d.Player,
		Text:   fmt.Sprintf("%s has disconnected.", name),
	})
	zap.L().Info("server: player disconnected", zap.Int("desc", d.ID), zap.String("player", name))
}
