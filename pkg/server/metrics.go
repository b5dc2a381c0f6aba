package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds Prometheus metric descriptors for the game server. Each game
// gets its own registry so tests can run several games in one process.
type Metrics struct {
	game      *Game
	startTime time.Time
	registry  *prometheus.Registry

	playersConnected *prometheus.GaugeVec
	objectsTotal     prometheus.Gauge
	connectionsTotal *prometheus.CounterVec
	commandsTotal    prometheus.Counter
	reportsFiled     *prometheus.CounterVec
	componentChanges *prometheus.CounterVec
	componentHolders prometheus.Gauge
	eventsEmitted    *prometheus.CounterVec
	reportsStored    prometheus.Gauge
	uptimeSeconds    prometheus.Gauge
	memoryHeapBytes  prometheus.Gauge
	goroutines       prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the game.
func NewMetrics(game *Game, startTime time.Time) *Metrics {
	m := &Metrics{
		game:      game,
		startTime: startTime,
		registry:  prometheus.NewRegistry(),
		playersConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushcontrib_players_connected",
			Help: "Number of currently connected players by transport.",
		}, []string{"transport"}),
		objectsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcontrib_objects_total",
			Help: "Total number of objects in the database.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcontrib_connections_total",
			Help: "Total connections since server start.",
		}, []string{"transport"}),
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushcontrib_commands_processed_total",
			Help: "Total commands processed since server start.",
		}),
		reportsFiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcontrib_reports_filed_total",
			Help: "Reports filed since server start by category.",
		}, []string{"category"}),
		componentChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcontrib_component_changes_total",
			Help: "Components attached or detached by @component.",
		}, []string{"op"}),
		componentHolders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcontrib_component_handlers",
			Help: "Objects with an initialized component handler.",
		}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcontrib_events_emitted_total",
			Help: "Events emitted on the game event bus by type.",
		}, []string{"type"}),
		reportsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcontrib_reports_stored",
			Help: "Report messages held by the message store.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcontrib_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcontrib_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcontrib_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.playersConnected,
		m.objectsTotal,
		m.connectionsTotal,
		m.commandsTotal,
		m.reportsFiled,
		m.componentChanges,
		m.componentHolders,
		m.eventsEmitted,
		m.reportsStored,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// Connected counts a new connection.
func (m *Metrics) Connected(t TransportType) {
	m.connectionsTotal.WithLabelValues(t.String()).Inc()
}

// CommandProcessed counts one dispatched command.
func (m *Metrics) CommandProcessed() {
	m.commandsTotal.Inc()
}

// ReportFiled counts a stored report.
func (m *Metrics) ReportFiled(category string) {
	m.reportsFiled.WithLabelValues(category).Inc()
}

// ComponentChanged counts an @component add or remove.
func (m *Metrics) ComponentChanged(op string) {
	m.componentChanges.WithLabelValues(op).Inc()
}

// EventEmitted counts one event bus emission.
func (m *Metrics) EventEmitted(ev events.Event) {
	m.eventsEmitted.WithLabelValues(ev.Type.String()).Inc()
}

// Update refreshes all gauge metrics from current game state.
func (m *Metrics) Update() {
	stats := m.game.ConnectionStats()
	m.playersConnected.WithLabelValues(TransportTCP.String()).Set(float64(stats[TransportTCP]))
	m.playersConnected.WithLabelValues(TransportWebSocket.String()).Set(float64(stats[TransportWebSocket]))

	m.game.mu.Lock()
	m.objectsTotal.Set(float64(len(m.game.DB.Objects)))
	m.game.mu.Unlock()
	m.componentHolders.Set(float64(m.game.Holders.Len()))
	if m.game.reportCount != nil {
		if n, err := m.game.reportCount(); err != nil {
			zap.L().Warn("server: count stored reports", zap.Error(err))
		} else {
			m.reportsStored.Set(float64(n))
		}
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Registry exposes the game's metric registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}
