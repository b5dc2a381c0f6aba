package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/crystal-mush/mushcontrib/pkg/reports"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebServer provides HTTP/WebSocket transport alongside the TCP game server.
type WebServer struct {
	game      *Game
	httpSrv   *http.Server
	mux       *http.ServeMux
	auth      *AuthService
	rl        *rateLimiter
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewWebServer creates a web server bound to the game's web settings.
func NewWebServer(game *Game) *WebServer {
	conf := game.Conf
	ws := &WebServer{
		game:      game,
		mux:       http.NewServeMux(),
		auth:      NewAuthService(game, conf.JWTSecret, conf.JWTExpiry),
		rl:        newRateLimiter(conf.WebRateLimit),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(conf.WebCORSOrigins, origin)
			},
		},
	}

	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)
	ws.mux.HandleFunc("POST /api/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/refresh", ws.handleAuthRefresh)
	ws.mux.Handle("GET /api/reports/{category}", authMiddleware(ws.auth, http.HandlerFunc(ws.handleReports)))
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.Handle("GET /metrics", game.Metrics.Handler())

	handler := rateLimitMiddleware(ws.rl, ws.mux)
	ws.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.WebHost, conf.WebPort),
		Handler:           corsMiddleware(conf.WebCORSOrigins, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Handler returns the fully wrapped HTTP handler.
func (ws *WebServer) Handler() http.Handler { return ws.httpSrv.Handler }

// Auth returns the auth service.
func (ws *WebServer) Auth() *AuthService { return ws.auth }

// ListenAndServe serves plain HTTP until Shutdown. TLS is expected to be
// terminated by a reverse proxy.
func (ws *WebServer) ListenAndServe(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ws.rl.cleanup()
			}
		}
	}()

	zap.L().Info("web: listening", zap.String("addr", ws.httpSrv.Addr))
	if err := ws.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the web server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("web: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- WebSocket ---

// WSMessage is the JSON message format for WebSocket communication.
type WSMessage struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Command string         `json:"command,omitempty"`
}

// handleWebSocket upgrades the request and attaches a game descriptor. A
// valid token in the query or header logs the client straight in.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *Claims
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearerToken(r)
	}
	if token != "" {
		var err error
		if claims, err = ws.auth.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if _, ok := ws.tokenPlayer(claims); !ok {
			writeError(w, http.StatusUnauthorized, "token does not name a player")
			return
		}
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("web: websocket upgrade", zap.Error(err))
		return
	}

	g := ws.game
	d, wc := newWSDescriptor(g, conn, clientIP(r))
	g.Conns.Add(d)
	g.Metrics.Connected(TransportWebSocket)
	zap.L().Info("web: websocket connected", zap.Int("desc", d.ID), zap.String("addr", d.Addr))

	if claims != nil {
		// The player can be destroyed between the check above and here.
		g.mu.Lock()
		player, ok := g.lockedTokenPlayer(claims)
		if ok {
			wc.sendLogin(player)
			g.enterGame(d, player)
		}
		g.mu.Unlock()
		if !ok {
			wc.sendJSON(WSMessage{Type: "error", Text: "That player no longer exists."})
		}
	}
	if d.State == ConnLogin {
		wc.sendJSON(WSMessage{Type: "welcome", Text: fmt.Sprintf(WelcomeText, g.Conf.MudName)})
	}

	go wsReadLoop(g, d, wc)
}

// tokenPlayer resolves the player a token was issued for.
func (ws *WebServer) tokenPlayer(claims *Claims) (*gamedb.Object, bool) {
	ws.game.mu.Lock()
	defer ws.game.mu.Unlock()
	return ws.game.lockedTokenPlayer(claims)
}

func (g *Game) lockedTokenPlayer(claims *Claims) (*gamedb.Object, bool) {
	player, ok := g.DB.Get(claims.PlayerRef)
	if !ok || player.Type != gamedb.TypePlayer {
		return nil, false
	}
	return player, true
}

// wsConn serializes writes to a WebSocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *wsConn) sendJSON(msg WSMessage) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := wc.conn.WriteJSON(msg); err != nil {
		zap.L().Debug("web: websocket write", zap.Error(err))
	}
}

func (wc *wsConn) sendLogin(player *gamedb.Object) {
	wc.sendJSON(WSMessage{
		Type: "login",
		Data: map[string]any{
			"player_ref":  int(player.DBRef),
			"player_name": player.Name,
		},
	})
}

// newWSDescriptor creates a Descriptor whose output is written as JSON.
func newWSDescriptor(g *Game, conn *websocket.Conn, addr string) (*Descriptor, *wsConn) {
	wc := &wsConn{conn: conn}
	d := NewDescriptor(g.Conns.NextID(), nullConn{}, g.Conf.MaxRetries)
	d.Addr = addr
	d.Transport = TransportWebSocket
	d.SendFunc = func(msg string) {
		wc.sendJSON(WSMessage{Type: "text", Text: msg})
	}
	d.ReceiveFunc = func(ev events.Event) {
		wc.sendJSON(WSMessage{Type: ev.Type.String(), Text: ev.Text, Data: ev.Data})
	}
	return d, wc
}

func wsReadLoop(g *Game, d *Descriptor, wc *wsConn) {
	defer func() {
		g.DisconnectPlayer(d)
		g.Conns.Remove(d)
		d.Close()
		wc.conn.Close()
		zap.L().Info("web: websocket closed", zap.Int("desc", d.ID), zap.String("addr", d.Addr))
	}()

	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Warn("web: websocket read", zap.Int("desc", d.ID), zap.Error(err))
			}
			return
		}
		d.BytesRecv += len(raw)
		d.LastCmd = time.Now()

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			wc.sendJSON(WSMessage{Type: "error", Text: "Invalid JSON message"})
			continue
		}

		switch msg.Type {
		case "command", "login":
			if d.State == ConnLogin {
				g.LoginCommand(d, msg.Command)
				if d.State == ConnConnected {
					g.mu.Lock()
					if player, ok := g.DB.Get(d.Player); ok {
						wc.sendLogin(player)
					}
					g.mu.Unlock()
				}
			} else {
				d.CmdCount++
				DispatchCommand(g, d, msg.Command)
			}
		default:
			wc.sendJSON(WSMessage{Type: "error", Text: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		}
		if d.IsClosed() {
			return
		}
	}
}

// --- Auth ---

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := ws.auth.Login(req.Name, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	fresh, err := ws.auth.RefreshToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": fresh})
}

// --- Reports ---

type reportJSON struct {
	ID         string    `json:"id"`
	Sender     int       `json:"sender"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	Status     string    `json:"status"`
	Created    time.Time `json:"created"`
}

// handleReports lists a category's reports for a staff member. The path
// takes the plural category name, as manage does; ?closed=1 includes closed
// reports.
func (ws *WebServer) handleReports(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	plural := strings.ToLower(r.PathValue("category"))
	if plural == "reports" {
		plural = "players"
	}
	includeClosed := r.URL.Query().Get("closed") == "1"

	g := ws.game
	g.mu.Lock()
	defer g.mu.Unlock()

	reader, ok := g.DB.Get(claims.PlayerRef)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown player")
		return
	}
	if !gamedb.CheckLock(reports.ManageLock, "cmd", reader, false) {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}
	if !g.Reports.HasType(plural) {
		writeError(w, http.StatusNotFound, "no such report category")
		return
	}
	msgs, err := g.Reports.List(strings.TrimSuffix(plural, "s"), reader, includeClosed)
	if err != nil {
		zap.L().Error("web: list reports", zap.String("category", plural), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list reports")
		return
	}

	out := make([]reportJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, reportJSON{
			ID:         m.ID.String(),
			Sender:     int(m.Sender),
			SenderName: g.PlayerName(m.Sender),
			Body:       m.Body,
			Status:     g.Reports.Status(m),
			Created:    m.Created,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": plural, "reports": out})
}

// --- Health ---

func (ws *WebServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": time.Since(ws.startTime).Seconds(),
		"connections":    ws.game.Conns.Count(),
	})
}
