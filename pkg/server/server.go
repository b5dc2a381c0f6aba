package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/events"
	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server runs the telnet listener and, when enabled, the web server.
type Server struct {
	Game *Game
	web  *WebServer
}

// NewServer creates a server for a game.
func NewServer(g *Game) *Server {
	return &Server{Game: g}
}

// Start listens on the configured port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Game.Conf.Port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts telnet connections on ln until ctx is cancelled or a
// listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	zap.L().Info("server: listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("objects", len(s.Game.DB.Objects)),
		zap.Int("component_handlers", s.Game.Holders.Len()))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	eg.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})

	if s.Game.Conf.WebEnabled {
		s.web = NewWebServer(s.Game)
		eg.Go(func() error {
			return s.web.ListenAndServe(ctx)
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.web.Shutdown(shutdownCtx)
		})
	}

	err := eg.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("server: accept", zap.Error(err))
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection manages a single client connection lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	g := s.Game
	d := NewDescriptor(g.Conns.NextID(), conn, g.Conf.MaxRetries)
	g.Conns.Add(d)
	g.Metrics.Connected(TransportTCP)
	zap.L().Info("server: new connection", zap.Int("desc", d.ID), zap.String("addr", d.Addr))

	defer func() {
		g.DisconnectPlayer(d)
		g.Conns.Remove(d)
		d.Close()
		zap.L().Info("server: connection closed", zap.Int("desc", d.ID), zap.String("addr", d.Addr))
	}()

	d.SendNoNewline(fmt.Sprintf(WelcomeText, g.Conf.MudName))

	scanner := bufio.NewScanner(d.Conn)
	scanner.Buffer(make([]byte, 8192), 8192)
	for scanner.Scan() {
		if d.IsClosed() {
			return
		}
		line := scanner.Text()
		d.BytesRecv += len(line) + 1
		line = strings.TrimRight(stripTelnet(line), "\r\n")
		d.LastCmd = time.Now()

		if d.State == ConnLogin {
			g.LoginCommand(d, line)
		} else {
			d.CmdCount++
			DispatchCommand(g, d, line)
		}
		if d.IsClosed() {
			return
		}
	}
}

// LoginCommand handles a line from a descriptor that has not logged in.
func (g *Game) LoginCommand(d *Descriptor, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	switch strings.ToUpper(input) {
	case "QUIT":
		d.Send("Goodbye!")
		d.Close()
		return
	case "WHO":
		g.ShowWho(d)
		return
	}

	command, user, password := ParseConnect(input)
	switch {
	case strings.HasPrefix(command, "co"):
		g.handleConnect(d, user, password)
	case strings.HasPrefix(command, "cr"):
		g.handleCreate(d, user, password)
	default:
		d.Send(fmt.Sprintf("Welcome to %s. Commands: connect, create, WHO, QUIT", g.Conf.MudName))
	}
}

func (g *Game) handleConnect(d *Descriptor, user, password string) {
	if user == "" {
		d.Send("Usage: connect <name> <password>")
		return
	}
	player, ok := g.Authenticate(user, password)
	if !ok {
		d.Send("Either that player does not exist, or has a different password.")
		d.Retries--
		if d.Retries <= 0 {
			d.Send("Too many failed attempts. Disconnecting.")
			d.Close()
		}
		zap.L().Info("server: failed connect", zap.Int("desc", d.ID), zap.String("name", user), zap.String("addr", d.Addr))
		return
	}
	d.Send(fmt.Sprintf("Welcome back, %s!", player.Name))
	g.enterGame(d, player)
}

func (g *Game) handleCreate(d *Descriptor, user, password string) {
	if user == "" || password == "" {
		d.Send("Usage: create <name> <password>")
		return
	}
	if msg := validPlayerName(user); msg != "" {
		d.Send(msg)
		return
	}
	if _, taken := g.LookupPlayer(user); taken {
		d.Send("That name is already taken.")
		return
	}

	player, err := g.CreateObject(user, gamedb.TypePlayer, g.Conf.PlayerTypeclass, g.Conf.StartingRoom(), gamedb.Nothing)
	if err != nil {
		zap.L().Error("server: create player", zap.String("name", user), zap.Error(err))
		d.Send("Something went wrong creating your character.")
		return
	}
	player.Owner = player.DBRef
	player.AddPerm("Player")
	if err := g.SetPassword(player, password); err != nil {
		zap.L().Error("server: set password", zap.Stringer("player", player.DBRef), zap.Error(err))
		g.PersistObject(player)
	}
	zap.L().Info("server: player created",
		zap.Int("desc", d.ID), zap.String("player", player.Name), zap.Stringer("ref", player.DBRef), zap.String("addr", d.Addr))

	d.Send(fmt.Sprintf("Welcome to %s, %s! Your character has been created as %s.", g.Conf.MudName, user, player.DBRef))
	g.enterGame(d, player)
}

// enterGame logs a descriptor in, announces the arrival and shows the room.
// The caller holds g.mu.
func (g *Game) enterGame(d *Descriptor, player *gamedb.Object) {
	g.Conns.Login(d, player.DBRef)
	zap.L().Info("server: player connected",
		zap.Int("desc", d.ID), zap.String("player", player.Name), zap.Stringer("ref", player.DBRef),
		zap.Stringer("transport", d.Transport), zap.String("addr", d.Addr))

	if len(g.Conns.GetByPlayer(player.DBRef)) == 1 {
		g.EmitRoomExcept(player.Location, player.DBRef, events.Event{
			Type:   events.EvConnect,
			Source: player.DBRef,
			Text:   fmt.Sprintf("%s has connected.", player.Name),
		})
	}
	g.ShowRoom(d, player.Location)
}

// stripTelnet removes telnet IAC command sequences from input.
func stripTelnet(s string) string {
	var buf strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == 0xFF && i+2 < len(s) {
			i += 3
			continue
		}
		if s[i] == 0xFF && i+1 < len(s) {
			i += 2
			continue
		}
		if s[i] < 32 && s[i] != '\t' && s[i] != '\n' && s[i] != '\r' {
			i++
			continue
		}
		buf.WriteByte(s[i])
		i++
	}
	return buf.String()
}
