package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ospf-simulation/internal/commands"
	"ospf-simulation/internal/eventBus"
)

// Define a WebSocket upgrader.
var upgrader = websocket.Upgrader{
	// Allow any origin; the stream is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = time.Second

// Server exposes the event stream and the control endpoints.
type Server struct {
	bus    *eventBus.EventBus
	ctl    commands.Controller
	logger *zap.Logger
	done   chan struct{}
}

func New(bus *eventBus.EventBus, ctl commands.Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{bus: bus, ctl: ctl, logger: logger, done: make(chan struct{})}
}

// Handler routes /ws, /status and the /routerAPI commands.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/status", commands.StatusHandler(s.ctl))
	mux.HandleFunc("/routerAPI/suspend", commands.SuspendHandler(s.ctl, s.logger))
	mux.HandleFunc("/routerAPI/resume", commands.ResumeHandler(s.ctl, s.logger))
	return mux
}

// wsHandler upgrades the connection to WebSocket and pushes events from the EventBus.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	// Clients never send; reading only notices when they hang up.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("server started", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
