// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
)

const (
	// DefaultStreamInterval is the snapshot period on /v1/stream.
	DefaultStreamInterval = 100 * time.Millisecond

	writeWait       = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Source Source
	Clock  clock.Clock
	Logger *slog.Logger

	// Events backs /v1/events. When nil the route returns an empty
	// list.
	Events *EventLog

	// StreamInterval defaults to DefaultStreamInterval.
	StreamInterval time.Duration
}

// Server serves the observation API.
type Server struct {
	source         Source
	events         *EventLog
	clock          clock.Clock
	logger         *slog.Logger
	streamInterval time.Duration
	upgrader       websocket.Upgrader
	router         chi.Router
}

// NewServer validates config and builds the router.
func NewServer(config Config) (*Server, error) {
	if config.Source == nil {
		return nil, errors.New("observe: Source is required")
	}
	if config.Clock == nil {
		return nil, errors.New("observe: Clock is required")
	}
	if config.Logger == nil {
		return nil, errors.New("observe: Logger is required")
	}
	if config.StreamInterval <= 0 {
		config.StreamInterval = DefaultStreamInterval
	}

	s := &Server{
		source:         config.Source,
		events:         config.Events,
		clock:          config.Clock,
		logger:         config.Logger,
		streamInterval: config.StreamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
	}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/validity", s.handleValidity)
		r.Post("/validity/reset", s.handleReset)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)
	})
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on listener until ctx is cancelled, then
// shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() { errs <- server.Serve(listener) }()
	s.logger.Info("observer listening", "address", listener.Addr().String())

	select {
	case err := <-errs:
		return fmt.Errorf("observe: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("observe: shutdown: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observe: serving: %w", err)
	}
	return nil
}

// StateResponse is the body of GET /v1/state. Snapshot is nil until
// the first feedback frame arrives.
type StateResponse struct {
	SessionID string          `json:"session_id"`
	Valid     bool            `json:"valid"`
	Monitor   string          `json:"monitor"`
	Snapshot  *robot.Snapshot `json:"snapshot"`
}

// EventsResponse is the body of GET /v1/events.
type EventsResponse struct {
	Events []Event `json:"events"`
	// Latest is the sequence to pass as since on the next request.
	Latest uint64 `json:"latest"`
}

// StreamMessage is one websocket message on /v1/stream.
type StreamMessage struct {
	Snapshot *robot.Snapshot       `json:"snapshot"`
	Validity control.ValidityDetail `json:"validity"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StateResponse{
		SessionID: s.source.SessionID(),
		Valid:     s.source.Validity().Valid,
		Monitor:   s.source.MonitorState().String(),
		Snapshot:  s.source.Snapshot(),
	})
}

func (s *Server) handleValidity(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Validity())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.source.ResetValidity()
	s.logger.Info("validity reset over http", "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusOK, s.source.Validity())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Metrics())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if value := r.URL.Query().Get("since"); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since %q: %v", value, err), http.StatusBadRequest)
			return
		}
		since = parsed
	}

	response := EventsResponse{Events: []Event{}}
	if s.events != nil {
		if events := s.events.Since(since); events != nil {
			response.Events = events
		}
		response.Latest = s.events.Latest()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleStream pushes a StreamMessage every stream interval, skipping
// ticks where neither the snapshot sequence nor validity changed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reading is required to process close and ping frames. The peer
	// has nothing to say, so anything it sends is discarded.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := s.clock.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var (
		sent         bool
		lastSequence uint64
		lastValid    bool
		lastReason   string
	)
	for {
		snapshot := s.source.Snapshot()
		validity := s.source.Validity()
		var sequence uint64
		if snapshot != nil {
			sequence = snapshot.Sequence
		}
		if !sent || sequence != lastSequence || validity.Valid != lastValid || validity.Reason != lastReason {
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:realclock // kernel I/O deadline
			if err := conn.WriteJSON(StreamMessage{Snapshot: snapshot, Validity: validity}); err != nil {
				s.logger.Debug("stream closed", "error", err)
				return
			}
			sent = true
			lastSequence, lastValid, lastReason = sequence, validity.Valid, validity.Reason
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}
