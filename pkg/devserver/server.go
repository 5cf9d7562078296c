// Package devserver is an in-memory stand-in for the chat service: the REST
// surface, the push channel, and a pluggable responder. It backs local
// development and the end-to-end tests; it is not a production server.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
)

// Responder produces the assistant response for a submitted message.
type Responder func(ctx context.Context, email, message string) (string, error)

// EchoResponder is the default responder.
func EchoResponder(_ context.Context, _ string, message string) (string, error) {
	return fmt.Sprintf("You said: %s", message), nil
}

// Config configures a Server.
type Config struct {
	// Responder is optional; EchoResponder when nil.
	Responder Responder
}

// Server wires the store, the hub and the HTTP routes together.
type Server struct {
	store     *Store
	hub       *Hub
	responder Responder
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
}

func NewServer(cfg Config) *Server {
	responder := cfg.Responder
	if responder == nil {
		responder = EchoResponder
	}
	s := &Server{
		store:     NewStore(),
		hub:       NewHub(),
		responder: responder,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Store exposes the backing store, mainly for tests that seed state.
func (s *Server) Store() *Store {
	return s.store
}

// Hub exposes the push hub, mainly for tests that observe joins.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler for mounting or httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/chat-sessions/{email}", s.handleListSessions)
	s.mux.HandleFunc("POST /api/new-chat-session", s.handleNewSession)
	s.mux.HandleFunc("GET /api/chat-history/{email}/{session}", s.handleHistory)
	s.mux.HandleFunc("DELETE /api/delete-chat-history/{email}/{session}", s.handleDeleteHistory)
	s.mux.HandleFunc("POST /api", s.handleSubmit)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("component", "devserver").Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Sessions(r.PathValue("email")))
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	id := s.store.CreateSession(body.Email)
	log.Info().Str("component", "devserver").Str("email", body.Email).Str("session_id", id).Msg("session created")
	writeJSON(w, map[string]string{"session_id": id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.History(r.PathValue("email"), r.PathValue("session")))
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	s.store.DeleteHistory(r.PathValue("email"), r.PathValue("session"))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req chatapi.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.SessionID == "" {
		http.Error(w, "email and session_id are required", http.StatusBadRequest)
		return
	}
	if req.NewSession {
		s.store.EnsureSession(req.Email, req.SessionID)
	}

	reply, err := s.responder(r.Context(), req.Email, req.Message)
	if err != nil {
		log.Error().Err(err).Str("component", "devserver").Msg("responder failed")
		http.Error(w, "responder failed", http.StatusBadGateway)
		return
	}

	conv, rev := s.store.AppendExchange(req.Email, req.SessionID, chatapi.Exchange{
		UserMessage: req.Message,
		Response:    reply,
	})
	s.hub.BroadcastHistoryUpdate(req.Email, chatevents.HistoryUpdate{
		SessionID:    req.SessionID,
		Conversation: conv,
		Rev:          rev,
	})
	writeJSON(w, chatapi.SubmitResponse{Message: reply, SessionID: req.SessionID})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "devserver").Msg("websocket upgrade failed")
		return
	}
	// The channel is anonymous until a join frame arrives.
	var join wsFrame
	if err := conn.ReadJSON(&join); err != nil || join.Type != "join" || join.Email == "" {
		log.Debug().Str("component", "devserver").Msg("closing channel without join")
		_ = conn.Close()
		return
	}
	s.hub.Join(conn, join.Email)
	defer s.hub.Remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "devserver").Msg("response encode failed")
	}
}
