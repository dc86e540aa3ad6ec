// Package httpapi serves the request/response query interface used for
// initial load and reconciliation, and hosts the websocket gateway.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mataid/matchat/internal/apperr"
	"github.com/mataid/matchat/internal/convstore"
	"github.com/mataid/matchat/internal/gateway"
	"github.com/mataid/matchat/internal/identity"
	"github.com/mataid/matchat/internal/model"
)

// Server bundles the query handlers with the realtime gateway.
type Server struct {
	graph  *identity.Graph
	store  *convstore.Store
	gw     *gateway.Gateway
	logger *zap.Logger
}

// New creates the API server.
func New(graph *identity.Graph, store *convstore.Store, gw *gateway.Gateway, logger *zap.Logger) *Server {
	return &Server{graph: graph, store: store, gw: gw, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/users", s.handleListUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/users/search", s.handleSearchUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userId}/connections", s.handleGetConnections).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userId}/connections", s.handleAddConnection).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userId}/connections/{targetUserId}", s.handleRemoveConnection).Methods(http.MethodDelete)
	r.HandleFunc("/api/conversations/{userId}", s.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{conversationId}", s.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.gw.Handler())
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := s.graph.List()
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.fail(w, apperr.Validation("invalid user body: %v", err))
		return
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := s.graph.Register(u); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	requester := r.URL.Query().Get("currentUserId")
	if query == "" || requester == "" {
		writeJSON(w, http.StatusOK, []model.User{})
		return
	}
	users, err := s.graph.Search(query, requester)
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetConnections(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	users, err := s.graph.ConnectedUsers(userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var body struct {
		TargetUserID string `json:"targetUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TargetUserID == "" {
		s.fail(w, apperr.Validation("target user ID is required"))
		return
	}
	if err := s.graph.Connect(userID, body.TargetUserID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.graph.Disconnect(vars["userId"], vars["targetUserId"]); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	connections, err := s.graph.ConnectedUsers(userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	summaries, err := s.store.Summaries(userID, connections)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["conversationId"]
	msgs, err := s.store.List(convID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case apperr.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
