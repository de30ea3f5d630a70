// Package httpapi serves the web surface of the daemon: the public
// moderation and unsubscribe links that land in people's inboxes, the
// authenticated admin API for managing lists and members, and the metrics
// endpoint.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/server/ingest"
	"github.com/migadu/listserv/server/moderation"
)

// Store is the database surface the API needs.
type Store interface {
	CreateList(ctx context.Context, name, address string, mode db.ListMode) (*db.List, error)
	GetList(ctx context.Context, id int64) (*db.List, error)
	ListLists(ctx context.Context) ([]db.List, error)
	DeleteList(ctx context.Context, id int64) error
	AddMember(ctx context.Context, listID int64, address, name string, role db.MemberRole, active bool, unsubscribeToken string) (*db.Member, error)
	ListMembers(ctx context.Context, listID int64) ([]db.Member, error)
	ListPendingMessages(ctx context.Context, listID int64, status db.PendingStatus) ([]db.PendingMessage, error)
	SetMemberActive(ctx context.Context, memberID int64, active bool) error
	GetMemberByUnsubscribeToken(ctx context.Context, token string) (*db.Member, string, error)
}

// Redeemer settles held messages through moderation links.
type Redeemer interface {
	Redeem(ctx context.Context, bearer string) (moderation.Outcome, error)
}

// InboxLister provides the debug view of the source inbox.
type InboxLister interface {
	ListRecent(ctx context.Context, limit int) ([]ingest.InboxEntry, error)
}

// Server represents the HTTP API server.
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	store        Store
	redeemer     Redeemer
	inbox        InboxLister
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
}

// ServerOptions holds configuration options for the HTTP API server.
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
	// Inbox enables GET /debug/inbox when set. Leave nil in production.
	Inbox       InboxLister
	TLS         bool
	TLSCertFile string
	TLSKeyFile  string
}

// New creates a new HTTP API server.
func New(store Store, redeemer Redeemer, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		store:        store,
		redeemer:     redeemer,
		inbox:        options.Inbox,
		tls:          options.TLS,
		tlsCertFile:  options.TLSCertFile,
		tlsKeyFile:   options.TLSKeyFile,
	}, nil
}

// Start starts the HTTP API server and reports fatal errors on errChan.
func Start(ctx context.Context, store Store, redeemer Redeemer, options ServerOptions, errChan chan error) {
	server, err := New(store, redeemer, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	log.Printf("Starting %s API server on %s", protocol, options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP API server: %v", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware. The moderation and
// unsubscribe links must work from any mail client, so they stay outside the
// authenticated subrouter.
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	router.HandleFunc("/moderate/{token}", s.handleModerate).Methods("GET")
	router.HandleFunc("/unsubscribe/{token}", s.handleUnsubscribe).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if s.inbox != nil {
		router.HandleFunc("/debug/inbox", s.handleDebugInbox).Methods("GET")
	}

	// API v1 routes
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/lists", s.handleCreateList).Methods("POST")
	v1.HandleFunc("/lists", s.handleListLists).Methods("GET")
	v1.HandleFunc("/lists/{id}", s.handleGetList).Methods("GET")
	v1.HandleFunc("/lists/{id}", s.handleDeleteList).Methods("DELETE")

	v1.HandleFunc("/lists/{id}/members", s.handleAddMember).Methods("POST")
	v1.HandleFunc("/lists/{id}/members", s.handleListMembers).Methods("GET")
	v1.HandleFunc("/lists/{id}/pending", s.handleListPending).Methods("GET")
	v1.HandleFunc("/members/{id}/active", s.handleSetMemberActive).Methods("PATCH")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("HTTP API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("HTTP API: %s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil {
						if cidr.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("HTTP API: Error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, message)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// Public handlers

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	bearer := mux.Vars(r)["token"]

	outcome, err := s.redeemer.Redeem(r.Context(), bearer)
	if err != nil {
		log.Printf("HTTP API: moderation redemption failed: %v", err)
		s.writeText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	switch outcome {
	case moderation.OutcomeApproved:
		s.writeText(w, http.StatusOK, "The message has been approved and distributed to the list.")
	case moderation.OutcomeRejected:
		s.writeText(w, http.StatusOK, "The message has been rejected.")
	case moderation.OutcomeExpiredOrUsed:
		s.writeText(w, http.StatusBadRequest, "This link has already been used or is expired.")
	default:
		s.writeText(w, http.StatusBadRequest, "Invalid or expired link.")
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	member, listName, err := s.store.GetMemberByUnsubscribeToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, db.ErrMemberNotFound) {
			s.writeText(w, http.StatusNotFound, "Invalid or expired unsubscribe link.")
			return
		}
		s.writeText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	if !member.Active {
		s.writeText(w, http.StatusOK, fmt.Sprintf("You are already unsubscribed from the list %q.", listName))
		return
	}

	if err := s.store.SetMemberActive(r.Context(), member.ID, false); err != nil {
		s.writeText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	s.writeText(w, http.StatusOK, fmt.Sprintf("You have been unsubscribed from the list %q.", listName))
}

func (s *Server) handleDebugInbox(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.inbox.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to list inbox: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": entries})
}

// Admin handlers

type CreateListRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Mode    string `json:"mode"`
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req CreateListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Name == "" || req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "Name and address are required")
		return
	}
	if !db.ValidListMode(req.Mode) {
		s.writeError(w, http.StatusBadRequest, "Mode must be one of: open, members_only, moderated")
		return
	}

	list, err := s.store.CreateList(r.Context(), req.Name, req.Address, db.ListMode(req.Mode))
	if err != nil {
		if errors.Is(err, db.ErrDuplicateList) {
			s.writeError(w, http.StatusConflict, "A list with this address already exists")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create list: %v", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, list)
}

func (s *Server) handleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.store.ListLists(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list lists: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"lists": lists, "count": len(lists)})
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid list id")
		return
	}

	list, err := s.store.GetList(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrListNotFound) {
			s.writeError(w, http.StatusNotFound, "List not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get list: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid list id")
		return
	}

	if err := s.store.DeleteList(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrListNotFound) {
			s.writeError(w, http.StatusNotFound, "List not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete list: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "List deleted"})
}

type AddMemberRequest struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid list id")
		return
	}

	defer r.Body.Close()
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "Address is required")
		return
	}
	role := db.RoleMember
	if req.Role != "" {
		if !db.ValidMemberRole(req.Role) {
			s.writeError(w, http.StatusBadRequest, "Role must be one of: admin, member")
			return
		}
		role = db.MemberRole(req.Role)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	member, err := s.store.AddMember(r.Context(), listID, req.Address, req.Name, role, active, uuid.NewString())
	if err != nil {
		switch {
		case errors.Is(err, db.ErrListNotFound):
			s.writeError(w, http.StatusNotFound, "List not found")
		case errors.Is(err, db.ErrDuplicateMember):
			s.writeError(w, http.StatusConflict, "This address is already a member of the list")
		default:
			s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to add member: %v", err))
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid list id")
		return
	}

	members, err := s.store.ListMembers(r.Context(), listID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list members: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"members": members, "count": len(members)})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid list id")
		return
	}

	status := db.StatusPending
	if v := r.URL.Query().Get("status"); v != "" {
		switch db.PendingStatus(v) {
		case db.StatusPending, db.StatusApproved, db.StatusRejected:
			status = db.PendingStatus(v)
		default:
			s.writeError(w, http.StatusBadRequest, "Status must be one of: pending, approved, rejected")
			return
		}
	}

	messages, err := s.store.ListPendingMessages(r.Context(), listID, status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list pending messages: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages, "count": len(messages)})
}

func (s *Server) handleSetMemberActive(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid member id")
		return
	}

	active := r.URL.Query().Get("active") != "false"

	if err := s.store.SetMemberActive(r.Context(), memberID, active); err != nil {
		if errors.Is(err, db.ErrMemberNotFound) {
			s.writeError(w, http.StatusNotFound, "Member not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to update member: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"member_id": memberID, "active": active})
}
