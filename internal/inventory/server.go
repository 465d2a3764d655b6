package inventory

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server handles HTTP requests for the inventory
type Server struct {
	service   *Service
	session   *Session
	queue     *ScanQueue
	basicAuth BasicAuth
	mux       *http.ServeMux
	handler   http.Handler
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, session *Session, queue *ScanQueue, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, session, queue, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, session *Session, queue *ScanQueue, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		session:   session,
		queue:     queue,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	s.handler = s.corsMiddleware(s.mux)
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userMatch && passMatch
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Pantry Tracker"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// ownerHandlerFunc is a handler that acts for the signed-in user
type ownerHandlerFunc func(w http.ResponseWriter, r *http.Request, owner Owner)

// requireOwner rejects requests that arrive before sign-in completes
func (s *Server) requireOwner(next ownerHandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.session.Owner()
		if err != nil {
			writeError(w, "System initializing...", http.StatusServiceUnavailable)
			return
		}
		next(w, r, owner)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))

	s.mux.HandleFunc("GET /api/inventory/stream", s.requireOwner(s.handleInventoryStream))
	s.mux.HandleFunc("GET /api/inventory/export", s.requireOwner(s.handleExport))
	s.mux.HandleFunc("POST /api/inventory/import", s.requireOwner(s.handleImport))
	s.mux.HandleFunc("POST /api/inventory/{id}/adjust", s.requireOwner(s.handleAdjustQuantity))
	s.mux.HandleFunc("PATCH /api/inventory/{id}", s.requireOwner(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/inventory/{id}", s.requireOwner(s.handleDeleteItem))
	s.mux.HandleFunc("GET /api/inventory", s.requireOwner(s.handleListItems))
	s.mux.HandleFunc("POST /api/inventory", s.requireOwner(s.handleAddItem))

	s.mux.HandleFunc("GET /api/exports/{name}", s.requireOwner(s.handleGetExport))
	s.mux.HandleFunc("GET /api/exports", s.requireOwner(s.handleListExports))

	s.mux.HandleFunc("POST /api/scan/jobs/{id}/save", s.requireOwner(s.handleSaveScanJob))
	s.mux.HandleFunc("DELETE /api/scan/jobs/{id}", s.requireAuth(s.handleDeleteScanJob))
	s.mux.HandleFunc("GET /api/scan/jobs", s.requireAuth(s.handleListScanJobs))
	s.mux.HandleFunc("POST /api/scan/jobs", s.requireAuth(s.handleEnqueueScan))
	s.mux.HandleFunc("POST /api/scan", s.requireAuth(s.handleScan))

	s.mux.HandleFunc("POST /api/dates/resolve", s.requireAuth(s.handleResolveDate))

	s.mux.HandleFunc("GET /api/profile", s.requireOwner(s.handleGetProfile))
	s.mux.HandleFunc("PUT /api/profile", s.requireOwner(s.handleSaveProfile))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves handler on addr until ctx is done, then shuts down gracefully
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// streams end when ctx does, so Shutdown is not held up by them
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
