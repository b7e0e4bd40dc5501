package expense

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Server handles HTTP requests for the calculator and the ledger
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Pocket Ledger"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Calculator
	s.mux.HandleFunc("GET /api/calculator", s.requireAuth(s.handleCalculatorState))
	s.mux.HandleFunc("POST /api/calculator/keys", s.requireAuth(s.handlePressKey))

	// Scan staging workflow
	s.mux.HandleFunc("POST /api/scan/confirm", s.requireAuth(s.handleConfirmScan))
	s.mux.HandleFunc("POST /api/scan/discard", s.requireAuth(s.handleDiscardScan))
	s.mux.HandleFunc("PUT /api/scan/items/{index}", s.requireAuth(s.handleEditScanItem))
	s.mux.HandleFunc("DELETE /api/scan/items/{index}", s.requireAuth(s.handleRemoveScanItem))
	s.mux.HandleFunc("POST /api/scan/items", s.requireAuth(s.handleAddScanItem))
	s.mux.HandleFunc("PUT /api/scan/category", s.requireAuth(s.handleSetScanCategory))
	s.mux.HandleFunc("GET /api/scan", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("POST /api/scan", s.requireAuth(s.handleStartScan))

	// History
	s.mux.HandleFunc("GET /api/history/export", s.requireAuth(s.handleExportHistory))
	s.mux.HandleFunc("GET /api/history/{id}/image", s.requireAuth(s.handleEntryImage))
	s.mux.HandleFunc("GET /api/history", s.requireAuth(s.handleListHistory))

	// Manual expenses
	s.mux.HandleFunc("POST /api/expenses", s.requireAuth(s.handleAddExpense))

	// Categories
	s.mux.HandleFunc("PUT /api/categories/{name}", s.requireAuth(s.handleRenameCategory))
	s.mux.HandleFunc("DELETE /api/categories/{name}", s.requireAuth(s.handleDeleteCategory))
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleListCategories))
	s.mux.HandleFunc("POST /api/categories", s.requireAuth(s.handleAddCategory))

	// Settings
	s.mux.HandleFunc("GET /api/settings", s.requireAuth(s.handleGetSettings))
	s.mux.HandleFunc("PUT /api/settings/theme", s.requireAuth(s.handleSetTheme))
	s.mux.HandleFunc("PUT /api/settings/view", s.requireAuth(s.handleSetActiveView))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
