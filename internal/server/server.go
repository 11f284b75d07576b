// Package server exposes the key service over HKP and REST.
package server

import (
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keygrove/keyserver/internal/config"
	"github.com/keygrove/keyserver/internal/httperr"
	"github.com/keygrove/keyserver/internal/logging"
	"github.com/keygrove/keyserver/internal/mail"
	"github.com/keygrove/keyserver/internal/pubkey"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping() error
}

// Server routes HTTP requests to the key service.
type Server struct {
	cfg  config.Server
	svc  *pubkey.Service
	db   Pinger
	tmpl *template.Template
	log  zerolog.Logger
}

// New creates the server.
func New(cfg config.Server, svc *pubkey.Service, db Pinger) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:  cfg,
		svc:  svc,
		db:   db,
		tmpl: tmpl,
		log:  logging.WithComponent("server"),
	}, nil
}

// Handler builds the routing table with the configured middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /pks/add", s.hkpAdd)
	mux.HandleFunc("GET /pks/lookup", s.hkpLookup)

	mux.HandleFunc("POST /api/v1/key", s.restCreate)
	mux.HandleFunc("GET /api/v1/key", s.restQuery)
	mux.HandleFunc("DELETE /api/v1/key", s.restRemove)
	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /manage.html", s.manage)

	return s.middleware(mux)
}

// middleware applies the configured response header policies and logs
// every request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.cfg.Security {
			h.Set("Strict-Transport-Security", "max-age=31536000")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
		}
		if s.cfg.Csp {
			h.Set("Content-Security-Policy", "default-src 'self'; object-src 'none'")
		}
		if s.cfg.Cors && strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("Request")
		next.ServeHTTP(w, r)
	})
}

// origin derives the protocol and host used to compose links back to
// this server.
func origin(r *http.Request) mail.Origin {
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		proto = fwd
	}
	return mail.Origin{Protocol: proto, Host: r.Host}
}

// locale returns the raw Accept-Language header for template matching.
func locale(r *http.Request) string {
	return r.Header.Get("Accept-Language")
}

// writeError maps an error to its HTTP status with a plain text body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.Error(w, httperr.MessageOf(err), status)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, r, httperr.Internal("store unreachable", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK\n"))
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "index.html", nil)
}

func (s *Server) manage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "manage.html", nil)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("Failed to render template")
	}
}
