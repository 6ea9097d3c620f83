// Package httpserver is a local stand-in for the mystbin paste API. It
// speaks the same JSON and x-ratelimit-* headers so the client can be
// exercised end to end without the real service.
package httpserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/tombowditch/mystbin-go/internal/config"
	"github.com/tombowditch/mystbin-go/internal/paste"
	"github.com/tombowditch/mystbin-go/internal/ratelimit"
	"github.com/tombowditch/mystbin-go/internal/store"
	"github.com/tombowditch/mystbin-go/internal/util/randutil"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store      store.Store
	limiter    ratelimit.Limiter
	log        logrus.FieldLogger
	trustProxy bool
	now        func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter throttles every API route per client IP.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithTrustProxy makes client IPs come from X-Forwarded-For / X-Real-IP.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// NewHandler creates an HTTP handler with all routes configured.
func NewHandler(st store.Store, opts ...Option) http.Handler {
	srv := &Server{
		store: st,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(srv)
	}

	r := httprouter.New()
	r.GET("/", srv.indexPage)
	r.POST("/api/paste", srv.throttle("/paste", srv.createPaste))
	r.GET("/api/paste/:id", srv.throttle("/paste/{paste_id}", srv.getPaste))
	r.GET("/api/pastes/@me", srv.throttle("/pastes/@me", srv.userPastes))
	r.GET("/api/security/delete/:token", srv.throttle("/security/delete/{security_token}", srv.deletePaste))

	return r
}

type fileJSON struct {
	Content    string `json:"content"`
	Filename   string `json:"filename"`
	LOC        int    `json:"loc"`
	CharCount  int    `json:"charcount"`
	Annotation string `json:"annotation"`
	ParentID   string `json:"parent_id"`
}

type pasteJSON struct {
	ID        string     `json:"id"`
	CreatedAt string     `json:"created_at"`
	Expires   *string    `json:"expires"`
	Views     *int       `json:"views,omitempty"`
	Safety    string     `json:"safety,omitempty"`
	Files     []fileJSON `json:"files,omitempty"`
}

type createRequest struct {
	Files    []store.File `json:"files"`
	Password string       `json:"password"`
	Expires  string       `json:"expires"`
}

func (s *Server) indexPage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(`mystbin mock API

POST /api/paste                          create a paste
GET  /api/paste/{id}[?password=]         fetch a paste
GET  /api/security/delete/{token}        delete a paste
GET  /api/pastes/@me                     list your pastes (Authorization: Bearer <token>)
`))
}

// throttle takes one request from the caller's bucket for route and answers
// 429 when it is empty. Rate-limit headers are set on every response.
func (s *Server) throttle(route string, next httprouter.Handle) httprouter.Handle {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		d := s.limiter.Take(s.clientIP(r) + " " + route)
		d.WriteHeaders(w.Header())
		if !d.Allowed {
			s.log.WithFields(logrus.Fields{"route": route, "ip": s.clientIP(r)}).Warn("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) createPaste(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer r.Body.Close()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := s.now().UTC()
	var expires *time.Time
	if req.Expires != "" {
		t, err := time.Parse(time.RFC3339Nano, req.Expires)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expires must be an ISO-8601 timestamp")
			return
		}
		expires = &t
	}

	if err := paste.Validate(req.Files, expires, now); err != nil {
		var ve *paste.ValidationError
		if errors.As(err, &ve) {
			writeError(w, ve.StatusCode, ve.Message)
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	rec := &store.Record{
		CreatedAt:     now,
		Expires:       expires,
		Password:      req.Password,
		SecurityToken: uuid.NewString(),
		Owner:         bearerToken(r),
		Files:         req.Files,
	}

	// Generate unique identifier and store atomically
	for tried := 0; tried < 10; tried++ {
		rec.ID = randutil.PasteID(config.MockIDLength)
		ok, err := s.store.Create(rec)
		if err != nil {
			s.log.WithError(err).Error("store create failed")
			writeError(w, http.StatusInternalServerError, "error")
			return
		}
		if ok {
			s.log.WithFields(logrus.Fields{"identifier": rec.ID, "remote": s.clientIP(r)}).Info("created paste")
			out := toJSON(rec, false)
			out.Safety = rec.SecurityToken
			writeJSON(w, http.StatusOK, out)
			return
		}
		// Collision, try again
		s.log.WithField("identifier", rec.ID).Debug("identifier collision, retrying")
	}

	writeError(w, http.StatusInternalServerError, "could not generate identifier")
}

func (s *Server) getPaste(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identifier := ps.ByName("id")

	rec, err := s.store.View(identifier)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.WithError(err).WithField("identifier", identifier).Error("store get failed")
		}
		writeError(w, http.StatusNotFound, "not found or expired")
		return
	}

	if rec.Password != "" && r.URL.Query().Get("password") != rec.Password {
		writeError(w, http.StatusUnauthorized, "this paste is password protected")
		return
	}

	writeJSON(w, http.StatusOK, toJSON(rec, true))
}

func (s *Server) deletePaste(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.store.DeleteByToken(ps.ByName("token"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown security token")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("store delete failed")
		writeError(w, http.StatusInternalServerError, "error")
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) userPastes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	owner := bearerToken(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	recs, err := s.store.ListByOwner(owner)
	if err != nil {
		s.log.WithError(err).Error("store list failed")
		writeError(w, http.StatusInternalServerError, "error")
		return
	}

	out := struct {
		Pastes []pasteJSON `json:"pastes"`
	}{Pastes: make([]pasteJSON, 0, len(recs))}
	for _, rec := range recs {
		pj := toJSON(rec, false)
		pj.Files = nil
		out.Pastes = append(out.Pastes, pj)
	}
	writeJSON(w, http.StatusOK, out)
}

func toJSON(rec *store.Record, withViews bool) pasteJSON {
	out := pasteJSON{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.Expires != nil {
		e := rec.Expires.UTC().Format(time.RFC3339Nano)
		out.Expires = &e
	}
	if withViews {
		v := rec.Views
		out.Views = &v
	}
	for _, f := range rec.Files {
		out.Files = append(out.Files, fileJSON{
			Content:   f.Content,
			Filename:  f.Filename,
			LOC:       strings.Count(f.Content, "\n") + 1,
			CharCount: len([]rune(f.Content)),
			ParentID:  rec.ID,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// clientIP extracts the client IP, honouring proxy headers only when trusted.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		// X-Forwarded-For can be comma-separated list: client, proxy1, proxy2
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
