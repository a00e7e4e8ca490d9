package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventcal/internal/config"
	"eventcal/internal/events"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server exposes the event service over HTTP.
type Server struct {
	cfg *config.Config
	svc *events.Service
	mux *http.ServeMux
	now func() time.Time
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg *config.Config, svc *events.Service) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		mux: http.NewServeMux(),
		now: time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleUpcoming)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("GET /api/events/{id}/instances", s.handleInstances)
	s.mux.HandleFunc("POST /api/recurrence/preview", s.handlePreview)
	s.mux.HandleFunc("POST /api/instances/{id}/rsvp", s.handleRSVP)
	s.mux.HandleFunc("GET /api/instances/{id}/comments", s.handleComments)
	s.mux.HandleFunc("POST /api/instances/{id}/comments", s.handleAddComment)
	s.mux.HandleFunc("GET /calendar.ics", s.handleFeed)

	// Organizer and admin routes.
	s.mux.Handle("GET /api/organizers/{id}/events", s.requireOrganizer(s.handleOrganizerEvents))
	s.mux.Handle("POST /api/organizers/{id}/events", s.requireOrganizer(s.handleCreateEvent))
	s.mux.Handle("PUT /api/organizers/{id}/events/{eventID}/recurrence", s.requireOrganizer(s.handleUpdateRecurrence))
	s.mux.Handle("GET /api/instances/{id}/attendees", s.requireAdmin(s.handleAttendees))
	s.mux.Handle("POST /api/cache/invalidate", s.requireAdmin(s.handleInvalidate))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials disable it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// requireAdmin guards admin routes. With basic auth configured the
// credentials are required; otherwise the caller must carry the X-User-ID
// identity set by the fronting proxy.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	if s.basicAuthEnabled() {
		return s.basicAuth(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOrganizer guards /api/organizers/{id}/... routes. Without basic
// auth the proxy identity must be the organizer named in the path.
func (s *Server) requireOrganizer(next http.HandlerFunc) http.Handler {
	if s.basicAuthEnabled() {
		return s.basicAuth(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		if uid == "" {
			writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}
		if uid != r.PathValue("id") {
			writeError(w, http.StatusForbidden, "not this organizer")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuth(next http.HandlerFunc) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type upcomingResponse struct {
	From      time.Time        `json:"from"`
	Days      int              `json:"days"`
	Instances []events.Listing `json:"instances"`
}

// handleUpcoming lists instances in a window.
//
// GET /api/events?from=2025-01-15&days=7&limit=100&search=choir
//   - from:   RFC 3339 time or YYYY-MM-DD in the configured timezone (default: today)
//   - days:   window length (default 7)
//   - limit:  maximum rows (default 500)
//   - search: case-insensitive match on name or summary
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.parseFrom(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 || days > 366 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
		return
	}
	limit := parseIntDefault(q.Get("limit"), 500)

	list, err := s.svc.SearchUpcoming(r.Context(), from, days, limit, q.Get("search"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upcomingResponse{From: from, Days: days, Instances: list})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ev, err := s.svc.GetEvent(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	insts, err := s.svc.ListInstances(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insts)
}

func (s *Server) handleOrganizerEvents(w http.ResponseWriter, r *http.Request) {
	organizerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	evs, err := s.svc.ListOrganizerEvents(r.Context(), organizerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	organizerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in events.CreateEventInput
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := s.svc.CreateEvent(r.Context(), organizerID, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type recurrenceUpdateRequest struct {
	// Recurrence null makes the event a one-off.
	Recurrence *events.RecurrenceInput `json:"recurrence"`
}

func (s *Server) handleUpdateRecurrence(w http.ResponseWriter, r *http.Request) {
	organizerID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req recurrenceUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.UpdateRecurrence(r.Context(), organizerID, eventID, req.Recurrence)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rsvpRequest struct {
	Status  model.RSVPStatus `json:"status"`
	Comment string           `json:"comment,omitempty"`
}

// handleRSVP records the caller's response. The caller is identified by
// the X-User-ID header set by the fronting auth proxy.
func (s *Server) handleRSVP(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	var req rsvpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.RSVP(r.Context(), instanceID, uid, req.Status, req.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type attendeesResponse struct {
	RSVPs    []model.RSVP          `json:"rsvps"`
	Waitlist []model.WaitlistEntry `json:"waitlist"`
}

func (s *Server) handleAttendees(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rsvps, waitlist, err := s.svc.Attendees(r.Context(), instanceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attendeesResponse{RSVPs: rsvps, Waitlist: waitlist})
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	comments, err := s.svc.ListComments(r.Context(), instanceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// handleAddComment posts a comment as the X-User-ID caller.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	var req commentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.svc.AddComment(r.Context(), instanceID, uid, req.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type previewRequest struct {
	Recurrence events.RecurrenceInput `json:"recurrence"`
	Start      time.Time              `json:"start"`
	End        *time.Time             `json:"end,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.svc.PreviewRecurrence(req.Recurrence, req.Start, req.End)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleInvalidate drops cached reads.
//
// POST /api/cache/invalidate?type=event&id=12
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("type")
	if kind == "" {
		kind = "all"
	}
	n, err := s.svc.InvalidateCache(kind, q.Get("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": kind, "invalidated": n})
}

// handleFeed publishes upcoming instances as an ICS calendar.
//
// GET /calendar.ics?days=30
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 30)
	if days <= 0 || days > 366 {
		days = 30
	}
	from := s.today()
	list, err := s.svc.ListUpcoming(r.Context(), from, days, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	if err := ics.WriteFeed(w, "Community events", list, s.now()); err != nil {
		appLog.Error("failed to write ICS feed", err)
	}
}

func (s *Server) today() time.Time {
	now := s.now().In(s.cfg.Location())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (s *Server) parseFrom(v string) (time.Time, error) {
	if v == "" {
		return s.today(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, s.cfg.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid from %q: want RFC 3339 or YYYY-MM-DD", v)
	}
	return t, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// writeServiceError maps service errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, events.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, events.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, events.ErrEventFull):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
