package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"channel_manager/internal/app"
	"channel_manager/internal/domain"
)

var validate = validator.New()

// DecisionHistory reads the audit trail; optional.
type DecisionHistory interface {
	ListDecisions(ctx context.Context, requestID string, limit int) ([]domain.DecisionRecord, error)
}

type Handlers struct {
	Q         *app.QueryService
	Exporter  *app.FeedExporter
	Merger    app.Regenerator
	Feeds     *app.FeedService
	Bookings  *app.BookingService
	Autopilot *app.Orchestrator
	History   DecisionHistory
	AdminKey  string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(s.cors.Handler)
		public := map[string]http.HandlerFunc{
			"/v1/units/{unit}/availability": h.availability,
			"/v1/units/{unit}/timeline":     h.timeline,
			"/v1/units/{unit}/calendar.ics": h.calendar,
		}
		for path, fn := range public {
			r.Get(path, fn)
			// preflight is answered by the cors middleware; the route only has to match
			r.Options(path, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}
	})

	s.mux.Group(func(r chi.Router) {
		r.Use(AdminKey(h.AdminKey))
		r.Post("/v1/units/{unit}/merge", h.merge)
		r.Post("/v1/units/{unit}/feeds/{platform}/pull", h.pullFeed)
		r.Post("/v1/units/{unit}/blocks", h.addBlock)
		r.Delete("/v1/units/{unit}/blocks/{id}", h.removeBlock)
		r.Post("/v1/units/{unit}/reservations", h.confirmReservation)
		r.Delete("/v1/units/{unit}/reservations/{id}", h.cancelReservation)
		r.Post("/v1/requests/{id}/precheck", h.precheck)
		r.Post("/v1/requests/{id}/autopilot", h.runAutopilot)
		r.Get("/v1/requests/{id}/decisions", h.decisions)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnitUnknown), errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, domain.ErrInvalidUnit), errors.Is(err, domain.ErrInvalidSegment), errors.Is(err, domain.ErrSelfImport):
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, domain.ErrRefreshUnavailable), errors.Is(err, domain.ErrLockBusy):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, domain.ErrMergeFailed):
		log.Error().Err(err).Msg("merge failed in request")
		writeProblem(w, http.StatusInternalServerError, "Merge Failed", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

/********** public **********/

func (h *Handlers) availability(w http.ResponseWriter, r *http.Request) {
	v, err := h.Q.Availability(r.Context(), chi.URLParam(r, "unit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeCached(w, r, v)
}

func (h *Handlers) timeline(w http.ResponseWriter, r *http.Request) {
	v, err := h.Q.Timeline(r.Context(), chi.URLParam(r, "unit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeCached(w, r, v)
}

func (h *Handlers) calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.FeedExport{Unit: chi.URLParam(r, "unit"), Mode: q.Get("mode"), Key: q.Get("key"), Extras: -1}
	if req.Mode == "" {
		req.Mode = app.FeedModeBlocked
	}
	if ex := q.Get("extras"); ex != "" {
		req.Extras = 0
		if ex == "1" || ex == "true" {
			req.Extras = 1
		}
	}
	body, err := h.Exporter.Export(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write calendar body")
	}
}

/********** admin **********/

func (h *Handlers) merge(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Merger.Regenerate(r.Context(), chi.URLParam(r, "unit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handlers) pullFeed(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Feeds.PullPlatform(r.Context(), chi.URLParam(r, "unit"), chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// decodeValid reads a JSON body into dst and runs struct validation.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
		return false
	}
	return true
}

func (h *Handlers) addBlock(w http.ResponseWriter, r *http.Request) {
	var mb app.ManualBlock
	if !decodeValid(w, r, &mb) {
		return
	}
	seg, rep, err := h.Bookings.AddManualBlock(r.Context(), chi.URLParam(r, "unit"), mb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"block": seg, "merge": rep})
}

func (h *Handlers) removeBlock(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Bookings.RemoveManualBlock(r.Context(), chi.URLParam(r, "unit"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handlers) confirmReservation(w http.ResponseWriter, r *http.Request) {
	var res app.Reservation
	if !decodeValid(w, r, &res) {
		return
	}
	rep, err := h.Bookings.Confirm(r.Context(), chi.URLParam(r, "unit"), res)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *Handlers) cancelReservation(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Bookings.Cancel(r.Context(), chi.URLParam(r, "unit"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseTrigger(r *http.Request) (domain.Trigger, bool) {
	switch t := domain.Trigger(r.URL.Query().Get("trigger")); t {
	case "":
		return domain.TriggerOnAccept, true
	case domain.TriggerOnAccept, domain.TriggerOnGuestConfirm:
		return t, true
	}
	return "", false
}

// A veto is a normal outcome: decisions are always 200.
func (h *Handlers) precheck(w http.ResponseWriter, r *http.Request) {
	trig, ok := parseTrigger(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid trigger", "trigger must be on_accept or on_guest_confirm")
		return
	}
	d, err := h.Autopilot.PrecheckByID(r.Context(), chi.URLParam(r, "id"), trig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handlers) runAutopilot(w http.ResponseWriter, r *http.Request) {
	trig, ok := parseTrigger(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid trigger", "trigger must be on_accept or on_guest_confirm")
		return
	}
	d, err := h.Autopilot.RunByID(r.Context(), chi.URLParam(r, "id"), trig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handlers) decisions(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeProblem(w, http.StatusNotImplemented, "Not Implemented", "audit store not configured")
		return
	}
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	out, err := h.History.ListDecisions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []domain.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
