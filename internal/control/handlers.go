package control

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"matchreview/internal/buckets"
	"matchreview/internal/deeplink"
	"matchreview/internal/gateway"
	"matchreview/internal/logging"
	"matchreview/internal/match"
	"matchreview/internal/reconcile"
	"matchreview/internal/services"
	"matchreview/internal/session"
)

const maxBodyBytes = 64 << 10

// ActivateRequest is the body of POST /activate.
type ActivateRequest struct {
	URL string `json:"url"`
}

// StatusResponse describes the loaded project.
type StatusResponse struct {
	Loaded    bool           `json:"loaded"`
	Root      string         `json:"root,omitempty"`
	Movie     string         `json:"movie,omitempty"`
	Clip      string         `json:"clip,omitempty"`
	Segments  int            `json:"segments"`
	Selection *SelectionView `json:"selection,omitempty"`
}

// SelectionView is the active selection and its displayed candidates.
type SelectionView struct {
	SegmentID  int64             `json:"seg_id"`
	Bucket     string            `json:"bucket"`
	Preview    match.TimeRange   `json:"preview"`
	Source     string            `json:"source"`
	Candidates []match.Candidate `json:"candidates"`
}

// SegmentRow is one annotated segment.
type SegmentRow struct {
	ID          int64            `json:"seg_id"`
	Clip        match.TimeRange  `json:"clip"`
	SceneID     *int64           `json:"clip_scene_id,omitempty"`
	Match       *match.TimeRange `json:"match,omitempty"`
	Source      string           `json:"source"`
	Contiguous  bool             `json:"contiguous"`
	Island      int              `json:"island"`
	Spike       bool             `json:"spike"`
	Review      string           `json:"review_status,omitempty"`
	ReviewStale bool             `json:"review_stale,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the routed control API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.Post("/activate", s.handleActivate)
	r.Get("/open", s.handleOpen)
	r.Get("/status", s.handleStatus)
	r.Get("/segments", s.handleSegments)
	r.Post("/select/{segID}", s.handleSelect)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = services.WithRequestID(ctx, id)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("control request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(started)))
	})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "control", "activate", "decode body", err))
		return
	}
	s.activate(w, r, req.URL)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	s.activate(w, r, r.URL.Query().Get("root"))
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request, raw string) {
	link, err := deeplink.Parse(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithOperation(r.Context(), "activate")
	logging.WithContext(ctx, s.logger).Info("opening project from link",
		logging.String("root", link.Root),
		logging.String(logging.FieldEventType, "control_activate"))
	req := gateway.OpenProjectRequest{Root: link.Root, Movie: link.Movie, Clip: link.Clip}
	if err := s.workspace.Open(ctx, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(s.workspace.Snapshot()))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusOf(s.workspace.Snapshot()))
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	state := s.workspace.Snapshot()
	if !state.Loaded {
		s.writeError(w, r, session.ErrNoProject)
		return
	}
	writeJSON(w, http.StatusOK, Rows(state))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	segID, err := strconv.ParseInt(chi.URLParam(r, "segID"), 10, 64)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "control", "select", "segment id must be an integer", err))
		return
	}
	var bucket buckets.Bucket
	if raw := strings.TrimSpace(r.URL.Query().Get("bucket")); raw != "" {
		var ok bool
		if bucket, ok = buckets.ParseBucket(raw); !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "control", "select", "unknown bucket "+strconv.Quote(raw), nil))
			return
		}
	}
	ctx := services.WithSegmentID(services.WithOperation(r.Context(), "select"), segID)
	if err := s.workspace.Select(ctx, segID, bucket); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(s.workspace.Snapshot()))
}

// Rows flattens state into annotated segment rows in display order.
func Rows(state session.State) []SegmentRow {
	rows := make([]SegmentRow, len(state.Segments))
	for i, seg := range state.Segments {
		row := SegmentRow{
			ID:          seg.ID,
			Clip:        seg.ClipRange(),
			SceneID:     seg.SceneID,
			Source:      string(reconcile.SourceNone),
			Review:      string(seg.Review),
			ReviewStale: seg.ReviewStale,
		}
		if eff, source := reconcile.EffectiveMatch(seg, state.Overrides); source != reconcile.SourceNone {
			rng := eff.Range()
			row.Match = &rng
			row.Source = string(source)
		}
		if i < len(state.Annotations) {
			ann := state.Annotations[i]
			row.Contiguous = ann.Contiguous
			row.Island = ann.Island
			row.Spike = ann.Spike
		}
		rows[i] = row
	}
	return rows
}

func statusOf(state session.State) StatusResponse {
	resp := StatusResponse{
		Loaded:   state.Loaded,
		Root:     state.Project.Root,
		Movie:    state.Project.Movie,
		Clip:     state.Project.Clip,
		Segments: len(state.Segments),
	}
	if state.Selection.Active {
		resp.Selection = &SelectionView{
			SegmentID:  state.Selection.SegmentID,
			Bucket:     string(state.Selection.Bucket),
			Preview:    state.Preview,
			Source:     string(state.PreviewSource),
			Candidates: state.Candidates,
		}
	}
	return resp
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "control request failed", "control_request_failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoProject), errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, services.ErrRequestFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
