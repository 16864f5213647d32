// Package http is the API surface: evaluation CRUD, status polling for CI,
// CSV export, cross-run comparison, and dataset upload.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"eaas/internal/cache"
	"eaas/internal/db"
	"eaas/internal/export"
	"eaas/internal/ingest"
	"eaas/internal/rubric"
	"eaas/internal/run"
	"eaas/internal/schemas"
	"eaas/internal/storage"
	"eaas/internal/worker"
)

const maxUploadBytes = 20 << 20

var validate = validator.New()

type Server struct {
	Store *db.Store
	S3    *storage.Client
	Asynq *asynq.Client
	Cache *cache.Client
	Log   *slog.Logger
}

func NewServer(addr, apiToken string, s *Server) *http.Server {
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	// Everything except the health probe sits behind the API token.
	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken(apiToken))
		r.Post("/evaluations", s.createEvaluation)
		r.Post("/evaluations/run", s.runEvaluation)
		r.Get("/evaluations", s.listEvaluations)
		r.Get("/evaluations/status", s.getStatus)
		r.Get("/evaluations/compare", s.compareEvaluations)
		r.Get("/evaluations/{id}", s.getEvaluation)
		r.Get("/evaluations/{id}/export.csv", s.exportCSV)
		r.Post("/datasets", s.uploadDataset)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Store.Ping(); err != nil {
			writeJSON(w, http.StatusInternalServerError, errResp{"db error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return &http.Server{Addr: addr, Handler: r}
}

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) createEvaluation(w http.ResponseWriter, r *http.Request) {
	var req schemas.CreateEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return
	}
	id, ok := s.persistAndEnqueue(w, r, &req, req.Name, req.Rubric, req.Threshold, req.ModelVersion, req.Items)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, schemas.CreateEvaluationResponse{EvaluationID: id})
}

// runEvaluation is the CI entrypoint: a dataset plus the default llm accuracy
// rubric, returning the URL the pipeline should poll until the run settles.
func (s *Server) runEvaluation(w http.ResponseWriter, r *http.Request) {
	var req schemas.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return
	}
	id, ok := s.persistAndEnqueue(w, r, &req, req.DatasetName, rubric.Default(), req.Threshold, req.ModelVersion, req.Items)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, schemas.RunResponse{
		EvaluationID: id,
		StatusURL:    "/evaluations/status?id=" + id,
	})
}

// persistAndEnqueue is the shared create path: validate the request, insert
// the run row and all item rows in one transaction, then hand the run id to
// the scoring worker. On failure it writes the error response and returns
// ok=false; nothing is persisted.
func (s *Server) persistAndEnqueue(w http.ResponseWriter, r *http.Request, req any, name string, cfg rubric.Config, threshold *float64, modelVersion *string, items []rubric.ItemInput) (string, bool) {
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return "", false
	}
	if err := rubric.Validate(cfg, items); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return "", false
	}

	rubricJSON, err := json.Marshal(cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return "", false
	}

	id := uuid.NewString()
	ev := &db.Evaluation{
		ID:           id,
		Name:         name,
		Rubric:       rubricJSON,
		Threshold:    threshold,
		ModelVersion: modelVersion,
		Status:       string(run.StatusPending),
		TotalItems:   len(items),
	}
	rows := make([]db.EvaluationItem, len(items))
	for i, it := range items {
		rows[i] = db.EvaluationItem{
			ID:           uuid.NewString(),
			EvaluationID: id,
			Position:     i,
			Prompt:       it.Prompt,
			ModelOutput:  it.ModelOutput,
			Status:       string(run.ItemPending),
		}
		if it.ExpectedOutput != "" {
			expected := it.ExpectedOutput
			rows[i].ExpectedOutput = &expected
		}
	}

	if err := s.Store.CreateEvaluation(r.Context(), ev, rows); err != nil {
		s.Log.Error("create evaluation", "error", err)
		writeJSON(w, http.StatusInternalServerError, errResp{"failed to create evaluation"})
		return "", false
	}
	if _, err := s.Asynq.Enqueue(worker.NewScoreTask(id), asynq.MaxRetry(0)); err != nil {
		s.Log.Error("enqueue scoring task", "evaluation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errResp{"failed to enqueue scoring"})
		return "", false
	}
	s.Log.Info("evaluation created", "evaluation_id", id, "items", len(items), "rubric", cfg.Type)
	return id, true
}

func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	evs, err := s.Store.ListEvaluations(r.Context(), limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}
	out := schemas.ListEvaluationsResponse{Evaluations: make([]schemas.EvaluationOut, 0, len(evs))}
	for i := range evs {
		out.Evaluations = append(out.Evaluations, s.evaluationOut(&evs[i], nil))
	}
	writeJSON(w, http.StatusOK, out)
}

// getStatus serves the polling payload, preferring the Redis copy. Terminal
// payloads cache longer since they can never change again.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errResp{"id query parameter is required"})
		return
	}

	if s.Cache != nil {
		var cached schemas.StatusResponse
		if err := s.Cache.GetStatus(r.Context(), id, &cached); err == nil {
			writeJSON(w, http.StatusOK, cached)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			s.Log.Warn("status cache read", "evaluation_id", id, "error", err)
		}
	}

	ev, err := s.Store.GetEvaluation(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errResp{"evaluation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}

	resp := schemas.StatusResponse{
		EvaluationID:   ev.ID,
		Name:           ev.Name,
		Status:         ev.Status,
		TotalItems:     ev.TotalItems,
		CompletedItems: ev.CompletedItems,
		AverageScore:   ev.AverageScore,
		Passed:         derivePassed(ev),
		ErrorMessage:   ev.ErrorMessage,
	}
	if s.Cache != nil {
		terminal := run.Status(ev.Status).Terminal()
		if err := s.Cache.SetStatus(r.Context(), id, resp, terminal); err != nil {
			s.Log.Warn("status cache write", "evaluation_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.Store.GetEvaluation(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errResp{"evaluation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}
	items, err := s.Store.GetItems(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.evaluationOut(ev, items))
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.Store.GetEvaluation(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errResp{"evaluation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}
	items, err := s.Store.GetItems(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "evaluation-"+ev.ID+".csv"))
	if err := export.WriteCSV(w, items); err != nil {
		s.Log.Error("write csv export", "evaluation_id", id, "error", err)
	}
}

func (s *Server) compareEvaluations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	baselineID, candidateID := q.Get("baseline"), q.Get("candidate")
	if baselineID == "" || candidateID == "" {
		writeJSON(w, http.StatusBadRequest, errResp{"baseline and candidate query parameters are required"})
		return
	}
	epsilon := run.DefaultEpsilon
	if raw := q.Get("epsilon"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errResp{"epsilon must be a positive number"})
			return
		}
		epsilon = parsed
	}

	baseline, err := s.loadSide(r, baselineID)
	if err != nil {
		s.writeSideError(w, "baseline", err)
		return
	}
	candidate, err := s.loadSide(r, candidateID)
	if err != nil {
		s.writeSideError(w, "candidate", err)
		return
	}
	writeJSON(w, http.StatusOK, run.Compare(baseline, candidate, epsilon))
}

func (s *Server) writeSideError(w http.ResponseWriter, side string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errResp{side + " evaluation not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
}

func (s *Server) loadSide(r *http.Request, id string) (run.Side, error) {
	ev, err := s.Store.GetEvaluation(r.Context(), id)
	if err != nil {
		return run.Side{}, err
	}
	items, err := s.Store.GetItems(r.Context(), id)
	if err != nil {
		return run.Side{}, err
	}
	side := run.Side{
		RunID:        ev.ID,
		Name:         ev.Name,
		AverageScore: ev.AverageScore,
		Items:        make([]run.Item, len(items)),
	}
	if ev.ModelVersion != nil {
		side.ModelVersion = *ev.ModelVersion
	}
	for i, it := range items {
		side.Items[i] = run.Item{
			ID:          it.ID,
			Prompt:      it.Prompt,
			ModelOutput: it.ModelOutput,
			Score:       it.Score,
			Status:      run.ItemStatus(it.Status),
		}
	}
	return side, nil
}

// uploadDataset parses a CSV or JSON dataset file, archives the raw bytes in
// object storage, and echoes the parsed items back for inspection.
func (s *Server) uploadDataset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{"file field is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp{err.Error()})
		return
	}
	items, err := ingest.Parse(header.Filename, data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return
	}

	resp := schemas.DatasetUploadResponse{Items: items, ItemCount: len(items)}
	if s.S3 != nil {
		ref, err := s.S3.PutDataset(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
		if err != nil {
			s.Log.Warn("archive dataset upload", "filename", header.Filename, "error", err)
		} else {
			resp.ObjectRef = ref
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// derivePassed computes pass/fail on read: null unless both a threshold and
// an average score exist. A failed run with a persisted partial average still
// reports pass/fail over the items that did score.
func derivePassed(ev *db.Evaluation) *bool {
	if ev.Threshold == nil || ev.AverageScore == nil {
		return nil
	}
	p := *ev.AverageScore >= *ev.Threshold
	return &p
}

func (s *Server) evaluationOut(ev *db.Evaluation, items []db.EvaluationItem) schemas.EvaluationOut {
	out := schemas.EvaluationOut{
		EvaluationID:   ev.ID,
		Name:           ev.Name,
		Threshold:      ev.Threshold,
		ModelVersion:   ev.ModelVersion,
		Status:         ev.Status,
		TotalItems:     ev.TotalItems,
		CompletedItems: ev.CompletedItems,
		AverageScore:   ev.AverageScore,
		Passed:         derivePassed(ev),
		ErrorMessage:   ev.ErrorMessage,
		CreatedAt:      ev.CreatedAt,
	}
	if err := json.Unmarshal(ev.Rubric, &out.Rubric); err != nil {
		// A corrupted rubric row renders as a zero rubric; make it visible.
		s.Log.Error("decode stored rubric", "evaluation_id", ev.ID, "error", err)
	}
	for _, it := range items {
		out.Items = append(out.Items, schemas.ItemOut{
			ID:             it.ID,
			Prompt:         it.Prompt,
			ModelOutput:    it.ModelOutput,
			ExpectedOutput: it.ExpectedOutput,
			Score:          it.Score,
			Explanation:    it.Explanation,
			ErrorMessage:   it.ErrorMessage,
			Status:         it.Status,
		})
	}
	return out
}
