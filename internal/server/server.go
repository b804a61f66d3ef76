// Package server exposes the grader over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/grading"
	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/storage"
)

const (
	defaultAddr            = ":5000"
	defaultShutdownTimeout = 5 * time.Second
	defaultMaxBodyBytes    = 10 << 20
	defaultAllowedOrigin   = "*"
)

var errInvalidMarks = errors.New("total marks must be a number")

// Config configures the HTTP server.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	MaxBodyBytes    int64         `mapstructure:"max-body-bytes"`
	AllowedOrigin   string        `mapstructure:"allowed-origin"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = defaultAddr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(c.AllowedOrigin) == "" {
		c.AllowedOrigin = defaultAllowedOrigin
	}
	return c
}

// Server routes API requests to the evaluator and the store.
type Server struct {
	cfg       Config
	evaluator *grading.Evaluator
	store     storage.Store
	scorer    *plagiarism.Scorer
	logger    *zap.Logger
	handler   http.Handler
}

// New builds a Server. The scorer is only used for health reporting and may be nil.
func New(cfg Config, evaluator *grading.Evaluator, store storage.Store, scorer *plagiarism.Scorer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg.withDefaults(),
		evaluator: evaluator,
		store:     store,
		scorer:    scorer,
		logger:    log,
	}

	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/api/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	router.HandleFunc("/api/plagiarism/check", s.handleCheck).Methods(http.MethodPost)
	router.HandleFunc("/api/assignments", s.handleAssignments).Methods(http.MethodGet)
	router.HandleFunc("/api/assignments/{id}/model-answer", s.handleReference(storage.KindModelAnswer)).Methods(http.MethodGet)
	router.HandleFunc("/api/assignments/{id}/rubric", s.handleReference(storage.KindRubric)).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.handler = s.cors(router)
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

type evaluateRequest struct {
	AssignmentID string          `json:"assignmentId"`
	StudentID    string          `json:"studentId"`
	Question     string          `json:"assignmentQuestion"`
	Answer       string          `json:"studentAnswer"`
	ModelAnswer  string          `json:"modelAnswer"`
	Rubric       string          `json:"rubric"`
	TotalMarks   json.RawMessage `json:"totalMarks"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var body evaluateRequest
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	marks, err := parseMarks(body.TotalMarks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.evaluator.Evaluate(r.Context(), grading.Request{
		AssignmentID: body.AssignmentID,
		StudentID:    body.StudentID,
		Question:     body.Question,
		Answer:       body.Answer,
		ModelAnswer:  body.ModelAnswer,
		Rubric:       body.Rubric,
		TotalMarks:   marks,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type checkRequest struct {
	AssignmentID string `json:"assignmentId"`
	StudentID    string `json:"studentId"`
	Text         string `json:"text"`
	Save         bool   `json:"save"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body checkRequest
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.evaluator.Check(r.Context(), grading.CheckRequest{
		AssignmentID: body.AssignmentID,
		StudentID:    body.StudentID,
		Text:         body.Text,
		Save:         body.Save,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReference(kind storage.Kind) http.HandlerFunc {
	load := s.store.ModelAnswer
	key, missing := "model_answer", "Model answer not found"
	if kind == storage.KindRubric {
		load = s.store.Rubric
		key, missing = "rubric", "Rubric not found"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := storage.ValidateID(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		content, err := load(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && content == "") {
			writeError(w, http.StatusNotFound, missing)
			return
		}
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{key: content})
	}
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.Assignments(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"assignments": ids})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": s.scorer != nil && s.scorer.ModelLoaded(),
		"steps":        s.evaluator.Steps(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseMarks accepts a JSON number or a numeric string. Null, zero and the
// empty string mean no total marks.
func parseMarks(raw json.RawMessage) (*int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return nil, nil
	}

	if strings.HasPrefix(text, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return nil, errInvalidMarks
		}
		text = strings.TrimSpace(unquoted)
		if text == "" {
			return nil, nil
		}
	}

	marks, err := strconv.Atoi(text)
	if err != nil {
		return nil, errInvalidMarks
	}
	if marks == 0 {
		return nil, nil
	}
	return &marks, nil
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, grading.ErrMissingInput),
		errors.Is(err, grading.ErrInvalidMarks),
		errors.Is(err, grading.ErrInvalidText),
		errors.Is(err, plagiarism.ErrInvalidInput),
		errors.Is(err, storage.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, grading.ErrNoGenerator):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}
