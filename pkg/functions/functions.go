// Package functions serves the HTTP endpoints the neon-side adapter
// calls: one entity endpoint per (type, operation) pair plus the
// sequence counter. Every response is wrapped in the
// {success, data, backend, error} envelope so callers can distinguish a
// backend failure from transport noise.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/seq"
	"github.com/repairhq/repairstore/pkg/store"
)

// Backend is what the handlers need from the persistence layer. The
// postgres store satisfies it; tests use a memory-backed fake.
type Backend interface {
	store.Store
	NextSequence(ctx context.Context, sequenceType, periodKey string) (int64, error)
}

// Server dispatches function invocations to the backend.
type Server struct {
	backend Backend
	log     zerolog.Logger
	router  *mux.Router
	now     func() time.Time
}

// NewServer creates the function server and registers its routes.
func NewServer(backend Backend, log zerolog.Logger) *Server {
	s := &Server{backend: backend, log: log, now: time.Now}
	r := mux.NewRouter()
	r.HandleFunc("/functions/{name}", s.handleFunction).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// SetClock overrides the time source used for period keys. Test hook.
func (s *Server) SetClock(now func() time.Time) { s.now = now }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts the HTTP server and blocks until the context is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("function server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("function server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down function server: %w", err)
	}
	s.log.Info().Msg("function server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, http.StatusOK, map[string]any{"status": "ok"})
}

// invokePayload is the superset of all function request bodies; each
// handler reads the fields it cares about.
type invokePayload struct {
	ID           string        `json:"id"`
	Data         entity.Record `json:"data"`
	Where        entity.Filter `json:"where"`
	Sort         string        `json:"sort"`
	Limit        int           `json:"limit"`
	SequenceType string        `json:"sequence_type"`
	PeriodType   string        `json:"period_type"`
}

func (s *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	// An empty body is a valid invocation; list endpoints take no
	// arguments.
	var payload invokePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if name == "generateSequenceNumber" {
		s.handleSequence(w, r, payload)
		return
	}

	t, op, err := entity.ParseFunctionName(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.handleEntity(w, r, t, op, payload)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request, t entity.Type, op entity.Op, payload invokePayload) {
	ctx := r.Context()

	var (
		data any
		err  error
	)
	switch op {
	case entity.OpList:
		data, err = s.backend.List(ctx, t, payload.Sort, payload.Limit)
	case entity.OpFilter:
		data, err = s.backend.Filter(ctx, t, payload.Where, payload.Sort, payload.Limit)
	case entity.OpGet:
		data, err = s.backend.Get(ctx, t, payload.ID)
	case entity.OpCreate:
		data, err = s.backend.Create(ctx, t, payload.Data)
	case entity.OpUpdate:
		data, err = s.backend.Update(ctx, t, payload.ID, payload.Data)
	case entity.OpDelete:
		err = s.backend.Delete(ctx, t, payload.ID)
		data = map[string]any{"deleted": payload.ID}
	default:
		err = fmt.Errorf("unsupported operation %q", op)
	}

	if err != nil {
		status := http.StatusInternalServerError
		if entity.IsNotFound(err) {
			status = http.StatusNotFound
		}
		s.log.Error().Err(err).Str("entity", string(t)).Str("op", string(op)).Msg("entity operation failed")
		s.writeError(w, status, err)
		return
	}
	s.writeEnvelope(w, http.StatusOK, data)
}

func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request, payload invokePayload) {
	st := seq.SequenceType(payload.SequenceType)
	if !st.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown sequence type %q", payload.SequenceType))
		return
	}
	pt := seq.PeriodType(payload.PeriodType)
	if pt == "" {
		pt = seq.PeriodDaily
	}
	key, err := seq.PeriodKey(pt, s.now().UTC())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	count, err := s.backend.NextSequence(r.Context(), string(st), key)
	if err != nil {
		s.log.Error().Err(err).Str("sequence_type", string(st)).Msg("sequence increment failed")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeEnvelope(w, http.StatusOK, map[string]any{
		"number": seq.Format(st, key, count),
		"count":  count,
	})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal response data")
		raw = []byte("null")
	}
	resp := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Backend string          `json:"backend"`
	}{Success: true, Data: raw, Backend: string(entity.BackendNeon)}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, callErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := struct {
		Success bool   `json:"success"`
		Backend string `json:"backend"`
		Error   string `json:"error"`
	}{Success: false, Backend: string(entity.BackendNeon), Error: callErr.Error()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to write error response")
	}
}
