package burst

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/udpburst/internal/burst/receiver"
	"github.com/zsiec/udpburst/internal/burst/results"
	"github.com/zsiec/udpburst/internal/burst/session"
	apperrors "github.com/zsiec/udpburst/internal/errors"
	"github.com/zsiec/udpburst/internal/logger"
)

const storeTimeout = 3 * time.Second

// Handlers serves the burst API.
type Handlers struct {
	manager      *Manager
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandlers(manager *Manager, log logger.Logger) *Handlers {
	log = logger.WithComponent(log, "burst_api")
	return &Handlers{
		manager:      manager,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
	}
}

// RegisterRoutes mounts the /api/v1 burst routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sessions", h.HandleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/results", h.HandleListResults).Methods(http.MethodGet)
	api.HandleFunc("/results/{id}", h.HandleGetResult).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.HandleStats).Methods(http.MethodGet)

	h.logger.Debug("Burst routes registered")
}

type SessionListResponse struct {
	Sessions []session.Stats `json:"sessions"`
	Count    int             `json:"count"`
	Time     time.Time       `json:"time"`
}

type ResultListResponse struct {
	Results []*results.Result `json:"results"`
	Count   int               `json:"count"`
	Backend string            `json:"backend"`
}

type StatsResponse struct {
	Listener      receiver.Stats `json:"listener"`
	ResultBackend string         `json:"result_backend"`
	ResultQueue   QueueStats     `json:"result_queue"`
	Uptime        string         `json:"uptime"`
	Time          time.Time      `json:"time"`
}

type QueueStats struct {
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
}

// HandleListSessions lists uplink sessions still accumulating.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Listener().Sessions()
	writeJSON(r.Context(), w, http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
		Time:     time.Now(),
	})
}

// HandleListResults lists finalized sessions, newest first. ?limit=N caps
// the count at the configured capacity.
func (h *Handlers) HandleListResults(w http.ResponseWriter, r *http.Request) {
	limit, err := h.parseLimit(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	store := h.manager.Store()
	list, err := store.List(ctx, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, storeError(err, store.Name()))
		return
	}
	if list == nil {
		list = []*results.Result{}
	}

	writeJSON(r.Context(), w, http.StatusOK, ResultListResponse{
		Results: list,
		Count:   len(list),
		Backend: store.Name(),
	})
}

// HandleGetResult returns one finalized session by ID.
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	store := h.manager.Store()
	result, err := store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			err = apperrors.NewNotFoundError("result").WithDetails(map[string]interface{}{"id": id})
		} else {
			err = storeError(err, store.Name())
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, result)
}

// HandleStats reports listener counters and result pipeline state.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	queued, capacity := h.manager.Publisher().Backlog()
	writeJSON(r.Context(), w, http.StatusOK, StatsResponse{
		Listener:      h.manager.Listener().Stats(),
		ResultBackend: h.manager.Store().Name(),
		ResultQueue:   QueueStats{Queued: queued, Capacity: capacity},
		Uptime:        h.manager.Uptime().Round(time.Second).String(),
		Time:          time.Now(),
	})
}

func (h *Handlers) parseLimit(r *http.Request) (int, error) {
	capacity := h.manager.results.Capacity
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return capacity, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.NewValidationError("limit must be a positive integer").
			WithDetails(map[string]interface{}{"limit": raw})
	}
	if capacity > 0 && limit > capacity {
		limit = capacity
	}
	return limit, nil
}

func storeError(err error, backend string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeServiceDown, "result store unavailable", http.StatusServiceUnavailable).
		WithDetails(map[string]interface{}{"backend": backend})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to encode JSON response")
	}
}
