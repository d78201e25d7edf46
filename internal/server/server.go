// Package server exposes the tracking service over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/naver"
	"github.com/sells-group/pricewatch/internal/normalize"
	"github.com/sells-group/pricewatch/internal/store"
	"github.com/sells-group/pricewatch/internal/track"
)

// Server routes HTTP requests to the tracking service.
type Server struct {
	svc *track.Service
}

// New creates a Server over the given service.
func New(svc *track.Service) *Server {
	return &Server{svc: svc}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/collect", s.handleCollect)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Get("/{itemID}", s.handleGetItem)
			r.Get("/{itemID}/history", s.handlePriceHistory)
			r.Delete("/{itemID}", s.handleDeactivateItem)
		})

		r.Route("/watches", func(r chi.Router) {
			r.Get("/", s.handleListWatches)
			r.Post("/", s.handleAddWatch)
			r.Delete("/", s.handleRemoveWatch)
			r.Get("/{watchID}/alerts", s.handleListAlerts)
			r.Post("/{watchID}/alerts", s.handleCreateAlert)
		})

		r.Patch("/alerts/{alertID}", s.handleSetAlertEnabled)
	})

	return r
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string `json:"query"`
		Category string `json:"category"`
		Total    int    `json:"total"`
		PageSize int    `json:"page_size"`
		Sort     string `json:"sort"`
		Strict   bool   `json:"strict"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, eris.Wrap(model.ErrValidation, "invalid request body"))
		return
	}
	if req.Query == "" {
		writeError(w, eris.Wrap(model.ErrValidation, "query is required"))
		return
	}
	if req.Total == 0 {
		req.Total = 100
	}
	if req.PageSize == 0 {
		req.PageSize = naver.MaxDisplay
	}

	processed, err := s.svc.Collect(r.Context(), track.CollectParams{
		Query:    req.Query,
		Category: req.Category,
		Total:    req.Total,
		PageSize: req.PageSize,
		Sort:     req.Sort,
		Strict:   req.Strict,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	updated, err := s.svc.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	items, err := s.svc.ListItems(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	points, err := s.svc.PriceHistory(r.Context(), chi.URLParam(r, "itemID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleDeactivateItem(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeactivateItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, eris.Wrap(model.ErrValidation, "user_id is required"))
		return
	}
	page := store.WatchPage{
		Display: queryInt(r, "display", 10),
		Start:   queryInt(r, "start", 1),
		Sort:    r.URL.Query().Get("sort"),
	}

	entries, total, err := s.svc.ListWatches(r.Context(), userID, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.WatchEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "entries": entries})
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, eris.Wrap(model.ErrValidation, "invalid request body"))
		return
	}

	entry, err := s.svc.AddWatch(r.Context(), req.UserID, req.ItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	itemID := q.Get("item_id")
	if userID == "" || itemID == "" {
		writeError(w, eris.Wrap(model.ErrValidation, "user_id and item_id are required"))
		return
	}
	hard := q.Get("hard") == "true"

	if err := s.svc.RemoveWatch(r.Context(), userID, itemID, hard); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.svc.ListAlerts(r.Context(), chi.URLParam(r, "watchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.AlertRule{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind        string `json:"kind"`
		TargetPrice *int   `json:"target_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, eris.Wrap(model.ErrValidation, "invalid request body"))
		return
	}

	rule, err := s.svc.CreateAlert(r.Context(), chi.URLParam(r, "watchID"), model.AlertKind(req.Kind), req.TargetPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleSetAlertEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, eris.Wrap(model.ErrValidation, "enabled is required"))
		return
	}

	rule, err := s.svc.SetAlertEnabled(r.Context(), chi.URLParam(r, "alertID"), *req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, model.ErrValidation), eris.Is(err, normalize.ErrInvalidRecord):
		status = http.StatusBadRequest
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case naver.IsUnavailable(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
