package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ecostyle/scout/brandstore"
	"github.com/ecostyle/scout/detect"
	"github.com/ecostyle/scout/msgbus"
	"github.com/ecostyle/scout/simsearch"
)

// server exposes the detection pipeline and the brand database over HTTP.
type server struct {
	cfg     *detect.Config
	bus     *msgbus.Bus
	watcher *detect.Watcher
	recent  *recentDetections
	brands  *brandstore.Store
	similar *simsearch.Client
	logger  *slog.Logger
}

func newServer(cfg *detect.Config, bus *msgbus.Bus, w *detect.Watcher, recent *recentDetections, logger *slog.Logger) (*server, error) {
	brands, err := openBrands(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &server{
		cfg:     cfg,
		bus:     bus,
		watcher: w,
		recent:  recent,
		brands:  brands,
		similar: newSimilar(cfg, logger),
		logger:  logger,
	}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Post("/api/capture", s.handleCapture)
	r.Get("/api/detections", s.handleDetections)
	r.Post("/api/pages", s.handleObserve)
	r.Post("/api/pages/{pageID}/capture", s.handlePageCapture)
	r.Delete("/api/pages/{pageID}", s.handleRelease)

	r.Get("/api/brands/score", s.handleBrandScore)
	r.Get("/api/recommendations", s.handleRecommendations)
	r.Post("/api/similar", s.handleSimilar)

	return r
}

func (s *server) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("scout: api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.brands != nil {
			defer s.brands.Close()
		}
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCapture opens the URL, detects the main product image and returns
// the capture result. Goes through the bus so the request takes the same
// path as any other capture caller.
func (s *server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req msgbus.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	raw, err := s.bus.Request(r.Context(), msgbus.TypeCaptureProductImage, req)
	if err != nil {
		s.logger.Error("scout: capture failed", "url", req.URL, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// handleDetections lists the latest announcements from watched pages,
// newest first.
func (s *server) handleDetections(w http.ResponseWriter, _ *http.Request) {
	if s.recent == nil {
		writeJSON(w, http.StatusOK, map[string]any{"detections": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": s.recent.list()})
}

func (s *server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	pageID, err := s.watcher.Observe(r.Context(), req.URL)
	if err != nil {
		s.logger.Error("scout: observe failed", "url", req.URL, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"page_id": pageID})
}

func (s *server) handlePageCapture(w http.ResponseWriter, r *http.Request) {
	res, err := s.watcher.CapturePage(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.watcher.Release(chi.URLParam(r, "pageID"))
	w.WriteHeader(http.StatusNoContent)
}

// handleBrandScore answers ?name= or ?url= lookups. A miss is 404 with a
// JSON body so callers can distinguish "unlisted brand" from transport
// errors.
func (s *server) handleBrandScore(w http.ResponseWriter, r *http.Request) {
	if s.brands == nil {
		http.Error(w, "brand database not configured", http.StatusServiceUnavailable)
		return
	}

	var (
		b   brandstore.Brand
		ok  bool
		err error
	)
	switch {
	case r.URL.Query().Get("name") != "":
		b, ok, err = s.brands.ScoreByName(r.Context(), r.URL.Query().Get("name"))
	case r.URL.Query().Get("url") != "":
		b, ok, err = s.brands.ScoreByURL(r.Context(), r.URL.Query().Get("url"))
	default:
		http.Error(w, "name or url query parameter is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("scout: brand lookup failed", "error", err)
		http.Error(w, "brand lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "brand not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if s.brands == nil {
		http.Error(w, "brand database not configured", http.StatusServiceUnavailable)
		return
	}

	hostname := r.URL.Query().Get("hostname")
	if hostname == "" {
		http.Error(w, "hostname query parameter is required", http.StatusBadRequest)
		return
	}

	current, recs, err := s.brands.Recommendations(r.Context(), hostname)
	if err != nil {
		s.logger.Error("scout: recommendations failed", "hostname", hostname, "error", err)
		http.Error(w, "recommendation lookup failed", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Current         *brandstore.Brand `json:"current_brand,omitempty"`
		Recommendations []brandstore.Brand `json:"recommendations"`
	}{Current: current, Recommendations: recs}
	if resp.Recommendations == nil {
		resp.Recommendations = []brandstore.Brand{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSimilar forwards a captured image to the similarity service.
func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		http.Error(w, "similarity service not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		ImageDataURL string `json:"image_data_url"`
		K            int    `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImageDataURL == "" {
		http.Error(w, "image_data_url is required", http.StatusBadRequest)
		return
	}

	matches, err := s.similar.Search(r.Context(), req.ImageDataURL, req.K)
	if err != nil {
		s.logger.Error("scout: similarity search failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if matches == nil {
		matches = []simsearch.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
