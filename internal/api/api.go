// Package api exposes the pricing router over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"marketdata/internal/quote"
)

// maxBatchRequests bounds one POST /api/prices call.
const maxBatchRequests = 1000

// PriceService is the slice of the router the HTTP layer needs.
type PriceService interface {
	GetPrices(ctx context.Context, reqs []quote.PriceRequest) ([]quote.PriceResult, error)
	Health(ctx context.Context) error
}

// TableInvalidator drops the memoized asset-type table.
type TableInvalidator interface {
	Invalidate()
}

type Server struct {
	svc      PriceService
	resolver TableInvalidator
	log      zerolog.Logger
}

func NewServer(svc PriceService, resolver TableInvalidator, log zerolog.Logger) *Server {
	return &Server{svc: svc, resolver: resolver, log: log.With().Str("component", "api").Logger()}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/prices", s.handleGetPrice)
		r.Post("/prices", s.handlePostPrices)
		r.Post("/asset-types/invalidate", s.handleInvalidate)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Health(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetPrice prices a single asset from query parameters.
func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := quote.PriceRequest{
		AssetType: q.Get("asset_type"),
		Symbol:    q.Get("symbol"),
		Currency:  q.Get("currency"),
	}
	if req.AssetType == "" || req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("asset_type and symbol are required"))
		return
	}
	results, err := s.svc.GetPrices(r.Context(), []quote.PriceRequest{req})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results[0])
}

type pricesRequest struct {
	Requests []quote.PriceRequest `json:"requests"`
}

type pricesResponse struct {
	Results []quote.PriceResult `json:"results"`
}

// handlePostPrices prices a batch. The response always carries one result per
// request, in request order.
func (s *Server) handlePostPrices(w http.ResponseWriter, r *http.Request) {
	var body pricesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body.Requests) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("requests must not be empty"))
		return
	}
	if len(body.Requests) > maxBatchRequests {
		s.writeError(w, http.StatusBadRequest, errors.New("too many requests in one batch"))
		return
	}
	results, err := s.svc.GetPrices(r.Context(), body.Requests)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pricesResponse{Results: results})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.resolver.Invalidate()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn().Err(err).Int("status", status).Msg("request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
