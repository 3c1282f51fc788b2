package trackings_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/CarrierGate/internal/integrations/carrier/registry"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/BearBump/CarrierGate/internal/services/trackings"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxBodyBytes        = 1 << 20
)

type Service interface {
	TrackShipment(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingResponse, error)
	TrackBatchShipments(ctx context.Context, req trackings.BatchRequest) ([]models.BatchResult, error)
	GetTrackingHistory(ctx context.Context, trackingNumber, carrierCode string, limit, offset int) ([]*models.TrackingEvent, error)
	GetLatestStatus(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingEvent, error)
	GetHealthStatus(ctx context.Context) trackings.HealthStatus
	AvailableCarriers(ctx context.Context) []models.CarrierInfo
	RefreshCarrier(ctx context.Context, code string) bool
}

type TrackingsAPI struct {
	svc Service
}

func New(svc Service) *TrackingsAPI {
	return &TrackingsAPI{svc: svc}
}

// Routes монтирует /v1 API на переданный роутер.
func (a *TrackingsAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestID, middleware.Recoverer)

		r.Post("/track", a.TrackShipment)
		r.Post("/track/batch", a.TrackBatch)
		r.Get("/trackings/{trackingNumber}/history", a.GetHistory)
		r.Get("/trackings/{trackingNumber}/latest", a.GetLatest)
		r.Get("/carriers", a.ListCarriers)
		r.Post("/carriers/{code}/refresh", a.RefreshCarrier)
		r.Get("/health", a.Health)
	})
}

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfterSeconds,omitempty"`
}

type historyResponse struct {
	TrackingNumber string                  `json:"trackingNumber"`
	Events         []*models.TrackingEvent `json:"events"`
	Limit          int                     `json:"limit"`
	Offset         int                     `json:"offset"`
}

type trackRequest struct {
	TrackingNumber string `json:"trackingNumber"`
	CarrierCode    string `json:"carrierCode,omitempty"`
}

type refreshResponse struct {
	Refreshed bool `json:"refreshed"`
}

func (a *TrackingsAPI) TrackShipment(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := a.svc.TrackShipment(r.Context(), req.TrackingNumber, req.CarrierCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *TrackingsAPI) TrackBatch(w http.ResponseWriter, r *http.Request) {
	var req trackings.BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := a.svc.TrackBatchShipments(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *TrackingsAPI) GetHistory(w http.ResponseWriter, r *http.Request) {
	n := chi.URLParam(r, "trackingNumber")
	limit, offset, err := paging(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	evs, err := a.svc.GetTrackingHistory(r.Context(), n, r.URL.Query().Get("carrierCode"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if evs == nil {
		evs = []*models.TrackingEvent{}
	}
	writeJSON(w, http.StatusOK, historyResponse{TrackingNumber: n, Events: evs, Limit: limit, Offset: offset})
}

func (a *TrackingsAPI) GetLatest(w http.ResponseWriter, r *http.Request) {
	e, err := a.svc.GetLatestStatus(r.Context(), chi.URLParam(r, "trackingNumber"), r.URL.Query().Get("carrierCode"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *TrackingsAPI) ListCarriers(w http.ResponseWriter, r *http.Request) {
	cs := a.svc.AvailableCarriers(r.Context())
	if cs == nil {
		cs = []models.CarrierInfo{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (a *TrackingsAPI) RefreshCarrier(w http.ResponseWriter, r *http.Request) {
	ok := a.svc.RefreshCarrier(r.Context(), chi.URLParam(r, "code"))
	writeJSON(w, http.StatusOK, refreshResponse{Refreshed: ok})
}

// Health отвечает 200 при healthy и 503 иначе; тело одинаковое.
func (a *TrackingsAPI) Health(w http.ResponseWriter, r *http.Request) {
	hs := a.svc.GetHealthStatus(r.Context())
	code := http.StatusOK
	if hs.Status != trackings.HealthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, hs)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(trackings.ErrInvalidInput, "decode body: %v", err)
	}
	return nil
}

func paging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, offset := defaultHistoryLimit, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, errors.Wrapf(trackings.ErrInvalidInput, "bad limit %q", v)
		}
		limit = min(n, maxHistoryLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.Wrapf(trackings.ErrInvalidInput, "bad offset %q", v)
		}
		offset = n
	}
	return limit, offset, nil
}

// StatusFor maps the service error taxonomy onto HTTP.
func StatusFor(err error) (int, string) {
	var rl *models.RateLimitError
	var verr *models.ValidationError
	switch {
	case errors.Is(err, trackings.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, trackings.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, trackings.ErrCarrierUndetectable):
		return http.StatusUnprocessableEntity, "carrier_undetectable"
	case errors.Is(err, registry.ErrUnknownCarrier):
		return http.StatusNotFound, "unknown_carrier"
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.As(err, &verr):
		return http.StatusBadGateway, "invalid_carrier_response"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "circuit_open"
	case errors.Is(err, resilience.ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	if apiErr, ok := asAPIError(err); ok {
		switch {
		case apiErr.NotFound():
			return http.StatusNotFound, "not_found"
		case apiErr.StatusCode == http.StatusServiceUnavailable:
			return http.StatusServiceUnavailable, "carrier_unavailable"
		default:
			return http.StatusBadGateway, "carrier_error"
		}
	}
	return http.StatusInternalServerError, "internal"
}

func asAPIError(err error) (*models.APIError, bool) {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := StatusFor(err)
	body := errorResponse{Error: err.Error(), Code: kind}

	var rl *models.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.RetryAfter = secs
	}
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err.Error())
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
