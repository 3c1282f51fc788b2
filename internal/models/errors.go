package models

import (
	"fmt"
	"net/http"
	"time"
)

// APIError описывает ошибку ответа перевозчика (HTTP-ошибка или "не найдено").
type APIError struct {
	CarrierCode    string
	TrackingNumber string
	StatusCode     int
	Message        string
}

func (e *APIError) Error() string {
	if e.TrackingNumber == "" {
		return fmt.Sprintf("%s api error (http %d): %s", e.CarrierCode, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error for %s (http %d): %s", e.CarrierCode, e.TrackingNumber, e.StatusCode, e.Message)
}

func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// NewNotFoundError is what adapters return when the vendor has no result for a number.
func NewNotFoundError(carrierCode, trackingNumber, msg string) *APIError {
	if msg == "" {
		msg = "tracking number not found"
	}
	return &APIError{
		CarrierCode:    carrierCode,
		TrackingNumber: trackingNumber,
		StatusCode:     http.StatusNotFound,
		Message:        msg,
	}
}

// RateLimitError is returned on vendor throttling (HTTP 429) or when the local per-minute budget is spent.
type RateLimitError struct {
	CarrierCode string
	RetryAfter  time.Duration
	Local       bool
}

func (e *RateLimitError) Error() string {
	src := "vendor"
	if e.Local {
		src = "local"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded (%s), retry after %s", e.CarrierCode, src, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded (%s)", e.CarrierCode, src)
}
