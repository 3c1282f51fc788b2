package models

import (
	"encoding/json"
	"strings"
	"time"
)

// TrackingStatus: нормализованный статус отправления, общий для всех перевозчиков.
type TrackingStatus string

const (
	TrackingStatusPending        TrackingStatus = "pending"
	TrackingStatusInTransit      TrackingStatus = "in_transit"
	TrackingStatusOutForDelivery TrackingStatus = "out_for_delivery"
	TrackingStatusDelivered      TrackingStatus = "delivered"
	TrackingStatusException      TrackingStatus = "exception"
	TrackingStatusReturned       TrackingStatus = "returned"
	TrackingStatusCancelled      TrackingStatus = "cancelled"
	TrackingStatusUnknown        TrackingStatus = "unknown"
)

// DefaultUnmappedStatus is what adapters report for vendor codes missing from their tables.
const DefaultUnmappedStatus = TrackingStatusPending

var allStatuses = []TrackingStatus{
	TrackingStatusPending,
	TrackingStatusInTransit,
	TrackingStatusOutForDelivery,
	TrackingStatusDelivered,
	TrackingStatusException,
	TrackingStatusReturned,
	TrackingStatusCancelled,
	TrackingStatusUnknown,
}

func (s TrackingStatus) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further vendor updates are expected.
func (s TrackingStatus) IsTerminal() bool {
	switch s {
	case TrackingStatusDelivered, TrackingStatusReturned, TrackingStatusCancelled:
		return true
	default:
		return false
	}
}

type Location struct {
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	Country    string   `json:"country,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude  *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Address    string   `json:"address,omitempty"`
}

// String склеивает город/регион/страну для хранения в tracking_events.location.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.State, l.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(l.Address)
	}
	return strings.Join(parts, ", ")
}

func (l *Location) IsZero() bool {
	return l == nil || (l.City == "" && l.State == "" && l.Country == "" && l.PostalCode == "" &&
		l.Latitude == nil && l.Longitude == nil && l.Address == "")
}

// TrackingEventData описывает одно событие (скан) от перевозчика в нормализованном виде.
type TrackingEventData struct {
	Status          TrackingStatus  `json:"status" validate:"required,tracking_status"`
	Description     string          `json:"description,omitempty"`
	Location        *Location       `json:"location,omitempty"`
	Timestamp       time.Time       `json:"timestamp" validate:"required"`
	ExternalEventID string          `json:"externalEventId,omitempty"`
	RawData         json.RawMessage `json:"rawData,omitempty"`
}

// TrackingResponse собирает всё по одному трек-номеру. Events отсортированы от новых к старым.
type TrackingResponse struct {
	TrackingNumber    string              `json:"trackingNumber" validate:"required"`
	CarrierCode       string              `json:"carrierCode" validate:"required"`
	CarrierName       string              `json:"carrierName"`
	CurrentStatus     TrackingStatus      `json:"currentStatus" validate:"required,tracking_status"`
	Events            []TrackingEventData `json:"events" validate:"required,min=1,dive"`
	EstimatedDelivery string              `json:"estimatedDelivery,omitempty"`
	ActualDelivery    string              `json:"actualDelivery,omitempty"`
	Origin            *Location           `json:"origin,omitempty"`
	Destination       *Location           `json:"destination,omitempty"`
	LastUpdated       time.Time           `json:"lastUpdated" validate:"required"`
	IsDelivered       bool                `json:"isDelivered"`
	RawData           json.RawMessage     `json:"rawData,omitempty"`
}

// TrackingEvent: сохранённое событие (строка tracking_events).
type TrackingEvent struct {
	ID              uint64         `json:"id"`
	TrackingNumber  string         `json:"trackingNumber"`
	CarrierCode     string         `json:"carrierCode"`
	CarrierKeyID    *uint64        `json:"carrierKeyId,omitempty"`
	Status          TrackingStatus `json:"status"`
	Description     string         `json:"description,omitempty"`
	EventTimestamp  time.Time      `json:"eventTimestamp"`
	Location        string         `json:"location,omitempty"`
	Latitude        *float64       `json:"latitude,omitempty"`
	Longitude       *float64       `json:"longitude,omitempty"`
	ExternalEventID string         `json:"externalEventId,omitempty"`
	IsLatest        bool           `json:"isLatest"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	LastCheckedAt   time.Time      `json:"lastCheckedAt"`
}

const BatchStatusOK = "ok"
const BatchStatusError = "error"

// BatchResult: одна запись результата пакетного трекинга: либо Response, либо Error.
type BatchResult struct {
	TrackingNumber string            `json:"trackingNumber"`
	Status         string            `json:"status"`
	Response       *TrackingResponse `json:"response,omitempty"`
	Error          string            `json:"error,omitempty"`
}
