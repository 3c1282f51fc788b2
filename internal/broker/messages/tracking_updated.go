package messages

import (
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
)

// TrackingUpdated публикуется в tracking.updated после каждого успешного трекинга.
type TrackingUpdated struct {
	TrackingNumber    string    `json:"tracking_number"`
	CarrierCode       string    `json:"carrier_code"`
	CarrierName       string    `json:"carrier_name,omitempty"`
	Status            string    `json:"status"`
	IsDelivered       bool      `json:"is_delivered"`
	EstimatedDelivery string    `json:"estimated_delivery,omitempty"`
	ActualDelivery    string    `json:"actual_delivery,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`

	Events []TrackingEvent `json:"events,omitempty"`
}

type TrackingEvent struct {
	Status          string    `json:"status"`
	Description     string    `json:"description,omitempty"`
	EventTime       time.Time `json:"event_time"`
	Location        string    `json:"location,omitempty"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
}

// Key is the partition key: all updates of one shipment land in one partition.
func Key(carrierCode, trackingNumber string) string {
	return carrierCode + "|" + trackingNumber
}

func NewTrackingUpdated(resp *models.TrackingResponse) TrackingUpdated {
	msg := TrackingUpdated{
		TrackingNumber:    resp.TrackingNumber,
		CarrierCode:       resp.CarrierCode,
		CarrierName:       resp.CarrierName,
		Status:            string(resp.CurrentStatus),
		IsDelivered:       resp.IsDelivered,
		EstimatedDelivery: resp.EstimatedDelivery,
		ActualDelivery:    resp.ActualDelivery,
		CheckedAt:         resp.LastUpdated,
		Events:            make([]TrackingEvent, 0, len(resp.Events)),
	}
	for _, e := range resp.Events {
		msg.Events = append(msg.Events, TrackingEvent{
			Status:          string(e.Status),
			Description:     e.Description,
			EventTime:       e.Timestamp,
			Location:        e.Location.String(),
			ExternalEventID: e.ExternalEventID,
		})
	}
	return msg
}
