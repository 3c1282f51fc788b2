package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validResponse() *TrackingResponse {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &TrackingResponse{
		TrackingNumber: "1Z999AA10123456784",
		CarrierCode:    "ups",
		CarrierName:    "UPS",
		CurrentStatus:  TrackingStatusInTransit,
		Events: []TrackingEventData{
			{Status: TrackingStatusInTransit, Timestamp: now},
			{Status: TrackingStatusPending, Timestamp: now.Add(-time.Hour)},
		},
		LastUpdated: now,
	}
}

func TestValidateResponse_OK(t *testing.T) {
	require.NoError(t, ValidateResponse(validResponse()))
}

func TestValidateResponse_Nil(t *testing.T) {
	var verr *ValidationError
	require.True(t, errors.As(ValidateResponse(nil), &verr))
}

func TestValidateResponse_NoEvents(t *testing.T) {
	r := validResponse()
	r.Events = nil

	err := ValidateResponse(r)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "ups", verr.CarrierCode)
	require.NotEmpty(t, verr.Problems)
}

func TestValidateResponse_BadStatus(t *testing.T) {
	r := validResponse()
	r.Events[1].Status = "lost_in_space"
	require.Error(t, ValidateResponse(r))

	r = validResponse()
	r.CurrentStatus = ""
	require.Error(t, ValidateResponse(r))
}

func TestValidateResponse_MissingTimestamp(t *testing.T) {
	r := validResponse()
	r.Events[0].Timestamp = time.Time{}
	require.Error(t, ValidateResponse(r))
}

func TestValidateResponse_OrderViolation(t *testing.T) {
	r := validResponse()
	r.Events[0], r.Events[1] = r.Events[1], r.Events[0]

	err := ValidateResponse(r)
	require.Error(t, err)
	require.Contains(t, err.Error(), "newer than")
}

func TestValidateResponse_EqualTimestampsAccepted(t *testing.T) {
	r := validResponse()
	r.Events[1].Timestamp = r.Events[0].Timestamp
	require.NoError(t, ValidateResponse(r))

	r.Events = append(r.Events, TrackingEventData{Status: TrackingStatusPending, Timestamp: r.Events[0].Timestamp.Add(time.Second)})
	require.ErrorContains(t, ValidateResponse(r), "events[2] is newer than events[1]")
}

func TestSortNewestFirst_TiesKeepVendorOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	evs := []TrackingEventData{
		{Status: TrackingStatusPending, Timestamp: base, ExternalEventID: "A"},
		{Status: TrackingStatusInTransit, Timestamp: base, ExternalEventID: "B"},
		{Status: TrackingStatusInTransit, Timestamp: base.Add(time.Minute), ExternalEventID: "C"},
	}
	SortNewestFirst(evs)
	require.Equal(t, "C", evs[0].ExternalEventID)
	require.Equal(t, "A", evs[1].ExternalEventID)
	require.Equal(t, "B", evs[2].ExternalEventID)
}

func TestValidateResponse_BadLatitude(t *testing.T) {
	r := validResponse()
	lat := 123.0
	r.Events[0].Location = &Location{City: "Louisville", Latitude: &lat}
	require.Error(t, ValidateResponse(r))
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	evs := []TrackingEventData{
		{Status: TrackingStatusPending, Timestamp: base},
		{Status: TrackingStatusDelivered, Timestamp: base.Add(2 * time.Hour)},
		{Status: TrackingStatusInTransit, Timestamp: base.Add(time.Hour)},
	}
	SortNewestFirst(evs)
	require.Equal(t, TrackingStatusDelivered, evs[0].Status)
	require.Equal(t, TrackingStatusInTransit, evs[1].Status)
	require.Equal(t, TrackingStatusPending, evs[2].Status)
}
