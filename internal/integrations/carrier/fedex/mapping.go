package fedex

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
)

var statusByCode = map[string]models.TrackingStatus{
	"OC": models.TrackingStatusPending,
	"PU": models.TrackingStatusInTransit,
	"PX": models.TrackingStatusInTransit,
	"IT": models.TrackingStatusInTransit,
	"AR": models.TrackingStatusInTransit,
	"AF": models.TrackingStatusInTransit,
	"DP": models.TrackingStatusInTransit,
	"IX": models.TrackingStatusInTransit,
	"CC": models.TrackingStatusInTransit,
	"OD": models.TrackingStatusOutForDelivery,
	"DL": models.TrackingStatusDelivered,
	"DE": models.TrackingStatusException,
	"SE": models.TrackingStatusException,
	"DY": models.TrackingStatusException,
	"HL": models.TrackingStatusException,
	"CD": models.TrackingStatusException,
	"CA": models.TrackingStatusCancelled,
	"RS": models.TrackingStatusReturned,
	"RP": models.TrackingStatusReturned,
}

func mapStatus(code string) models.TrackingStatus {
	if st, ok := statusByCode[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return st
	}
	return models.DefaultUnmappedStatus
}

func scanStatusCode(e scanEventDTO) string {
	if e.DerivedStatusCode != "" {
		return e.DerivedStatusCode
	}
	return e.EventType
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func toLocation(a *locationContactDTO) *models.Location {
	if a == nil {
		return nil
	}
	loc := &models.Location{
		City:       a.City,
		State:      a.StateOrProvinceCode,
		Country:    a.CountryCode,
		PostalCode: a.PostalCode,
		Address:    strings.TrimSpace(strings.Join(a.StreetLines, " ")),
	}
	if loc.IsZero() {
		return nil
	}
	return loc
}

func holderLocation(h *locationHolderDTO) *models.Location {
	if h == nil || h.LocationContactAndAddress == nil {
		return nil
	}
	return toLocation(h.LocationContactAndAddress.Address)
}

func mapTrackResult(r trackResultDTO) *models.TrackingResponse {
	resp := &models.TrackingResponse{
		Origin:      holderLocation(r.OriginLocation),
		Destination: holderLocation(r.DestinationLocation),
	}

	for _, e := range r.ScanEvents {
		ts, ok := parseTime(e.Date)
		if !ok {
			continue
		}
		desc := e.EventDescription
		if e.ExceptionDescription != "" {
			desc = strings.TrimSpace(desc + ": " + e.ExceptionDescription)
		}
		raw, _ := json.Marshal(e)
		resp.Events = append(resp.Events, models.TrackingEventData{
			Status:          mapStatus(scanStatusCode(e)),
			Description:     desc,
			Location:        toLocation(e.ScanLocation),
			Timestamp:       ts,
			ExternalEventID: e.EventType,
			RawData:         raw,
		})
	}

	for _, d := range r.DateAndTimes {
		t, ok := parseTime(d.DateTime)
		if !ok {
			continue
		}
		switch d.Type {
		case "ACTUAL_DELIVERY":
			resp.ActualDelivery = t.Format(time.RFC3339)
			resp.IsDelivered = true
		case "ESTIMATED_DELIVERY", "ANTICIPATED_TENDER", "COMMITMENT":
			if resp.EstimatedDelivery == "" {
				resp.EstimatedDelivery = t.Format(time.RFC3339)
			}
		}
	}
	if r.LatestStatusDetail != nil && mapStatus(r.LatestStatusDetail.Code) == models.TrackingStatusDelivered {
		resp.IsDelivered = true
	}

	// без сканов (например, только создана этикетка) событие строим из latestStatusDetail
	if len(resp.Events) == 0 && r.LatestStatusDetail != nil {
		for _, d := range r.DateAndTimes {
			t, ok := parseTime(d.DateTime)
			if !ok {
				continue
			}
			raw, _ := json.Marshal(r.LatestStatusDetail)
			resp.Events = append(resp.Events, models.TrackingEventData{
				Status:          mapStatus(r.LatestStatusDetail.Code),
				Description:     r.LatestStatusDetail.Description,
				Location:        toLocation(r.LatestStatusDetail.ScanLocation),
				Timestamp:       t,
				ExternalEventID: r.LatestStatusDetail.Code,
				RawData:         raw,
			})
			break
		}
	}
	return resp
}
