package ups

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
)

// statusByType: сначала тип статуса UPS, внутри двухбуквенный код; "" означает значение по умолчанию для типа.
var statusByType = map[string]map[string]models.TrackingStatus{
	"M": {
		"":   models.TrackingStatusPending,
		"MP": models.TrackingStatusPending,
	},
	"MV": {
		"": models.TrackingStatusCancelled,
	},
	"P": {
		"": models.TrackingStatusInTransit,
	},
	"I": {
		"":   models.TrackingStatusInTransit,
		"OT": models.TrackingStatusOutForDelivery,
		"OF": models.TrackingStatusOutForDelivery,
		"RS": models.TrackingStatusReturned,
	},
	"O": {
		"": models.TrackingStatusOutForDelivery,
	},
	"D": {
		"":   models.TrackingStatusDelivered,
		"FS": models.TrackingStatusDelivered,
		"KB": models.TrackingStatusDelivered,
		"KM": models.TrackingStatusDelivered,
	},
	"X": {
		"":   models.TrackingStatusException,
		"RS": models.TrackingStatusReturned,
		"CA": models.TrackingStatusCancelled,
	},
	"RS": {
		"": models.TrackingStatusReturned,
	},
	"DO": {
		"": models.TrackingStatusDelivered,
	},
	"NA": {
		"": models.TrackingStatusUnknown,
	},
}

func mapStatus(s statusDTO) models.TrackingStatus {
	byCode, ok := statusByType[strings.ToUpper(strings.TrimSpace(s.Type))]
	if !ok {
		return models.DefaultUnmappedStatus
	}
	if st, ok := byCode[strings.ToUpper(strings.TrimSpace(s.Code))]; ok {
		return st
	}
	return byCode[""]
}

// parseActivityTime prefers the GMT fields, falling back to the local date/time as UTC.
func parseActivityTime(a activityDTO) (time.Time, bool) {
	if a.GMTDate != "" && a.GMTTime != "" {
		if t, err := time.Parse("2006010215:04:05", a.GMTDate+a.GMTTime); err == nil {
			return t.UTC(), true
		}
		if t, ok := parseDateTime(a.GMTDate, a.GMTTime); ok {
			return t, true
		}
	}
	return parseDateTime(a.Date, a.Time)
}

func parseDateTime(date, tm string) (time.Time, bool) {
	if len(date) != 8 {
		return time.Time{}, false
	}
	if len(tm) != 6 {
		tm = "000000"
	}
	t, err := time.Parse("20060102150405", date+tm)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func isoDate(date string) string {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func toLocation(a *addressDTO) *models.Location {
	if a == nil {
		return nil
	}
	country := a.CountryCode
	if country == "" {
		country = a.Country
	}
	loc := &models.Location{
		City:       a.City,
		State:      a.StateProvince,
		Country:    country,
		PostalCode: a.PostalCode,
		Address:    a.AddressLine1,
	}
	if loc.IsZero() {
		return nil
	}
	return loc
}

// mapPackage converts one UPS package into a normalized response (identity fields are set by Finalize).
func mapPackage(p packageDTO) *models.TrackingResponse {
	resp := &models.TrackingResponse{}

	for _, a := range p.Activity {
		ts, ok := parseActivityTime(a)
		if !ok {
			continue
		}
		raw, _ := json.Marshal(a)
		var loc *models.Location
		if a.Location != nil {
			loc = toLocation(a.Location.Address)
		}
		resp.Events = append(resp.Events, models.TrackingEventData{
			Status:          mapStatus(a.Status),
			Description:     strings.TrimSpace(a.Status.Description),
			Location:        loc,
			Timestamp:       ts,
			ExternalEventID: a.Status.Code,
			RawData:         raw,
		})
	}

	for _, d := range p.DeliveryDate {
		switch d.Type {
		case "DEL":
			resp.IsDelivered = true
			resp.ActualDelivery = isoDate(d.Date)
			if p.DeliveryTime != nil && p.DeliveryTime.EndTime != "" {
				if t, ok := parseDateTime(d.Date, p.DeliveryTime.EndTime); ok {
					resp.ActualDelivery = t.Format(time.RFC3339)
				}
			}
		case "SDD", "RDD":
			resp.EstimatedDelivery = isoDate(d.Date)
		}
	}
	if p.CurrentStatus != nil && mapStatus(*p.CurrentStatus) == models.TrackingStatusDelivered {
		resp.IsDelivered = true
	}

	for _, pa := range p.PackageAddress {
		addr := pa.Address
		switch strings.ToUpper(pa.Type) {
		case "ORIGIN", "SHIPPER":
			resp.Origin = toLocation(&addr)
		case "DESTINATION", "DELIVERY":
			resp.Destination = toLocation(&addr)
		}
	}
	return resp
}
