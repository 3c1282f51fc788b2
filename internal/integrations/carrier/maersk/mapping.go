package maersk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
)

const (
	classifierActual    = "ACT"
	classifierPlanned   = "PLN"
	classifierEstimated = "EST"
)

var equipmentStatus = map[string]models.TrackingStatus{
	"PICK": models.TrackingStatusPending,
	"STUF": models.TrackingStatusPending,
	"GTIN": models.TrackingStatusInTransit,
	"LOAD": models.TrackingStatusInTransit,
	"DISC": models.TrackingStatusInTransit,
	"GTOT": models.TrackingStatusInTransit,
	"RSEA": models.TrackingStatusInTransit,
	"STRP": models.TrackingStatusDelivered,
	"DROP": models.TrackingStatusDelivered,
	"INSP": models.TrackingStatusException,
	"RMVD": models.TrackingStatusException,
}

var transportStatus = map[string]models.TrackingStatus{
	"ARRI": models.TrackingStatusInTransit,
	"DEPA": models.TrackingStatusInTransit,
}

var shipmentStatus = map[string]models.TrackingStatus{
	"RECE": models.TrackingStatusPending,
	"DRFT": models.TrackingStatusPending,
	"CONF": models.TrackingStatusPending,
	"ISSU": models.TrackingStatusPending,
	"PENA": models.TrackingStatusPending,
	"HOLD": models.TrackingStatusException,
	"RELS": models.TrackingStatusInTransit,
	"CMPL": models.TrackingStatusDelivered,
	"REJE": models.TrackingStatusCancelled,
	"VOID": models.TrackingStatusCancelled,
}

var eventDescriptions = map[string]string{
	"PICK": "Empty container picked up",
	"STUF": "Container stuffed",
	"GTIN": "Gate in",
	"LOAD": "Loaded on vessel",
	"DISC": "Discharged from vessel",
	"GTOT": "Gate out",
	"RSEA": "Resealed",
	"STRP": "Container stripped",
	"DROP": "Container dropped off at consignee",
	"INSP": "Inspected",
	"RMVD": "Removed",
	"ARRI": "Vessel arrived",
	"DEPA": "Vessel departed",
	"RECE": "Booking received",
	"CONF": "Booking confirmed",
	"ISSU": "Transport document issued",
	"HOLD": "Shipment on hold",
	"RELS": "Shipment released",
	"CMPL": "Shipment completed",
	"VOID": "Shipment voided",
	"REJE": "Booking rejected",
}

// eventCode picks the type code matching the DCSA event type, falling back to whichever is set.
func eventCode(e eventDTO) (string, map[string]models.TrackingStatus) {
	switch strings.ToUpper(e.EventType) {
	case "EQUIPMENT":
		return e.EquipmentEventTypeCode, equipmentStatus
	case "TRANSPORT":
		return e.TransportEventTypeCode, transportStatus
	case "SHIPMENT":
		return e.ShipmentEventTypeCode, shipmentStatus
	}
	switch {
	case e.EquipmentEventTypeCode != "":
		return e.EquipmentEventTypeCode, equipmentStatus
	case e.TransportEventTypeCode != "":
		return e.TransportEventTypeCode, transportStatus
	default:
		return e.ShipmentEventTypeCode, shipmentStatus
	}
}

// mapStatus: классификатор проверяется первым, только ACT даёт фактический статус.
func mapStatus(e eventDTO) (models.TrackingStatus, bool) {
	if strings.ToUpper(e.EventClassifierCode) != classifierActual {
		return "", false
	}
	code, table := eventCode(e)
	if st, ok := table[strings.ToUpper(code)]; ok {
		return st, true
	}
	return models.DefaultUnmappedStatus, true
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func eventLocation(e eventDTO) *models.Location {
	l := e.EventLocation
	if l == nil && e.TransportCall != nil {
		l = e.TransportCall.Location
		if l == nil && e.TransportCall.UNLocationCode != "" {
			l = &locationDTO{UNLocationCode: e.TransportCall.UNLocationCode}
		}
	}
	if l == nil {
		return nil
	}

	loc := &models.Location{Latitude: parseCoord(l.Latitude), Longitude: parseCoord(l.Longitude)}
	if l.Address != nil {
		loc.City = l.Address.City
		loc.State = l.Address.StateRegion
		loc.Country = l.Address.Country
		loc.PostalCode = l.Address.PostCode
		loc.Address = l.Address.Street
	}
	if loc.City == "" {
		loc.City = l.LocationName
	}
	if loc.Country == "" && len(l.UNLocationCode) == 5 {
		loc.Country = l.UNLocationCode[:2]
	}
	if loc.Address == "" {
		loc.Address = l.UNLocationCode
	}
	if loc.IsZero() {
		return nil
	}
	return loc
}

func parseCoord(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func describe(e eventDTO) string {
	if e.Description != "" {
		return e.Description
	}
	code, _ := eventCode(e)
	desc, ok := eventDescriptions[strings.ToUpper(code)]
	if !ok {
		desc = code
	}
	if e.TransportCall != nil && e.TransportCall.Vessel != nil && e.TransportCall.Vessel.VesselName != "" {
		desc = fmt.Sprintf("%s (%s)", desc, e.TransportCall.Vessel.VesselName)
	}
	return desc
}

// mapEvents keeps only actual events; the latest estimated/planned arrival becomes the ETA.
func mapEvents(events []eventDTO) *models.TrackingResponse {
	resp := &models.TrackingResponse{}

	var eta time.Time
	var firstAct, lastAct *eventDTO
	var firstTS, lastTS time.Time
	for i := range events {
		e := events[i]
		ts, ok := parseTime(e.EventDateTime)
		if !ok {
			continue
		}

		st, actual := mapStatus(e)
		if !actual {
			cls := strings.ToUpper(e.EventClassifierCode)
			if (cls == classifierEstimated || cls == classifierPlanned) &&
				strings.EqualFold(e.TransportEventTypeCode, "ARRI") && ts.After(eta) {
				eta = ts
			}
			continue
		}

		if firstAct == nil || ts.Before(firstTS) {
			firstAct, firstTS = &events[i], ts
		}
		if lastAct == nil || !ts.Before(lastTS) {
			lastAct, lastTS = &events[i], ts
		}

		code, _ := eventCode(e)
		raw, _ := json.Marshal(e)
		id := e.EventID
		if id == "" {
			id = code
		}
		resp.Events = append(resp.Events, models.TrackingEventData{
			Status:          st,
			Description:     describe(e),
			Location:        eventLocation(e),
			Timestamp:       ts,
			ExternalEventID: id,
			RawData:         raw,
		})

		if st == models.TrackingStatusDelivered && strings.ToUpper(e.EventType) != "SHIPMENT" {
			resp.IsDelivered = true
			if resp.ActualDelivery == "" || ts.Format(time.RFC3339) > resp.ActualDelivery {
				resp.ActualDelivery = ts.Format(time.RFC3339)
			}
		}
	}

	if !eta.IsZero() {
		resp.EstimatedDelivery = eta.Format(time.RFC3339)
	}
	if firstAct != nil {
		resp.Origin = eventLocation(*firstAct)
	}
	if lastAct != nil && lastAct != firstAct {
		resp.Destination = eventLocation(*lastAct)
	}

	return resp
}
