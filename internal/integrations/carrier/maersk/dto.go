package maersk

type eventsEnvelope struct {
	Events []eventDTO `json:"events"`
}

// eventDTO: событие в формате DCSA Track & Trace.
type eventDTO struct {
	EventID                string            `json:"eventID"`
	EventType              string            `json:"eventType"`
	EventClassifierCode    string            `json:"eventClassifierCode"`
	EventDateTime          string            `json:"eventDateTime"`
	EventCreatedDateTime   string            `json:"eventCreatedDateTime"`
	EquipmentEventTypeCode string            `json:"equipmentEventTypeCode"`
	TransportEventTypeCode string            `json:"transportEventTypeCode"`
	ShipmentEventTypeCode  string            `json:"shipmentEventTypeCode"`
	EquipmentReference     string            `json:"equipmentReference"`
	EmptyIndicatorCode     string            `json:"emptyIndicatorCode"`
	EventLocation          *locationDTO      `json:"eventLocation"`
	TransportCall          *transportCallDTO `json:"transportCall"`
	Description            string            `json:"description"`
}

type transportCallDTO struct {
	TransportCallID string       `json:"transportCallID"`
	ModeOfTransport string       `json:"modeOfTransport"`
	UNLocationCode  string       `json:"UNLocationCode"`
	Location        *locationDTO `json:"location"`
	Vessel          *struct {
		VesselName string `json:"vesselName"`
		VesselIMO  string `json:"vesselIMONumber"`
	} `json:"vessel"`
}

type locationDTO struct {
	LocationName   string      `json:"locationName"`
	UNLocationCode string      `json:"UNLocationCode"`
	Latitude       string      `json:"latitude"`
	Longitude      string      `json:"longitude"`
	Address        *addressDTO `json:"address"`
}

type addressDTO struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	StateRegion string `json:"stateRegion"`
	PostCode    string `json:"postCode"`
	Country     string `json:"country"`
}
