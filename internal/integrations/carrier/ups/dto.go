package ups

type trackEnvelope struct {
	TrackResponse struct {
		Shipment []shipmentDTO `json:"shipment"`
	} `json:"trackResponse"`
}

type shipmentDTO struct {
	InquiryNumber string       `json:"inquiryNumber"`
	Package       []packageDTO `json:"package"`
	Warnings      []warningDTO `json:"warnings"`
}

type warningDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type packageDTO struct {
	TrackingNumber string              `json:"trackingNumber"`
	DeliveryDate   []deliveryDateDTO   `json:"deliveryDate"`
	DeliveryTime   *deliveryTimeDTO    `json:"deliveryTime"`
	Activity       []activityDTO       `json:"activity"`
	CurrentStatus  *statusDTO          `json:"currentStatus"`
	PackageAddress []packageAddressDTO `json:"packageAddress"`
}

// deliveryDateDTO.Type: DEL фактическая доставка, SDD плановая, RDD перенесённая.
type deliveryDateDTO struct {
	Type string `json:"type"`
	Date string `json:"date"`
}

type deliveryTimeDTO struct {
	Type      string `json:"type"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type activityDTO struct {
	Location  *activityLocationDTO `json:"location"`
	Status    statusDTO            `json:"status"`
	Date      string               `json:"date"`
	Time      string               `json:"time"`
	GMTDate   string               `json:"gmtDate"`
	GMTTime   string               `json:"gmtTime"`
	GMTOffset string               `json:"gmtOffset"`
}

type activityLocationDTO struct {
	Address *addressDTO `json:"address"`
	Slic    string      `json:"slic"`
}

type addressDTO struct {
	AddressLine1  string `json:"addressLine1"`
	City          string `json:"city"`
	StateProvince string `json:"stateProvince"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
	CountryCode   string `json:"countryCode"`
}

type statusDTO struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code"`
	StatusCode  string `json:"statusCode"`
}

type packageAddressDTO struct {
	Type    string     `json:"type"`
	Name    string     `json:"name"`
	Address addressDTO `json:"address"`
}
