package fedex

type trackRequest struct {
	IncludeDetailedScans bool             `json:"includeDetailedScans"`
	TrackingInfo         []trackingInfoIn `json:"trackingInfo"`
}

type trackingInfoIn struct {
	TrackingNumberInfo struct {
		TrackingNumber string `json:"trackingNumber"`
	} `json:"trackingNumberInfo"`
}

type trackEnvelope struct {
	TransactionID string `json:"transactionId"`
	Output        struct {
		CompleteTrackResults []completeTrackResultDTO `json:"completeTrackResults"`
	} `json:"output"`
}

type completeTrackResultDTO struct {
	TrackingNumber string           `json:"trackingNumber"`
	TrackResults   []trackResultDTO `json:"trackResults"`
}

type trackResultDTO struct {
	TrackingNumberInfo struct {
		TrackingNumber string `json:"trackingNumber"`
	} `json:"trackingNumberInfo"`
	LatestStatusDetail  *statusDetailDTO   `json:"latestStatusDetail"`
	DateAndTimes        []dateAndTimeDTO   `json:"dateAndTimes"`
	ScanEvents          []scanEventDTO     `json:"scanEvents"`
	OriginLocation      *locationHolderDTO `json:"originLocation"`
	DestinationLocation *locationHolderDTO `json:"destinationLocation"`
	Error               *errorDTO          `json:"error"`
}

type statusDetailDTO struct {
	Code           string              `json:"code"`
	DerivedCode    string              `json:"derivedCode"`
	StatusByLocale string              `json:"statusByLocale"`
	Description    string              `json:"description"`
	ScanLocation   *locationContactDTO `json:"scanLocation"`
}

// dateAndTimeDTO.Type: ACTUAL_DELIVERY, ESTIMATED_DELIVERY, ACTUAL_PICKUP, SHIP, ...
type dateAndTimeDTO struct {
	Type     string `json:"type"`
	DateTime string `json:"dateTime"`
}

type scanEventDTO struct {
	Date                 string              `json:"date"`
	EventType            string              `json:"eventType"`
	EventDescription     string              `json:"eventDescription"`
	ExceptionCode        string              `json:"exceptionCode"`
	ExceptionDescription string              `json:"exceptionDescription"`
	DerivedStatusCode    string              `json:"derivedStatusCode"`
	DerivedStatus        string              `json:"derivedStatus"`
	ScanLocation         *locationContactDTO `json:"scanLocation"`
}

type locationHolderDTO struct {
	LocationContactAndAddress *struct {
		Address *locationContactDTO `json:"address"`
	} `json:"locationContactAndAddress"`
}

type locationContactDTO struct {
	StreetLines         []string `json:"streetLines"`
	City                string   `json:"city"`
	StateOrProvinceCode string   `json:"stateOrProvinceCode"`
	PostalCode          string   `json:"postalCode"`
	CountryCode         string   `json:"countryCode"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
