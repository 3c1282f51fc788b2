package messages

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformedRequest = errors.New("malformed tracking request")

// TrackingRequested приходит из tracking.requested: внешняя система просит отследить номер.
type TrackingRequested struct {
	TrackingNumber string `json:"tracking_number"`
	CarrierCode    string `json:"carrier_code,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// DecodeTrackingRequested разбирает сообщение. Если в теле нет номера или перевозчика,
// они берутся из ключа партиции (см. Key).
func DecodeTrackingRequested(key, value []byte) (TrackingRequested, error) {
	var m TrackingRequested
	if err := json.Unmarshal(value, &m); err != nil {
		return m, errors.Wrapf(ErrMalformedRequest, "decode: %v", err)
	}
	m.TrackingNumber = strings.TrimSpace(m.TrackingNumber)
	m.CarrierCode = strings.ToLower(strings.TrimSpace(m.CarrierCode))

	if code, n, ok := strings.Cut(string(key), "|"); ok {
		if m.TrackingNumber == "" {
			m.TrackingNumber = strings.TrimSpace(n)
		}
		if m.CarrierCode == "" && m.TrackingNumber == strings.TrimSpace(n) {
			m.CarrierCode = strings.ToLower(strings.TrimSpace(code))
		}
	}

	if m.TrackingNumber == "" {
		return m, errors.Wrap(ErrMalformedRequest, "tracking_number is empty")
	}
	return m, nil
}
