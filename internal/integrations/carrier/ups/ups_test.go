package ups

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/stretchr/testify/require"
)

const trackOK = `{
  "trackResponse": {
    "shipment": [{
      "inquiryNumber": "1Z999AA1234567890",
      "package": [{
        "trackingNumber": "1Z999AA1234567890",
        "deliveryDate": [{"type": "DEL", "date": "20250303"}],
        "deliveryTime": {"type": "DEL", "endTime": "143000"},
        "currentStatus": {"type": "D", "code": "FS", "description": "Delivered"},
        "packageAddress": [
          {"type": "ORIGIN", "address": {"city": "ATLANTA", "stateProvince": "GA", "countryCode": "US"}},
          {"type": "DESTINATION", "address": {"city": "NEW YORK", "stateProvince": "NY", "countryCode": "US"}}
        ],
        "activity": [
          {"status": {"type": "I", "code": "DP", "description": "Departed from Facility"},
           "location": {"address": {"city": "Atlanta", "stateProvince": "GA", "countryCode": "US"}},
           "date": "20250301", "time": "101500"},
          {"status": {"type": "D", "code": "FS", "description": "Delivered"},
           "location": {"address": {"city": "New York", "stateProvince": "NY", "countryCode": "US"}},
           "date": "20250303", "time": "143000"},
          {"status": {"type": "I", "code": "OT", "description": "Out For Delivery Today"},
           "date": "20250303", "time": "080000"}
        ]
      }]
    }]
  }
}`

type fakeUPS struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	trackCalls atomic.Int32
	trackBody  string
	trackCode  int
}

func newFakeUPS(t *testing.T) *fakeUPS {
	f := &fakeUPS{trackBody: trackOK, trackCode: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == tokenPath:
			f.tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "key", user)
			require.Equal(t, "secret", pass)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":"14399"}`))
		default:
			f.trackCalls.Add(1)
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			require.NotEmpty(t, r.Header.Get("transId"))
			require.Equal(t, "carriergate", r.Header.Get("transactionSrc"))
			require.Equal(t, "en_US", r.URL.Query().Get("locale"))
			require.Equal(t, "false", r.URL.Query().Get("returnSignature"))
			w.WriteHeader(f.trackCode)
			_, _ = w.Write([]byte(f.trackBody))
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newClient(f *fakeUPS, guard *resilience.Guard) *Client {
	return New("ups", "", models.CarrierConfig{APIKey: "key", APISecret: "secret", BaseURL: f.srv.URL}, guard, nil)
}

func TestClient_Track_OK(t *testing.T) {
	f := newFakeUPS(t)
	c := newClient(f, nil)

	resp, err := c.Track(context.Background(), "1z999aa1234567890")
	require.NoError(t, err)
	require.Equal(t, "1Z999AA1234567890", resp.TrackingNumber)
	require.Equal(t, "ups", resp.CarrierCode)
	require.Equal(t, DefaultName, resp.CarrierName)
	require.Equal(t, models.TrackingStatusDelivered, resp.CurrentStatus)
	require.True(t, resp.IsDelivered)
	require.Equal(t, "2025-03-03T14:30:00Z", resp.ActualDelivery)
	require.Equal(t, "ATLANTA", resp.Origin.City)
	require.Equal(t, "NY", resp.Destination.State)
	require.NotEmpty(t, resp.RawData)

	require.Len(t, resp.Events, 3)
	require.Equal(t, models.TrackingStatusDelivered, resp.Events[0].Status)
	require.Equal(t, models.TrackingStatusOutForDelivery, resp.Events[1].Status)
	require.Equal(t, models.TrackingStatusInTransit, resp.Events[2].Status)
	require.Equal(t, "DP", resp.Events[2].ExternalEventID)
	require.Equal(t, time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC), resp.Events[2].Timestamp)
	require.Equal(t, "Atlanta, GA, US", resp.Events[2].Location.String())
}

func TestClient_Track_TokenCached(t *testing.T) {
	f := newFakeUPS(t)
	c := newClient(f, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Track(context.Background(), "1Z999AA1234567890")
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.tokenCalls.Load())
	require.EqualValues(t, 3, f.trackCalls.Load())
}

func TestClient_Track_WarningIsNotFound(t *testing.T) {
	f := newFakeUPS(t)
	f.trackBody = `{"trackResponse":{"shipment":[{"inquiryNumber":"1Z999AA1234567890",
		"warnings":[{"code":"TW0001","message":"Tracking Information Not Found"}]}]}}`
	c := newClient(f, nil)

	_, err := c.Track(context.Background(), "1Z999AA1234567890")
	apiErr, ok := carrier.AsAPIError(err)
	require.True(t, ok)
	require.True(t, apiErr.NotFound())
	require.Equal(t, "Tracking Information Not Found", apiErr.Message)
}

func TestClient_Track_Vendor404(t *testing.T) {
	f := newFakeUPS(t)
	f.trackCode = http.StatusNotFound
	f.trackBody = `{"response":{"errors":[{"code":"TV1002","message":"not found"}]}}`
	c := newClient(f, nil)

	_, err := c.Track(context.Background(), "1Z999AA1234567890")
	apiErr, ok := carrier.AsAPIError(err)
	require.True(t, ok)
	require.True(t, apiErr.NotFound())
}

func TestClient_Track_CircuitOpensAndFailsFast(t *testing.T) {
	f := newFakeUPS(t)
	f.trackCode = http.StatusInternalServerError
	f.trackBody = `{"response":{"errors":[{"code":"500","message":"boom"}]}}`

	guard := resilience.NewGuard(resilience.GuardConfig{
		Carrier: "ups",
		Breaker: resilience.DefaultBreakerConfig("ups"),
	})
	c := newClient(f, guard)

	_, err := c.Track(context.Background(), "1Z999AA1234567890")
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, guard.State())

	before := f.trackCalls.Load()
	_, err = c.Track(context.Background(), "1Z999AA1234567890")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.Equal(t, before, f.trackCalls.Load())
}

func TestClient_HealthCheck(t *testing.T) {
	f := newFakeUPS(t)
	c := newClient(f, nil)
	require.True(t, c.HealthCheck(context.Background()))

	bad := New("ups", "", models.CarrierConfig{APIKey: "key", APISecret: "secret", BaseURL: "http://127.0.0.1:1"}, nil, nil)
	require.False(t, bad.HealthCheck(context.Background()))
}

func TestClient_Patterns(t *testing.T) {
	c := New("ups", "", models.CarrierConfig{}, nil, nil)
	require.True(t, c.IsTrackingNumberValid("1Z999AA1234567890"))
	require.True(t, c.IsTrackingNumberValid("1Z999AA10123456784"))
	require.True(t, c.IsTrackingNumberValid("T1234567890"))
	require.True(t, c.IsTrackingNumberValid("92748901234567890123456789"))
	require.False(t, c.IsTrackingNumberValid("MAEU1234567"))
	require.False(t, c.IsTrackingNumberValid("123456789012"))
	require.Len(t, c.TrackingNumberPatterns(), 3)
}

func TestMapStatus(t *testing.T) {
	require.Equal(t, models.TrackingStatusOutForDelivery, mapStatus(statusDTO{Type: "I", Code: "OT"}))
	require.Equal(t, models.TrackingStatusInTransit, mapStatus(statusDTO{Type: "I", Code: "AR"}))
	require.Equal(t, models.TrackingStatusReturned, mapStatus(statusDTO{Type: "X", Code: "RS"}))
	require.Equal(t, models.TrackingStatusException, mapStatus(statusDTO{Type: "X", Code: "ZZ"}))
	require.Equal(t, models.TrackingStatusPending, mapStatus(statusDTO{Type: "M"}))
	require.Equal(t, models.DefaultUnmappedStatus, mapStatus(statusDTO{Type: "??", Code: "??"}))
}
