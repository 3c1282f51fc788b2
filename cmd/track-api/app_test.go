package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/services/trackings"
	"github.com/stretchr/testify/require"
)

type stubService struct{}

func (stubService) TrackShipment(ctx context.Context, n, code string) (*models.TrackingResponse, error) {
	return nil, trackings.ErrCarrierUndetectable
}
func (stubService) TrackBatchShipments(ctx context.Context, req trackings.BatchRequest) ([]models.BatchResult, error) {
	return nil, nil
}
func (stubService) GetTrackingHistory(ctx context.Context, n, code string, limit, offset int) ([]*models.TrackingEvent, error) {
	return nil, nil
}
func (stubService) GetLatestStatus(ctx context.Context, n, code string) (*models.TrackingEvent, error) {
	return nil, trackings.ErrNotFound
}
func (stubService) GetHealthStatus(ctx context.Context) trackings.HealthStatus {
	return trackings.HealthStatus{Status: trackings.HealthStatusHealthy, Timestamp: time.Now().UTC()}
}
func (stubService) AvailableCarriers(ctx context.Context) []models.CarrierInfo { return nil }
func (stubService) RefreshCarrier(ctx context.Context, code string) bool       { return false }

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunTrackAPI_ServesAPIDocsAndMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := trackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runTrackAPI(ctx, opts, stubService{}) }()
	base := "http://" + <-addrCh

	code, body := get(t, base+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"swagger"`)

	code, body = get(t, base+"/v1/health")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"healthy"`)

	code, _ = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)

	resp, err := http.Post(base+"/v1/track", "application/json", strings.NewReader(`{"trackingNumber":"abc"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunTrackAPI_SwaggerRequired(t *testing.T) {
	err := runTrackAPI(context.Background(), trackAPIOpts{httpAddr: "127.0.0.1:0"}, stubService{})
	require.Error(t, err)

	err = runTrackAPI(context.Background(), trackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, stubService{})
	require.ErrorContains(t, err, "swagger file not found")
}
