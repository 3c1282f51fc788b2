package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/CarrierGate/config"
	"github.com/BearBump/CarrierGate/internal/broker/kafka"
	"github.com/BearBump/CarrierGate/internal/broker/messages"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRepo) ClaimRefreshCandidates(ctx context.Context, before time.Time, limit int) ([]*models.TrackingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil, nil
}

type fakeHandler struct {
	mu   sync.Mutex
	got  []messages.TrackingRequested
	errs []error
}

func (h *fakeHandler) TrackShipment(ctx context.Context, n, code string) (*models.TrackingResponse, error) {
	return nil, errors.New("not used")
}

func (h *fakeHandler) ApplyTrackingRequest(ctx context.Context, m messages.TrackingRequested) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, m)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return nil
}

func (h *fakeHandler) received() []messages.TrackingRequested {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]messages.TrackingRequested(nil), h.got...)
}

// fakeConsumer отдаёт заявки по очереди; неуспешная заявка остаётся в голове очереди.
type fakeConsumer struct {
	mu     sync.Mutex
	queue  []messages.TrackingRequested
	closed bool
}

func (c *fakeConsumer) Consume(ctx context.Context, handle kafka.RequestHandler) error {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			<-ctx.Done()
			return ctx.Err()
		}
		req := c.queue[0]
		c.mu.Unlock()

		if err := handle(ctx, req); err != nil {
			return err
		}
		c.mu.Lock()
		c.queue = c.queue[1:]
		c.mu.Unlock()
	}
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestConsumeRequests_RedeliversTransient(t *testing.T) {
	req := messages.TrackingRequested{TrackingNumber: "1Z999", RequestID: "r-1"}
	next := messages.TrackingRequested{TrackingNumber: "SBX123456"}
	cons := &fakeConsumer{queue: []messages.TrackingRequested{req, next}}
	h := &fakeHandler{errs: []error{errors.New("db down")}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumeRequests(ctx, cons, h) }()

	require.Eventually(t, func() bool { return len(h.received()) == 3 }, 5*time.Second, 10*time.Millisecond)
	got := h.received()
	require.Equal(t, req, got[0])
	require.Equal(t, req, got[1])
	require.Equal(t, next, got[2])

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunTrackWorker_ContextCanceled(t *testing.T) {
	closed := false
	cons := &fakeConsumer{}
	f := workerFactories{
		newDeps: func(ctx context.Context, cfg *config.Config) (workerDeps, error) {
			return workerDeps{repo: &fakeRepo{}, svc: &fakeHandler{}, close: func() { closed = true }}, nil
		},
		newConsumer: func(cfg *config.Config) kafkaConsumer { return cons },
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackWorker(ctx, &config.Config{}, f, workerHTTPOpts{})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, closed)
	require.True(t, cons.closed)
}

func TestRunTrackWorker_DepsError(t *testing.T) {
	f := workerFactories{
		newDeps: func(ctx context.Context, cfg *config.Config) (workerDeps, error) {
			return workerDeps{}, errors.New("no db")
		},
	}
	err := RunTrackWorker(context.Background(), &config.Config{}, f, workerHTTPOpts{})
	require.EqualError(t, err, "no db")
}

func TestRunTrackWorker_HTTP(t *testing.T) {
	sw := filepath.Join(t.TempDir(), "worker.swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	repo := &fakeRepo{}
	f := workerFactories{
		newDeps: func(ctx context.Context, cfg *config.Config) (workerDeps, error) {
			return workerDeps{repo: repo, svc: &fakeHandler{}}, nil
		},
	}
	cfg := &config.Config{CarrierGate: config.CarrierGateConfig{WorkerPollIntervalSeconds: 3600, WorkerBatchSize: 7}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- RunTrackWorker(ctx, cfg, f, workerHTTPOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(a string) { addrCh <- a },
		})
	}()
	base := "http://" + <-addrCh

	resp, err := http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/config")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Contains(t, string(body), `"batchSize":7`)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	require.NotNil(t, st["lastTriggerAt"])

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPlannerConfig_FromSeconds(t *testing.T) {
	pc := plannerConfig(&config.Config{CarrierGate: config.CarrierGateConfig{
		WorkerRefreshMinAgeSeconds: 60,
		WorkerBackoff2Seconds:      120,
	}})
	require.Equal(t, time.Minute, pc.RefreshMinAge)
	require.Equal(t, 2*time.Minute, pc.Backoff2)
	require.Zero(t, pc.Backoff1)
}
