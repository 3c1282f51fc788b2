package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	calls    int
	before   time.Time
	limit    int
	items    []*models.TrackingEvent
	claimErr error
}

func (r *fakeRepo) ClaimRefreshCandidates(ctx context.Context, checkedBefore time.Time, limit int) ([]*models.TrackingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.before, r.limit = checkedBefore, limit
	return r.items, r.claimErr
}

type fakeTracker struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
	resp  func(n, code string) *models.TrackingResponse
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeTracker) TrackShipment(ctx context.Context, n, code string) (*models.TrackingResponse, error) {
	f.mu.Lock()
	f.calls[n]++
	err := f.errs[n]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if f.resp != nil {
		return f.resp(n, code), nil
	}
	return &models.TrackingResponse{TrackingNumber: n, CarrierCode: code, CurrentStatus: models.TrackingStatusInTransit}, nil
}

func latest(n, code string) *models.TrackingEvent {
	return &models.TrackingEvent{TrackingNumber: n, CarrierCode: code, Status: models.TrackingStatusInTransit, IsLatest: true}
}

func TestPoller_runOnce_RefreshesClaimed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{items: []*models.TrackingEvent{latest("1Z1", "ups"), latest("7946", "fedex")}}
	tr := newFakeTracker()
	p := New(repo, tr).WithSettings(time.Second, 50, 2).withClock(func() time.Time { return now })

	p.runOnce(context.Background())

	require.Equal(t, 50, repo.limit)
	require.Equal(t, now.Add(-30*time.Minute), repo.before)
	require.Equal(t, 1, tr.calls["1Z1"])
	require.Equal(t, 1, tr.calls["7946"])

	st := p.Stats()
	require.EqualValues(t, 2, st.TotalClaimed)
	require.EqualValues(t, 2, st.TotalProcessed)
	require.EqualValues(t, 0, st.TotalErrors)
	require.NotNil(t, st.LastCycleAt)
}

func TestPoller_runOnce_FailureBacksOff(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	repo := &fakeRepo{items: []*models.TrackingEvent{latest("1Z1", "ups")}}
	tr := newFakeTracker()
	tr.errs["1Z1"] = &models.APIError{CarrierCode: "ups", StatusCode: 502, Message: "bad gateway"}
	p := New(repo, tr).withClock(func() time.Time { return clock })

	p.runOnce(context.Background())
	require.Equal(t, 1, tr.calls["1Z1"])
	st := p.Stats()
	require.EqualValues(t, 1, st.TotalErrors)
	require.Equal(t, 1, st.BackingOff)
	require.Contains(t, st.LastError, "bad gateway")

	// within the first backoff window the number is skipped
	clock = now.Add(4 * time.Minute)
	p.runOnce(context.Background())
	require.Equal(t, 1, tr.calls["1Z1"])
	require.EqualValues(t, 1, p.Stats().TotalSkipped)

	// after it, retried; the second failure doubles up to 15m
	clock = now.Add(6 * time.Minute)
	p.runOnce(context.Background())
	require.Equal(t, 2, tr.calls["1Z1"])

	clock = now.Add(6*time.Minute + 14*time.Minute)
	p.runOnce(context.Background())
	require.Equal(t, 2, tr.calls["1Z1"])

	// recovery clears the backoff
	delete(tr.errs, "1Z1")
	clock = now.Add(6*time.Minute + 16*time.Minute)
	p.runOnce(context.Background())
	require.Equal(t, 3, tr.calls["1Z1"])
	require.Equal(t, 0, p.Stats().BackingOff)
}

func TestPoller_runOnce_ClaimError(t *testing.T) {
	repo := &fakeRepo{claimErr: errors.New("db down")}
	tr := newFakeTracker()
	p := New(repo, tr)

	p.runOnce(context.Background())
	require.Equal(t, "db down", p.Stats().LastError)
	require.Empty(t, tr.calls)
}

func TestPoller_processOne_CanceledNoBackoff(t *testing.T) {
	tr := newFakeTracker()
	tr.errs["1Z1"] = context.Canceled
	p := New(&fakeRepo{}, tr)

	err := p.processOne(context.Background(), latest("1Z1", "ups"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, p.Stats().BackingOff)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(&fakeRepo{}, newFakeTracker()).WithSettings(5*time.Second, 7, 9)
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.EqualValues(t, 9, p.concurrency)

	p = p.WithSettings(0, 0, 0)
	require.Equal(t, 5*time.Second, p.pollInterval)
}
