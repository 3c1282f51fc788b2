package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/CarrierGate/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_DecodesAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("ups|1Z1"), Value: []byte(`{"tracking_number":"1Z1","carrier_code":"UPS","request_id":"r-1"}`)},
			{Key: []byte("fedex|123456789012"), Value: []byte(`{}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.TrackingRequested
	err := c.Consume(context.Background(), func(ctx context.Context, req messages.TrackingRequested) error {
		got = append(got, req)
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch message")
	require.Equal(t, []messages.TrackingRequested{
		{TrackingNumber: "1Z1", CarrierCode: "ups", RequestID: "r-1"},
		{TrackingNumber: "123456789012", CarrierCode: "fedex"},
	}, got)
	require.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_MalformedSkippedAndCommitted(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte("{bad")},
			{Offset: 2, Value: []byte(`{"tracking_number":"  "}`)},
			{Offset: 3, Value: []byte(`{"tracking_number":"SBX123456"}`)},
		},
	}
	c := newConsumerWithReader(fr)

	var got []string
	_ = c.Consume(context.Background(), func(ctx context.Context, req messages.TrackingRequested) error {
		got = append(got, req.TrackingNumber)
		return nil
	})
	require.Equal(t, []string{"SBX123456"}, got)
	require.Len(t, fr.committed, 3)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Partition: 2, Offset: 7, Value: []byte(`{"tracking_number":"1Z1"}`)}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(ctx context.Context, req messages.TrackingRequested) error { return want })
	require.ErrorIs(t, err, want)
	require.Contains(t, err.Error(), "partition 2, offset 7")
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "tracking.requested", "carriergate-worker")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
