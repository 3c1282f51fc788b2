package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	e := NewNotFoundError("fedex", "123456789012", "")
	require.True(t, e.NotFound())
	require.Contains(t, e.Error(), "123456789012")
	require.Contains(t, e.Error(), "http 404")

	e = &APIError{CarrierCode: "ups", StatusCode: 500, Message: "boom"}
	require.False(t, e.NotFound())
	require.Equal(t, "ups api error (http 500): boom", e.Error())
}

func TestRateLimitError(t *testing.T) {
	e := &RateLimitError{CarrierCode: "maersk", RetryAfter: 30 * time.Second}
	require.Contains(t, e.Error(), "vendor")
	require.Contains(t, e.Error(), "30s")

	e = &RateLimitError{CarrierCode: "maersk", Local: true}
	require.Equal(t, "maersk rate limit exceeded (local)", e.Error())
}
