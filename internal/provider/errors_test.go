package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantCode      string
		wantTransient bool
	}{
		{429, ErrCodeRateLimit, true},
		{500, ErrCodeAPIError, true},
		{503, ErrCodeAPIError, true},
		{401, ErrCodeAuth, false},
		{403, ErrCodeAuth, false},
		{404, ErrCodeBadSymbol, false},
		{400, ErrCodeAPIError, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromHTTPStatus("fred", tt.status, "body")
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.wantTransient, err.Transient)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "fred", err.Provider)
		})
	}
}

func TestFromTransport(t *testing.T) {
	err := FromTransport("yahoo", context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTimeout, err.Code)
	assert.True(t, err.Transient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = FromTransport("yahoo", errors.New("connection refused"))
	assert.Equal(t, ErrCodeNetwork, err.Code)
	assert.True(t, err.Transient)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewError("x", ErrCodeTimeout, "t", true)))
	assert.False(t, IsTransient(NewError("x", ErrCodeBadSymbol, "p", false)))
	assert.False(t, IsTransient(errors.New("plain error")), "foreign errors are permanent")
	assert.False(t, IsTransient(nil))

	wrapped := fmt.Errorf("outer: %w", NewError("x", ErrCodeAPIError, "m", true))
	assert.True(t, IsTransient(wrapped), "classification must survive wrapping")
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(FromHTTPStatus("coingecko", 429, "slow down")))
	assert.False(t, IsRateLimited(FromHTTPStatus("coingecko", 500, "boom")))
	assert.False(t, IsRateLimited(errors.New("plain")))
}

func TestErrorFormatting(t *testing.T) {
	err := FromHTTPStatus("fred", 503, "maintenance")
	assert.Contains(t, err.Error(), "fred")
	assert.Contains(t, err.Error(), "503")

	cause := errors.New("root cause")
	wrapped := WrapError("yahoo", ErrCodeNetwork, "fetch failed", true, cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrCodeNetwork, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("foreign")))
}

func TestTruncateLongBodies(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := FromHTTPStatus("fred", 500, string(long))
	assert.Less(t, len(err.Message), 200)
}
