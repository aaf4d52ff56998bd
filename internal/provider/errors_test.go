package provider

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct {
	code string
}

func (e fakeAPIError) Error() string                 { return e.code + ": boom" }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return "boom" }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindQuota},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusBadRequest, KindTransient},
		{http.StatusUnprocessableEntity, KindTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, []byte(`{"error":"x"}`), "")
			assert.Equal(t, tt.want, Classify(err))
			assert.Contains(t, err.Error(), fmt.Sprint(tt.status))
		})
	}
}

func TestFromStatusRetryAfter(t *testing.T) {
	err := FromStatus(http.StatusTooManyRequests, nil, "7")
	wrapped := errors.Wrap(err, "vision")

	d, ok := RetryAfter(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
	assert.Equal(t, KindQuota, Classify(wrapped))

	_, ok = RetryAfter(FromStatus(http.StatusTooManyRequests, nil, "soon"))
	assert.False(t, ok)
}

func TestFromAWS(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Kind
	}{
		"unrecognized client": {fakeAPIError{"UnrecognizedClientException"}, KindAuth},
		"access denied":       {fakeAPIError{"AccessDeniedException"}, KindAuth},
		"expired token":       {fakeAPIError{"ExpiredTokenException"}, KindAuth},
		"throttling":          {fakeAPIError{"ThrottlingException"}, KindQuota},
		"too many requests":   {fakeAPIError{"TooManyRequestsException"}, KindQuota},
		"internal server":     {fakeAPIError{"InternalServerException"}, KindTransient},
		"text too long":       {fakeAPIError{"TextSizeLimitExceededException"}, KindTransient},
		"deadline":            {context.DeadlineExceeded, KindTransient},
		"transport":           {errors.New("connection reset"), KindTransient},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(FromAWS(tt.err, "op")))
		})
	}
	assert.NoError(t, FromAWS(nil, "op"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindMalformed, Classify(Malformed("bad %s", "json")))
	assert.Equal(t, KindTransient, Classify(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.Equal(t, KindTransient, Classify(Transient(errors.New("dial"), "x")))
	assert.Equal(t, KindUnknown, Classify(errors.New("something else")))
	assert.Equal(t, KindAuth, Classify(fmt.Errorf("stage: %w", errors.Mark(errors.New("nope"), ErrAuth))))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.9, NormalizeConfidence(0.9, ScaleUnit))
	assert.Equal(t, 0.0, NormalizeConfidence(-0.2, ScaleUnit))
	assert.Equal(t, 1.0, NormalizeConfidence(1.7, ScaleUnit))
	assert.InDelta(t, 0.87, NormalizeConfidence(87, ScalePercent), 1e-12)
	assert.InDelta(t, 0.42, NormalizeConfidence(42, ScaleAuto), 1e-12)
	assert.Equal(t, 0.42, NormalizeConfidence(0.42, ScaleAuto))
	assert.Equal(t, 1.0, NormalizeConfidence(250, ScalePercent))
}
