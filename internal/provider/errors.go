package provider

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindNone      Kind = ""
	KindAuth      Kind = "auth"
	KindQuota     Kind = "quota"
	KindTransient Kind = "transient"
	KindMalformed Kind = "malformed-response"
	KindUnknown   Kind = "unknown"
)

// Sentinel marks. Adapters attach them with errors.Mark so errors.Is keeps
// working through any amount of wrapping.
var (
	ErrAuth              = errors.New("provider authentication failed")
	ErrQuota             = errors.New("provider quota exceeded")
	ErrTransient         = errors.New("provider unavailable")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Classify maps err onto the taxonomy. Context cancellation and deadline
// count as transient.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrQuota):
		return KindQuota
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransient
	default:
		return KindUnknown
	}
}

// Malformed builds an ErrMalformedResponse-marked error.
func Malformed(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformedResponse)
}

// Transient marks a transport-level failure as transient.
func Transient(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrTransient)
}

type retryAfterError struct {
	cause error
	after time.Duration
}

func (e *retryAfterError) Error() string { return e.cause.Error() }
func (e *retryAfterError) Unwrap() error { return e.cause }

// RetryAfter returns the provider-advertised wait attached to a quota error.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.after, true
	}
	return 0, false
}

// FromStatus maps a non-2xx HTTP response onto the taxonomy.
// 401/403 auth, 429 quota, everything else transient.
func FromStatus(status int, body []byte, retryAfter string) error {
	err := errors.Newf("status %d: %s", status, snippet(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Mark(err, ErrAuth)
	case status == http.StatusTooManyRequests:
		marked := errors.Mark(err, ErrQuota)
		if d, ok := parseRetryAfter(retryAfter); ok {
			return &retryAfterError{cause: marked, after: d}
		}
		return marked
	default:
		return errors.Mark(err, ErrTransient)
	}
}

var (
	awsAuthCodes = map[string]bool{
		"UnrecognizedClientException": true,
		"InvalidSignatureException":   true,
		"AccessDeniedException":       true,
		"ExpiredTokenException":       true,
		"InvalidClientTokenId":        true,
		"MissingAuthenticationToken":  true,
	}
	awsQuotaCodes = map[string]bool{
		"ThrottlingException":                    true,
		"TooManyRequestsException":               true,
		"LimitExceededException":                 true,
		"ServiceQuotaExceededException":          true,
		"ProvisionedThroughputExceededException": true,
	}
)

// FromAWS maps an aws-sdk-go-v2 error onto the taxonomy using the smithy
// API error code.
func FromAWS(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, op)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Mark(wrapped, ErrTransient)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case awsAuthCodes[code]:
			return errors.Mark(wrapped, ErrAuth)
		case awsQuotaCodes[code]:
			return errors.Mark(wrapped, ErrQuota)
		}
	}
	return errors.Mark(wrapped, ErrTransient)
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
