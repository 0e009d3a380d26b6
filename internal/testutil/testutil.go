// Package testutil holds assertions and fakes shared by the token
// packages' tests: error-code checks, the generic verification denial, a
// manual clock and a global span recorder.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying
// code.
//
//	_, err := token.NewCodec(cfg)
//	testutil.RequireErrorCode(t, err, sserr.CodeConfigurationDuplicateSecret)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code, "message: %s", ssErr.Message)
}

// AssertErrorCode is RequireErrorCode without halting, for table rows.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code, msgAndArgs...)
}

// RequireDenied halts the test unless err is the generic verification
// failure: AUTH_001, the fixed message and no cause, so nothing about
// which check failed reaches the caller.
func RequireDenied(t testing.TB, err error) {
	t.Helper()
	RequireErrorCode(t, err, sserr.CodeTokenVerificationFailed)
	ssErr, _ := sserr.AsError(err)
	assert.Equal(t, "token verification failed", ssErr.Message)
	assert.Nil(t, ssErr.Cause, "denials must not leak the reason")
}

// RecordSpans installs a global tracer provider feeding the returned
// recorder and restores the previous provider when the test ends. Tests
// using it must not run in parallel.
func RecordSpans(t testing.TB) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

// Clock is a manually advanced clock for code that accepts a
// func() time.Time. It is safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
