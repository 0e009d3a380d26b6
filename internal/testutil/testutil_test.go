package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

func TestClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestRequireDenied_AcceptsGenericFailure(t *testing.T) {
	RequireDenied(t, sserr.New(sserr.CodeTokenVerificationFailed, "token verification failed"))
}

func TestRecordSpans_RestoresProvider(t *testing.T) {
	prev := otel.GetTracerProvider()

	t.Run("recording", func(t *testing.T) {
		sr := RecordSpans(t)
		_, span := otel.Tracer("testutil").Start(context.Background(), "lookup")
		span.End()
		require.Len(t, sr.Ended(), 1)
		assert.Equal(t, "lookup", sr.Ended()[0].Name())
	})

	assert.Equal(t, prev, otel.GetTracerProvider())
}
