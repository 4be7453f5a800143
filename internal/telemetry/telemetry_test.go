package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tasklane/internal/telemetry"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), telemetry.Options{ServiceName: "tasklane"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	counter, err := telemetry.Meter("tasklane/test").Int64Counter("tasklane.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := telemetry.Tracer("tasklane/test").Start(context.Background(), "noop")
	span.End()
}
