package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPlayerText(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/religions"),
		attribute.String("player_name", "Aldric"),
		attribute.String("reason", "griefing"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorFlattensChain(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("store religions: %w", base)

	safe := SafeError(wrapped)
	require.Error(t, safe)
	assert.Equal(t, "store religions: boom", safe.Error())
	assert.False(t, errors.Is(safe, base))
	assert.Nil(t, SafeError(nil))
}

func TestNewProviderDisabledNeverSamples(t *testing.T) {
	provider, err := NewProvider(nil, Config{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, provider)
}
