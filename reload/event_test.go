package reload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent("api", SourceManual)

	assert.Equal(t, "api", event.RuleSetID)
	assert.Equal(t, SourceManual, event.Source)
	assert.False(t, event.FullReload())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
	assert.NotEmpty(t, event.Metadata["eventId"])

	full := NewEvent("", SourcePolling)
	assert.True(t, full.FullReload())
}

func TestEventEncodeParseRoundTrip(t *testing.T) {
	original := NewEvent("api", SourcePubSub)

	payload, err := original.Encode()
	require.NoError(t, err)

	parsed, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, original.RuleSetID, parsed.RuleSetID)
	assert.Equal(t, original.Source, parsed.Source)
	assert.Equal(t, original.Metadata["eventId"], parsed.Metadata["eventId"])
	assert.True(t, original.Timestamp.Equal(parsed.Timestamp))
}

func TestParseEvent(t *testing.T) {
	t.Run("missing source defaults to pubsub", func(t *testing.T) {
		event, err := ParseEvent(`{"ruleSetId":"api"}`)
		require.NoError(t, err)
		assert.Equal(t, SourcePubSub, event.Source)
		assert.Equal(t, "api", event.RuleSetID)
	})

	t.Run("unknown fields tolerated", func(t *testing.T) {
		event, err := ParseEvent(`{"ruleSetId":"api","source":"API","futureField":123}`)
		require.NoError(t, err)
		assert.Equal(t, SourceAPI, event.Source)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := ParseEvent(`{broken`)
		assert.Error(t, err)
	})
}

func TestHandlerFunc(t *testing.T) {
	var got Event
	handler := HandlerFunc(func(event Event) { got = event })
	handler.OnReload(NewEvent("x", SourceStartup))
	assert.Equal(t, "x", got.RuleSetID)
}
