// Package reload propagates rule changes to the in-process caches: a
// pub/sub subscriber for low-latency invalidation and a periodic poller
// as fallback and defense in depth.
package reload

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies what produced a reload event.
type Source string

const (
	SourcePubSub  Source = "PUBSUB"
	SourcePolling Source = "POLLING"
	SourceManual  Source = "MANUAL"
	SourceAPI     Source = "API"
	SourceStartup Source = "STARTUP"
)

// DefaultChannel is the pub/sub channel rule reload events travel on.
const DefaultChannel = "fluxgate:rule-reload"

// Event asks caches to drop rule state. An empty RuleSetID means a full
// invalidation.
type Event struct {
	RuleSetID string            `json:"ruleSetId,omitempty"`
	Source    Source            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped with the current time and a unique
// event id for tracing across instances.
func NewEvent(ruleSetID string, source Source) Event {
	return Event{
		RuleSetID: ruleSetID,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"eventId": uuid.NewString()},
	}
}

// FullReload reports whether the event invalidates every rule-set.
func (e Event) FullReload() bool {
	return e.RuleSetID == ""
}

// Encode serializes the event for the pub/sub channel.
func (e Event) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseEvent decodes a pub/sub payload. Unknown fields are ignored so
// instances on different versions can coexist.
func ParseEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, NewBadPayloadError(err)
	}
	if event.Source == "" {
		event.Source = SourcePubSub
	}
	return event, nil
}

// Handler receives reload events. The caching provider registers itself
// as a handler at construction time, which keeps the subscriber free of a
// direct cache dependency.
type Handler interface {
	OnReload(event Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(event Event)

func (f HandlerFunc) OnReload(event Event) {
	f(event)
}
