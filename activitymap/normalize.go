// Package activitymap flattens community activity events into a shape that
// log pipelines and analytics collectors can ingest without importing the
// client types.
package activitymap

import (
	"strings"
	"time"

	community "github.com/goliatone/go-community"
)

const (
	// MetadataKeyFromState stores the session state before the event.
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the session state after the event.
	MetadataKeyToState = "to_state"
	// MetadataKeyErrorKind stores the failure kind of a rejected operation.
	MetadataKeyErrorKind = "error_kind"
	// MetadataKeyEmail stores the email the operation was attempted for.
	MetadataKeyEmail = "email"
)

const (
	defaultChannel  = "community"
	defaultActorID  = "anonymous"
	objectTypeEvent = "event"
	objectTypeUser  = "user"
)

// Normalized is a transport-agnostic activity record.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	redactEmail   bool
	now           func() time.Time
}

// Normalize converts a community.ActivityEvent into a Normalized record.
// Events about an event registration use the event as object, everything
// else points at the user.
func Normalize(event community.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := objectTypeUser, strings.TrimSpace(event.UserID)
	if eventID := strings.TrimSpace(event.EventID); eventID != "" {
		objectType, objectID = objectTypeEvent, eventID
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event, options),
		OccurredAt: occurredAt,
	}
}

// WithChannel sets the channel for normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithEmailRedaction keeps only the domain of the email in metadata.
func WithEmailRedaction() Option {
	return func(opts *normalizeOptions) {
		opts.redactEmail = true
	}
}

// WithClock sets the clock used when the event carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// Fields returns the record as flat key/value pairs for structured loggers.
func (n Normalized) Fields() map[string]any {
	out := map[string]any{
		"actor_id":    n.ActorID,
		"verb":        n.Verb,
		"channel":     n.Channel,
		"occurred_at": n.OccurredAt,
	}
	if n.ObjectType != "" {
		out["object_type"] = n.ObjectType
	}
	if n.ObjectID != "" {
		out["object_id"] = n.ObjectID
	}
	for k, v := range n.Metadata {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func normalizeMetadata(event community.ActivityEvent, options normalizeOptions) map[string]any {
	metadata := cloneMap(event.Metadata)
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}

	if event.FromState != "" {
		set(MetadataKeyFromState, string(event.FromState))
	}
	if event.ToState != "" {
		set(MetadataKeyToState, string(event.ToState))
	}
	if event.Kind != community.KindUnknown {
		set(MetadataKeyErrorKind, string(event.Kind))
	}
	if email := strings.TrimSpace(event.Email); email != "" {
		if options.redactEmail {
			email = redact(email)
		}
		set(MetadataKeyEmail, email)
	}

	return metadata
}

func redact(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	return "***" + email[at:]
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
