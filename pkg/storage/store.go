package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by GetByID when no event exists for the id.
var ErrNotFound = errors.New("event not found")

// RepositoryInfo is the repository snapshot taken at ingestion time.
// It is never updated after the event is stored.
type RepositoryInfo struct {
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	URL      string `json:"url"`
	Owner    string `json:"owner"`
}

// SenderInfo is the sender snapshot taken at ingestion time.
type SenderInfo struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
	URL       string `json:"url"`
}

// EventMetadata holds the event-type-specific fields derived from the raw
// payload. Every field is optional; nil means the source path was absent.
type EventMetadata struct {
	Branch            *string `json:"branch"`
	CommitSHA         *string `json:"commitSha"`
	CommitMessage     *string `json:"commitMessage"`
	PullRequestNumber *int64  `json:"pullRequestNumber"`
	IssueNumber       *int64  `json:"issueNumber"`
	PRTitle           *string `json:"prTitle"`
	PRBody            *string `json:"prBody"`
	MergeCommitSHA    *string `json:"mergeCommitSha"`
	CommentBody       *string `json:"commentBody"`
	ReviewState       *string `json:"reviewState"`
	ReviewBody        *string `json:"reviewBody"`
}

// StoredEvent is one accepted webhook delivery. DeliveryID is the
// idempotency key: at most one StoredEvent exists per delivery id.
type StoredEvent struct {
	ID         string
	DeliveryID string
	EventType  string
	Action     *string
	Repository RepositoryInfo
	Sender     SenderInfo
	Metadata   EventMetadata
	RawPayload json.RawMessage
	ReceivedAt time.Time
}

// EventView is the normalized shape pushed to observers and returned by the
// query API: the stored event without its raw payload.
type EventView struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"deliveryId"`
	EventType  string         `json:"eventType"`
	Action     *string        `json:"action"`
	Repository RepositoryInfo `json:"repository"`
	Sender     SenderInfo     `json:"sender"`
	Metadata   EventMetadata  `json:"metadata"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ToView converts a stored event to its observer-facing shape.
func ToView(event StoredEvent) EventView {
	return EventView{
		ID:         event.ID,
		DeliveryID: event.DeliveryID,
		EventType:  event.EventType,
		Action:     event.Action,
		Repository: event.Repository,
		Sender:     event.Sender,
		Metadata:   event.Metadata,
		Timestamp:  event.ReceivedAt,
	}
}

// EventFilter selects stored events for listing.
type EventFilter struct {
	EventType          string
	RepositoryFullName string
}

// TypeCount is one row of the count-by-event-type aggregate.
type TypeCount struct {
	EventType string `json:"eventType"`
	Count     int64  `json:"count"`
}

// PRActivity is one pull request's rollup: how many events touched it and
// when it was last active.
type PRActivity struct {
	PullRequestNumber int64     `json:"pullRequestNumber"`
	RepositoryName    string    `json:"repository"`
	EventCount        int64     `json:"eventCount"`
	LastActivity      time.Time `json:"lastActivity"`
}

// CommentStat aggregates comment length per event type over events that
// carry a comment body.
type CommentStat struct {
	EventType string  `json:"eventType"`
	Count     int64   `json:"count"`
	AvgLength float64 `json:"avgLength"`
}

// EventStore defines the persistence contract for webhook events.
//
// InsertIfAbsent is atomic with respect to the delivery id uniqueness
// constraint: it reports false (and no error) when an event with the same
// delivery id already exists, leaving the stored document untouched. A
// false return is the idempotency signal, not a failure; store
// unavailability is surfaced as an error.
type EventStore interface {
	InsertIfAbsent(ctx context.Context, event StoredEvent) (bool, error)
	Find(ctx context.Context, filter EventFilter, page, pageSize int) ([]StoredEvent, int64, error)
	GetByID(ctx context.Context, id string) (*StoredEvent, error)
	Recent(ctx context.Context, limit int) ([]StoredEvent, error)
	CountAll(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	CountByType(ctx context.Context) ([]TypeCount, error)
	PRActivity(ctx context.Context, limit int) ([]PRActivity, error)
	CommentStats(ctx context.Context) ([]CommentStat, error)
	Ping(ctx context.Context) error
	Close() error
}
