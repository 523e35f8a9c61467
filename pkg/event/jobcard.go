package event

import (
	"strings"
	"time"
)

const (
	// JobCardsTopicPrefix is the subject root for per-job push events.
	JobCardsTopicPrefix = "jobcards"

	EventJobUpdated   = "job.updated"
	EventCommentAdded = "comment.added"
)

// JobCardTopic returns the subject carrying every event for one job card.
func JobCardTopic(jobID string) string {
	return JobCardsTopicPrefix + "." + strings.TrimSpace(jobID)
}

// JobCardEventMetadata is shared by every event published on a job card topic.
// Origin identifies the engine session that produced the change so that the
// producer can skip reconciling against its own writes.
type JobCardEventMetadata struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	JobID      string    `json:"job_id"`
	Origin     string    `json:"origin,omitempty"`
}

type JobUpdatedEvent struct {
	JobCardEventMetadata
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	LineItemCount  int    `json:"line_item_count"`
}

type CommentAttachment struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type CommentAddedEvent struct {
	JobCardEventMetadata
	CommentID   string              `json:"comment_id"`
	AuthorID    string              `json:"author_id,omitempty"`
	AuthorName  string              `json:"author_name,omitempty"`
	Role        string              `json:"role,omitempty"`
	Text        string              `json:"text"`
	CreatedAt   time.Time           `json:"created_at"`
	Attachments []CommentAttachment `json:"attachments,omitempty"`
}
