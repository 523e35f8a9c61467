package jobcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/workshopkit/workshop/pkg/event"
)

// PushChannel delivers topic messages to a handler until the returned
// unsubscribe function is called.
type PushChannel interface {
	Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) (func() error, error)
}

// Reconciler refreshes job state after a remote change.
type Reconciler interface {
	Reconcile(ctx context.Context) error
	Origin() string
}

// FeedEntry is a comment as shown in the activity feed. Pending entries have
// not been confirmed by the comment store yet.
type FeedEntry struct {
	Comment
	Pending bool `json:"pending,omitempty"`
}

type FeedDeps struct {
	Comments   CommentStore
	Channel    PushChannel
	Publisher  events.Publisher
	Reconciler Reconciler
	Notifier   Notifier
}

// Feed keeps the activity feed of one job card in sync with the comment
// store and the push channel.
type Feed struct {
	mu      sync.Mutex
	jobID   string
	entries []FeedEntry

	comments    CommentStore
	channel     PushChannel
	publisher   events.Publisher
	reconciler  Reconciler
	notifier    Notifier
	unsubscribe func() error
	onChange    func([]FeedEntry)
	logger      aqm.Logger
}

func NewFeed(jobID string, deps FeedDeps, logger aqm.Logger) *Feed {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	logger = logger.With("component", "activity-feed", "job_id", jobID)
	notifier := deps.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	return &Feed{
		jobID:      strings.TrimSpace(jobID),
		comments:   deps.Comments,
		channel:    deps.Channel,
		publisher:  deps.Publisher,
		reconciler: deps.Reconciler,
		notifier:   notifier,
		logger:     logger,
	}
}

func (f *Feed) JobID() string {
	return f.jobID
}

// OnChange registers fn to receive the entries after every change.
func (f *Feed) OnChange(fn func([]FeedEntry)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Start subscribes to the job's topic and loads the history.
func (f *Feed) Start(ctx context.Context) error {
	if f.jobID == "" {
		return nil
	}
	if f.channel != nil {
		unsubscribe, err := f.channel.Subscribe(ctx, event.JobCardTopic(f.jobID), f.handle)
		if err != nil {
			f.logger.Error("feed subscribe failed", "error", err)
			f.notifier.Notify(Notice{Kind: NoticeWarning, Message: "Live updates are unavailable", At: time.Now()})
		} else {
			f.mu.Lock()
			f.unsubscribe = unsubscribe
			f.mu.Unlock()
		}
	}
	return f.Load(ctx)
}

// Stop releases the subscription. It is safe to call more than once.
func (f *Feed) Stop() error {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()
	if unsubscribe == nil {
		return nil
	}
	return unsubscribe()
}

// Load fetches the stored comments. Fetched entries come first in store order;
// entries already present locally but not yet returned by the store are kept
// after them.
func (f *Feed) Load(ctx context.Context) error {
	if f.jobID == "" || f.comments == nil {
		return nil
	}
	fetched, err := f.comments.ListByJob(ctx, f.jobID)
	if err != nil {
		return f.report(fmt.Errorf("failed to load comments for job %s: %w", f.jobID, err))
	}

	f.mu.Lock()
	seen := make(map[string]struct{}, len(fetched))
	merged := make([]FeedEntry, 0, len(fetched)+len(f.entries))
	for _, c := range fetched {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		merged = append(merged, FeedEntry{Comment: c})
	}
	for _, entry := range f.entries {
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		merged = append(merged, entry)
	}
	f.entries = merged
	f.mu.Unlock()
	f.changed()
	return nil
}

func (f *Feed) Entries() []FeedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneEntries(f.entries)
}

// Post appends the comment immediately and removes it again if the store
// rejects it.
func (f *Feed) Post(ctx context.Context, actor Actor, text string, attachments []Attachment) (*Comment, error) {
	text = strings.TrimSpace(text)
	if f.jobID == "" {
		return nil, f.report(invalid("jobId", "create the job card before commenting"))
	}
	if text == "" && len(attachments) == 0 {
		return nil, f.report(invalid("text", "comment cannot be empty"))
	}
	if f.comments == nil {
		return nil, f.report(errors.New("comment store not configured"))
	}

	comment := Comment{
		ID:          primitive.NewObjectID().Hex(),
		JobID:       f.jobID,
		AuthorID:    actor.ID,
		AuthorName:  actor.Name,
		Role:        actor.Role.Code(),
		Text:        text,
		CreatedAt:   time.Now().UTC(),
		Attachments: attachments,
	}

	tx := transaction[[]FeedEntry]{
		mu:    &f.mu,
		state: &f.entries,
		clone: cloneEntries,
		revert: func(current *[]FeedEntry, _ []FeedEntry) {
			*current = removeEntry(*current, comment.ID)
		},
	}
	var stored *Comment
	err := tx.run(func(entries *[]FeedEntry) error {
		*entries = append(*entries, FeedEntry{Comment: comment, Pending: true})
		return nil
	}, func([]FeedEntry) error {
		f.changed()
		created, err := f.comments.Create(ctx, comment)
		if err != nil {
			return fmt.Errorf("failed to post comment: %w", err)
		}
		stored = created
		return nil
	})
	if err != nil {
		f.changed()
		return nil, f.report(err)
	}

	if stored == nil {
		stored = &comment
	}
	if stored.ID == "" {
		stored.ID = comment.ID
	}
	f.mu.Lock()
	for i := range f.entries {
		if f.entries[i].ID == comment.ID {
			f.entries[i] = FeedEntry{Comment: *stored}
			break
		}
	}
	f.entries = dedupeEntries(f.entries)
	f.mu.Unlock()
	f.changed()
	f.publish(ctx, *stored)
	return stored, nil
}

func (f *Feed) handle(ctx context.Context, data []byte) error {
	var meta event.JobCardEventMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		f.logger.Error("cannot decode feed event", "error", err)
		return nil
	}
	if meta.JobID != f.jobID {
		return nil
	}

	switch meta.EventType {
	case event.EventCommentAdded:
		var evt event.CommentAddedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("cannot decode comment event", "error", err)
			return nil
		}
		if f.append(commentFromEvent(evt)) {
			f.changed()
		}
	case event.EventJobUpdated:
	default:
		f.logger.Debug("ignoring feed event", "event_type", meta.EventType)
		return nil
	}

	if f.reconciler != nil && meta.Origin != f.reconciler.Origin() {
		if err := f.reconciler.Reconcile(ctx); err != nil {
			f.logger.Error("reconcile failed", "event_type", meta.EventType, "error", err)
		}
	}
	return nil
}

// append adds c unless an entry with the same id exists.
func (f *Feed) append(c Comment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.ID == c.ID {
			return false
		}
	}
	f.entries = append(f.entries, FeedEntry{Comment: c})
	return true
}

func (f *Feed) publish(ctx context.Context, c Comment) {
	if f.publisher == nil {
		return
	}
	origin := ""
	if f.reconciler != nil {
		origin = f.reconciler.Origin()
	}
	attachments := make([]event.CommentAttachment, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		attachments = append(attachments, event.CommentAttachment{Name: a.Name, Kind: a.Kind})
	}
	evt := event.CommentAddedEvent{
		JobCardEventMetadata: event.JobCardEventMetadata{
			EventType:  event.EventCommentAdded,
			OccurredAt: time.Now().UTC(),
			JobID:      f.jobID,
			Origin:     origin,
		},
		CommentID:   c.ID,
		AuthorID:    c.AuthorID,
		AuthorName:  c.AuthorName,
		Role:        c.Role,
		Text:        c.Text,
		CreatedAt:   c.CreatedAt,
		Attachments: attachments,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		f.logger.Error("failed to encode comment event", "error", err)
		return
	}
	if err := f.publisher.Publish(ctx, event.JobCardTopic(f.jobID), payload); err != nil {
		f.logger.Error("failed to publish comment event", "comment_id", c.ID, "error", err)
	}
}

func (f *Feed) changed() {
	f.mu.Lock()
	fn := f.onChange
	entries := cloneEntries(f.entries)
	f.mu.Unlock()
	if fn != nil {
		fn(entries)
	}
}

func (f *Feed) report(err error) error {
	n := noticeFor(err)
	f.logger.Error("feed operation failed", "error", err)
	f.notifier.Notify(n)
	return err
}

func commentFromEvent(evt event.CommentAddedEvent) Comment {
	attachments := make([]Attachment, 0, len(evt.Attachments))
	for _, a := range evt.Attachments {
		attachments = append(attachments, Attachment{Name: a.Name, Kind: a.Kind})
	}
	if len(attachments) == 0 {
		attachments = nil
	}
	return Comment{
		ID:          evt.CommentID,
		JobID:       evt.JobID,
		AuthorID:    evt.AuthorID,
		AuthorName:  evt.AuthorName,
		Role:        evt.Role,
		Text:        evt.Text,
		CreatedAt:   evt.CreatedAt,
		Attachments: attachments,
	}
}

func cloneEntries(entries []FeedEntry) []FeedEntry {
	if entries == nil {
		return nil
	}
	out := make([]FeedEntry, len(entries))
	copy(out, entries)
	return out
}

func removeEntry(entries []FeedEntry, id string) []FeedEntry {
	out := entries[:0:0]
	for _, entry := range entries {
		if entry.ID != id {
			out = append(out, entry)
		}
	}
	return out
}

func dedupeEntries(entries []FeedEntry) []FeedEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]FeedEntry, 0, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		out = append(out, entry)
	}
	return out
}
