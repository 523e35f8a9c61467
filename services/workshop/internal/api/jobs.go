package api

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/aqm"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

// JobStore implements jobcard.JobStore over the job cards resource.
type JobStore struct {
	client *aqm.ServiceClient
}

func NewJobStore(client *aqm.ServiceClient) *JobStore {
	return &JobStore{client: client}
}

func (s *JobStore) Get(ctx context.Context, id string) (*jobcard.JobRecord, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("job card client not configured")
	}
	resp, err := s.client.Get(ctx, resJobCards, id)
	if err != nil {
		return nil, classify(err, "get job card "+id)
	}
	var record jobcard.JobRecord
	if err := decodeSuccessResponse(resp, &record); err != nil {
		return nil, fmt.Errorf("failed to decode job card %s: %w", id, err)
	}
	return &record, nil
}

func (s *JobStore) Create(ctx context.Context, record jobcard.JobRecord) (*jobcard.JobRecord, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("job card client not configured")
	}
	resp, err := s.client.Create(ctx, resJobCards, record)
	if err != nil {
		return nil, classify(err, "create job card")
	}
	var created jobcard.JobRecord
	if err := decodeSuccessResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("failed to decode created job card: %w", err)
	}
	return &created, nil
}

func (s *JobStore) Update(ctx context.Context, id string, patch jobcard.JobPatch) (*jobcard.JobRecord, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("job card client not configured")
	}
	resp, err := s.client.Update(ctx, resJobCards, id, patch)
	if err != nil {
		return nil, classify(err, "update job card "+id)
	}
	var updated jobcard.JobRecord
	if err := decodeSuccessResponse(resp, &updated); err != nil {
		return nil, fmt.Errorf("failed to decode job card %s: %w", id, err)
	}
	return &updated, nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("job card client not configured")
	}
	if err := s.client.Delete(ctx, resJobCards, id); err != nil {
		return classify(err, "delete job card "+id)
	}
	return nil
}

// InvoiceStore implements jobcard.InvoiceStore.
type InvoiceStore struct {
	client *aqm.ServiceClient
}

func NewInvoiceStore(client *aqm.ServiceClient) *InvoiceStore {
	return &InvoiceStore{client: client}
}

func (s *InvoiceStore) Create(ctx context.Context, invoice jobcard.Invoice) (*jobcard.Invoice, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("invoice client not configured")
	}
	resp, err := s.client.Create(ctx, resInvoices, invoice)
	if err != nil {
		return nil, classify(err, "create invoice for job "+invoice.JobCardID)
	}
	var created jobcard.Invoice
	if err := decodeSuccessResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}
	return &created, nil
}

// CommentStore implements jobcard.CommentStore.
type CommentStore struct {
	client *aqm.ServiceClient
}

func NewCommentStore(client *aqm.ServiceClient) *CommentStore {
	return &CommentStore{client: client}
}

func (s *CommentStore) Create(ctx context.Context, comment jobcard.Comment) (*jobcard.Comment, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("comment client not configured")
	}
	resp, err := s.client.Create(ctx, resComments, comment)
	if err != nil {
		return nil, classify(err, "create comment")
	}
	var created jobcard.Comment
	if err := decodeSuccessResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("failed to decode comment: %w", err)
	}
	return &created, nil
}

func (s *CommentStore) ListByJob(ctx context.Context, jobID string) ([]jobcard.Comment, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("comment client not configured")
	}
	if jobID == "" {
		return nil, fmt.Errorf("missing job card id")
	}
	path := fmt.Sprintf("/%s/%s/%s", resJobCards, jobID, resComments)
	resp, err := s.client.Request(ctx, "GET", path, nil)
	if err != nil {
		return nil, classify(err, "list comments for job "+jobID)
	}
	var comments []jobcard.Comment
	if err := decodeSuccessResponse(resp, &comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	return comments, nil
}
