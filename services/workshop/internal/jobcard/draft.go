package jobcard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
)

const (
	draftKeyPrefix = "jobcard:draft:"
	defaultOwner   = "local"
)

// Draft is the unsaved state of a job card that has not been created yet.
type Draft struct {
	CustomerID     string            `json:"customerId,omitempty"`
	VehicleID      string            `json:"vehicleId,omitempty"`
	TechnicianID   string            `json:"technicianId,omitempty"`
	SupervisorID   string            `json:"supervisorId,omitempty"`
	LineItems      []ServiceLineItem `json:"lineItems,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	OverallComment string            `json:"overallComment,omitempty"`
	Status         string            `json:"status,omitempty"`
	SavedAt        time.Time         `json:"savedAt"`
}

func (d *Draft) IsEmpty() bool {
	return d == nil || (d.CustomerID == "" && d.VehicleID == "" &&
		d.TechnicianID == "" && d.SupervisorID == "" &&
		len(d.LineItems) == 0 && d.Notes == "" && d.OverallComment == "")
}

type DraftStore struct {
	kv     KV
	key    string
	logger aqm.Logger
}

// NewDraftStore keeps one draft per owner.
func NewDraftStore(kv KV, owner string, logger aqm.Logger) *DraftStore {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = defaultOwner
	}
	return &DraftStore{
		kv:     kv,
		key:    draftKeyPrefix + owner,
		logger: logger.With("component", "draft-store", "key", draftKeyPrefix+owner),
	}
}

func (s *DraftStore) Key() string {
	return s.key
}

func (s *DraftStore) Save(ctx context.Context, draft Draft) error {
	if draft.SavedAt.IsZero() {
		draft.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// Load returns nil when no usable draft exists. A corrupt draft is discarded.
func (s *DraftStore) Load(ctx context.Context) (*Draft, error) {
	data, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var draft Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		s.logger.Error("discarding corrupt draft", "error", err)
		if rmErr := s.kv.Remove(ctx, s.key); rmErr != nil {
			s.logger.Error("failed to remove corrupt draft", "error", rmErr)
		}
		return nil, nil
	}
	if draft.IsEmpty() {
		return nil, nil
	}

	for i := range draft.LineItems {
		draft.LineItems[i] = Normalize(draft.LineItems[i].Raw())
	}
	return &draft, nil
}

func (s *DraftStore) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}
