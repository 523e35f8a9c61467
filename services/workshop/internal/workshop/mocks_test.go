package workshop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aquamarinepk/aqm/events"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

type mockJobStore struct {
	mu      sync.Mutex
	records map[string]jobcard.JobRecord
	nextID  int

	GetFunc    func(ctx context.Context, id string) (*jobcard.JobRecord, error)
	UpdateFunc func(ctx context.Context, id string, patch jobcard.JobPatch) (*jobcard.JobRecord, error)
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{records: make(map[string]jobcard.JobRecord)}
}

func (m *mockJobStore) Get(ctx context.Context, id string) (*jobcard.JobRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get job card %s: %w", id, jobcard.ErrNotFound)
	}
	return &record, nil
}

func (m *mockJobStore) Create(ctx context.Context, record jobcard.JobRecord) (*jobcard.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = fmt.Sprintf("job-%d", m.nextID)
	m.records[record.ID] = record
	return &record, nil
}

func (m *mockJobStore) Update(ctx context.Context, id string, patch jobcard.JobPatch) (*jobcard.JobRecord, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, jobcard.ErrNotFound
	}
	if patch.Status != nil {
		record.Status = *patch.Status
	}
	m.records[id] = record
	return &record, nil
}

func (m *mockJobStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

type mockInvoiceStore struct {
	CreateFunc func(ctx context.Context, invoice jobcard.Invoice) (*jobcard.Invoice, error)
}

func (m *mockInvoiceStore) Create(ctx context.Context, invoice jobcard.Invoice) (*jobcard.Invoice, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, invoice)
	}
	invoice.ID = "inv-1"
	return &invoice, nil
}

type mockDirectory struct {
	customers []jobcard.Customer
	vehicles  []jobcard.Vehicle
}

func (m *mockDirectory) ListCustomers(ctx context.Context, filter jobcard.CustomerFilter) ([]jobcard.Customer, error) {
	var out []jobcard.Customer
	for _, c := range m.customers {
		if filter.ID == "" || c.ID == filter.ID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockDirectory) CreateCustomer(ctx context.Context, customer jobcard.Customer) (*jobcard.Customer, error) {
	customer.ID = "c-new"
	m.customers = append(m.customers, customer)
	return &customer, nil
}

func (m *mockDirectory) ListVehicles(ctx context.Context, filter jobcard.VehicleFilter) ([]jobcard.Vehicle, error) {
	var out []jobcard.Vehicle
	for _, v := range m.vehicles {
		if filter.ID != "" && v.ID != filter.ID {
			continue
		}
		if filter.CustomerID != "" && v.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *mockDirectory) CreateVehicle(ctx context.Context, vehicle jobcard.Vehicle) (*jobcard.Vehicle, error) {
	vehicle.ID = "v-new"
	m.vehicles = append(m.vehicles, vehicle)
	return &vehicle, nil
}

type mockCommentStore struct {
	mu       sync.Mutex
	comments []jobcard.Comment
}

func (m *mockCommentStore) Create(ctx context.Context, comment jobcard.Comment) (*jobcard.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments = append(m.comments, comment)
	return &comment, nil
}

func (m *mockCommentStore) ListByJob(ctx context.Context, jobID string) ([]jobcard.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jobcard.Comment
	for _, c := range m.comments {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return nil
}

type mockChannel struct {
	mu       sync.Mutex
	handlers map[string]events.HandlerFunc
}

func newMockChannel() *mockChannel {
	return &mockChannel{handlers: make(map[string]events.HandlerFunc)}
}

func (m *mockChannel) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, topic)
		return nil
	}, nil
}

func (m *mockChannel) subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

var errRemote = errors.New("remote unavailable")
