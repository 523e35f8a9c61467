package jobcard

import (
	"context"
	"errors"
	"sync"
)

type mockJobStore struct {
	mu      sync.Mutex
	records map[string]JobRecord
	creates []JobRecord
	updates []JobPatch
	deletes []string

	GetFunc    func(ctx context.Context, id string) (*JobRecord, error)
	CreateFunc func(ctx context.Context, record JobRecord) (*JobRecord, error)
	UpdateFunc func(ctx context.Context, id string, patch JobPatch) (*JobRecord, error)
	DeleteFunc func(ctx context.Context, id string) error
}

func newMockJobStore(records ...JobRecord) *mockJobStore {
	m := &mockJobStore{records: make(map[string]JobRecord)}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *mockJobStore) Get(ctx context.Context, id string) (*JobRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *mockJobStore) Create(ctx context.Context, record JobRecord) (*JobRecord, error) {
	m.mu.Lock()
	m.creates = append(m.creates, record)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	record.ID = "job-new"
	m.mu.Lock()
	m.records[record.ID] = record
	m.mu.Unlock()
	return &record, nil
}

func (m *mockJobStore) Update(ctx context.Context, id string, patch JobPatch) (*JobRecord, error) {
	m.mu.Lock()
	m.updates = append(m.updates, patch)
	m.mu.Unlock()
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	return &r, nil
}

func (m *mockJobStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, id)
	m.mu.Unlock()
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *mockJobStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

type mockInvoiceStore struct {
	mu       sync.Mutex
	invoices []Invoice

	CreateFunc func(ctx context.Context, invoice Invoice) (*Invoice, error)
}

func (m *mockInvoiceStore) Create(ctx context.Context, invoice Invoice) (*Invoice, error) {
	m.mu.Lock()
	m.invoices = append(m.invoices, invoice)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, invoice)
	}
	invoice.ID = "inv-1"
	return &invoice, nil
}

type mockDirectory struct {
	customers []Customer
	vehicles  []Vehicle

	ListCustomersFunc func(ctx context.Context, filter CustomerFilter) ([]Customer, error)
	CreateVehicleFunc func(ctx context.Context, vehicle Vehicle) (*Vehicle, error)
}

func (m *mockDirectory) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	if m.ListCustomersFunc != nil {
		return m.ListCustomersFunc(ctx, filter)
	}
	var out []Customer
	for _, c := range m.customers {
		if filter.ID == "" || c.ID == filter.ID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockDirectory) CreateCustomer(ctx context.Context, customer Customer) (*Customer, error) {
	customer.ID = "c-new"
	m.customers = append(m.customers, customer)
	return &customer, nil
}

func (m *mockDirectory) ListVehicles(ctx context.Context, filter VehicleFilter) ([]Vehicle, error) {
	var out []Vehicle
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

func (m *mockDirectory) CreateVehicle(ctx context.Context, vehicle Vehicle) (*Vehicle, error) {
	if m.CreateVehicleFunc != nil {
		return m.CreateVehicleFunc(ctx, vehicle)
	}
	vehicle.ID = "v-new"
	m.vehicles = append(m.vehicles, vehicle)
	return &vehicle, nil
}

type mockCommentStore struct {
	mu       sync.Mutex
	stored   []Comment
	created  []Comment
	listJobs []string

	CreateFunc    func(ctx context.Context, comment Comment) (*Comment, error)
	ListByJobFunc func(ctx context.Context, jobID string) ([]Comment, error)
}

func (m *mockCommentStore) Create(ctx context.Context, comment Comment) (*Comment, error) {
	m.mu.Lock()
	m.created = append(m.created, comment)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, comment)
	}
	return &comment, nil
}

func (m *mockCommentStore) ListByJob(ctx context.Context, jobID string) ([]Comment, error) {
	m.mu.Lock()
	m.listJobs = append(m.listJobs, jobID)
	m.mu.Unlock()
	if m.ListByJobFunc != nil {
		return m.ListByJobFunc(ctx, jobID)
	}
	return m.stored, nil
}

type publishedMessage struct {
	topic   string
	payload []byte
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload})
	return m.err
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) last() Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}
	}
	return r.notices[len(r.notices)-1]
}

func (r *recordingNotifier) has(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notices {
		if n.Message == message {
			return true
		}
	}
	return false
}

type failingKV struct {
	*MemoryKV
	setErr error
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryKV.Set(ctx, key, value)
}

var errRemote = errors.New("remote unavailable")
