package jobcard

import (
	"context"
	"time"
)

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Vehicle struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	Year       int    `json:"year,omitempty"`
	Plate      string `json:"licensePlate,omitempty"`
}

type CustomerFilter struct {
	ID    string
	Query string
}

type VehicleFilter struct {
	ID         string
	CustomerID string
}

type CustomerDirectory interface {
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error)
	CreateCustomer(ctx context.Context, customer Customer) (*Customer, error)
}

type VehicleDirectory interface {
	ListVehicles(ctx context.Context, filter VehicleFilter) ([]Vehicle, error)
	CreateVehicle(ctx context.Context, vehicle Vehicle) (*Vehicle, error)
}

type CatalogService interface {
	ListEntries(ctx context.Context) ([]CatalogEntry, error)
	CreateEntry(ctx context.Context, entry CatalogEntry) (*CatalogEntry, error)
	DeleteEntry(ctx context.Context, id string) error
}

type InventoryService interface {
	ListItems(ctx context.Context) ([]InventoryItem, error)
}

// JobRecord is the job card as exchanged with the job store. Line items stay
// in their raw stored shape until the engine normalizes them.
type JobRecord struct {
	ID                 string        `json:"id,omitempty"`
	Status             string        `json:"status"`
	CustomerID         string        `json:"customerId,omitempty"`
	VehicleID          string        `json:"vehicleId,omitempty"`
	TechnicianID       string        `json:"technicianId,omitempty"`
	SupervisorID       string        `json:"supervisorId,omitempty"`
	Title              string        `json:"title,omitempty"`
	Description        string        `json:"description,omitempty"`
	LineItems          []RawLineItem `json:"lineItems"`
	Services           []RawLineItem `json:"services,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	OverallComment     string        `json:"overallComment,omitempty"`
	Amount             float64       `json:"amount"`
	EstimatedTimeHours float64       `json:"estimatedTimeHours"`
}

// JobPatch carries the fields of a partial update. Nil fields are unchanged.
type JobPatch struct {
	Status             *string            `json:"status,omitempty"`
	CustomerID         *string            `json:"customerId,omitempty"`
	VehicleID          *string            `json:"vehicleId,omitempty"`
	TechnicianID       *string            `json:"technicianId,omitempty"`
	SupervisorID       *string            `json:"supervisorId,omitempty"`
	Title              *string            `json:"title,omitempty"`
	Description        *string            `json:"description,omitempty"`
	LineItems          *[]ServiceLineItem `json:"lineItems,omitempty"`
	Notes              *string            `json:"notes,omitempty"`
	OverallComment     *string            `json:"overallComment,omitempty"`
	Amount             *float64           `json:"amount,omitempty"`
	EstimatedTimeHours *float64           `json:"estimatedTimeHours,omitempty"`
}

type JobStore interface {
	Get(ctx context.Context, id string) (*JobRecord, error)
	Create(ctx context.Context, record JobRecord) (*JobRecord, error)
	Update(ctx context.Context, id string, patch JobPatch) (*JobRecord, error)
	Delete(ctx context.Context, id string) error
}

type InvoiceItem struct {
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

type Invoice struct {
	ID         string        `json:"id,omitempty"`
	JobCardID  string        `json:"jobCardId"`
	CustomerID string        `json:"customerId"`
	VehicleID  string        `json:"vehicleId"`
	Items      []InvoiceItem `json:"items"`
	Total      float64       `json:"total"`
	Status     string        `json:"status"`
	Paid       bool          `json:"paid"`
	IssuedAt   time.Time     `json:"issuedAt"`
}

type InvoiceStore interface {
	Create(ctx context.Context, invoice Invoice) (*Invoice, error)
}

type Attachment struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type Comment struct {
	ID          string       `json:"id"`
	JobID       string       `json:"jobCardId"`
	AuthorID    string       `json:"authorId,omitempty"`
	AuthorName  string       `json:"authorName,omitempty"`
	Role        string       `json:"role,omitempty"`
	Text        string       `json:"text"`
	CreatedAt   time.Time    `json:"createdAt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type CommentStore interface {
	Create(ctx context.Context, comment Comment) (*Comment, error)
	ListByJob(ctx context.Context, jobID string) ([]Comment, error)
}

// KV is the local durable key-value store backing drafts.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
