package jobcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"

	"github.com/workshopkit/workshop/pkg/enums/jobstatus"
	"github.com/workshopkit/workshop/pkg/enums/role"
	"github.com/workshopkit/workshop/pkg/event"
)

// Actor is the operator performing an action.
type Actor struct {
	ID   string
	Name string
	Role role.Role
}

type Deps struct {
	Jobs      JobStore
	Invoices  InvoiceStore
	Customers CustomerDirectory
	Vehicles  VehicleDirectory
	Catalog   *Catalog
	Drafts    *DraftStore
	Publisher events.Publisher
	Notifier  Notifier
}

type CreateOptions struct {
	Title       string
	Description string
}

// Engine owns the state of one job card from creation through completion.
// Remote calls are made outside the lock; concurrent writes to the same job
// resolve last-writer-wins.
type Engine struct {
	mu         sync.Mutex
	job        JobCard
	customer   *Customer
	vehicle    *Vehicle
	dirty      bool
	creating   bool
	completing bool
	inflight   atomic.Int32
	// draftMu orders draft writes against the clear that follows Create.
	draftMu sync.Mutex

	jobs      JobStore
	invoices  InvoiceStore
	customers CustomerDirectory
	vehicles  VehicleDirectory
	catalog   *Catalog
	drafts    *DraftStore
	publisher events.Publisher
	notifier  Notifier
	origin    string
	logger    aqm.Logger
}

func NewEngine(deps Deps, logger aqm.Logger) *Engine {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	origin := uuid.NewString()
	logger = logger.With("component", "jobcard-engine", "origin", origin)
	notifier := deps.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = NewCatalog(nil, nil, logger)
	}
	return &Engine{
		job:       JobCard{Status: jobstatus.Statuses.Pending},
		jobs:      deps.Jobs,
		invoices:  deps.Invoices,
		customers: deps.Customers,
		vehicles:  deps.Vehicles,
		catalog:   catalog,
		drafts:    deps.Drafts,
		publisher: deps.Publisher,
		notifier:  notifier,
		origin:    origin,
		logger:    logger,
	}
}

// Origin identifies events published by this engine.
func (e *Engine) Origin() string {
	return e.origin
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Job returns a copy of the current job card.
func (e *Engine) Job() JobCard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone()
}

// Open mounts the engine on a job card. An empty jobID opens a new card,
// restoring the operator's draft when there is one.
func (e *Engine) Open(ctx context.Context, jobID string) error {
	if err := e.catalog.Warm(ctx); err != nil {
		e.logger.Error("catalog warm failed", "error", err)
		e.notify(NoticeWarning, "Service catalog is unavailable. Prices and durations may be incomplete.")
	}

	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		job := JobCard{Status: jobstatus.Statuses.Pending}
		restored := false
		if e.drafts != nil {
			draft, err := e.drafts.Load(ctx)
			if err != nil {
				e.logger.Error("draft load failed", "error", err)
			} else if draft != nil {
				job = fromDraft(*draft)
				restored = true
			}
		}
		e.mu.Lock()
		e.job = job
		e.dirty = false
		e.customer, e.vehicle = nil, nil
		e.mu.Unlock()
		if restored {
			e.notify(NoticeInfo, "Draft restored")
		}
		e.resolveParties(ctx)
		return nil
	}

	if e.jobs == nil {
		return e.report(errors.New("job store not configured"))
	}
	record, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return e.report(fmt.Errorf("failed to load job card %s: %w", jobID, err))
	}
	e.mu.Lock()
	e.job = fromRecord(*record)
	e.dirty = false
	e.customer, e.vehicle = nil, nil
	e.mu.Unlock()
	e.resolveParties(ctx)
	return nil
}

func (e *Engine) resolveParties(ctx context.Context) {
	job := e.Job()
	var customer *Customer
	var vehicle *Vehicle
	if job.CustomerID != "" && e.customers != nil {
		c, err := e.findCustomer(ctx, job.CustomerID)
		if err != nil {
			e.logger.Info("customer unresolved", "customer_id", job.CustomerID, "error", err)
		}
		customer = c
	}
	if job.VehicleID != "" && e.vehicles != nil {
		v, err := e.findVehicle(ctx, job.VehicleID)
		if err != nil {
			e.logger.Info("vehicle unresolved", "vehicle_id", job.VehicleID, "error", err)
		}
		vehicle = v
	}
	e.mu.Lock()
	if e.job.CustomerID == job.CustomerID {
		e.customer = customer
	}
	if e.job.VehicleID == job.VehicleID {
		e.vehicle = vehicle
	}
	e.mu.Unlock()
}

func (e *Engine) findCustomer(ctx context.Context, id string) (*Customer, error) {
	list, err := e.customers.ListCustomers(ctx, CustomerFilter{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	for _, c := range list {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

func (e *Engine) findVehicle(ctx context.Context, id string) (*Vehicle, error) {
	list, err := e.vehicles.ListVehicles(ctx, VehicleFilter{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	for _, v := range list {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, nil
}

// SelectCustomer sets the customer. A selected vehicle owned by someone else
// is cleared.
func (e *Engine) SelectCustomer(ctx context.Context, actor Actor, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if err := e.guard(actor, "select customer", nil); err != nil {
		return e.report(err)
	}
	if customerID == "" {
		return e.report(invalid("customerId", "customer is required"))
	}
	if e.customers == nil {
		return e.report(errors.New("customer directory not configured"))
	}
	customer, err := e.findCustomer(ctx, customerID)
	if err != nil {
		return e.report(err)
	}
	if customer == nil {
		return e.report(invalid("customerId", "customer not found"))
	}
	return e.report(e.editLocal(ctx, func(j *JobCard) error {
		j.CustomerID = customer.ID
		e.customer = customer
		if e.vehicle != nil && e.vehicle.CustomerID != "" && e.vehicle.CustomerID != customer.ID {
			j.VehicleID = ""
			e.vehicle = nil
		}
		return nil
	}))
}

func (e *Engine) SelectVehicle(ctx context.Context, actor Actor, vehicleID string) error {
	vehicleID = strings.TrimSpace(vehicleID)
	if err := e.guard(actor, "select vehicle", nil); err != nil {
		return e.report(err)
	}
	if vehicleID == "" {
		return e.report(invalid("vehicleId", "vehicle is required"))
	}
	if e.vehicles == nil {
		return e.report(errors.New("vehicle directory not configured"))
	}
	vehicle, err := e.findVehicle(ctx, vehicleID)
	if err != nil {
		return e.report(err)
	}
	if vehicle == nil {
		return e.report(invalid("vehicleId", "vehicle not found"))
	}
	return e.report(e.editLocal(ctx, func(j *JobCard) error {
		if j.CustomerID != "" && vehicle.CustomerID != "" && vehicle.CustomerID != j.CustomerID {
			return invalid("vehicleId", "vehicle does not belong to the selected customer")
		}
		j.VehicleID = vehicle.ID
		e.vehicle = vehicle
		return nil
	}))
}

// CreateCustomer registers a customer and selects it.
func (e *Engine) CreateCustomer(ctx context.Context, actor Actor, customer Customer) (*Customer, error) {
	if err := e.guard(actor, "create customer", nil); err != nil {
		return nil, e.report(err)
	}
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, e.report(invalid("name", "customer name is required"))
	}
	if e.customers == nil {
		return nil, e.report(errors.New("customer directory not configured"))
	}
	created, err := e.customers.CreateCustomer(ctx, customer)
	if err != nil {
		return nil, e.report(fmt.Errorf("failed to create customer: %w", err))
	}
	err = e.editLocal(ctx, func(j *JobCard) error {
		j.CustomerID = created.ID
		e.customer = created
		if e.vehicle != nil && e.vehicle.CustomerID != created.ID {
			j.VehicleID = ""
			e.vehicle = nil
		}
		return nil
	})
	if err != nil {
		return created, e.report(err)
	}
	e.notify(NoticeSuccess, "Customer created")
	return created, nil
}

// CreateVehicle registers a vehicle for the selected customer and selects it.
func (e *Engine) CreateVehicle(ctx context.Context, actor Actor, vehicle Vehicle) (*Vehicle, error) {
	if err := e.guard(actor, "create vehicle", nil); err != nil {
		return nil, e.report(err)
	}
	job := e.Job()
	if vehicle.CustomerID == "" {
		vehicle.CustomerID = job.CustomerID
	}
	if vehicle.CustomerID == "" {
		return nil, e.report(invalid("customerId", "select a customer before adding a vehicle"))
	}
	if strings.TrimSpace(vehicle.Make) == "" && strings.TrimSpace(vehicle.Plate) == "" {
		return nil, e.report(invalid("vehicle", "make or license plate is required"))
	}
	if e.vehicles == nil {
		return nil, e.report(errors.New("vehicle directory not configured"))
	}
	created, err := e.vehicles.CreateVehicle(ctx, vehicle)
	if err != nil {
		return nil, e.report(fmt.Errorf("failed to create vehicle: %w", err))
	}
	err = e.editLocal(ctx, func(j *JobCard) error {
		if j.CustomerID == "" {
			j.CustomerID = created.CustomerID
		}
		j.VehicleID = created.ID
		e.vehicle = created
		return nil
	})
	if err != nil {
		return created, e.report(err)
	}
	e.notify(NoticeSuccess, "Vehicle created")
	return created, nil
}

func (e *Engine) AssignTechnician(ctx context.Context, actor Actor, staffID string) error {
	if err := e.guard(actor, "assign technician", nil); err != nil {
		return e.report(err)
	}
	return e.report(e.editLocal(ctx, func(j *JobCard) error {
		j.TechnicianID = strings.TrimSpace(staffID)
		return nil
	}))
}

func (e *Engine) AssignSupervisor(ctx context.Context, actor Actor, staffID string) error {
	if err := e.guard(actor, "assign supervisor", nil); err != nil {
		return e.report(err)
	}
	return e.report(e.editLocal(ctx, func(j *JobCard) error {
		j.SupervisorID = strings.TrimSpace(staffID)
		return nil
	}))
}

func (e *Engine) SetNotes(ctx context.Context, actor Actor, notes string) error {
	if err := e.guard(actor, "edit notes", nil); err != nil {
		return e.report(err)
	}
	return e.report(e.editLocal(ctx, func(j *JobCard) error {
		j.Notes = notes
		return nil
	}))
}

// SetOverallComment is persisted immediately on existing jobs.
func (e *Engine) SetOverallComment(ctx context.Context, actor Actor, comment string) error {
	if err := e.guard(actor, "edit comment", nil); err != nil {
		return e.report(err)
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		j.OverallComment = comment
		return nil
	}, func(j JobCard) JobPatch {
		c := j.OverallComment
		return JobPatch{OverallComment: &c}
	}))
}

// AddLineItem resolves raw against the catalog and appends it. Services that
// declare details return *DetailCaptureRequired until capture is supplied.
func (e *Engine) AddLineItem(ctx context.Context, actor Actor, raw RawLineItem, capture *DetailCapture) (*ServiceLineItem, error) {
	if err := e.guard(actor, "add service", nil); err != nil {
		return nil, e.report(err)
	}
	if raw.Shape() == ShapeInventory {
		return e.AddInventoryItem(ctx, actor, stringValue(raw["inventoryItemId"]))
	}

	candidate := make(RawLineItem, len(raw))
	for k, v := range raw {
		candidate[k] = v
	}
	delete(candidate, "id")
	item := Normalize(candidate)
	decision := e.catalog.Resolve(item)

	if item.Name == "" {
		item.Name = decision.Name
	}
	if item.Name == "" {
		return nil, e.report(invalid("name", "service name is required"))
	}
	item.Price = decision.EffectivePrice
	if item.DurationMinutes != decision.EffectiveDuration {
		item.DurationMinutes = decision.EffectiveDuration
		item.EstimatedTime = ""
		if decision.Entry != nil && decision.Entry.EstimatedTime != "" && ParseDuration(decision.Entry.EstimatedTime) == decision.EffectiveDuration {
			item.EstimatedTime = decision.Entry.EstimatedTime
		}
	}

	if decision.RequiresDetailCapture {
		if capture == nil {
			return nil, e.report(&DetailCaptureRequired{Decision: decision})
		}
		if !actor.Role.AtLeast(role.Roles.Supervisor) {
			return nil, e.report(forbidden("detail capture", role.Roles.Supervisor))
		}
		if err := ValidateCapture(decision, capture); err != nil {
			return nil, e.report(err)
		}
		capture.apply(&item)
	}
	item = Normalize(item.Raw())

	err := e.mutate(ctx, func(j *JobCard) error {
		if item.ServiceID != "" {
			for _, existing := range j.LineItems {
				if existing.ServiceID == item.ServiceID {
					return invalid("serviceId", fmt.Sprintf("%s is already on this job card", item.Name))
				}
			}
		}
		j.LineItems = append(j.LineItems, item.clone())
		return nil
	}, JobCard.itemsPatch)
	if err != nil {
		return nil, e.report(err)
	}
	if decision.LowStock {
		e.notify(NoticeWarning, fmt.Sprintf("Stock for %s is running low", item.Name))
	}
	return &item, nil
}

// AddInventoryItem appends a product from the inventory snapshot.
func (e *Engine) AddInventoryItem(ctx context.Context, actor Actor, inventoryItemID string) (*ServiceLineItem, error) {
	if err := e.guard(actor, "add inventory item", nil); err != nil {
		return nil, e.report(err)
	}
	stock, ok := e.catalog.InventoryItem(strings.TrimSpace(inventoryItemID))
	if !ok {
		return nil, e.report(invalid("inventoryItemId", "inventory item not found"))
	}
	if stock.CurrentStock <= 0 {
		return nil, e.report(invalid("inventoryItemId", fmt.Sprintf("%s is out of stock", stock.Name)))
	}
	item := Normalize(stock.LineItem())

	err := e.mutate(ctx, func(j *JobCard) error {
		for _, existing := range j.LineItems {
			if existing.IsInventoryItem && existing.InventoryItemID == item.InventoryItemID {
				return invalid("inventoryItemId", fmt.Sprintf("%s is already on this job card", item.Name))
			}
		}
		j.LineItems = append(j.LineItems, item.clone())
		return nil
	}, JobCard.itemsPatch)
	if err != nil {
		return nil, e.report(err)
	}
	if stock.CurrentStock-1 < stock.MinStock {
		e.notify(NoticeWarning, fmt.Sprintf("Stock for %s is running low", stock.Name))
	}
	return &item, nil
}

func (e *Engine) RemoveLineItem(ctx context.Context, actor Actor, itemID string) error {
	if err := e.guard(actor, "remove service", &role.Roles.Supervisor); err != nil {
		return e.report(err)
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		i, ok := j.item(itemID)
		if !ok {
			return invalid("itemId", "line item not found")
		}
		j.LineItems = append(j.LineItems[:i], j.LineItems[i+1:]...)
		return nil
	}, JobCard.itemsPatch))
}

func (e *Engine) EditLineItemPrice(ctx context.Context, actor Actor, itemID string, price float64) error {
	if err := e.guard(actor, "edit price", &role.Roles.Supervisor); err != nil {
		return e.report(err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return e.report(invalid("price", "price must be a non-negative number"))
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		i, ok := j.item(itemID)
		if !ok {
			return invalid("itemId", "line item not found")
		}
		j.LineItems[i].Price = price
		j.LineItems[i] = Normalize(j.LineItems[i].Raw())
		return nil
	}, JobCard.itemsPatch))
}

func (e *Engine) EditLineItemDuration(ctx context.Context, actor Actor, itemID string, minutes float64) error {
	if err := e.guard(actor, "edit duration", &role.Roles.Supervisor); err != nil {
		return e.report(err)
	}
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes < 0 {
		return e.report(invalid("durationMinutes", "duration must be a non-negative number"))
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		i, ok := j.item(itemID)
		if !ok {
			return invalid("itemId", "line item not found")
		}
		j.LineItems[i].DurationMinutes = minutes
		j.LineItems[i].EstimatedTime = FormatDuration(minutes)
		j.LineItems[i] = Normalize(j.LineItems[i].Raw())
		return nil
	}, JobCard.itemsPatch))
}

func (e *Engine) ToggleLineItemCompleted(ctx context.Context, actor Actor, itemID string) error {
	if err := e.guard(actor, "toggle service", &role.Roles.Technician); err != nil {
		return e.report(err)
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		i, ok := j.item(itemID)
		if !ok {
			return invalid("itemId", "line item not found")
		}
		j.LineItems[i].Completed = !j.LineItems[i].Completed
		return nil
	}, JobCard.itemsPatch))
}

// CaptureLineItemDetails fills in the details of an item already on the card.
func (e *Engine) CaptureLineItemDetails(ctx context.Context, actor Actor, itemID string, capture DetailCapture) error {
	if err := e.guard(actor, "detail capture", &role.Roles.Supervisor); err != nil {
		return e.report(err)
	}
	job := e.Job()
	i, ok := job.item(itemID)
	if !ok {
		return e.report(invalid("itemId", "line item not found"))
	}
	if err := ValidateCapture(e.catalog.Resolve(job.LineItems[i]), &capture); err != nil {
		return e.report(err)
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		i, ok := j.item(itemID)
		if !ok {
			return invalid("itemId", "line item not found")
		}
		capture.apply(&j.LineItems[i])
		j.LineItems[i] = Normalize(j.LineItems[i].Raw())
		return nil
	}, JobCard.itemsPatch))
}

// ReplaceLineItems swaps the whole item list in one write.
func (e *Engine) ReplaceLineItems(ctx context.Context, actor Actor, raws []RawLineItem) error {
	if err := e.guard(actor, "replace services", &role.Roles.Supervisor); err != nil {
		return e.report(err)
	}
	items := make([]ServiceLineItem, 0, len(raws))
	for _, raw := range raws {
		items = append(items, Normalize(raw))
	}
	return e.report(e.mutate(ctx, func(j *JobCard) error {
		j.LineItems = cloneItems(items)
		return nil
	}, JobCard.itemsPatch))
}

// Create persists a new job card. On failure the card stays new and the
// draft is kept.
func (e *Engine) Create(ctx context.Context, actor Actor, opts CreateOptions) (*JobCard, error) {
	e.mu.Lock()
	if e.job.State() != StateNew {
		e.mu.Unlock()
		return nil, e.report(fmt.Errorf("%w: job card already created", ErrInvalidTransition))
	}
	if e.creating {
		e.mu.Unlock()
		return nil, e.report(fmt.Errorf("%w: job card creation already in progress", ErrInvalidTransition))
	}
	job := e.job.clone()
	vehicleResolved := e.vehicle != nil && e.vehicle.ID == job.VehicleID
	e.mu.Unlock()

	if job.CustomerID == "" {
		return nil, e.report(invalid("customerId", "select a customer before creating the job card"))
	}
	if job.VehicleID == "" || !vehicleResolved {
		return nil, e.report(invalid("vehicleId", "select a vehicle before creating the job card"))
	}
	if e.jobs == nil {
		return nil, e.report(errors.New("job store not configured"))
	}

	job.Status = jobstatus.Statuses.Pending
	job.Title = strings.TrimSpace(opts.Title)
	job.Description = strings.TrimSpace(opts.Description)
	if job.Title == "" && len(job.LineItems) > 0 {
		job.Title = job.LineItems[0].Name
	}
	if job.Description == "" {
		names := make([]string, 0, len(job.LineItems))
		for _, item := range job.LineItems {
			names = append(names, item.Name)
		}
		job.Description = strings.Join(names, ": ")
	}

	e.mu.Lock()
	e.creating = true
	e.mu.Unlock()
	created, err := e.jobs.Create(ctx, job.record())
	e.mu.Lock()
	e.creating = false
	if err != nil {
		e.mu.Unlock()
		return nil, e.report(fmt.Errorf("failed to create job card: %w", err))
	}
	if created == nil || created.ID == "" {
		e.mu.Unlock()
		return nil, e.report(errors.New("failed to create job card: store returned no id"))
	}
	e.job.ID = created.ID
	e.job.Status = jobstatus.Statuses.Pending
	e.job.Title = job.Title
	e.job.Description = job.Description
	e.dirty = false
	result := e.job.clone()
	e.mu.Unlock()

	if e.drafts != nil {
		if err := e.clearDraft(ctx); err != nil {
			e.logger.Error("draft clear failed", "job_id", result.ID, "error", err)
		}
	}
	e.publishUpdate(ctx, result, "")
	e.logger.Info("job card created", "job_id", result.ID, "items", len(result.LineItems))
	e.notify(NoticeSuccess, "Job card created")
	return &result, nil
}

// StartWork moves a pending job to in progress.
func (e *Engine) StartWork(ctx context.Context, actor Actor) error {
	if err := e.guard(actor, "start work", &role.Roles.Technician); err != nil {
		return e.report(err)
	}
	job := e.Job()
	switch job.State() {
	case StatePending:
	case StateNew:
		return e.report(fmt.Errorf("%w: create the job card before starting work", ErrInvalidTransition))
	default:
		return e.report(fmt.Errorf("%w: cannot start work on a %s job card", ErrInvalidTransition, job.Status.Code()))
	}

	status := jobstatus.Statuses.InProgress.Code()
	patch := job.itemsPatch()
	patch.Status = &status
	if _, err := e.jobs.Update(ctx, job.ID, patch); err != nil {
		return e.report(fmt.Errorf("failed to start work on job card %s: %w", job.ID, err))
	}

	e.mu.Lock()
	e.job.Status = jobstatus.Statuses.InProgress
	current := e.job.clone()
	e.mu.Unlock()
	e.publishUpdate(ctx, current, job.Status.Code())
	e.notify(NoticeSuccess, "Work started")
	return nil
}

// MarkComplete completes the job and issues its invoice. If the invoice
// cannot be created the completion stands and *PartialCompletionError is
// returned.
func (e *Engine) MarkComplete(ctx context.Context, actor Actor) (*Invoice, error) {
	if err := e.guard(actor, "complete job", &role.Roles.Supervisor); err != nil {
		return nil, e.report(err)
	}
	e.mu.Lock()
	job := e.job.clone()
	customerResolved := e.customer != nil && e.customer.ID == job.CustomerID
	vehicleResolved := e.vehicle != nil && e.vehicle.ID == job.VehicleID
	e.mu.Unlock()
	switch {
	case job.CustomerID == "" || !customerResolved:
		return nil, e.report(invalid("customerId", "a customer is required to complete the job card"))
	case job.VehicleID == "" || !vehicleResolved:
		return nil, e.report(invalid("vehicleId", "a vehicle is required to complete the job card"))
	case len(job.LineItems) == 0:
		return nil, e.report(invalid("lineItems", "add at least one service before completing"))
	case job.ID == "":
		return nil, e.report(invalid("id", "create the job card before completing it"))
	}
	if e.jobs == nil || e.invoices == nil {
		return nil, e.report(errors.New("job or invoice store not configured"))
	}

	e.mu.Lock()
	if e.job.State() == StateCompleted {
		e.mu.Unlock()
		return nil, e.report(ErrReadOnly)
	}
	if e.completing {
		e.mu.Unlock()
		return nil, e.report(fmt.Errorf("%w: job card completion already in progress", ErrInvalidTransition))
	}
	e.completing = true
	e.mu.Unlock()

	status := jobstatus.Statuses.Completed.Code()
	patch := job.itemsPatch()
	patch.Status = &status
	_, err := e.jobs.Update(ctx, job.ID, patch)

	e.mu.Lock()
	e.completing = false
	if err != nil {
		e.mu.Unlock()
		return nil, e.report(fmt.Errorf("failed to complete job card %s: %w", job.ID, err))
	}
	e.job.Status = jobstatus.Statuses.Completed
	e.dirty = false
	completed := e.job.clone()
	e.mu.Unlock()
	e.publishUpdate(ctx, completed, job.Status.Code())

	invoice := completed.invoice()
	invoice.IssuedAt = time.Now().UTC()
	created, err := e.invoices.Create(ctx, invoice)
	if err != nil {
		e.logger.Error("invoice creation failed", "job_id", job.ID, "error", err)
		return nil, e.report(&PartialCompletionError{JobID: job.ID, Err: err})
	}
	if created == nil {
		created = &invoice
	}
	e.logger.Info("job card completed", "job_id", job.ID, "invoice_id", created.ID, "total", created.Total)
	e.notify(NoticeSuccess, "Job completed and invoice created")
	return created, nil
}

// Save persists pending field edits of an existing job. On failure the local
// edits are kept.
func (e *Engine) Save(ctx context.Context, actor Actor) error {
	if err := e.guard(actor, "save job card", nil); err != nil {
		return e.report(err)
	}
	e.mu.Lock()
	job := e.job.clone()
	dirty := e.dirty
	e.mu.Unlock()

	if job.State() == StateNew {
		if e.drafts == nil {
			return nil
		}
		if err := e.writeDraft(ctx); err != nil {
			return e.report(err)
		}
		e.notify(NoticeSuccess, "Draft saved")
		return nil
	}
	if !dirty {
		return nil
	}

	patch := job.itemsPatch()
	patch.CustomerID = &job.CustomerID
	patch.VehicleID = &job.VehicleID
	patch.TechnicianID = &job.TechnicianID
	patch.SupervisorID = &job.SupervisorID
	patch.Notes = &job.Notes
	patch.OverallComment = &job.OverallComment

	e.inflight.Add(1)
	_, err := e.jobs.Update(ctx, job.ID, patch)
	e.inflight.Add(-1)
	if err != nil {
		return e.report(fmt.Errorf("failed to save job card %s: %w", job.ID, err))
	}
	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
	e.publishUpdate(ctx, job, job.Status.Code())
	e.notify(NoticeSuccess, "Job card saved")
	return nil
}

// Delete removes an existing job card that is not completed.
func (e *Engine) Delete(ctx context.Context, actor Actor) error {
	if err := e.guard(actor, "delete job card", &role.Roles.Admin); err != nil {
		return e.report(err)
	}
	job := e.Job()
	if job.State() == StateNew {
		return e.report(fmt.Errorf("%w: job card has not been created", ErrInvalidTransition))
	}
	if err := e.jobs.Delete(ctx, job.ID); err != nil {
		return e.report(fmt.Errorf("failed to delete job card %s: %w", job.ID, err))
	}
	e.mu.Lock()
	e.job = JobCard{Status: jobstatus.Statuses.Pending}
	e.customer, e.vehicle = nil, nil
	e.dirty = false
	e.mu.Unlock()
	e.publish(ctx, job.ID, event.JobUpdatedEvent{
		JobCardEventMetadata: e.metadata(job.ID),
		Status:               "deleted",
		PreviousStatus:       job.Status.Code(),
	})
	e.notify(NoticeSuccess, "Job card deleted")
	return nil
}

// DiscardDraft resets a new card and forgets its draft.
func (e *Engine) DiscardDraft(ctx context.Context) error {
	e.mu.Lock()
	if e.job.State() != StateNew {
		e.mu.Unlock()
		return e.report(fmt.Errorf("%w: only new job cards have drafts", ErrInvalidTransition))
	}
	e.job = JobCard{Status: jobstatus.Statuses.Pending}
	e.customer, e.vehicle = nil, nil
	e.mu.Unlock()
	if e.drafts != nil {
		if err := e.clearDraft(ctx); err != nil {
			return e.report(err)
		}
	}
	e.notify(NoticeInfo, "Draft discarded")
	return nil
}

// Reconcile refetches the job after a remote change. It is skipped while a
// local write is in flight or unsaved edits exist.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	id := e.job.ID
	busy := e.dirty || e.creating
	e.mu.Unlock()
	if id == "" || e.jobs == nil {
		return nil
	}
	if busy || e.inflight.Load() > 0 {
		e.logger.Debug("reconcile skipped", "job_id", id)
		return nil
	}

	record, err := e.jobs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to refresh job card %s: %w", id, err)
	}
	fresh := fromRecord(*record)

	e.mu.Lock()
	if e.job.ID != id || e.dirty || e.inflight.Load() > 0 {
		e.mu.Unlock()
		return nil
	}
	e.job = fresh
	e.mu.Unlock()
	e.resolveParties(ctx)
	return nil
}

// View is the derived presentation state of the job card for one actor.
type View struct {
	Job               JobCard   `json:"job"`
	State             State     `json:"state"`
	Customer          *Customer `json:"customer,omitempty"`
	Vehicle           *Vehicle  `json:"vehicle,omitempty"`
	Amount            float64   `json:"amount"`
	EstimatedHours    float64   `json:"estimatedHours"`
	Progress          float64   `json:"progress"`
	IsNew             bool      `json:"isNew"`
	ReadOnly          bool      `json:"readOnly"`
	Dirty             bool      `json:"dirty"`
	CanEdit           bool      `json:"canEdit"`
	CanStartWork      bool      `json:"canStartWork"`
	CanComplete       bool      `json:"canComplete"`
	CanEditPricing    bool      `json:"canEditPricing"`
	CanToggleItems    bool      `json:"canToggleItems"`
	CanCaptureDetails bool      `json:"canCaptureDetails"`
	CanDelete         bool      `json:"canDelete"`
}

func (e *Engine) View(actor Actor) View {
	e.mu.Lock()
	job := e.job.clone()
	customer, vehicle, dirty := e.customer, e.vehicle, e.dirty
	e.mu.Unlock()
	resolved := customer != nil && customer.ID == job.CustomerID && vehicle != nil && vehicle.ID == job.VehicleID

	state := job.State()
	readOnly := state == StateCompleted
	active := state == StatePending || state == StateInProgress
	r := actor.Role
	return View{
		Job:               job,
		State:             state,
		Customer:          customer,
		Vehicle:           vehicle,
		Amount:            job.Amount(),
		EstimatedHours:    job.EstimatedHours(),
		Progress:          job.Progress(),
		IsNew:             state == StateNew,
		ReadOnly:          readOnly,
		Dirty:             dirty,
		CanEdit:           !readOnly,
		CanStartWork:      state == StatePending && r.AtLeast(role.Roles.Technician),
		CanComplete:       active && r.AtLeast(role.Roles.Supervisor) && resolved && len(job.LineItems) > 0,
		CanEditPricing:    !readOnly && r.AtLeast(role.Roles.Supervisor),
		CanToggleItems:    !readOnly && r.AtLeast(role.Roles.Technician),
		CanCaptureDetails: !readOnly && r.AtLeast(role.Roles.Supervisor),
		CanDelete:         active && r.AtLeast(role.Roles.Admin),
	}
}

// guard rejects mutations of completed jobs and actors below minimum.
func (e *Engine) guard(actor Actor, action string, minimum *role.Role) error {
	e.mu.Lock()
	state := e.job.State()
	e.mu.Unlock()
	if state == StateCompleted {
		return ErrReadOnly
	}
	if minimum != nil && !actor.Role.AtLeast(*minimum) {
		return forbidden(action, *minimum)
	}
	return nil
}

// editLocal applies a field edit. New cards save the draft; existing cards
// keep the edit until Save.
func (e *Engine) editLocal(ctx context.Context, apply func(*JobCard) error) error {
	e.mu.Lock()
	next := e.job.clone()
	if next.State() == StateCompleted {
		e.mu.Unlock()
		return ErrReadOnly
	}
	if err := apply(&next); err != nil {
		e.mu.Unlock()
		return err
	}
	e.job = next
	isNew := next.State() == StateNew
	if !isNew {
		e.dirty = true
	}
	e.mu.Unlock()
	if isNew {
		e.saveDraft(ctx)
	}
	return nil
}

// mutate applies an in-place change. New cards save the draft; existing cards
// persist patch optimistically and roll back on failure.
func (e *Engine) mutate(ctx context.Context, apply func(*JobCard) error, patch func(JobCard) JobPatch) error {
	guarded := func(j *JobCard) error {
		if j.State() == StateCompleted {
			return ErrReadOnly
		}
		return apply(j)
	}

	e.mu.Lock()
	if e.job.State() == StateNew {
		next := e.job.clone()
		if err := guarded(&next); err != nil {
			e.mu.Unlock()
			return err
		}
		e.job = next
		e.mu.Unlock()
		e.saveDraft(ctx)
		return nil
	}
	e.mu.Unlock()

	if e.jobs == nil {
		return errors.New("job store not configured")
	}
	tx := transaction[JobCard]{mu: &e.mu, inflight: &e.inflight, state: &e.job, clone: JobCard.clone, revert: revertEdit}
	var sent JobCard
	err := tx.run(guarded, func(next JobCard) error {
		sent = next
		if _, err := e.jobs.Update(ctx, next.ID, patch(next)); err != nil {
			return fmt.Errorf("failed to update job card %s: %w", next.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.publishUpdate(ctx, sent, sent.Status.Code())
	return nil
}

// revertEdit undoes a failed in-place edit without touching the status. A
// transition committed while the edit was in flight persisted the edited
// items along with it, so they are kept.
func revertEdit(current *JobCard, snapshot JobCard) {
	if current.ID != snapshot.ID || current.Status != snapshot.Status {
		return
	}
	current.LineItems = cloneItems(snapshot.LineItems)
	current.OverallComment = snapshot.OverallComment
}

func (e *Engine) saveDraft(ctx context.Context) {
	if e.drafts == nil {
		return
	}
	if err := e.writeDraft(ctx); err != nil {
		e.logger.Error("draft save failed", "error", err)
		e.notify(NoticeWarning, "Draft could not be saved locally")
	}
}

// writeDraft stores the current card while it is still new. A card that got
// its id in the meantime is left alone so its cleared draft stays cleared.
func (e *Engine) writeDraft(ctx context.Context) error {
	e.draftMu.Lock()
	defer e.draftMu.Unlock()
	e.mu.Lock()
	isNew := e.job.State() == StateNew
	draft := e.job.draft()
	e.mu.Unlock()
	if !isNew {
		return nil
	}
	return e.drafts.Save(ctx, draft)
}

func (e *Engine) clearDraft(ctx context.Context) error {
	e.draftMu.Lock()
	defer e.draftMu.Unlock()
	return e.drafts.Clear(ctx)
}

func (e *Engine) metadata(jobID string) event.JobCardEventMetadata {
	return event.JobCardEventMetadata{
		EventType:  event.EventJobUpdated,
		OccurredAt: time.Now().UTC(),
		JobID:      jobID,
		Origin:     e.origin,
	}
}

func (e *Engine) publishUpdate(ctx context.Context, job JobCard, previous string) {
	e.publish(ctx, job.ID, event.JobUpdatedEvent{
		JobCardEventMetadata: e.metadata(job.ID),
		Status:               job.Status.Code(),
		PreviousStatus:       previous,
		LineItemCount:        len(job.LineItems),
	})
}

func (e *Engine) publish(ctx context.Context, jobID string, evt event.JobUpdatedEvent) {
	if e.publisher == nil || jobID == "" {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error("failed to encode job update", "job_id", jobID, "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, event.JobCardTopic(jobID), payload); err != nil {
		e.logger.Error("failed to publish job update", "job_id", jobID, "error", err)
	}
}

func (e *Engine) notify(kind NoticeKind, message string) {
	e.notifier.Notify(Notice{Kind: kind, Message: message, At: time.Now()})
}

// report turns a failure into a notice and returns it unchanged.
func (e *Engine) report(err error) error {
	if err == nil {
		return nil
	}
	n := noticeFor(err)
	if n.Kind == NoticeError || n.Kind == NoticeSessionExpired {
		e.logger.Error("job card operation failed", "error", err)
	} else {
		e.logger.Debug("job card operation rejected", "error", err)
	}
	e.notifier.Notify(n)
	return err
}
