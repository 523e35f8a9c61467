package jobcard

import (
	"github.com/shopspring/decimal"

	"github.com/workshopkit/workshop/pkg/enums/jobstatus"
)

// State is the lifecycle position of a job card. NEW has no remote identity.
type State string

const (
	StateNew        State = "new"
	StatePending    State = "pending"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
)

type JobCard struct {
	ID             string            `json:"id,omitempty"`
	Status         jobstatus.Status  `json:"status"`
	CustomerID     string            `json:"customerId,omitempty"`
	VehicleID      string            `json:"vehicleId,omitempty"`
	TechnicianID   string            `json:"technicianId,omitempty"`
	SupervisorID   string            `json:"supervisorId,omitempty"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	LineItems      []ServiceLineItem `json:"lineItems"`
	Notes          string            `json:"notes,omitempty"`
	OverallComment string            `json:"overallComment,omitempty"`
}

func (j JobCard) State() State {
	if j.ID == "" {
		return StateNew
	}
	switch {
	case j.Status.Terminal():
		return StateCompleted
	case j.Status == jobstatus.Statuses.InProgress:
		return StateInProgress
	default:
		return StatePending
	}
}

func (j JobCard) total() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range j.LineItems {
		sum = sum.Add(decimal.NewFromFloat(item.Price))
	}
	return sum
}

// Amount is the sum of line item prices.
func (j JobCard) Amount() float64 {
	return j.total().InexactFloat64()
}

func (j JobCard) EstimatedMinutes() float64 {
	var minutes float64
	for _, item := range j.LineItems {
		minutes += item.DurationMinutes
	}
	return minutes
}

func (j JobCard) EstimatedHours() float64 {
	return decimal.NewFromFloat(j.EstimatedMinutes()).Div(decimal.NewFromInt(60)).Round(2).InexactFloat64()
}

// Progress is the completed fraction of line items, 0 when there are none.
func (j JobCard) Progress() float64 {
	if len(j.LineItems) == 0 {
		return 0
	}
	done := 0
	for _, item := range j.LineItems {
		if item.Completed {
			done++
		}
	}
	return float64(done) / float64(len(j.LineItems))
}

func (j JobCard) item(id string) (int, bool) {
	for i, item := range j.LineItems {
		if item.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (j JobCard) clone() JobCard {
	out := j
	out.LineItems = cloneItems(j.LineItems)
	return out
}

func (j JobCard) draft() Draft {
	return Draft{
		CustomerID:     j.CustomerID,
		VehicleID:      j.VehicleID,
		TechnicianID:   j.TechnicianID,
		SupervisorID:   j.SupervisorID,
		LineItems:      cloneItems(j.LineItems),
		Notes:          j.Notes,
		OverallComment: j.OverallComment,
		Status:         j.Status.Code(),
	}
}

// fromDraft restores a new card. A draft never carries a terminal status.
func fromDraft(d Draft) JobCard {
	status := jobstatus.Statuses.Pending
	if parsed := jobstatus.Parse(d.Status); parsed != nil && !parsed.Terminal() {
		status = *parsed
	}
	return JobCard{
		Status:         status,
		CustomerID:     d.CustomerID,
		VehicleID:      d.VehicleID,
		TechnicianID:   d.TechnicianID,
		SupervisorID:   d.SupervisorID,
		LineItems:      cloneItems(d.LineItems),
		Notes:          d.Notes,
		OverallComment: d.OverallComment,
	}
}

// fromRecord normalizes a stored job. Records predating lineItems carry
// their items under services.
func fromRecord(r JobRecord) JobCard {
	raw := r.LineItems
	if len(raw) == 0 {
		raw = r.Services
	}
	items := make([]ServiceLineItem, 0, len(raw))
	for _, ri := range raw {
		items = append(items, Normalize(ri))
	}
	status := jobstatus.Statuses.Pending
	if parsed := jobstatus.Parse(r.Status); parsed != nil {
		status = *parsed
	}
	return JobCard{
		ID:             r.ID,
		Status:         status,
		CustomerID:     r.CustomerID,
		VehicleID:      r.VehicleID,
		TechnicianID:   r.TechnicianID,
		SupervisorID:   r.SupervisorID,
		Title:          r.Title,
		Description:    r.Description,
		LineItems:      items,
		Notes:          r.Notes,
		OverallComment: r.OverallComment,
	}
}

func (j JobCard) record() JobRecord {
	raw := make([]RawLineItem, 0, len(j.LineItems))
	for _, item := range j.LineItems {
		raw = append(raw, item.Raw())
	}
	return JobRecord{
		ID:                 j.ID,
		Status:             j.Status.Code(),
		CustomerID:         j.CustomerID,
		VehicleID:          j.VehicleID,
		TechnicianID:       j.TechnicianID,
		SupervisorID:       j.SupervisorID,
		Title:              j.Title,
		Description:        j.Description,
		LineItems:          raw,
		Notes:              j.Notes,
		OverallComment:     j.OverallComment,
		Amount:             j.Amount(),
		EstimatedTimeHours: j.EstimatedHours(),
	}
}

// itemsPatch persists the current line items with their derived totals.
func (j JobCard) itemsPatch() JobPatch {
	items := cloneItems(j.LineItems)
	if items == nil {
		items = []ServiceLineItem{}
	}
	amount := j.Amount()
	hours := j.EstimatedHours()
	return JobPatch{LineItems: &items, Amount: &amount, EstimatedTimeHours: &hours}
}

func (j JobCard) invoice() Invoice {
	items := make([]InvoiceItem, 0, len(j.LineItems))
	for _, item := range j.LineItems {
		items = append(items, InvoiceItem{Description: item.Name, Price: item.Price, Quantity: 1})
	}
	return Invoice{
		JobCardID:  j.ID,
		CustomerID: j.CustomerID,
		VehicleID:  j.VehicleID,
		Items:      items,
		Total:      j.Amount(),
		Status:     "paid",
		Paid:       true,
	}
}
