package workshop

import (
	"errors"
	"net/http"

	"github.com/aquamarinepk/aqm"
	"github.com/go-chi/chi/v5"

	"github.com/workshopkit/workshop/pkg/enums/role"
	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

type CatalogResponse struct {
	Services  []jobcard.CatalogEntry  `json:"services"`
	Inventory []jobcard.InventoryItem `json:"inventory"`
}

type CompletionResponse struct {
	SessionResponse
	Invoice      *jobcard.Invoice `json:"invoice,omitempty"`
	InvoiceError string           `json:"invoiceError,omitempty"`
}

type LineItemResponse struct {
	SessionResponse
	Item *jobcard.ServiceLineItem `json:"item"`
}

// Catalog

func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request, c call) {
	catalog := c.session.Engine.Catalog()
	aqm.RespondSuccess(w, CatalogResponse{
		Services:  catalog.Entries(),
		Inventory: catalog.InventoryItems(),
	})
}

func (h *Handler) CreateCatalogEntry(w http.ResponseWriter, r *http.Request, c call) {
	if !c.actor.Role.AtLeast(role.Roles.Supervisor) {
		aqm.RespondError(w, http.StatusForbidden, "Adding services requires supervisor or above")
		return
	}

	var req CreateCatalogEntryRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}

	entry, err := c.session.Engine.Catalog().Create(r.Context(), jobcard.CatalogEntry{
		Name:            req.Name,
		BasePrice:       req.BasePrice,
		DefaultDuration: req.DefaultDuration,
		EstimatedTime:   req.EstimatedTime,
	})
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}

	aqm.Respond(w, http.StatusCreated, entry, nil)
}

func (h *Handler) DeleteCatalogEntry(w http.ResponseWriter, r *http.Request, c call) {
	if !c.actor.Role.AtLeast(role.Roles.Supervisor) {
		aqm.RespondError(w, http.StatusForbidden, "Removing services requires supervisor or above")
		return
	}

	if err := c.session.Engine.Catalog().Delete(r.Context(), chi.URLParam(r, "entryID")); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Parties and staff

func (h *Handler) SelectCustomer(w http.ResponseWriter, r *http.Request, c call) {
	var req SelectCustomerRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.SelectCustomer(r.Context(), c.actor, req.CustomerID); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request, c call) {
	var req CreateCustomerRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	_, err := c.session.Engine.CreateCustomer(r.Context(), c.actor, jobcard.Customer{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) SelectVehicle(w http.ResponseWriter, r *http.Request, c call) {
	var req SelectVehicleRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.SelectVehicle(r.Context(), c.actor, req.VehicleID); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) CreateVehicle(w http.ResponseWriter, r *http.Request, c call) {
	var req CreateVehicleRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	_, err := c.session.Engine.CreateVehicle(r.Context(), c.actor, jobcard.Vehicle{
		CustomerID: req.CustomerID,
		Make:       req.Make,
		Model:      req.Model,
		Year:       req.Year,
		Plate:      req.Plate,
	})
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) AssignTechnician(w http.ResponseWriter, r *http.Request, c call) {
	var req AssignStaffRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.AssignTechnician(r.Context(), c.actor, req.StaffID); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) AssignSupervisor(w http.ResponseWriter, r *http.Request, c call) {
	var req AssignStaffRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.AssignSupervisor(r.Context(), c.actor, req.StaffID); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) SetNotes(w http.ResponseWriter, r *http.Request, c call) {
	var req TextRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.SetNotes(r.Context(), c.actor, req.Text); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) SetOverallComment(w http.ResponseWriter, r *http.Request, c call) {
	var req TextRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.SetOverallComment(r.Context(), c.actor, req.Text); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

// Line items

func (h *Handler) AddLineItem(w http.ResponseWriter, r *http.Request, c call) {
	var req AddLineItemRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	item, err := c.session.Engine.AddLineItem(r.Context(), c.actor, req.Item, req.Capture)
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondItem(w, c, item)
}

func (h *Handler) AddInventoryItem(w http.ResponseWriter, r *http.Request, c call) {
	var req AddInventoryItemRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	item, err := c.session.Engine.AddInventoryItem(r.Context(), c.actor, req.InventoryItemID)
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondItem(w, c, item)
}

func (h *Handler) ReplaceLineItems(w http.ResponseWriter, r *http.Request, c call) {
	var req ReplaceLineItemsRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.ReplaceLineItems(r.Context(), c.actor, req.Items); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) RemoveLineItem(w http.ResponseWriter, r *http.Request, c call) {
	if err := c.session.Engine.RemoveLineItem(r.Context(), c.actor, chi.URLParam(r, "itemID")); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) EditLineItemPrice(w http.ResponseWriter, r *http.Request, c call) {
	var req PriceRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.EditLineItemPrice(r.Context(), c.actor, chi.URLParam(r, "itemID"), req.Price); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) EditLineItemDuration(w http.ResponseWriter, r *http.Request, c call) {
	var req DurationRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.EditLineItemDuration(r.Context(), c.actor, chi.URLParam(r, "itemID"), req.Minutes); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) ToggleLineItem(w http.ResponseWriter, r *http.Request, c call) {
	if err := c.session.Engine.ToggleLineItemCompleted(r.Context(), c.actor, chi.URLParam(r, "itemID")); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) CaptureLineItemDetails(w http.ResponseWriter, r *http.Request, c call) {
	var req jobcard.DetailCapture
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}
	if err := c.session.Engine.CaptureLineItemDetails(r.Context(), c.actor, chi.URLParam(r, "itemID"), req); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

// Transitions

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request, c call) {
	var req CreateJobRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}

	job, err := c.session.Engine.Create(r.Context(), c.actor, jobcard.CreateOptions{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}

	c.log.Info("job card created", "job_id", job.ID)
	h.startFeed(r.Context(), c.session, c.log)

	aqm.Respond(w, http.StatusCreated, h.sessionResponse(c), nil)
}

func (h *Handler) StartWork(w http.ResponseWriter, r *http.Request, c call) {
	if err := c.session.Engine.StartWork(r.Context(), c.actor); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

// MarkComplete reports an invoice failure after a successful completion in
// the body with status 200; the completion stands.
func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request, c call) {
	invoice, err := c.session.Engine.MarkComplete(r.Context(), c.actor)

	var partial *jobcard.PartialCompletionError
	if err != nil && !errors.As(err, &partial) {
		h.respondEngineError(w, c.log, err)
		return
	}

	resp := CompletionResponse{Invoice: invoice}
	if partial != nil {
		c.log.Error("invoice creation failed after completion", "job_id", partial.JobID, "error", partial.Err)
		resp.InvoiceError = partial.Error()
	}
	resp.SessionResponse = h.sessionResponse(c)

	aqm.RespondSuccess(w, resp)
}

func (h *Handler) SaveJob(w http.ResponseWriter, r *http.Request, c call) {
	if err := c.session.Engine.Save(r.Context(), c.actor); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request, c call) {
	if err := c.session.Engine.Delete(r.Context(), c.actor); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	c.session.attachFeed(nil)
	h.respondView(w, c)
}

func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request, c call) {
	if err := c.session.Engine.DiscardDraft(r.Context()); err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}
	h.respondView(w, c)
}

func (h *Handler) respondItem(w http.ResponseWriter, c call, item *jobcard.ServiceLineItem) {
	aqm.RespondSuccess(w, LineItemResponse{
		SessionResponse: h.sessionResponse(c),
		Item:            item,
	})
}

func (h *Handler) sessionResponse(c call) SessionResponse {
	return SessionResponse{
		SessionID: c.session.ID,
		View:      c.session.Engine.View(c.actor),
		Notices:   c.session.DrainNotices(),
	}
}
