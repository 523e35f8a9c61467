package workshop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/aquamarinepk/aqm"
	"github.com/go-playground/validator/v10"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

const MaxBodyBytes = 1 << 20

type OpenSessionRequest struct {
	JobID string `json:"jobId"`
}

type SelectCustomerRequest struct {
	CustomerID string `json:"customerId" validate:"required"`
}

type SelectVehicleRequest struct {
	VehicleID string `json:"vehicleId" validate:"required"`
}

type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"omitempty,max=50"`
	Email string `json:"email" validate:"omitempty,max=200"`
}

type CreateVehicleRequest struct {
	CustomerID string `json:"customerId"`
	Make       string `json:"make" validate:"required,max=100"`
	Model      string `json:"model" validate:"required,max=100"`
	Year       int    `json:"year" validate:"omitempty,gte=1900,lte=2100"`
	Plate      string `json:"licensePlate" validate:"omitempty,max=20"`
}

type AssignStaffRequest struct {
	StaffID string `json:"staffId"`
}

type TextRequest struct {
	Text string `json:"text" validate:"max=10000"`
}

type AddLineItemRequest struct {
	Item    jobcard.RawLineItem    `json:"item" validate:"required"`
	Capture *jobcard.DetailCapture `json:"capture,omitempty"`
}

type AddInventoryItemRequest struct {
	InventoryItemID string `json:"inventoryItemId" validate:"required"`
}

type ReplaceLineItemsRequest struct {
	Items []jobcard.RawLineItem `json:"items"`
}

type PriceRequest struct {
	Price float64 `json:"price" validate:"gte=0"`
}

type DurationRequest struct {
	Minutes float64 `json:"minutes" validate:"gte=0"`
}

type CreateJobRequest struct {
	Title       string `json:"title" validate:"max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type PostCommentRequest struct {
	Text        string               `json:"text" validate:"max=10000"`
	Attachments []jobcard.Attachment `json:"attachments" validate:"max=20,dive"`
}

type CreateCatalogEntryRequest struct {
	Name            string  `json:"name" validate:"required,max=200"`
	BasePrice       float64 `json:"basePrice" validate:"gte=0"`
	DefaultDuration float64 `json:"durationMinutes" validate:"gte=0"`
	EstimatedTime   string  `json:"estimatedTime" validate:"max=50"`
}

// payloadValidator wraps go-playground/validator and reports the first
// failing field by its JSON name.
type payloadValidator struct {
	validator *validator.Validate
}

func newPayloadValidator() *payloadValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &payloadValidator{validator: v}
}

func (v *payloadValidator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &jobcard.ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return &jobcard.ValidationError{Message: err.Error()}
	}
	return nil
}

// decodePayload reads a JSON body into dest and validates it. An empty body
// decodes as an empty object.
func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request, log aqm.Logger, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	if err := json.Unmarshal(body, dest); err != nil {
		log.Debug("failed to decode request body", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}

	if err := h.validator.Validate(dest); err != nil {
		log.Debug("invalid request payload", "error", err)
		aqm.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}

	return true
}
