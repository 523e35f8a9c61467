package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/aquamarinepk/aqm"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

const (
	resJobCards  = "jobcards"
	resInvoices  = "invoices"
	resComments  = "comments"
	resServices  = "services"
	resInventory = "inventory"
	resCustomers = "customers"
	resVehicles  = "vehicles"
)

// Resources lists every REST resource the workshop talks to.
var Resources = []string{resJobCards, resInvoices, resComments, resServices, resInventory, resCustomers, resVehicles}

// NewServiceClient returns a client for resource, reading
// services.<resource>.url and falling back to services.api.url.
func NewServiceClient(config *aqm.Config, resource string) (*aqm.ServiceClient, error) {
	url, _ := config.GetString(fmt.Sprintf("services.%s.url", resource))
	if url == "" {
		url, _ = config.GetString("services.api.url")
	}
	if url == "" {
		return nil, fmt.Errorf("services.%s.url or services.api.url is required", resource)
	}
	client := aqm.NewServiceClient(url)
	if client == nil {
		return nil, fmt.Errorf("failed to create %s service client", resource)
	}
	return client, nil
}

var (
	sessionExpiredPattern = regexp.MustCompile(`(?i)\b(?:status(?:\s+code)?|code|http(?:/\d(?:\.\d)?)?)[\s:=]*401\b|\bunauthorized\b|\btoken expired\b`)
	notFoundPattern       = regexp.MustCompile(`(?i)\b(?:status(?:\s+code)?|code|http(?:/\d(?:\.\d)?)?)[\s:=]*404\b|\bnot found\b`)
)

// classify maps transport failures onto the engine's error taxonomy. Only a
// reported status counts: ids and paths that happen to contain 401 or 404
// stay plain remote errors.
func classify(err error, action string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case sessionExpiredPattern.MatchString(msg):
		return fmt.Errorf("failed to %s: %w: %w", action, jobcard.ErrSessionExpired, err)
	case notFoundPattern.MatchString(msg):
		return fmt.Errorf("failed to %s: %w: %w", action, jobcard.ErrNotFound, err)
	default:
		return fmt.Errorf("failed to %s: %w", action, err)
	}
}

// decodeSuccessResponse copies the dynamic response payload into dest. Store
// documents that only carry "_id" have it exposed as "id".
func decodeSuccessResponse(resp *aqm.SuccessResponse, dest interface{}) error {
	if resp == nil {
		return errors.New("nil success response")
	}

	raw, err := json.Marshal(promoteIDs(resp.Data))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}

	return nil
}

func promoteIDs(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		if _, ok := v["id"]; !ok {
			if oid, ok := v["_id"]; ok {
				out := make(map[string]interface{}, len(v)+1)
				for k, val := range v {
					out[k] = val
				}
				out["id"] = oid
				return out
			}
		}
		return v
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = promoteIDs(item)
		}
		return out
	default:
		return data
	}
}
