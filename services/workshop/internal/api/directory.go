package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aquamarinepk/aqm"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

// Directory implements the customer and vehicle directories.
type Directory struct {
	customers *aqm.ServiceClient
	vehicles  *aqm.ServiceClient
}

func NewDirectory(customers, vehicles *aqm.ServiceClient) *Directory {
	return &Directory{customers: customers, vehicles: vehicles}
}

func (d *Directory) ListCustomers(ctx context.Context, filter jobcard.CustomerFilter) ([]jobcard.Customer, error) {
	if d == nil || d.customers == nil {
		return nil, fmt.Errorf("customer client not configured")
	}

	if filter.ID != "" {
		resp, err := d.customers.Get(ctx, resCustomers, filter.ID)
		if err != nil {
			return nil, classify(err, "get customer "+filter.ID)
		}
		var customer jobcard.Customer
		if err := decodeSuccessResponse(resp, &customer); err != nil {
			return nil, fmt.Errorf("failed to decode customer: %w", err)
		}
		return []jobcard.Customer{customer}, nil
	}

	var resp *aqm.SuccessResponse
	var err error
	if q := strings.TrimSpace(filter.Query); q != "" {
		path := fmt.Sprintf("/%s?%s", resCustomers, url.Values{"q": {q}}.Encode())
		resp, err = d.customers.Request(ctx, "GET", path, nil)
	} else {
		resp, err = d.customers.List(ctx, resCustomers)
	}
	if err != nil {
		return nil, classify(err, "list customers")
	}
	var customers []jobcard.Customer
	if err := decodeSuccessResponse(resp, &customers); err != nil {
		return nil, fmt.Errorf("failed to decode customers: %w", err)
	}
	return customers, nil
}

func (d *Directory) CreateCustomer(ctx context.Context, customer jobcard.Customer) (*jobcard.Customer, error) {
	if d == nil || d.customers == nil {
		return nil, fmt.Errorf("customer client not configured")
	}
	resp, err := d.customers.Create(ctx, resCustomers, customer)
	if err != nil {
		return nil, classify(err, "create customer")
	}
	var created jobcard.Customer
	if err := decodeSuccessResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("failed to decode customer: %w", err)
	}
	return &created, nil
}

func (d *Directory) ListVehicles(ctx context.Context, filter jobcard.VehicleFilter) ([]jobcard.Vehicle, error) {
	if d == nil || d.vehicles == nil {
		return nil, fmt.Errorf("vehicle client not configured")
	}

	switch {
	case filter.ID != "":
		resp, err := d.vehicles.Get(ctx, resVehicles, filter.ID)
		if err != nil {
			return nil, classify(err, "get vehicle "+filter.ID)
		}
		var vehicle jobcard.Vehicle
		if err := decodeSuccessResponse(resp, &vehicle); err != nil {
			return nil, fmt.Errorf("failed to decode vehicle: %w", err)
		}
		return []jobcard.Vehicle{vehicle}, nil
	case filter.CustomerID != "":
		path := fmt.Sprintf("/%s/%s/%s", resCustomers, filter.CustomerID, resVehicles)
		resp, err := d.vehicles.Request(ctx, "GET", path, nil)
		if err != nil {
			return nil, classify(err, "list vehicles for customer "+filter.CustomerID)
		}
		var vehicles []jobcard.Vehicle
		if err := decodeSuccessResponse(resp, &vehicles); err != nil {
			return nil, fmt.Errorf("failed to decode vehicles: %w", err)
		}
		return vehicles, nil
	default:
		resp, err := d.vehicles.List(ctx, resVehicles)
		if err != nil {
			return nil, classify(err, "list vehicles")
		}
		var vehicles []jobcard.Vehicle
		if err := decodeSuccessResponse(resp, &vehicles); err != nil {
			return nil, fmt.Errorf("failed to decode vehicles: %w", err)
		}
		return vehicles, nil
	}
}

func (d *Directory) CreateVehicle(ctx context.Context, vehicle jobcard.Vehicle) (*jobcard.Vehicle, error) {
	if d == nil || d.vehicles == nil {
		return nil, fmt.Errorf("vehicle client not configured")
	}
	resp, err := d.vehicles.Create(ctx, resVehicles, vehicle)
	if err != nil {
		return nil, classify(err, "create vehicle")
	}
	var created jobcard.Vehicle
	if err := decodeSuccessResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("failed to decode vehicle: %w", err)
	}
	return &created, nil
}
