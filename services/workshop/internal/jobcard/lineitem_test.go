package jobcard

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
)

const storeID = "507f1f77bcf86cd799439011"

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  RawLineItem
		want float64
	}{
		{name: "canonicalPrice", raw: RawLineItem{"price": 80.0}, want: 80},
		{name: "legacyEstimatedCost", raw: RawLineItem{"estimatedCost": 120.5}, want: 120.5},
		{name: "numericString", raw: RawLineItem{"cost": "45.25"}, want: 45.25},
		{name: "basePriceFallback", raw: RawLineItem{"basePrice": 30}, want: 30},
		{name: "skipsInvalidFirstKey", raw: RawLineItem{"price": "abc", "cost": 40.0}, want: 40},
		{name: "skipsNegative", raw: RawLineItem{"price": -3.0, "basePrice": 10.0}, want: 10},
		{name: "nanIsZero", raw: RawLineItem{"price": math.NaN()}, want: 0},
		{name: "infinityIsZero", raw: RawLineItem{"price": math.Inf(1)}, want: 0},
		{name: "missingIsZero", raw: RawLineItem{"name": "Wash"}, want: 0},
		{name: "boolIsZero", raw: RawLineItem{"price": true}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if got.Price != tt.want {
				t.Errorf("Price = %v, want %v", got.Price, tt.want)
			}
		})
	}
}

func TestNormalizeNumericTotality(t *testing.T) {
	garbage := []any{nil, "", "x", "-1", -1.0, math.NaN(), math.Inf(-1), true, map[string]any{}, []any{1}}
	for _, price := range garbage {
		for _, duration := range garbage {
			item := Normalize(RawLineItem{
				"price":           price,
				"estimatedCost":   price,
				"durationMinutes": duration,
				"estimatedTime":   duration,
				"duration":        duration,
			})
			if math.IsNaN(item.Price) || math.IsInf(item.Price, 0) || item.Price < 0 {
				t.Fatalf("Price = %v for input %v", item.Price, price)
			}
			if math.IsNaN(item.DurationMinutes) || math.IsInf(item.DurationMinutes, 0) || item.DurationMinutes < 0 {
				t.Fatalf("DurationMinutes = %v for input %v", item.DurationMinutes, duration)
			}
		}
	}

	huge := "1" + strings.Repeat("0", 307) + "h"
	if got := ParseDuration(huge); got != 0 {
		t.Errorf("ParseDuration(overflowing hours) = %v, want 0", got)
	}
	if item := Normalize(RawLineItem{"name": "Rebuild", "estimatedTime": huge}); item.DurationMinutes != 0 {
		t.Errorf("DurationMinutes = %v for overflowing estimate, want 0", item.DurationMinutes)
	}

	broken := ServiceLineItem{ID: "i9", Name: "Oil change", Price: math.NaN(), DurationMinutes: math.Inf(1)}
	item := Normalize(broken.Raw())
	if item.ID != "i9" || item.Name != "Oil change" {
		t.Errorf("Normalize(Raw()) = %+v, want id and name kept", item)
	}
	if item.Price != 0 || item.DurationMinutes != 0 {
		t.Errorf("Normalize(Raw()) numbers = %v / %v, want 0 / 0", item.Price, item.DurationMinutes)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{input: "1h 30m", want: 90},
		{input: "1.5h", want: 90},
		{input: "2h", want: 120},
		{input: "45m", want: 45},
		{input: "30 min", want: 30},
		{input: "2 hours 15 minutes", want: 135},
		{input: "90", want: 90},
		{input: " 20 ", want: 20},
		{input: "", want: 0},
		{input: "abc", want: 0},
		{input: "-5", want: 0},
		{input: "NaN", want: 0},
		{input: "0.25h", want: 15},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseDuration(tt.input); got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[float64]string{
		90:  "1h 30m",
		120: "2h",
		45:  "45m",
		0:   "",
		-10: "",
	}
	for minutes, want := range tests {
		if got := FormatDuration(minutes); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", minutes, got, want)
		}
	}
}

func TestNormalizeDuration(t *testing.T) {
	tests := []struct {
		name     string
		raw      RawLineItem
		minutes  float64
		estimate string
	}{
		{name: "explicitMinutesWin", raw: RawLineItem{"durationMinutes": 30.0, "estimatedTime": "2h"}, minutes: 30, estimate: "2h"},
		{name: "parsedEstimate", raw: RawLineItem{"estimatedTime": "1h 30m"}, minutes: 90, estimate: "1h 30m"},
		{name: "legacyDurationText", raw: RawLineItem{"duration": "1.5h"}, minutes: 90, estimate: "1h 30m"},
		{name: "legacyDurationNumber", raw: RawLineItem{"duration": 45.0}, minutes: 45, estimate: "45m"},
		{name: "unparseable", raw: RawLineItem{"estimatedTime": "soon"}, minutes: 0, estimate: "soon"},
		{name: "absent", raw: RawLineItem{}, minutes: 0, estimate: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if got.DurationMinutes != tt.minutes {
				t.Errorf("DurationMinutes = %v, want %v", got.DurationMinutes, tt.minutes)
			}
			if got.EstimatedTime != tt.estimate {
				t.Errorf("EstimatedTime = %q, want %q", got.EstimatedTime, tt.estimate)
			}
		})
	}
}

func TestNormalizeDetails(t *testing.T) {
	tests := []struct {
		name string
		raw  RawLineItem
		want *Details
	}{
		{
			name: "canonicalBeatsAliases",
			raw: RawLineItem{
				"details":    map[string]any{"oilGrade": "5W-30"},
				"oilGrade":   "10W-40",
				"oil_filter": " OF-1 ",
				"filter":     "X",
				"brand":      "Castrol",
			},
			want: &Details{OilGrade: "5W-30", OilFilter: "OF-1", OilMake: "Castrol"},
		},
		{
			name: "blankCanonicalFallsBack",
			raw:  RawLineItem{"details": map[string]any{"oilGrade": "  "}, "grade": "0W-20"},
			want: &Details{OilGrade: "0W-20"},
		},
		{
			name: "camelBeforeSnake",
			raw:  RawLineItem{"oilMake": "Mobil", "oil_make": "Shell", "custom_note": "check plug"},
			want: &Details{OilMake: "Mobil", CustomNote: "check plug"},
		},
		{
			name: "allBlankIsNil",
			raw:  RawLineItem{"details": map[string]any{"oilFilter": ""}, "note": "   "},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if !reflect.DeepEqual(got.Details, tt.want) {
				t.Errorf("Details = %+v, want %+v", got.Details, tt.want)
			}
		})
	}
}

func TestNormalizeServiceIDGuard(t *testing.T) {
	tests := []struct {
		name string
		raw  RawLineItem
		want string
	}{
		{name: "validServiceID", raw: RawLineItem{"serviceId": storeID}, want: storeID},
		{name: "slugDropped", raw: RawLineItem{"serviceId": "svc-oil-change"}, want: ""},
		{name: "shortHexDropped", raw: RawLineItem{"serviceId": "507f1f77"}, want: ""},
		{name: "catalogIDFallback", raw: RawLineItem{"catalogId": storeID}, want: storeID},
		{name: "invalidServiceIDFallsToCatalogID", raw: RawLineItem{"serviceId": "x", "catalogId": storeID}, want: storeID},
		{name: "inventoryNeverReferencesCatalog", raw: RawLineItem{"isInventoryItem": true, "serviceId": storeID}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw).ServiceID; got != tt.want {
				t.Errorf("ServiceID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeInventoryItem(t *testing.T) {
	got := Normalize(RawLineItem{
		"isInventoryItem": true,
		"inventoryItemId": "inv-1",
		"name":            "Oil filter",
		"price":           12.0,
		"currentStock":    4.0,
		"minStock":        2.0,
		"unit":            "pcs",
	})

	if !got.IsInventoryItem {
		t.Fatal("IsInventoryItem = false, want true")
	}
	if got.InventoryItemID != "inv-1" {
		t.Errorf("InventoryItemID = %q, want inv-1", got.InventoryItemID)
	}
	want := &StockLevel{Current: 4, Min: 2, Unit: "pcs"}
	if !reflect.DeepEqual(got.Stock, want) {
		t.Errorf("Stock = %+v, want %+v", got.Stock, want)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raws := []RawLineItem{
		{"name": "Oil change", "estimatedCost": "55", "duration": "1h 30m", "oil_grade": "5W-30", "brand": "Castrol"},
		{"id": "a1", "serviceId": storeID, "price": 20.0, "durationMinutes": 15.0, "completed": true},
		{"serviceName": "Brakes", "cost": 90, "estimatedTime": "2h", "isCompleted": "true", "catalogId": "bad"},
		{"title": "Tyres", "selectedOptions": map[string]any{"size": " 16 ", "extras": []any{"valve", "valve", "cap"}}},
		{"name": "Inspection", "comment": "noisy belt", "parts": []any{"belt", " belt ", ""}},
		{"isInventoryItem": true, "inventoryItemId": "inv-7", "name": "Wiper", "price": 9.5, "stock": map[string]any{"current": 3, "min": 5}},
		{},
	}

	for _, raw := range raws {
		once := Normalize(raw)
		twice := Normalize(once.Raw())
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("Normalize not idempotent for %v:\n once  = %+v\n twice = %+v", raw, once, twice)
		}
	}
}

func TestNormalizeKeepsID(t *testing.T) {
	if got := Normalize(RawLineItem{"id": "keep-me"}).ID; got != "keep-me" {
		t.Errorf("ID = %q, want keep-me", got)
	}
	if got := Normalize(RawLineItem{}).ID; got == "" {
		t.Error("ID is empty, want generated id")
	}
}

func TestNormalizeSubOptionsAndParts(t *testing.T) {
	got := Normalize(RawLineItem{
		"subOptionValues": map[string]any{"size": "16", "extras": []any{"a", "b", "a"}, "empty": ""},
		"partsUsed":       []any{"pad", "rotor", "pad"},
	})

	want := map[string]SubOptionValue{"size": Single("16"), "extras": Multiple("a", "b")}
	if !reflect.DeepEqual(got.SubOptionValues, want) {
		t.Errorf("SubOptionValues = %+v, want %+v", got.SubOptionValues, want)
	}
	if !reflect.DeepEqual(got.PartsUsed, []string{"pad", "rotor"}) {
		t.Errorf("PartsUsed = %v, want [pad rotor]", got.PartsUsed)
	}
}

func TestRawLineItemShape(t *testing.T) {
	tests := []struct {
		name string
		raw  RawLineItem
		want Shape
	}{
		{name: "canonical", raw: RawLineItem{"price": 1.0, "durationMinutes": 2.0}, want: ShapeCanonical},
		{name: "legacy", raw: RawLineItem{"estimatedCost": 1.0, "duration": "2h"}, want: ShapeLegacy},
		{name: "inventoryFlag", raw: RawLineItem{"isInventoryItem": true}, want: ShapeInventory},
		{name: "inventoryReference", raw: RawLineItem{"inventoryItemId": "inv-1"}, want: ShapeInventory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.raw.Shape(); got != tt.want {
				t.Errorf("Shape() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubOptionValueJSON(t *testing.T) {
	var single SubOptionValue
	if err := json.Unmarshal([]byte(`"synthetic"`), &single); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if single.Multi || single.Text != "synthetic" {
		t.Errorf("single = %+v", single)
	}

	var multi SubOptionValue
	if err := json.Unmarshal([]byte(`["a","b"]`), &multi); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !multi.Multi || !reflect.DeepEqual(multi.Values, []string{"a", "b"}) {
		t.Errorf("multi = %+v", multi)
	}

	var bad SubOptionValue
	if err := json.Unmarshal([]byte(`5`), &bad); err == nil {
		t.Error("Unmarshal(5) error = nil, want error")
	}
}
