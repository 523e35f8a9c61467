package jobcard

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Details is the fixed detail set captured by the legacy oil change service.
type Details struct {
	OilFilter  string `json:"oilFilter,omitempty"`
	OilGrade   string `json:"oilGrade,omitempty"`
	OilMake    string `json:"oilMake,omitempty"`
	CustomNote string `json:"customNote,omitempty"`
}

func (d *Details) IsEmpty() bool {
	return d == nil || (d.OilFilter == "" && d.OilGrade == "" && d.OilMake == "" && d.CustomNote == "")
}

// SubOptionValue holds either a single string or a set of strings.
type SubOptionValue struct {
	Text   string
	Values []string
	Multi  bool
}

func Single(text string) SubOptionValue {
	return SubOptionValue{Text: text}
}

func Multiple(values ...string) SubOptionValue {
	return SubOptionValue{Values: values, Multi: true}
}

func (v SubOptionValue) MarshalJSON() ([]byte, error) {
	if v.Multi {
		values := v.Values
		if values == nil {
			values = []string{}
		}
		return json.Marshal(values)
	}
	return json.Marshal(v.Text)
}

func (v *SubOptionValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*v = SubOptionValue{Text: text}
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("sub-option value must be a string or list of strings: %w", err)
	}
	*v = SubOptionValue{Values: values, Multi: true}
	return nil
}

func (v SubOptionValue) isBlank() bool {
	if v.Multi {
		return len(v.Values) == 0
	}
	return v.Text == ""
}

// StockLevel is display data carried by line items sourced from inventory.
type StockLevel struct {
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Unit    string  `json:"unit,omitempty"`
}

// ServiceLineItem is the canonical line item. Price and DurationMinutes are
// always finite and non-negative.
type ServiceLineItem struct {
	ID              string                    `json:"id"`
	ServiceID       string                    `json:"serviceId,omitempty"`
	Name            string                    `json:"name"`
	Price           float64                   `json:"price"`
	DurationMinutes float64                   `json:"durationMinutes"`
	EstimatedTime   string                    `json:"estimatedTime,omitempty"`
	Completed       bool                      `json:"completed"`
	Details         *Details                  `json:"details,omitempty"`
	SubOptionValues map[string]SubOptionValue `json:"subOptionValues,omitempty"`
	Comments        string                    `json:"comments,omitempty"`
	PartsUsed       []string                  `json:"partsUsed,omitempty"`
	IsInventoryItem bool                      `json:"isInventoryItem,omitempty"`
	InventoryItemID string                    `json:"inventoryItemId,omitempty"`
	Stock           *StockLevel               `json:"stock,omitempty"`
}

// Raw converts the item back to the decoding boundary shape.
func (i ServiceLineItem) Raw() RawLineItem {
	raw := RawLineItem{
		"id":              i.ID,
		"name":            i.Name,
		"price":           finiteOrZero(i.Price),
		"durationMinutes": finiteOrZero(i.DurationMinutes),
		"completed":       i.Completed,
	}
	for key, value := range map[string]string{
		"serviceId":       i.ServiceID,
		"estimatedTime":   i.EstimatedTime,
		"comments":        i.Comments,
		"inventoryItemId": i.InventoryItemID,
	} {
		if value != "" {
			raw[key] = value
		}
	}
	if i.IsInventoryItem {
		raw["isInventoryItem"] = true
	}
	if !i.Details.IsEmpty() {
		details := map[string]any{}
		for key, value := range map[string]string{
			"oilFilter":  i.Details.OilFilter,
			"oilGrade":   i.Details.OilGrade,
			"oilMake":    i.Details.OilMake,
			"customNote": i.Details.CustomNote,
		} {
			if value != "" {
				details[key] = value
			}
		}
		raw["details"] = details
	}
	if len(i.SubOptionValues) > 0 {
		options := make(map[string]any, len(i.SubOptionValues))
		for key, v := range i.SubOptionValues {
			if v.Multi {
				options[key] = append([]string{}, v.Values...)
			} else {
				options[key] = v.Text
			}
		}
		raw["subOptionValues"] = options
	}
	if len(i.PartsUsed) > 0 {
		raw["partsUsed"] = append([]string(nil), i.PartsUsed...)
	}
	if i.Stock != nil {
		stock := map[string]any{
			"current": finiteOrZero(i.Stock.Current),
			"min":     finiteOrZero(i.Stock.Min),
		}
		if i.Stock.Unit != "" {
			stock["unit"] = i.Stock.Unit
		}
		raw["stock"] = stock
	}
	return raw
}

func (i ServiceLineItem) clone() ServiceLineItem {
	out := i
	if i.Details != nil {
		d := *i.Details
		out.Details = &d
	}
	if i.SubOptionValues != nil {
		out.SubOptionValues = make(map[string]SubOptionValue, len(i.SubOptionValues))
		for k, v := range i.SubOptionValues {
			if v.Values != nil {
				v.Values = append([]string(nil), v.Values...)
			}
			out.SubOptionValues[k] = v
		}
	}
	if i.PartsUsed != nil {
		out.PartsUsed = append([]string(nil), i.PartsUsed...)
	}
	if i.Stock != nil {
		s := *i.Stock
		out.Stock = &s
	}
	return out
}

func cloneItems(items []ServiceLineItem) []ServiceLineItem {
	if items == nil {
		return nil
	}
	out := make([]ServiceLineItem, len(items))
	for i := range items {
		out[i] = items[i].clone()
	}
	return out
}

// Shape identifies which historical representation a raw record uses.
type Shape string

const (
	ShapeCanonical Shape = "canonical"
	ShapeLegacy    Shape = "legacy"
	ShapeInventory Shape = "inventory"
)

// RawLineItem is a line item as decoded from the remote tier or a client,
// in any of its known shapes.
type RawLineItem map[string]any

func (r RawLineItem) Shape() Shape {
	if flag, _ := boolValue(r["isInventoryItem"]); flag {
		return ShapeInventory
	}
	if stringValue(r["inventoryItemId"]) != "" && stringValue(r["serviceId"]) == "" && stringValue(r["catalogId"]) == "" {
		return ShapeInventory
	}
	_, hasPrice := numberValue(r["price"])
	_, hasDuration := numberValue(r["durationMinutes"])
	if hasPrice && hasDuration {
		return ShapeCanonical
	}
	return ShapeLegacy
}

var (
	priceKeys    = []string{"price", "estimatedCost", "cost", "basePrice"}
	estimateKeys = []string{"estimatedTime", "duration"}
	serviceKeys  = []string{"serviceId", "catalogId"}

	detailAliases = []struct {
		key     string
		aliases []string
		set     func(*Details, string)
	}{
		{"oilFilter", []string{"oilFilter", "oil_filter", "filter"}, func(d *Details, v string) { d.OilFilter = v }},
		{"oilGrade", []string{"oilGrade", "oil_grade", "grade"}, func(d *Details, v string) { d.OilGrade = v }},
		{"oilMake", []string{"oilMake", "oil_make", "brand"}, func(d *Details, v string) { d.OilMake = v }},
		{"customNote", []string{"customNote", "custom_note", "note"}, func(d *Details, v string) { d.CustomNote = v }},
	}
)

// Normalize canonicalizes a raw line item. It never fails and is idempotent:
// Normalize(Normalize(r).Raw()) equals Normalize(r).
func Normalize(raw RawLineItem) ServiceLineItem {
	shape := raw.Shape()
	item := ServiceLineItem{
		ID:        firstString(raw, "id"),
		Name:      firstString(raw, "name", "serviceName", "title"),
		Price:     firstNumber(raw, priceKeys...),
		Comments:  firstString(raw, "comments", "comment"),
		PartsUsed: stringSet(raw["partsUsed"]),
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.PartsUsed == nil {
		item.PartsUsed = stringSet(raw["parts"])
	}

	item.DurationMinutes = normalizeDuration(raw)
	item.EstimatedTime = firstString(raw, "estimatedTime")
	if item.EstimatedTime == "" && item.DurationMinutes > 0 {
		item.EstimatedTime = FormatDuration(item.DurationMinutes)
	}

	item.Completed, _ = boolValue(raw["completed"])
	if !item.Completed {
		item.Completed, _ = boolValue(raw["isCompleted"])
	}

	item.Details = normalizeDetails(raw)
	item.SubOptionValues = normalizeSubOptions(raw["subOptionValues"])
	if item.SubOptionValues == nil {
		item.SubOptionValues = normalizeSubOptions(raw["selectedOptions"])
	}

	switch shape {
	case ShapeInventory:
		item.IsInventoryItem = true
		item.InventoryItemID = firstString(raw, "inventoryItemId")
		item.Stock = normalizeStock(raw)
	default:
		for _, key := range serviceKeys {
			if candidate := strings.TrimSpace(stringValue(raw[key])); IsStoreID(candidate) {
				item.ServiceID = candidate
				break
			}
		}
	}

	return item
}

// IsStoreID reports whether id has the store's 24-character hex shape.
func IsStoreID(id string) bool {
	return primitive.IsValidObjectID(id)
}

func normalizeDuration(raw RawLineItem) float64 {
	if minutes, ok := numberValue(raw["durationMinutes"]); ok {
		return minutes
	}
	for _, key := range estimateKeys {
		switch v := raw[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return ParseDuration(v)
			}
		case nil:
		default:
			if minutes, ok := numberValue(v); ok {
				return minutes
			}
		}
	}
	return 0
}

func normalizeDetails(raw RawLineItem) *Details {
	canonical, _ := raw["details"].(map[string]any)
	var d Details
	for _, field := range detailAliases {
		value := strings.TrimSpace(stringValue(canonical[field.key]))
		if value == "" {
			for _, alias := range field.aliases {
				if value = strings.TrimSpace(stringValue(raw[alias])); value != "" {
					break
				}
			}
		}
		if value != "" {
			field.set(&d, value)
		}
	}
	if d.IsEmpty() {
		return nil
	}
	return &d
}

func normalizeSubOptions(value any) map[string]SubOptionValue {
	source, ok := value.(map[string]any)
	if !ok || len(source) == 0 {
		return nil
	}
	out := make(map[string]SubOptionValue, len(source))
	for key, v := range source {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		var normalized SubOptionValue
		switch typed := v.(type) {
		case string:
			normalized = Single(strings.TrimSpace(typed))
		case []any, []string:
			normalized = Multiple(stringSet(typed)...)
		default:
			normalized = Single(strings.TrimSpace(stringValue(typed)))
		}
		if !normalized.isBlank() {
			out[key] = normalized
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeStock(raw RawLineItem) *StockLevel {
	if nested, ok := raw["stock"].(map[string]any); ok {
		current, _ := numberValue(nested["current"])
		minimum, _ := numberValue(nested["min"])
		return &StockLevel{Current: current, Min: minimum, Unit: strings.TrimSpace(stringValue(nested["unit"]))}
	}
	current, hasCurrent := numberValue(raw["currentStock"])
	minimum, hasMin := numberValue(raw["minStock"])
	unit := strings.TrimSpace(stringValue(raw["unit"]))
	if !hasCurrent && !hasMin && unit == "" {
		return nil
	}
	return &StockLevel{Current: current, Min: minimum, Unit: unit}
}

var (
	hoursPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*h`)
	minutesPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*m`)
)

// ParseDuration reads a free-text estimate such as "2h", "30m", "1.5h" or
// "1h 30m" as minutes. A bare number is minutes. Anything unparseable is 0.
func ParseDuration(text string) float64 {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0
	}

	var total float64
	matched := false
	if m := hoursPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			total += v * 60
			matched = true
		}
	}
	if m := minutesPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			total += v
			matched = true
		}
	}
	if !matched {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !finiteNonNegative(v) {
			return 0
		}
		total = v
	}
	if !finiteNonNegative(total) {
		return 0
	}
	return math.Round(total)
}

// FormatDuration renders minutes as "1h 30m", "2h" or "45m".
func FormatDuration(minutes float64) string {
	total := int(math.Round(minutes))
	if total <= 0 {
		return ""
	}
	h, m := total/60, total%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func finiteOrZero(v float64) float64 {
	if !finiteNonNegative(v) {
		return 0
	}
	return v
}

func numberValue(value any) (float64, bool) {
	var v float64
	switch typed := value.(type) {
	case float64:
		v = typed
	case float32:
		v = float64(typed)
	case int:
		v = float64(typed)
	case int32:
		v = float64(typed)
	case int64:
		v = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		v = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	if !finiteNonNegative(v) {
		return 0, false
	}
	return v, true
}

func firstNumber(raw RawLineItem, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := numberValue(raw[key]); ok {
			return v
		}
	}
	return 0
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func firstString(raw RawLineItem, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(stringValue(raw[key])); v != "" {
			return v
		}
	}
	return ""
}

func boolValue(value any) (bool, bool) {
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return parsed, err == nil
	default:
		return false, false
	}
}

// stringSet trims, drops blanks and de-duplicates while keeping first-seen order.
func stringSet(value any) []string {
	var source []string
	switch typed := value.(type) {
	case []string:
		source = typed
	case []any:
		for _, v := range typed {
			source = append(source, stringValue(v))
		}
	case string:
		source = strings.Split(typed, ",")
	default:
		return nil
	}
	seen := make(map[string]struct{}, len(source))
	var out []string
	for _, v := range source {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
