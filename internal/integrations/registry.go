package integrations

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Definition describes one connectable external system.
type Definition struct {
	Key            string
	DisplayName    string
	Description    string
	Type           string
	RequiredConfig []string
}

// Registry lists the connectable systems in display order.
func Registry() []Definition {
	return []Definition{
		{
			Key:            "hr3",
			DisplayName:    "HR3 Employee Claims System",
			Description:    "Import approved employee claims for disbursement processing",
			Type:           "hr",
			RequiredConfig: []string{"api_url"},
		},
		{
			Key:            "hr4",
			DisplayName:    "HR4 Payroll System",
			Description:    "Import payroll batches and remittance schedules",
			Type:           "hr",
			RequiredConfig: []string{"api_url"},
		},
		{
			Key:            "core1",
			DisplayName:    "Core 1 Hotel Payments",
			Description:    "Import hotel payment settlements and folio charges",
			Type:           "payments",
			RequiredConfig: []string{"api_url"},
		},
		{
			Key:            "logistics1",
			DisplayName:    "Logistics 1 - Procurement System",
			Description:    "Import purchase orders and vendor billing data",
			Type:           "logistics",
			RequiredConfig: []string{"api_url"},
		},
		{
			Key:            "logistics2",
			DisplayName:    "Logistics 2 - Transportation System",
			Description:    "Import trip costs, fuel expenses, and vehicle transportation data",
			Type:           "logistics",
			RequiredConfig: []string{"api_url"},
		},
	}
}

// Lookup finds a definition by key.
func Lookup(key string) (Definition, bool) {
	for _, def := range Registry() {
		if def.Key == key {
			return def, true
		}
	}
	return Definition{}, false
}

var titleCaser = cases.Title(language.English)

// FieldLabel renders a config field name for display, e.g.
// "api_url" becomes "Api Url".
func FieldLabel(field string) string {
	return titleCaser.String(strings.ReplaceAll(field, "_", " "))
}
