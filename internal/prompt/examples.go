package prompt

import (
	"fmt"
	"strings"
)

const defaultLanguage = "english"

// ExampleInput is the part of the intent that selects few-shot examples.
type ExampleInput struct {
	Tables   []string
	Filters  map[string]any
	Language string
}

// Examples picks few-shot examples that fit the intent: a city filter on
// customers, orders, and the customers/orders join. Generic examples are
// used when none apply. Unknown languages fall back to english.
func (s *Set) Examples(in ExampleInput) (string, error) {
	language := strings.ToLower(strings.TrimSpace(in.Language))
	entries, ok := s.examples[language]
	if !ok {
		entries = s.examples[defaultLanguage]
	}

	hasCustomers := containsFold(in.Tables, "customers")
	hasOrders := containsFold(in.Tables, "orders")

	var names []string
	var data any
	if city, ok := lookupFold(in.Filters, "city"); ok && hasCustomers {
		names = append(names, "customers_city")
		data = struct{ City string }{City: strings.ReplaceAll(fmt.Sprint(city), "'", "''")}
	}
	if hasOrders {
		names = append(names, "orders")
	}
	if hasCustomers && hasOrders {
		names = append(names, "customers_orders")
	}
	if len(names) == 0 {
		names = append(names, "default")
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		tmpl, ok := entries[name]
		if !ok {
			continue
		}
		text, err := execute(tmpl, data)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

func containsFold(values []string, want string) bool {
	for _, value := range values {
		if strings.EqualFold(strings.TrimSpace(value), want) {
			return true
		}
	}
	return false
}

func lookupFold(values map[string]any, key string) (any, bool) {
	for k, v := range values {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
