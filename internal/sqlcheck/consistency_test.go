package sqlcheck

import (
	"strings"
	"testing"
)

func TestIntentWarningsAcceptsMatchingSQL(t *testing.T) {
	got := IntentWarnings("SELECT * FROM customers WHERE city = 'Casablanca';",
		[]string{"customers"}, map[string]any{"city": "Casablanca"})
	if len(got) != 0 {
		t.Fatalf("IntentWarnings() = %v", got)
	}
}

func TestIntentWarningsFlagsMissingFilterValue(t *testing.T) {
	got := IntentWarnings("SELECT * FROM customers WHERE city = 'Rabat'",
		[]string{"customers"}, map[string]any{"city": "Casablanca"})
	if len(got) != 1 || !strings.Contains(got[0], "'Casablanca'") {
		t.Fatalf("IntentWarnings() = %v", got)
	}
}

func TestIntentWarningsFlagsMissingColumnAndTable(t *testing.T) {
	got := IntentWarnings("SELECT * FROM customers",
		[]string{"customers", "orders"}, map[string]any{"city": "Casablanca"})
	if len(got) != 2 {
		t.Fatalf("IntentWarnings() = %v", got)
	}
	if !strings.Contains(got[0], "column 'city'") || !strings.Contains(got[1], "table 'orders'") {
		t.Fatalf("IntentWarnings() = %v", got)
	}
}
