package warehouse

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToJSONValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		typ  string
		out  interface{}
	}{
		{"null", nil, "TEXT", nil},
		{"text", "Acme", "TEXT", "Acme"},
		{"bytes", []byte("Acme"), "", "Acme"},
		{"snowflake fixed", "4200", "FIXED", json.Number("4200")},
		{"snowflake real", "12.5", "REAL", json.Number("12.5")},
		{"numeric bytes", []byte("-3.25"), "NUMERIC", json.Number("-3.25")},
		{"clickhouse decimal", "1.50", "DECIMAL(18, 2)", json.Number("1.50")},
		{"numeric type non-number", "n/a", "FIXED", "n/a"},
		{"leading zero stays text", "007", "TEXT", "007"},
		{"date", ts, "DATE", "2024-03-01"},
		{"time", ts, "TIME", "09:30:00"},
		{"timestamp", ts, "TIMESTAMP_NTZ", "2024-03-01T09:30:00Z"},
		{"untyped time", ts, "", "2024-03-01T09:30:00Z"},
		{"int", int64(5), "", int64(5)},
		{"float", 2.5, "", 2.5},
		{"nan", math.NaN(), "", nil},
		{"bool", true, "BOOLEAN", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.out, toJSONValue(tc.in, tc.typ))
		})
	}
}
