package warehouse

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/leadwire/leadwire/models"
)

// readResult fetches the full result set into memory.
func readResult(rows *sql.Rows) (*models.Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	numCols := len(cols)

	// Database type names drive the JSON rendering of every column.
	typeNames := make([]string, numCols)
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}

	// Gymnastics to read arbitrary types from the row.
	var (
		resCols     = make([]interface{}, numCols)
		resPointers = make([]interface{}, numCols)
	)
	for i := 0; i < numCols; i++ {
		resPointers[i] = &resCols[i]
	}

	// Joins easily repeat a name (a.id, b.id). Every column needs its own key.
	out := &models.Result{
		Columns: models.UniqueColumns(cols),
		Rows:    [][]interface{}{},
	}
	for rows.Next() {
		if err := rows.Scan(resPointers...); err != nil {
			return nil, fmt.Errorf("error scanning row %d: %w", len(out.Rows), err)
		}

		row := make([]interface{}, numCols)
		for i, v := range resCols {
			row[i] = toJSONValue(v, typeNames[i])
		}
		out.Rows = append(out.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// toJSONValue converts a scanned driver value into a JSON-friendly scalar:
// string, json.Number, bool, a formatted date/time string or nil.
func toJSONValue(v interface{}, typeName string) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return toJSONValue(string(t), typeName)
	case string:
		// Drivers such as gosnowflake hand out NUMBER/FIXED columns as strings.
		if isNumericType(typeName) && isJSONNumber(t) {
			return json.Number(t)
		}
		return t
	case time.Time:
		switch typeName {
		case "DATE":
			return t.Format("2006-01-02")
		case "TIME":
			return t.Format("15:04:05.999999999")
		}
		return t.Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		return toJSONValue(float64(t), typeName)
	case int64, int32, int16, int8, int, uint64, uint32, uint16, uint8, uint, bool, json.Number:
		return t
	}

	return fmt.Sprint(v)
}

func isNumericType(typeName string) bool {
	switch typeName {
	case "FIXED", "REAL", // Snowflake
		"NUMBER", "NUMERIC", "DECIMAL", "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT",
		"FLOAT", "DOUBLE", "INT2", "INT4", "INT8", "FLOAT4", "FLOAT8":
		return true
	}

	// ClickHouse: Int64, UInt32, Float64, Decimal(18, 2) ...
	for _, p := range []string{"INT", "UINT", "FLOAT", "DECIMAL", "NUMBER("} {
		if strings.HasPrefix(typeName, p) {
			return true
		}
	}

	return false
}

func isJSONNumber(s string) bool {
	if s == "" || !(s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		return false
	}
	return json.Valid([]byte(s))
}
