package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Result is a fully fetched warehouse result set. Its JSON form is an object
// keyed by the stringified row index, in row order, where every row is an
// object keyed by column name, in column order:
//
//	{"0": {"id": 1, "email": "a@x.com"}, "1": {...}}
//
// encoding/json sorts map keys, so both directions are hand-rolled to keep
// the warehouse's ordering intact.
type Result struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (r *Result) Len() int {
	return len(r.Rows)
}

// Row returns the i-th row as a column name => value map.
func (r *Result) Row(i int) map[string]interface{} {
	out := make(map[string]interface{}, len(r.Columns))
	for j, c := range r.Columns {
		out[c] = r.Rows[i][j]
	}

	return out
}

// UniqueColumns returns names with repeats suffixed _1, _2 and so on, in
// order, so that every column has its own key in a row object:
// ID, ID, ID becomes ID, ID_1, ID_2.
func UniqueColumns(names []string) []string {
	var (
		out  = make([]string, len(names))
		used = make(map[string]bool, len(names))
	)
	for _, n := range names {
		used[n] = true
	}

	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if !seen[n] {
			seen[n] = true
			out[i] = n
			continue
		}

		for k := 1; ; k++ {
			c := n + "_" + strconv.Itoa(k)
			if !used[c] {
				used[c] = true
				seen[c] = true
				out[i] = c
				break
			}
		}
	}

	return out
}

// MarshalJSON implements json.Marshaler. Column names must be unique.
func (r Result) MarshalJSON() ([]byte, error) {
	if err := checkUnique(r.Columns); err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteByte('{')

	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(r.Columns))
		}

		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(strconv.Itoa(i)))
		b.WriteString(":{")

		for j, col := range r.Columns {
			if j > 0 {
				b.WriteByte(',')
			}

			k, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(row[j])
			if err != nil {
				return nil, fmt.Errorf("error encoding row %d column %s: %v", i, col, err)
			}

			b.Write(k)
			b.WriteByte(':')
			b.Write(v)
		}
		b.WriteByte('}')
	}

	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are decoded as
// json.Number. The first row fixes the column order and every other row
// must carry exactly the same columns.
func (r *Result) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	type indexedRow struct {
		idx  int
		vals []interface{}
	}

	var (
		cols []string
		rows []indexedRow
		seen = map[int]bool{}
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid row index %q", key)
		}
		if seen[idx] {
			return fmt.Errorf("duplicate row index %d", idx)
		}
		seen[idx] = true

		names, vals, err := decodeRow(dec)
		if err != nil {
			return fmt.Errorf("row %d: %w", idx, err)
		}

		if len(rows) == 0 {
			if err := checkUnique(names); err != nil {
				return fmt.Errorf("row %d: %w", idx, err)
			}
			cols = names
			rows = append(rows, indexedRow{idx: idx, vals: vals})
			continue
		}

		// Re-align the values to the established column order.
		if len(names) != len(cols) {
			return fmt.Errorf("row %d has %d columns, expected %d", idx, len(names), len(cols))
		}
		pos := make(map[string]int, len(names))
		for i, n := range names {
			if _, ok := pos[n]; ok {
				return fmt.Errorf("row %d has duplicate column %s", idx, n)
			}
			pos[n] = i
		}
		aligned := make([]interface{}, len(cols))
		for i, c := range cols {
			p, ok := pos[c]
			if !ok {
				return fmt.Errorf("row %d is missing column %s", idx, c)
			}
			aligned[i] = vals[p]
		}
		rows = append(rows, indexedRow{idx: idx, vals: aligned})
	}

	if err := expectDelim(dec, '}'); err != nil {
		return err
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].idx < rows[j].idx })

	r.Columns = cols
	r.Rows = make([][]interface{}, len(rows))
	for i, row := range rows {
		r.Rows[i] = row.vals
	}

	return nil
}

func decodeRow(dec *json.Decoder) ([]string, []interface{}, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}

	var (
		names []string
		vals  []interface{}
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, errors.New("expected column name")
		}

		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}

		names = append(names, name)
		vals = append(vals, v)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}

	return names, vals, nil
}

func checkUnique(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return fmt.Errorf("duplicate column %s", n)
		}
		seen[n] = true
	}

	return nil
}

func expectDelim(dec *json.Decoder, d json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if got, ok := tok.(json.Delim); !ok || got != d {
		return fmt.Errorf("expected %q, got %v", d, tok)
	}

	return nil
}
