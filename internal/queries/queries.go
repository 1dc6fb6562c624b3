// Package queries loads the named SQL queries the service runs against the
// warehouse. Queries live in goyesql formatted .sql files and are treated as
// opaque text: they take no parameters and are sent to the warehouse as-is.
package queries

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/goyesql/v2"
)

// Query represents a named SQL query and the tags attached to it in the
// .sql file.
type Query struct {
	Name string            `json:"name"`
	Raw  string            `json:"raw"`
	File string            `json:"-"`
	Tags map[string]string `json:"tags,omitempty"`
}

// SQL returns the query text.
func (q Query) SQL() string {
	return q.Raw
}

// Queries represents a map of named SQL queries.
type Queries map[string]Query

// Load loads SQL queries from all the .sql files in the given directories.
// Query names must be unique across all files.
func Load(dirs []string, lo *slog.Logger) (Queries, error) {
	out := make(Queries)
	for _, d := range dirs {
		lo.Info("loading SQL queries", "directory", d)
		qs, err := loadDir(d)
		if err != nil {
			return nil, err
		}

		for name, q := range qs {
			if prev, ok := out[name]; ok {
				return nil, fmt.Errorf("duplicate query %s (%s, %s)", name, prev.File, q.File)
			}

			lo.Debug("loaded query", "name", name, "file", q.File)
			out[name] = q
		}

		lo.Info("loaded SQL queries", "count", len(qs), "directory", d)
	}

	return out, nil
}

func loadDir(dir string) (Queries, error) {
	// Discover .sql files.
	files, err := filepath.Glob(path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("unable to read SQL directory %s: %v", dir, err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no SQL files found in %s", dir)
	}

	// Parse all discovered SQL files.
	out := make(Queries)
	for _, f := range files {
		q, err := goyesql.ParseFile(f)
		if err != nil {
			return nil, fmt.Errorf("error parsing SQL file %s: %v", f, err)
		}

		for name, s := range q {
			// Query already exists.
			if prev, ok := out[name]; ok {
				return nil, fmt.Errorf("duplicate query %s (%s, %s)", name, prev.File, f)
			}

			raw := strings.TrimSpace(s.Query)
			if raw == "" {
				return nil, fmt.Errorf("query %s (%s) is empty", name, f)
			}

			out[name] = Query{
				Name: name,
				Raw:  raw,
				File: f,
				Tags: s.Tags,
			}
		}
	}

	return out, nil
}

// Get returns a query by name.
func (q Queries) Get(name string) (Query, error) {
	out, ok := q[name]
	if !ok {
		return Query{}, fmt.Errorf("unknown query: %s", name)
	}

	return out, nil
}

// Provider returns a function that resolves the named query's SQL text
// every time it's invoked.
func (q Queries) Provider(name string) func() (string, error) {
	return func() (string, error) {
		s, err := q.Get(name)
		if err != nil {
			return "", err
		}

		return s.SQL(), nil
	}
}

// Names returns the sorted list of query names.
func (q Queries) Names() []string {
	out := make([]string, 0, len(q))
	for n := range q {
		out = append(out, n)
	}
	sort.Strings(out)

	return out
}
