// Package features turns canonical equipment and relationship records into
// the fixed-schema numeric matrix consumed by the ranking model.
package features

import (
	"fmt"
	"sort"

	e "github.com/gartstein/priority/internal/priority/errors"
)

// Feature column names, in schema order.
const (
	EquipmentAge              = "equipment_age"
	IsOwnerOEM                = "is_owner_oem"
	EquipmentTypeEncoded      = "equipment_type_encoded"
	CountryEncoded            = "country_encoded"
	RelationshipRatingNumeric = "relationship_rating_numeric"
	LogEmployeeCount          = "log_employee_count"
	PriorEngagementCount      = "prior_engagement_count"
)

// Columns returns the feature schema in its fixed order.
func Columns() []string {
	return []string{
		EquipmentAge,
		IsOwnerOEM,
		EquipmentTypeEncoded,
		CountryEncoded,
		RelationshipRatingNumeric,
		LogEmployeeCount,
		PriorEngagementCount,
	}
}

// Encodings maps an encoded column to its category → integer code table.
type Encodings map[string]map[string]int

// Metadata describes how a matrix was produced.
type Metadata struct {
	FeatureColumns []string
	Encodings      Encodings
	ReferenceYear  int
}

// RowInfo carries the display annotations of one matrix row.
type RowInfo struct {
	Company  string
	Group    string
	Location string
	Age      float64
}

// Matrix is a dense row-major feature matrix with named columns.
type Matrix struct {
	columns []string
	index   map[string]int
	values  [][]float64
	rows    []RowInfo

	Metadata Metadata
}

// NewMatrix builds a matrix from explicit columns, values and row annotations.
func NewMatrix(columns []string, values [][]float64, rows []RowInfo, meta Metadata) (*Matrix, error) {
	if len(values) != len(rows) {
		return nil, fmt.Errorf("%w: %d value rows for %d annotations", e.ErrInvalidInput, len(values), len(rows))
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", e.ErrInvalidInput, c)
		}
		index[c] = i
	}
	for i, row := range values {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", e.ErrInvalidInput, i, len(row), len(columns))
		}
	}
	return &Matrix{columns: columns, index: index, values: values, rows: rows, Metadata: meta}, nil
}

// Len returns the number of rows.
func (m *Matrix) Len() int { return len(m.values) }

// Columns returns the column names of the matrix.
func (m *Matrix) Columns() []string {
	out := make([]string, len(m.columns))
	copy(out, m.columns)
	return out
}

// Info returns the annotations of row i.
func (m *Matrix) Info(i int) RowInfo { return m.rows[i] }

// Value returns the value of column at row i.
func (m *Matrix) Value(i int, column string) (float64, bool) {
	j, ok := m.index[column]
	if !ok {
		return 0, false
	}
	return m.values[i][j], true
}

// Column returns a copy of one column.
func (m *Matrix) Column(name string) ([]float64, error) {
	j, ok := m.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", e.ErrSchemaMismatch, name)
	}
	out := make([]float64, len(m.values))
	for i, row := range m.values {
		out[i] = row[j]
	}
	return out, nil
}

// Select returns the rows restricted to columns, in the given order. A column
// absent from the matrix is a schema contract violation.
func (m *Matrix) Select(columns []string) ([][]float64, error) {
	idx := make([]int, len(columns))
	for k, c := range columns {
		j, ok := m.index[c]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", e.ErrSchemaMismatch, c)
		}
		idx[k] = j
	}
	out := make([][]float64, len(m.values))
	for i, row := range m.values {
		sel := make([]float64, len(idx))
		for k, j := range idx {
			sel[k] = row[j]
		}
		out[i] = sel
	}
	return out, nil
}

// Subset returns a new matrix holding the given rows, in the given order.
func (m *Matrix) Subset(rows []int) *Matrix {
	values := make([][]float64, len(rows))
	infos := make([]RowInfo, len(rows))
	for k, i := range rows {
		values[k] = m.values[i]
		infos[k] = m.rows[i]
	}
	return &Matrix{columns: m.columns, index: m.index, values: values, rows: infos, Metadata: m.Metadata}
}

// Groups returns the sorted distinct group values.
func (m *Matrix) Groups() []string {
	seen := make(map[string]struct{})
	for _, r := range m.rows {
		seen[r.Group] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
