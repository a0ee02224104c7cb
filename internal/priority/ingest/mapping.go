// Package ingest maps loosely structured tabular records onto the canonical
// equipment and relationship records. Column names vary between exports, so
// every canonical field is probed through an ordered alias list.
package ingest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/models"
)

// Row is one loose record keyed by its source column names.
type Row map[string]string

// Alias lists, probed in order.
var (
	EquipmentCompanyAliases = []string{"company_internal", "company_name", "company", "ib_customer", "customer_name", "name"}
	EquipmentTypeAliases    = []string{"equipment_type", "pbs_plant_type", "EquipmentType", "plant_type"}
	CountryAliases          = []string{"country_internal", "country", "ib_customer_country"}
	StartYearAliases        = []string{"start_year_internal", "start_year", "ib_startup", "startup_year", "year"}
	SupplierAliases         = []string{"supplier", "oem", "OEM", "manufacturer", "ib_supplier"}

	RelationshipCompanyAliases = []string{"company_name", "name", "company", "customer_name"}
	RatingAliases              = []string{"crm_rating", "rating"}
	EmployeeAliases            = []string{"fte", "employees", "employee_count"}
	EngagementAliases          = []string{"project_count", "projects_count", "prior_projects"}
)

var yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|2\d{3})\b`)

// resolve picks the first alias present in columns. An exact match wins
// over a case-insensitive one.
func resolve(columns []string, aliases []string) (string, bool) {
	present := make(map[string]bool, len(columns))
	folded := make(map[string]string, len(columns))
	for _, c := range columns {
		present[c] = true
		lc := strings.ToLower(strings.TrimSpace(c))
		if _, ok := folded[lc]; !ok {
			folded[lc] = c
		}
	}
	for _, a := range aliases {
		if present[a] {
			return a, true
		}
	}
	for _, a := range aliases {
		if c, ok := folded[strings.ToLower(a)]; ok {
			return c, true
		}
	}
	return "", false
}

// Mapping is the column chosen for each canonical field; empty means absent.
type Mapping map[string]string

func mapping(columns []string, fields map[string][]string) Mapping {
	m := make(Mapping, len(fields))
	for field, aliases := range fields {
		if c, ok := resolve(columns, aliases); ok {
			m[field] = c
		}
	}
	return m
}

func (m Mapping) get(r Row, field string) string {
	c, ok := m[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(r[c])
}

// EquipmentMapping resolves the equipment columns of a header.
func EquipmentMapping(columns []string) Mapping {
	return mapping(columns, map[string][]string{
		"company":        EquipmentCompanyAliases,
		"equipment_type": EquipmentTypeAliases,
		"country":        CountryAliases,
		"start_year":     StartYearAliases,
		"supplier":       SupplierAliases,
	})
}

// RelationshipMapping resolves the relationship columns of a header.
func RelationshipMapping(columns []string) Mapping {
	return mapping(columns, map[string][]string{
		"company":     RelationshipCompanyAliases,
		"rating":      RatingAliases,
		"employees":   EmployeeAliases,
		"engagements": EngagementAliases,
	})
}

// MapEquipment converts loose rows into equipment records. The company
// column is mandatory; rows without a company are dropped. Missing
// categories become models.UnknownCategory.
func MapEquipment(columns []string, rows []Row) ([]models.EquipmentRecord, error) {
	m := EquipmentMapping(columns)
	if _, ok := m["company"]; !ok {
		return nil, fmt.Errorf("%w: no equipment company column among %v", e.ErrSchemaMismatch, EquipmentCompanyAliases)
	}

	out := make([]models.EquipmentRecord, 0, len(rows))
	for _, r := range rows {
		company := m.get(r, "company")
		if company == "" {
			continue
		}
		out = append(out, models.EquipmentRecord{
			Company:       company,
			EquipmentType: orUnknown(m.get(r, "equipment_type")),
			Country:       orUnknown(m.get(r, "country")),
			StartYear:     ParseYear(m.get(r, "start_year")),
			Supplier:      m.get(r, "supplier"),
		})
	}
	return out, nil
}

// MapRelationships converts loose rows into relationship records.
func MapRelationships(columns []string, rows []Row) ([]models.RelationshipRecord, error) {
	m := RelationshipMapping(columns)
	if _, ok := m["company"]; !ok {
		return nil, fmt.Errorf("%w: no relationship company column among %v", e.ErrSchemaMismatch, RelationshipCompanyAliases)
	}

	out := make([]models.RelationshipRecord, 0, len(rows))
	for _, r := range rows {
		company := m.get(r, "company")
		if company == "" {
			continue
		}
		out = append(out, models.RelationshipRecord{
			Company:          company,
			Rating:           strings.ToUpper(m.get(r, "rating")),
			Employees:        ParseNumber(m.get(r, "employees")),
			PriorEngagements: ParseNumber(m.get(r, "engagements")),
		})
	}
	return out, nil
}

// ParseYear accepts a plain year, a float such as "1998.0" or any date
// string containing a four digit year.
func ParseYear(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if y, err := strconv.Atoi(s); err == nil {
		return &y
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		y := int(f)
		return &y
	}
	if match := yearPattern.FindString(s); match != "" {
		y, _ := strconv.Atoi(match)
		return &y
	}
	return nil
}

// ParseNumber parses a number, tolerating thousands separators.
func ParseNumber(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func orUnknown(s string) string {
	if s == "" {
		return models.UnknownCategory
	}
	return s
}
