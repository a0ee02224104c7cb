package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/gartstein/priority/internal/priority/models"
)

// ReadCSV reads a headed CSV document into loose rows.
func ReadCSV(r io.Reader) ([]string, []Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: csv has no header", e.ErrEmptyDataset)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read csv: %w", err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func readFile(path string) ([]string, []Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// CSVSource reads record sets from CSV exports. A blank or missing
// relationship file yields RelationshipsAvailable == false.
type CSVSource struct {
	EquipmentPath    string
	RelationshipPath string
}

func (s CSVSource) LoadRecords(_ context.Context) (models.RecordSet, error) {
	columns, rows, err := readFile(s.EquipmentPath)
	if err != nil {
		return models.RecordSet{}, fmt.Errorf("failed to read equipment csv: %w", err)
	}
	equipment, err := MapEquipment(columns, rows)
	if err != nil {
		return models.RecordSet{}, err
	}
	set := models.RecordSet{Equipment: equipment}

	if s.RelationshipPath == "" {
		return set, nil
	}
	columns, rows, err = readFile(s.RelationshipPath)
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return models.RecordSet{}, fmt.Errorf("failed to read relationship csv: %w", err)
	}
	relationships, err := MapRelationships(columns, rows)
	if err != nil {
		return models.RecordSet{}, err
	}
	set.Relationships = relationships
	set.RelationshipsAvailable = true
	return set, nil
}

// WriteEquipmentCSV writes records with canonical column names.
func WriteEquipmentCSV(w io.Writer, records []models.EquipmentRecord) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"company_name", "equipment_type", "country", "start_year", "supplier"})
	for _, r := range records {
		year := ""
		if r.StartYear != nil {
			year = strconv.Itoa(*r.StartYear)
		}
		_ = cw.Write([]string{r.Company, r.EquipmentType, r.Country, year, r.Supplier})
	}
	cw.Flush()
	return cw.Error()
}

// WriteRelationshipCSV writes records with canonical column names.
func WriteRelationshipCSV(w io.Writer, records []models.RelationshipRecord) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"company_name", "crm_rating", "fte", "project_count"})
	for _, r := range records {
		_ = cw.Write([]string{r.Company, r.Rating, formatOptional(r.Employees), formatOptional(r.PriorEngagements)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteFeaturesCSV writes the annotated feature matrix with its labels.
// labels may be nil.
func WriteFeaturesCSV(w io.Writer, matrix *features.Matrix, labels []int) error {
	if labels != nil && len(labels) != matrix.Len() {
		return fmt.Errorf("%w: %d labels for %d rows", e.ErrInvalidInput, len(labels), matrix.Len())
	}
	columns := matrix.Columns()
	values, err := matrix.Select(columns)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := append([]string{"company_name", "equipment_type", "country"}, columns...)
	if labels != nil {
		header = append(header, "label")
	}
	_ = cw.Write(header)
	for i, row := range values {
		info := matrix.Info(i)
		rec := []string{info.Company, info.Group, info.Location}
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if labels != nil {
			rec = append(rec, strconv.Itoa(labels[i]))
		}
		_ = cw.Write(rec)
	}
	cw.Flush()
	return cw.Error()
}

// WriteRankingsCSV writes a ranked list.
func WriteRankingsCSV(w io.Writer, entries []models.RankedEntry) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"rank", "company_name", "equipment_type", "country", "equipment_age", "priority_score"})
	for _, en := range entries {
		_ = cw.Write([]string{
			strconv.Itoa(en.Rank),
			en.Company,
			en.Group,
			en.Location,
			strconv.FormatFloat(en.EquipmentAge, 'g', -1, 64),
			strconv.FormatFloat(en.PriorityScore, 'g', -1, 64),
		})
	}
	cw.Flush()
	return cw.Error()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
