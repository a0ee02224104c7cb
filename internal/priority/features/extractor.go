package features

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gartstein/priority/internal/priority/identity"
	"github.com/gartstein/priority/internal/priority/models"
	"go.uber.org/zap"
)

// NeutralRating is used when a record has no usable relationship rating.
const NeutralRating = 3.0

// UnseenCode encodes a category missing from persisted encodings.
const UnseenCode = -1

// Config holds the extraction constants.
type Config struct {
	// ReferenceYear anchors equipment age; zero means the current year.
	ReferenceYear int
	// AgeCap is the upper clip for equipment age.
	AgeCap float64
	// DefaultAge replaces the age of records without a start year.
	DefaultAge float64
	// OwnerBrand identifies equipment supplied by the ranking system owner.
	OwnerBrand string
}

// DefaultConfig returns the stock extraction constants.
func DefaultConfig() Config {
	return Config{
		ReferenceYear: time.Now().Year(),
		AgeCap:        100,
		DefaultAge:    15,
		OwnerBrand:    "SMS",
	}
}

type extractOptions struct {
	encodings     Encodings
	referenceYear int
}

// Option customises a single extraction.
type Option func(*extractOptions)

// WithEncodings reuses persisted category encodings instead of learning new
// ones, keeping serving-time codes identical to training-time codes.
func WithEncodings(enc Encodings) Option {
	return func(o *extractOptions) {
		o.encodings = enc
	}
}

// WithReferenceYear anchors equipment age to a persisted year instead of the
// configured one. Zero keeps the configured year.
func WithReferenceYear(year int) Option {
	return func(o *extractOptions) {
		o.referenceYear = year
	}
}

// Extractor converts record sets into feature matrices.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// NewExtractor constructs an Extractor. A zero ReferenceYear or AgeCap, or a
// negative DefaultAge, falls back to DefaultConfig.
func NewExtractor(cfg Config, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.ReferenceYear == 0 {
		cfg.ReferenceYear = def.ReferenceYear
	}
	if cfg.AgeCap <= 0 {
		cfg.AgeCap = def.AgeCap
	}
	if cfg.DefaultAge < 0 {
		cfg.DefaultAge = def.DefaultAge
	}
	return &Extractor{cfg: cfg, logger: logger.Named("feature_extractor")}
}

// Config returns the effective extraction constants.
func (x *Extractor) Config() Config { return x.cfg }

type relationshipAgg struct {
	rating      float64
	employees   float64
	engagements float64
}

// Extract builds one matrix row per equipment record. The result never
// contains NaN or infinite values.
func (x *Extractor) Extract(set models.RecordSet, opts ...Option) *Matrix {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}

	enc := o.encodings
	if enc == nil {
		enc = BuildEncodings(set.Equipment)
	}
	refYear := x.cfg.ReferenceYear
	if o.referenceYear > 0 {
		refYear = o.referenceYear
	}
	rels := aggregateRelationships(set.Relationships)

	columns := Columns()
	values := make([][]float64, len(set.Equipment))
	rows := make([]RowInfo, len(set.Equipment))
	missingYear := 0

	for i, rec := range set.Equipment {
		group := categoryOrUnknown(rec.EquipmentType)
		location := categoryOrUnknown(rec.Country)

		age := x.cfg.DefaultAge
		if rec.StartYear != nil {
			age = float64(refYear - *rec.StartYear)
		} else {
			missingYear++
		}
		age = clip(age, 0, x.cfg.AgeCap)

		rating, logEmployees, engagements := NeutralRating, 0.0, 0.0
		if agg, ok := rels[identity.Normalize(rec.Company)]; ok {
			rating = agg.rating
			logEmployees = math.Log1p(agg.employees)
			engagements = agg.engagements
		}

		values[i] = []float64{
			age,
			x.ownerOEM(rec.Supplier),
			float64(lookup(enc, EquipmentTypeEncoded, group)),
			float64(lookup(enc, CountryEncoded, location)),
			rating,
			finite(logEmployees),
			finite(engagements),
		}
		rows[i] = RowInfo{Company: rec.Company, Group: group, Location: location, Age: age}
	}

	if missingYear > 0 {
		x.logger.Debug("substituted default equipment age",
			zap.Int("records", missingYear),
			zap.Float64("default_age", x.cfg.DefaultAge),
		)
	}

	return &Matrix{
		columns: columns,
		index:   indexOf(columns),
		values:  values,
		rows:    rows,
		Metadata: Metadata{
			FeatureColumns: columns,
			Encodings:      enc,
			ReferenceYear:  refYear,
		},
	}
}

func (x *Extractor) ownerOEM(supplier string) float64 {
	brand := strings.ToLower(strings.TrimSpace(x.cfg.OwnerBrand))
	if brand == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(supplier), brand) {
		return 1
	}
	return 0
}

// BuildEncodings learns stable codes from sorted unique category values.
func BuildEncodings(equipment []models.EquipmentRecord) Encodings {
	types := make(map[string]struct{})
	countries := make(map[string]struct{})
	for _, rec := range equipment {
		types[categoryOrUnknown(rec.EquipmentType)] = struct{}{}
		countries[categoryOrUnknown(rec.Country)] = struct{}{}
	}
	return Encodings{
		EquipmentTypeEncoded: codes(types),
		CountryEncoded:       codes(countries),
	}
}

// RatingScore maps an ordinal rating to 5 (A) … 1 (E); anything else is neutral.
func RatingScore(rating string) float64 {
	switch strings.ToUpper(strings.TrimSpace(rating)) {
	case "A":
		return 5
	case "B":
		return 4
	case "C":
		return 3
	case "D":
		return 2
	case "E":
		return 1
	default:
		return NeutralRating
	}
}

func aggregateRelationships(relationships []models.RelationshipRecord) map[string]*relationshipAgg {
	out := make(map[string]*relationshipAgg, len(relationships))
	for _, rel := range relationships {
		key := identity.Normalize(rel.Company)
		if key == "" {
			continue
		}
		engagements := 0.0
		if rel.PriorEngagements != nil && *rel.PriorEngagements > 0 {
			engagements = *rel.PriorEngagements
		}
		if agg, ok := out[key]; ok {
			agg.engagements += engagements
			continue
		}
		employees := 0.0
		if rel.Employees != nil && *rel.Employees > 0 {
			employees = *rel.Employees
		}
		out[key] = &relationshipAgg{
			rating:      RatingScore(rel.Rating),
			employees:   employees,
			engagements: engagements,
		}
	}
	return out
}

func codes(values map[string]struct{}) map[string]int {
	sorted := make([]string, 0, len(values))
	for v := range values {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)
	out := make(map[string]int, len(sorted))
	for i, v := range sorted {
		out[v] = i
	}
	return out
}

func lookup(enc Encodings, column, value string) int {
	if code, ok := enc[column][value]; ok {
		return code
	}
	return UnseenCode
}

func categoryOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return models.UnknownCategory
	}
	return v
}

func indexOf(columns []string) map[string]int {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return index
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
