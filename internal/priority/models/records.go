// Package models defines the canonical domain records shared by the ranking
// engine: the two ingested record sources, ranked output rows and the
// metadata that travels with a trained model artifact.
package models

// UnknownCategory replaces a missing equipment type or country.
const UnknownCategory = "Unknown"

// EquipmentRecord is one installed-base row. It is immutable once ingested.
type EquipmentRecord struct {
	// Company is the free-text operator identity as delivered by the source.
	Company string
	// EquipmentType is the equipment category used as the ranking group.
	EquipmentType string
	// Country is the installation location.
	Country string
	// StartYear is the startup year, nil when unknown.
	StartYear *int
	// Supplier is the OEM that built the equipment.
	Supplier string
}

// RelationshipRecord is one CRM row describing a known business relationship.
type RelationshipRecord struct {
	// Company is the free-text customer identity as delivered by the CRM.
	Company string
	// Rating is the ordinal relationship rating A..E, empty when unrated.
	Rating string
	// Employees is the customer headcount, nil when unknown.
	Employees *float64
	// PriorEngagements is the number of known prior projects, nil when unknown.
	PriorEngagements *float64
}

// RecordSet bundles both record sources for one extraction pass.
type RecordSet struct {
	Equipment     []EquipmentRecord
	Relationships []RelationshipRecord
	// RelationshipsAvailable is false when the relationship source was
	// absent altogether, as opposed to present but empty.
	RelationshipsAvailable bool
}
