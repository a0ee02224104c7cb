// Package models contains the persisted record tables, mapped with GORM.
package models

import (
	"time"

	domain "github.com/gartstein/priority/internal/priority/models"
)

// SourceRelationships marks that a relationship source has been ingested,
// even if it held no rows.
const SourceRelationships = "relationships"

// Equipment is one installed-base row.
type Equipment struct {
	ID            uint   `gorm:"primaryKey"`
	Company       string `gorm:"size:255;index;not null"`
	EquipmentType string `gorm:"size:255"`
	Country       string `gorm:"size:128"`
	StartYear     *int
	Supplier      string `gorm:"size:255"`
	CreatedAt     time.Time
}

func (Equipment) TableName() string { return "equipment_records" }

// Relationship is one known-relationship row.
type Relationship struct {
	ID               uint   `gorm:"primaryKey"`
	Company          string `gorm:"size:255;index;not null"`
	Rating           string `gorm:"size:8"`
	Employees        *float64
	PriorEngagements *float64
	CreatedAt        time.Time
}

func (Relationship) TableName() string { return "relationship_records" }

// Source records when a named record source was last ingested.
type Source struct {
	Name     string `gorm:"primaryKey;size:64"`
	LoadedAt time.Time
	Rows     int
}

func (Source) TableName() string { return "record_sources" }

// EquipmentFromRecord maps a canonical record to its row.
func EquipmentFromRecord(r domain.EquipmentRecord) Equipment {
	return Equipment{
		Company:       r.Company,
		EquipmentType: r.EquipmentType,
		Country:       r.Country,
		StartYear:     r.StartYear,
		Supplier:      r.Supplier,
	}
}

// Record maps the row back to its canonical record.
func (e Equipment) Record() domain.EquipmentRecord {
	return domain.EquipmentRecord{
		Company:       e.Company,
		EquipmentType: e.EquipmentType,
		Country:       e.Country,
		StartYear:     e.StartYear,
		Supplier:      e.Supplier,
	}
}

// RelationshipFromRecord maps a canonical record to its row.
func RelationshipFromRecord(r domain.RelationshipRecord) Relationship {
	return Relationship{
		Company:          r.Company,
		Rating:           r.Rating,
		Employees:        r.Employees,
		PriorEngagements: r.PriorEngagements,
	}
}

// Record maps the row back to its canonical record.
func (r Relationship) Record() domain.RelationshipRecord {
	return domain.RelationshipRecord{
		Company:          r.Company,
		Rating:           r.Rating,
		Employees:        r.Employees,
		PriorEngagements: r.PriorEngagements,
	}
}
