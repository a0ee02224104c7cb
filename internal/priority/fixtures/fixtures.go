// Package fixtures provides deterministic record sets shared by tests.
package fixtures

import (
	"github.com/gartstein/priority/internal/pkg/utils"
	"github.com/gartstein/priority/internal/priority/models"
)

// ReferenceYear is the age anchor matching the fixture start years.
const ReferenceYear = 2025

// KnownCompanies are the operators present in the relationship source.
var KnownCompanies = []string{"Alpha Steel GmbH", "Gamma Corp", "Delta Inc"}

// UnknownCompanies are the operators absent from the relationship source.
var UnknownCompanies = []string{"Beta Iron Ltd", "Zeta Works"}

// Equipment returns 30 installed-base rows across five operators.
func Equipment() []models.EquipmentRecord {
	var companies []string
	for _, c := range []struct {
		name string
		n    int
	}{
		{"Alpha Steel GmbH", 8},
		{"Gamma Corp", 7},
		{"Delta Inc", 5},
		{"Beta Iron Ltd", 5},
		{"Zeta Works", 5},
	} {
		for i := 0; i < c.n; i++ {
			companies = append(companies, c.name)
		}
	}

	types := []string{"Blast Furnace", "Rolling Mill", "EAF", "Caster", "Ladle Furnace"}
	oems := []string{"SMS Group", "Danieli", "Tenova", "Primetals", "SMS Group"}
	countries := []string{"Germany", "Italy", "USA", "China", "India"}

	out := make([]models.EquipmentRecord, len(companies))
	for i, c := range companies {
		out[i] = models.EquipmentRecord{
			Company:       c,
			EquipmentType: types[i%len(types)],
			Country:       countries[i%len(countries)],
			StartYear:     utils.Ptr(1990 + (i*7)%32),
			Supplier:      oems[i%len(oems)],
		}
	}
	return out
}

// Relationships returns the relationship rows naming the known companies.
func Relationships() []models.RelationshipRecord {
	return []models.RelationshipRecord{
		{Company: "Alpha Steel GmbH", Rating: "A", Employees: utils.Ptr(5000.0), PriorEngagements: utils.Ptr(12.0)},
		{Company: "Gamma Corp", Rating: "B", Employees: utils.Ptr(3000.0), PriorEngagements: utils.Ptr(7.0)},
		{Company: "Delta Inc", Rating: "C", Employees: utils.Ptr(800.0), PriorEngagements: utils.Ptr(3.0)},
	}
}

// Records returns the full fixture set.
func Records() models.RecordSet {
	return models.RecordSet{
		Equipment:              Equipment(),
		Relationships:          Relationships(),
		RelationshipsAvailable: true,
	}
}

// BlastRecords returns a set holding exactly four "Blast Furnace" rows.
func BlastRecords() models.RecordSet {
	set := Records()
	blast := 0
	var kept []models.EquipmentRecord
	for _, rec := range set.Equipment {
		if rec.EquipmentType == "Blast Furnace" {
			if blast == 4 {
				continue
			}
			blast++
		}
		kept = append(kept, rec)
	}
	set.Equipment = kept
	return set
}
