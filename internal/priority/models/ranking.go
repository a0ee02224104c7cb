package models

// Source names where a priority score came from.
type Source string

const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
)

// RankedEntry is one row of a ranked list.
type RankedEntry struct {
	Rank          int     `json:"rank"`
	Company       string  `json:"company"`
	Group         string  `json:"equipment_type"`
	Location      string  `json:"country"`
	EquipmentAge  float64 `json:"equipment_age"`
	PriorityScore float64 `json:"priority_score"`
}

// RankedList is a ranked result together with the scorer that produced it.
type RankedList struct {
	Entries []RankedEntry `json:"entries"`
	Source  Source        `json:"source"`
}

// GroupMetrics summarises ranking quality inside one equipment type.
type GroupMetrics struct {
	Group        string  `json:"equipment_type"`
	Count        int     `json:"count"`
	Positives    int     `json:"positives"`
	K            int     `json:"k"`
	PrecisionAtK float64 `json:"precision_at_k"`
	NDCGAtK      float64 `json:"ndcg_at_k"`
}

// FeatureImportance is the normalised contribution of one feature column.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}
