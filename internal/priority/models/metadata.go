package models

import (
	"encoding/json"
	"math"
	"time"
)

// Metric is a float64 that serialises NaN and infinities as JSON null so an
// undefined evaluation result survives a round trip through the metadata file.
type Metric float64

// NaNMetric is the undefined metric value.
func NaNMetric() Metric { return Metric(math.NaN()) }

// Defined reports whether the metric holds a finite number.
func (m Metric) Defined() bool {
	f := float64(m)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = NaNMetric()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Metric(f)
	return nil
}

// Metrics is the evaluation record produced by a training run.
type Metrics struct {
	AUCCVMean     Metric `json:"auc_cv_mean"`
	AUCCVStd      Metric `json:"auc_cv_std"`
	AUCTest       Metric `json:"auc_test"`
	PrecisionAt10 Metric `json:"precision_at_10"`
	NDCGAt10      Metric `json:"ndcg_at_10"`
}

// Discriminative is false when a primary metric is undefined, which happens
// when the training data carried no usable label signal.
func (m Metrics) Discriminative() bool {
	return m.AUCTest.Defined() && m.AUCCVMean.Defined()
}

// ModelMetadata is the structured document stored next to a model artifact.
type ModelMetadata struct {
	TrainedAt      time.Time                 `json:"trained_at"`
	FeatureColumns []string                  `json:"feature_columns"`
	Metrics        Metrics                   `json:"metrics"`
	DataSnapshotID string                    `json:"data_snapshot_id"`
	RunID          string                    `json:"run_id"`
	Encodings      map[string]map[string]int `json:"encodings"`
	ReferenceYear  int                       `json:"reference_year,omitempty"`
	Params         map[string]float64        `json:"params"`
	TrainRows      int                       `json:"train_rows"`
	TestRows       int                       `json:"test_rows"`
	Positives      int                       `json:"positives"`
}
