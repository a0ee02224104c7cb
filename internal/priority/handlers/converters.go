package handlers

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/models"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// rankQueryFromStruct reads group, top_k and heuristic. A missing top_k
// returns every row.
func rankQueryFromStruct(s *structpb.Struct) (controller.RankQuery, error) {
	q := controller.RankQuery{GroupFilter: stringField(s, "group")}

	if v, ok := s.GetFields()["top_k"]; ok {
		n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
		if !isNumber {
			return q, fmt.Errorf("top_k must be a number")
		}
		k := n.NumberValue
		if k < 0 || k != math.Trunc(k) || k > math.MaxInt32 {
			return q, fmt.Errorf("top_k must be a non-negative integer, got %v", k)
		}
		q.TopK = int(k)
	}

	if v, ok := s.GetFields()["heuristic"]; ok {
		b, isBool := v.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return q, fmt.Errorf("heuristic must be a boolean")
		}
		q.ForceHeuristic = b.BoolValue
	}
	return q, nil
}

func rankedListToStruct(list models.RankedList) (*structpb.Struct, error) {
	entries := make([]any, len(list.Entries))
	for i, entry := range list.Entries {
		entries[i] = map[string]any{
			"rank":           entry.Rank,
			"company":        entry.Company,
			"equipment_type": entry.Group,
			"country":        entry.Location,
			"equipment_age":  entry.EquipmentAge,
			"priority_score": entry.PriorityScore,
		}
	}
	return structpb.NewStruct(map[string]any{
		"source":  string(list.Source),
		"entries": entries,
	})
}

func importancesToStruct(imps []models.FeatureImportance) (*structpb.Struct, error) {
	values := make([]any, len(imps))
	for i, imp := range imps {
		values[i] = map[string]any{
			"feature":    imp.Feature,
			"importance": imp.Importance,
		}
	}
	return structpb.NewStruct(map[string]any{"importances": values})
}

// statusToStruct goes through the JSON form of ServiceStatus so the metadata
// keys match the metadata document and undefined metrics become null.
func statusToStruct(st controller.ServiceStatus) (*structpb.Struct, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode service status: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to convert service status: %w", err)
	}
	return out, nil
}
