package gbdt

import (
	"fmt"

	e "github.com/gartstein/priority/internal/priority/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Node fields are packed as parallel number lists per tree to keep the
// encoded artifact compact. float64 values round-trip exactly.

// ToStruct encodes the classifier as a protobuf Struct.
func (c *Classifier) ToStruct() (*structpb.Struct, error) {
	trees := make([]any, len(c.Trees))
	for ti, t := range c.Trees {
		n := len(t.Nodes)
		leaf := make([]any, n)
		feature := make([]any, n)
		threshold := make([]any, n)
		left := make([]any, n)
		right := make([]any, n)
		value := make([]any, n)
		gain := make([]any, n)
		for i, node := range t.Nodes {
			leaf[i] = node.Leaf
			feature[i] = float64(node.Feature)
			threshold[i] = node.Threshold
			left[i] = float64(node.Left)
			right[i] = float64(node.Right)
			value[i] = node.Value
			gain[i] = node.Gain
		}
		trees[ti] = map[string]any{
			"leaf": leaf, "feature": feature, "threshold": threshold,
			"left": left, "right": right, "value": value, "gain": gain,
		}
	}

	params := make(map[string]any)
	for k, v := range c.Params.AsMap() {
		params[k] = v
	}
	s, err := structpb.NewStruct(map[string]any{
		"num_features": float64(c.NumFeatures),
		"params":       params,
		"trees":        trees,
	})
	if err != nil {
		return nil, fmt.Errorf("encode classifier: %w", err)
	}
	return s, nil
}

// FromStruct decodes a classifier produced by ToStruct.
func FromStruct(s *structpb.Struct) (*Classifier, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil classifier struct", e.ErrInvalidInput)
	}
	fields := s.GetFields()

	c := &Classifier{NumFeatures: int(fields["num_features"].GetNumberValue())}
	p := fields["params"].GetStructValue().GetFields()
	c.Params = Params{
		NEstimators:    int(p["n_estimators"].GetNumberValue()),
		MaxDepth:       int(p["max_depth"].GetNumberValue()),
		LearningRate:   p["learning_rate"].GetNumberValue(),
		Lambda:         p["reg_lambda"].GetNumberValue(),
		MinChildWeight: p["min_child_weight"].GetNumberValue(),
		ScalePosWeight: p["scale_pos_weight"].GetNumberValue(),
	}

	for ti, tv := range fields["trees"].GetListValue().GetValues() {
		tf := tv.GetStructValue().GetFields()
		leaf := tf["leaf"].GetListValue().GetValues()
		feature := tf["feature"].GetListValue().GetValues()
		threshold := tf["threshold"].GetListValue().GetValues()
		left := tf["left"].GetListValue().GetValues()
		right := tf["right"].GetListValue().GetValues()
		value := tf["value"].GetListValue().GetValues()
		gain := tf["gain"].GetListValue().GetValues()

		n := len(leaf)
		for _, col := range [][]*structpb.Value{feature, threshold, left, right, value, gain} {
			if len(col) != n {
				return nil, fmt.Errorf("%w: tree %d has ragged node columns", e.ErrInvalidInput, ti)
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: tree %d is empty", e.ErrInvalidInput, ti)
		}

		tree := Tree{Nodes: make([]Node, n)}
		for i := 0; i < n; i++ {
			node := Node{
				Leaf:      leaf[i].GetBoolValue(),
				Feature:   int(feature[i].GetNumberValue()),
				Threshold: threshold[i].GetNumberValue(),
				Left:      int(left[i].GetNumberValue()),
				Right:     int(right[i].GetNumberValue()),
				Value:     value[i].GetNumberValue(),
				Gain:      gain[i].GetNumberValue(),
			}
			if !node.Leaf {
				if node.Feature < 0 || node.Feature >= c.NumFeatures ||
					node.Left <= i || node.Left >= n || node.Right <= i || node.Right >= n {
					return nil, fmt.Errorf("%w: tree %d node %d is malformed", e.ErrInvalidInput, ti, i)
				}
			}
			tree.Nodes[i] = node
		}
		c.Trees = append(c.Trees, tree)
	}
	return c, nil
}
