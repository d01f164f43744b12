package model

// ConfidenceWeights weighs the confidence factors.
type ConfidenceWeights struct {
	DataQuality       float64 `json:"data_quality" mapstructure:"data_quality" yaml:"data_quality"`
	RuleMatchRate     float64 `json:"rule_match_rate" mapstructure:"rule_match_rate" yaml:"rule_match_rate"`
	FixStability      float64 `json:"fix_stability" mapstructure:"fix_stability" yaml:"fix_stability"`
	CaseSimilarity    float64 `json:"case_similarity" mapstructure:"case_similarity" yaml:"case_similarity"`
	MappingConfidence float64 `json:"mapping_confidence" mapstructure:"mapping_confidence" yaml:"mapping_confidence"`
}

// Sum returns the total weight.
func (w ConfidenceWeights) Sum() float64 {
	return w.DataQuality + w.RuleMatchRate + w.FixStability + w.CaseSimilarity + w.MappingConfidence
}

// ConfidenceBreakdown holds the per-factor scores and their weighted total.
type ConfidenceBreakdown struct {
	DataQuality       float64           `json:"data_quality"`
	RuleMatchRate     float64           `json:"rule_match_rate"`
	FixStability      float64           `json:"fix_stability"`
	CaseSimilarity    float64           `json:"case_similarity"`
	MappingConfidence float64           `json:"mapping_confidence"`
	Weights           ConfidenceWeights `json:"weights"`
	Overall           float64           `json:"overall"`
}

// DecisionType is the committed action for a run.
type DecisionType string

const (
	DecisionAutoComplete   DecisionType = "auto_complete"
	DecisionAutoCorrect    DecisionType = "auto_correct"
	DecisionAutoWithReview DecisionType = "auto_with_review"
	DecisionAskHuman       DecisionType = "ask_human"
	DecisionReject         DecisionType = "reject"
)

// Automatic reports whether the decision needs no human before use.
func (d DecisionType) Automatic() bool {
	return d == DecisionAutoComplete || d == DecisionAutoCorrect
}

// Decision is the terminal outcome of one orchestration run.
type Decision struct {
	Type       DecisionType        `json:"type"`
	Reason     string              `json:"reason"`
	Confidence ConfidenceBreakdown `json:"confidence"`
}
