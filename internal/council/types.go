package council

// Stage1Result is one provider's answer to the original question.
type Stage1Result struct {
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
	Response   string `json:"response"`
}

// CriterionScore is a single rubric criterion scored 1-5 with the
// evaluator's one-line justification.
type CriterionScore struct {
	Criterion  string `json:"criterion"`
	Score      int    `json:"score"`
	Assessment string `json:"assessment"`
}

// ResponseEvaluation is one evaluator's structured verdict on one
// anonymized response. TotalScore is always recomputed from Scores rather
// than trusted from the model's own arithmetic.
type ResponseEvaluation struct {
	ResponseLabel string           `json:"response_label"`
	Scores        []CriterionScore `json:"scores"`
	TotalScore    int              `json:"total_score"`
	Strengths     []string         `json:"strengths"`
	Weaknesses    []string         `json:"weaknesses"`
	PointsAdded   []string         `json:"points_added,omitempty"`
	PointsDocked  []string         `json:"points_docked"`
}

// Stage2Result is one provider's peer-ranking output. Ranking always holds
// the raw text; Evaluations may be empty when the text did not parse, which
// is the designed fallback rather than an error.
type Stage2Result struct {
	ProviderID    string               `json:"provider_id"`
	Model         string               `json:"model"`
	Ranking       string               `json:"ranking"`
	ParsedRanking []string             `json:"parsed_ranking"`
	Evaluations   []ResponseEvaluation `json:"evaluations"`
}

// AggregateRanking is the cross-evaluator average rank position for one
// originally queried provider. AverageRank is nil when no evaluator's
// parsed ranking mentioned the provider (rather than a misleading zero).
type AggregateRanking struct {
	ProviderID    string   `json:"provider_id"`
	Model         string   `json:"model"`
	AverageRank   *float64 `json:"average_rank,omitempty"`
	RankingsCount int      `json:"rankings_count"`
}

// Stage3Result is one synthesizing provider's final answer.
type Stage3Result struct {
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
	Response   string `json:"response"`
}

// Metadata carries the run's de-anonymization map and aggregate rankings.
type Metadata struct {
	LabelToModel      map[string]string  `json:"label_to_model"`
	AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
}

// State is the coordinator's position in the pipeline.
type State string

const (
	StateIdle   State = "idle"
	StateStage1 State = "stage1"
	StateStage2 State = "stage2"
	StateStage3 State = "stage3"
	StateDone   State = "done"
	StateError  State = "error"
)

// Run is the aggregate root for one council execution. The coordinator is
// its sole writer; everyone else reads snapshots after completion.
type Run struct {
	Query    string         `json:"query"`
	Stage1   []Stage1Result `json:"stage1"`
	Stage2   []Stage2Result `json:"stage2"`
	Stage3   []Stage3Result `json:"stage3"`
	Metadata Metadata       `json:"metadata"`
	State    State          `json:"state"`
	Error    string         `json:"error,omitempty"`
}
