package models

type Relevance string

const (
	RelevanceLow    Relevance = "low"
	RelevanceMedium Relevance = "medium"
	RelevanceHigh   Relevance = "high"
)

// EvaluationRecord is the structured feedback extracted from the model's
// evaluation reply. Values are only ever constructed after full validation.
type EvaluationRecord struct {
	Relevance        Relevance `json:"relevance"`
	EvaluationScore  int       `json:"evaluation_score"`
	OverallFeedback  string    `json:"overall_feedback"`
	Plagiarism       float64   `json:"plagiarism"`
	ReadabilityScore float64   `json:"readability_score"`
	CosineScore      float64   `json:"cosine_score"`
	JaccardIndex     float64   `json:"jaccard_index"`
	AIText           string    `json:"ai_text"`
}

// PipelineResult is the outcome of one successful pipeline run.
type PipelineResult struct {
	DocumentText      string           `json:"extracted_text"`
	Topic             string           `json:"topic"`
	GeneratedText     string           `json:"ai_generated_text"`
	Context           []Snippet        `json:"context"`
	RetrievalDegraded bool             `json:"retrieval_degraded"`
	Evaluation        EvaluationRecord `json:"feedback"`
}

// Answer is a single marked answer read from an answer sheet.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
