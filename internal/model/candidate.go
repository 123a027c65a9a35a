package model

// CandidateSource identifies which extraction heuristic produced a candidate.
type CandidateSource string

const (
	SourceStructuredMeta    CandidateSource = "structured-meta"
	SourcePlatformMeta      CandidateSource = "platform-meta"
	SourceLinkedData        CandidateSource = "linked-data"
	SourceVisibleElement    CandidateSource = "visible-element"
	SourceInlineScript      CandidateSource = "inline-script"
	SourceFrequencyFallback CandidateSource = "frequency-fallback"
)

// PriceCandidate is a price value produced by one extraction heuristic,
// tagged with a confidence score. Candidates are transient and never
// persisted.
type PriceCandidate struct {
	Value      float64         `json:"value"`
	Source     CandidateSource `json:"source"`
	Confidence int             `json:"confidence"`
}
