package storage

import "time"

// EventWriter is the interface for writing decision events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DecisionEvent)
	Close()
}

// DecisionEvent represents one gated tool-call decision to be persisted.
type DecisionEvent struct {
	RequestID            string
	UserID               string
	Timestamp            time.Time
	Question             string
	QuestionPreview      string // First 500 chars
	ToolName             string
	ToolArguments        string
	RiskScore            float32
	RiskLevel            string
	RequiresConfirmation bool
	BlacklistHit         bool
	Blocked              bool
	MatchedRuleIDs       []string
	SimilarCaseCount     uint32
	HistoricalIndication string
	DetectedIntents      []string
	Reasons              []string
	LatencyMs            float32
}

// QuestionPreviewLength is the max chars stored in question_preview.
const QuestionPreviewLength = 500

// TruncateQuestion returns the first N characters (runes) of a question
// for preview storage. It never splits a multi-byte UTF-8 character.
func TruncateQuestion(question string, maxLen int) string {
	runes := []rune(question)
	if len(runes) <= maxLen {
		return question
	}
	return string(runes[:maxLen])
}
