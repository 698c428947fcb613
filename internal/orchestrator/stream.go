package orchestrator

import (
	"context"
)

// Pipeline stages reported on the progress stream, in emission order.
const (
	StageRouting              = "routing"
	StageGeneration           = "generation"
	StageRetrieval            = "retrieval"
	StageRuleCheck            = "rule_check"
	StageRiskAssessment       = "risk_assessment"
	StageConfirmationRequired = "confirmation_required"
	StageComplete             = "complete"
)

// ProgressEvent is one step of a streamed query. Fields beyond Stage and
// RequestID are populated per stage; Response is set only on the final
// complete event and Err only on a terminal failure.
type ProgressEvent struct {
	Stage     string `json:"stage"`
	RequestID string `json:"request_id"`

	Routing      *RoutingInfo `json:"routing_info,omitempty"`
	DraftCount   int          `json:"draft_count,omitempty"`
	ToolName     string       `json:"tool_name,omitempty"`
	SimilarCases int          `json:"similar_cases,omitempty"`
	Blocked      bool         `json:"blocked,omitempty"`
	RiskScore    float64      `json:"risk_score,omitempty"`
	RiskLevel    string       `json:"risk_level,omitempty"`
	Message      string       `json:"message,omitempty"`

	Response *QueryResponse `json:"response,omitempty"`
	Err      error          `json:"-"`
}

// ProcessStream runs the same pipeline as Process but reports each stage
// on the returned channel as it happens. The channel is closed after the
// terminal event: a complete event carrying the response, or one with Err
// set.
func (o *Orchestrator) ProcessStream(ctx context.Context, req QueryRequest) <-chan ProgressEvent {
	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)

		emit := func(ev ProgressEvent) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}

		resp, err := o.process(ctx, req, emit)
		if err != nil {
			emit(ProgressEvent{Stage: StageComplete, Err: err})
			return
		}
		emit(ProgressEvent{Stage: StageComplete, RequestID: resp.RequestID, Response: resp})
	}()
	return out
}
