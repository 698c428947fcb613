package history

import "fmt"

// Risk indications emitted by Analyze.
const (
	IndicationUnknown = "unknown"
	IndicationLow     = "low"
	IndicationMedium  = "medium"
	IndicationHigh    = "high"
)

// Analysis summarizes the outcomes of retrieved past cases.
type Analysis struct {
	HasHistory      bool     `json:"has_history"`
	TotalCases      int      `json:"total_cases"`
	RiskIndication  string   `json:"risk_indication"`
	CommonPatterns  []string `json:"common_patterns,omitempty"`
	UserPreferences []string `json:"user_preferences,omitempty"`
}

// Analyze classifies the retrieved cases into a historical risk
// indication. High dominates medium dominates low: more than half the
// cases scoring above 0.7 indicates high; otherwise more rejections than
// confirmations, or any execution failure, indicates medium. Patterns
// describe the outcome counts; the preference hint appears only when one
// of confirmed/rejected strictly dominates the other.
func Analyze(cases []Case) Analysis {
	if len(cases) == 0 {
		return Analysis{HasHistory: false, RiskIndication: IndicationUnknown}
	}

	var highRisk, confirmed, rejected, execFailed int
	for _, c := range cases {
		rec := c.Record
		if rec.RiskScore > 0.7 {
			highRisk++
		}
		if rec.UserConfirmed != nil {
			if *rec.UserConfirmed {
				confirmed++
			} else {
				rejected++
			}
		}
		if rec.ExecutionSuccess != nil && !*rec.ExecutionSuccess {
			execFailed++
		}
	}

	indication := IndicationLow
	switch {
	case highRisk*2 > len(cases):
		indication = IndicationHigh
	case rejected > confirmed || execFailed > 0:
		indication = IndicationMedium
	}

	var patterns []string
	if highRisk > 0 {
		patterns = append(patterns, fmt.Sprintf("%d/%d similar operations were marked high-risk", highRisk, len(cases)))
	}
	if rejected > 0 {
		patterns = append(patterns, fmt.Sprintf("%d similar operations were rejected by the user", rejected))
	}
	if execFailed > 0 {
		patterns = append(patterns, fmt.Sprintf("%d similar operations failed during execution", execFailed))
	}

	var preferences []string
	switch {
	case confirmed > rejected:
		preferences = append(preferences, "the user usually confirms this kind of operation")
	case rejected > confirmed:
		preferences = append(preferences, "the user usually rejects this kind of operation")
	}

	return Analysis{
		HasHistory:      true,
		TotalCases:      len(cases),
		RiskIndication:  indication,
		CommonPatterns:  patterns,
		UserPreferences: preferences,
	}
}
