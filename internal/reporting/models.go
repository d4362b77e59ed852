package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DefaultWindow is the range used when a request gives none.
const DefaultWindow = 30 * 24 * time.Hour

// CallsSummaryRequest requests aggregated call metrics for one party.
// Party isolation: Role and PartyID are required.
type CallsSummaryRequest struct {
	Role    string    `json:"role"`
	PartyID string    `json:"party_id"`
	Range   TimeRange `json:"range"`
}

type CallsSummary struct {
	Role    string    `json:"role"`
	PartyID string    `json:"partyId"`
	Range   TimeRange `json:"range"`

	TotalCalls    int `json:"totalCalls"`
	EndedCalls    int `json:"endedCalls"`
	RejectedCalls int `json:"rejectedCalls"`
	MissedCalls   int `json:"missedCalls"`
	FailedCalls   int `json:"failedCalls"`
	// OpenCalls are still pending, ringing or accepted.
	OpenCalls int `json:"openCalls"`

	TotalDurationSeconds   int64 `json:"totalDurationSeconds"`
	AverageDurationSeconds int64 `json:"averageDurationSeconds"`

	// AnswerRate is accepted-ever calls over all closed calls.
	AnswerRate float64 `json:"answerRate"`
}
