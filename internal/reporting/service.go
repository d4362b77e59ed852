package reporting

import (
	"context"
	"errors"
	"time"

	"callbridge/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce party filtering.
type Repository interface {
	ListCalls(ctx context.Context, role calls.Role, partyID string, from, to time.Time) ([]calls.Session, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	role := calls.Role(req.Role)
	if req.PartyID == "" || (role != calls.RoleCaller && role != calls.RoleCallee) {
		return CallsSummary{}, ErrInvalidRequest
	}
	rng := req.Range
	if rng.To.IsZero() {
		rng.To = s.clock().UTC()
	}
	if rng.From.IsZero() {
		rng.From = rng.To.Add(-DefaultWindow)
	}
	if !rng.To.After(rng.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, role, req.PartyID, rng.From, rng.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Role: req.Role, PartyID: req.PartyID, Range: rng}
	var answered, closed, timed int
	for _, c := range rows {
		out.TotalCalls++
		switch c.Status {
		case calls.StatusEnded:
			out.EndedCalls++
		case calls.StatusRejected:
			out.RejectedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		default:
			out.OpenCalls++
		}
		if c.Status.Terminal() {
			closed++
			if c.StartTime != nil {
				answered++
			}
		}
		if c.Duration > 0 {
			out.TotalDurationSeconds += c.Duration
			timed++
		}
	}
	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(timed)
	}
	if closed > 0 {
		out.AnswerRate = float64(answered) / float64(closed)
	}
	return out, nil
}
