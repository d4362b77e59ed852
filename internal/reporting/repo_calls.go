package reporting

import (
	"context"
	"time"

	"callbridge/internal/calls"
)

// CallsRepo reads the session store through its paginated history query.
// Pages arrive newest first, so the scan stops at the first session older
// than the range.
type CallsRepo struct {
	calls calls.Repository
}

func NewCallsRepo(repo calls.Repository) *CallsRepo {
	return &CallsRepo{calls: repo}
}

func (r *CallsRepo) ListCalls(ctx context.Context, role calls.Role, partyID string, from, to time.Time) ([]calls.Session, error) {
	out := make([]calls.Session, 0)
	for skip := 0; ; skip += calls.MaxHistoryLimit {
		page, total, err := r.calls.List(ctx, calls.HistoryQuery{
			Role:    role,
			PartyID: partyID,
			Limit:   calls.MaxHistoryLimit,
			Skip:    skip,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range page {
			if s.CreatedAt.Before(from) {
				return out, nil
			}
			if s.CreatedAt.Before(to) {
				out = append(out, s)
			}
		}
		if len(page) == 0 || skip+len(page) >= total {
			return out, nil
		}
	}
}
