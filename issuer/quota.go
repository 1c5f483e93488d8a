package issuer

import (
	"fmt"
	"math"
	"time"

	"github.com/alovak/vcard/internal/expiry"
	"github.com/alovak/vcard/issuer/models"
)

const DefaultReplacementsPerMonth = 2

// QuotaTracker caps card replacements per account per calendar month.
type QuotaTracker struct {
	limit int
	now   func() time.Time
}

func NewQuotaTracker(limit int, now func() time.Time) *QuotaTracker {
	if limit <= 0 {
		limit = DefaultReplacementsPerMonth
	}
	if now == nil {
		now = time.Now
	}
	return &QuotaTracker{limit: limit, now: now}
}

// Quota is the replacement allowance of an account for the current month.
type Quota struct {
	Month     string    `json:"month"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

func (q *QuotaTracker) CountThisMonth(records []models.Replacement) int {
	month := expiry.MonthKey(q.now())
	n := 0
	for _, r := range records {
		if r.Month == month {
			n++
		}
	}
	return n
}

func (q *QuotaTracker) CanReplace(records []models.Replacement) bool {
	return q.CountThisMonth(records) < q.limit
}

func (q *QuotaTracker) Remaining(records []models.Replacement) int {
	return max(q.limit-q.CountThisMonth(records), 0)
}

// NextReset is the first instant of next month.
func (q *QuotaTracker) NextReset() time.Time {
	return expiry.NextMonthStart(q.now())
}

func (q *QuotaTracker) Status(records []models.Replacement) Quota {
	used := q.CountThisMonth(records)
	return Quota{
		Month:     expiry.MonthKey(q.now()),
		Used:      used,
		Limit:     q.limit,
		Remaining: max(q.limit-used, 0),
		ResetsAt:  q.NextReset(),
	}
}

// Check returns ErrQuotaExceeded when no replacement is left this month.
func (q *QuotaTracker) Check(records []models.Replacement) error {
	used := q.CountThisMonth(records)
	if used < q.limit {
		return nil
	}
	reset := q.NextReset()
	days := int(math.Ceil(reset.Sub(q.now()).Hours() / 24))
	return fmt.Errorf("%w: used %d of %d, resets in %d day(s) on %s",
		ErrQuotaExceeded, used, q.limit, days, reset.Format("2006-01-02"))
}

// Record stamps a replacement of oldID by newID with the current month.
func (q *QuotaTracker) Record(oldID, newID string) models.Replacement {
	now := q.now()
	return models.Replacement{
		Date:      now,
		OldCardID: oldID,
		NewCardID: newID,
		Month:     expiry.MonthKey(now),
	}
}
