package services

import (
	"context"
	"time"

	"github.com/dosewatch/meds-reminder/internal/domain"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
)

// ComplianceService classifies outstanding intakes as pending or
// forgotten. Every call recomputes from a fresh data read: there is no
// cache to invalidate, and concurrent ledger mutations at worst shift one
// evaluation cycle.
type ComplianceService struct {
	drugs domain.DrugRepository
	now   func() time.Time
}

func NewComplianceService(drugs domain.DrugRepository) *ComplianceService {
	return &ComplianceService{drugs: drugs, now: time.Now}
}

// PendingCount counts drugs that are due in the given slot on the given
// date and have no recorded intake yet. A drug is due when it is active,
// schedules a nonzero dose for the slot and its schedule applies on the
// date.
func (s *ComplianceService) PendingCount(ctx context.Context, date time.Time, slot dosetime.Slot) (int, error) {
	if !slot.IsTimed() {
		return 0, nil
	}

	drugs, err := s.drugs.ListDrugs(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range drugs {
		drug := &drugs[i]
		if !drug.Active || drug.Dose(slot).IsZero() || !drug.HasDoseOnDate(date) {
			continue
		}
		intakes, err := s.drugs.FindIntakes(ctx, drug.ID, date, slot)
		if err != nil {
			return 0, err
		}
		if len(intakes) == 0 {
			count++
		}
	}

	return count, nil
}

// ForgottenCount counts doses whose slot has already ended without an
// intake. For a future date the answer is zero; for a past date every
// timed slot counts regardless of lastSlot; for today the sum runs from
// morning up to and including lastSlot.
func (s *ComplianceService) ForgottenCount(ctx context.Context, date time.Time, lastSlot dosetime.Slot) (int, error) {
	today := dosetime.DateOf(s.now())
	day := dosetime.DateOf(date)

	if day.After(today) {
		return 0, nil
	}
	if day.Before(today) {
		lastSlot = dosetime.Night
	}

	count := 0
	for _, slot := range dosetime.TimedSlots {
		if slot > lastSlot {
			break
		}
		n, err := s.PendingCount(ctx, day, slot)
		if err != nil {
			return 0, err
		}
		count += n
	}

	return count, nil
}
