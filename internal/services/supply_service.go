package services

import (
	"context"

	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/domain"
	"github.com/dosewatch/meds-reminder/internal/logger"
)

// SupplyService computes days-of-supply estimates and flags drugs that
// will run out before a refill arrives.
type SupplyService struct {
	drugs domain.DrugRepository
}

func NewSupplyService(drugs domain.DrugRepository) *SupplyService {
	return &SupplyService{drugs: drugs}
}

// DrugsBelowThreshold returns drugs whose estimated days of remaining
// supply fall strictly below minDays, in storage read order. Drugs with
// supply tracking disabled (refill size zero) or a zero daily dose are
// skipped.
func (s *SupplyService) DrugsBelowThreshold(ctx context.Context, minDays int) ([]database.Drug, error) {
	drugs, err := s.drugs.ListDrugs(ctx)
	if err != nil {
		return nil, err
	}

	var low []database.Drug
	for i := range drugs {
		drug := &drugs[i]
		if drug.RefillSize == 0 {
			continue
		}
		if drug.DailyDose().IsZero() {
			continue
		}

		days := drug.SupplyDays()
		logger.Debug("Supply estimate", "drug", drug.Name, "days", days)

		if days < float64(minDays) {
			low = append(low, *drug)
		}
	}

	return low, nil
}
