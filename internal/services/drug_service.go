package services

import (
	"context"
	"sync"
	"time"

	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
	apperrors "github.com/dosewatch/meds-reminder/internal/errors"
	"github.com/dosewatch/meds-reminder/internal/fraction"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"gorm.io/gorm"
)

// EntryKind tells change listeners what happened to an entry.
type EntryKind int

const (
	EntryCreated EntryKind = iota
	EntryUpdated
	EntryDeleted
)

// FlagIgnore marks a mutation as irrelevant for scheduling. Bulk imports
// set it so that a thousand inserts don't trigger a thousand reschedules.
const FlagIgnore = 1 << 0

// ChangeListener receives data mutation events.
type ChangeListener func(kind EntryKind, entry interface{}, flags int)

// DrugService is the data-access layer for drugs and intakes. All
// mutations fan out to registered change listeners; the scheduler uses
// this to reschedule itself when the data under it moves.
type DrugService struct {
	db *gorm.DB

	mu        sync.RWMutex
	listeners map[int]ChangeListener
	nextID    int
}

func NewDrugService(db *gorm.DB) *DrugService {
	return &DrugService{
		db:        db,
		listeners: make(map[int]ChangeListener),
	}
}

// RegisterOnChangeListener adds a listener and returns its removal func.
func (s *DrugService) RegisterOnChangeListener(l ChangeListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *DrugService) notify(kind EntryKind, entry interface{}, flags int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l(kind, entry, flags)
	}
}

// ListDrugs returns all drugs in stable storage order. Consumers needing
// another order sort explicitly.
func (s *DrugService) ListDrugs(ctx context.Context) ([]database.Drug, error) {
	var drugs []database.Drug
	if err := s.db.WithContext(ctx).Order("id").Find(&drugs).Error; err != nil {
		return nil, apperrors.NewStorageError(err)
	}
	return drugs, nil
}

// GetDrug returns one drug by ID.
func (s *DrugService) GetDrug(ctx context.Context, id uint) (*database.Drug, error) {
	var drug database.Drug
	if err := s.db.WithContext(ctx).First(&drug, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrDrugNotFound
		}
		return nil, apperrors.NewStorageError(err)
	}
	return &drug, nil
}

// FindIntakes returns recorded intakes for (drug, scheduled date, slot).
func (s *DrugService) FindIntakes(ctx context.Context, drugID uint, date time.Time, slot dosetime.Slot) ([]database.Intake, error) {
	var intakes []database.Intake
	err := s.db.WithContext(ctx).
		Where("drug_id = ? AND date = ? AND dose_time = ?", drugID, dosetime.DateOf(date), slot).
		Find(&intakes).Error
	if err != nil {
		return nil, apperrors.NewStorageError(err)
	}
	return intakes, nil
}

// CreateDrug persists a new drug and notifies listeners.
func (s *DrugService) CreateDrug(ctx context.Context, drug *database.Drug, flags int) error {
	if drug.Name == "" {
		return apperrors.NewValidationError("drug name cannot be empty")
	}
	if err := s.db.WithContext(ctx).Create(drug).Error; err != nil {
		return apperrors.NewStorageError(err)
	}
	s.notify(EntryCreated, drug, flags)
	return nil
}

// UpdateDrug persists changes to a drug and notifies listeners.
func (s *DrugService) UpdateDrug(ctx context.Context, drug *database.Drug, flags int) error {
	if err := s.db.WithContext(ctx).Save(drug).Error; err != nil {
		return apperrors.NewStorageError(err)
	}
	s.notify(EntryUpdated, drug, flags)
	return nil
}

// DeleteDrug removes a drug and its intakes, then notifies listeners.
func (s *DrugService) DeleteDrug(ctx context.Context, id uint, flags int) error {
	drug, err := s.GetDrug(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("drug_id = ?", id).Delete(&database.Intake{}).Error; err != nil {
		return apperrors.NewStorageError(err)
	}
	if err := s.db.WithContext(ctx).Delete(&database.Drug{}, id).Error; err != nil {
		return apperrors.NewStorageError(err)
	}
	s.notify(EntryDeleted, drug, flags)
	return nil
}

// RecordIntake marks a dose as taken: creates the intake row and, when
// supply tracking is on, subtracts the dose from the drug's supply.
//
// The scheduled date is passed by the caller, not derived from the
// timestamp: a night dose taken past midnight belongs to the previous day.
func (s *DrugService) RecordIntake(ctx context.Context, drug *database.Drug, date time.Time, slot dosetime.Slot) (*database.Intake, error) {
	intake := &database.Intake{
		DrugID:    drug.ID,
		Date:      dosetime.DateOf(date),
		Timestamp: time.Now(),
		DoseTime:  slot,
	}

	if err := s.db.WithContext(ctx).Create(intake).Error; err != nil {
		return nil, apperrors.NewStorageError(err)
	}
	s.notify(EntryCreated, intake, 0)

	if drug.RefillSize != 0 {
		remaining := drug.CurrentSupply.Sub(drug.Dose(slot))
		if remaining.Negative() {
			logger.Warn("Supply underflow, clamping to zero", "drug", drug.Name)
			remaining = fraction.Zero
		}
		if err := drug.SetCurrentSupply(remaining); err != nil {
			return nil, err
		}
		if err := s.UpdateDrug(ctx, drug, 0); err != nil {
			return nil, err
		}
	}

	return intake, nil
}

// RefillDrug tops the supply up by one refill.
func (s *DrugService) RefillDrug(ctx context.Context, drug *database.Drug) error {
	if drug.RefillSize == 0 {
		return apperrors.NewValidationError("supply tracking is disabled for this drug")
	}
	if err := drug.SetCurrentSupply(drug.CurrentSupply.Add(fraction.FromInt(int64(drug.RefillSize)))); err != nil {
		return err
	}
	return s.UpdateDrug(ctx, drug, 0)
}
