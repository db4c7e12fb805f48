package database

import (
	"fmt"
	"time"

	"github.com/dosewatch/meds-reminder/internal/config"
	"github.com/dosewatch/meds-reminder/internal/database/migrations"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
	apperrors "github.com/dosewatch/meds-reminder/internal/errors"
	"github.com/dosewatch/meds-reminder/internal/fraction"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DrugForm is the medication form, shown as an icon next to the drug name.
type DrugForm int

const (
	FormTablet DrugForm = iota
	FormInjection
	FormSpray
	FormDrop
	FormGel
	FormOther
)

func (f DrugForm) String() string {
	switch f {
	case FormTablet:
		return "tablet"
	case FormInjection:
		return "injection"
	case FormSpray:
		return "spray"
	case FormDrop:
		return "drop"
	case FormGel:
		return "gel"
	default:
		return "other"
	}
}

// Drug is one medication schedule.
//
// A "dose" is the smallest available amount of the drug that can be taken
// without splitting, so RefillSize is always a whole number while the
// schedule itself may contain fractional doses. A RefillSize of zero means
// supply tracking is disabled for the drug. Inactive drugs are ignored by
// the reminder engine.
type Drug struct {
	gorm.Model
	Name          string `gorm:"uniqueIndex"`
	Form          DrugForm
	Active        bool `gorm:"default:true"`
	RefillSize    int
	CurrentSupply fraction.Fraction `gorm:"type:text"`
	DoseMorning   fraction.Fraction `gorm:"type:text"`
	DoseNoon      fraction.Fraction `gorm:"type:text"`
	DoseEvening   fraction.Fraction `gorm:"type:text"`
	DoseNight     fraction.Fraction `gorm:"type:text"`
	DoseWholeDay  fraction.Fraction `gorm:"type:text"`
	Comment       string
}

// Dose returns the scheduled amount for a slot.
func (d *Drug) Dose(slot dosetime.Slot) fraction.Fraction {
	switch slot {
	case dosetime.Morning:
		return d.DoseMorning
	case dosetime.Noon:
		return d.DoseNoon
	case dosetime.Evening:
		return d.DoseEvening
	case dosetime.Night:
		return d.DoseNight
	case dosetime.WholeDay:
		return d.DoseWholeDay
	}
	return fraction.Zero
}

// SetDose sets the scheduled amount for a slot. Negative doses are invalid.
func (d *Drug) SetDose(slot dosetime.Slot, dose fraction.Fraction) error {
	if dose.Negative() {
		return apperrors.NewValidationError("dose cannot be negative")
	}
	switch slot {
	case dosetime.Morning:
		d.DoseMorning = dose
	case dosetime.Noon:
		d.DoseNoon = dose
	case dosetime.Evening:
		d.DoseEvening = dose
	case dosetime.Night:
		d.DoseNight = dose
	case dosetime.WholeDay:
		d.DoseWholeDay = dose
	default:
		return apperrors.NewValidationError(fmt.Sprintf("invalid dose time %s", slot))
	}
	return nil
}

// SetCurrentSupply validates the new supply at the mutation boundary, so
// the engine only ever reads non-negative values.
func (d *Drug) SetCurrentSupply(supply fraction.Fraction) error {
	if supply.Negative() {
		return apperrors.NewValidationError("current supply cannot be negative")
	}
	d.CurrentSupply = supply
	return nil
}

// SetRefillSize rejects negative refill sizes.
func (d *Drug) SetRefillSize(size int) error {
	if size < 0 {
		return apperrors.NewValidationError("refill size cannot be negative")
	}
	d.RefillSize = size
	return nil
}

// DailyDose is the per-day consumption rate: the sum of the four timed
// slots. The whole-day dose is excluded from the rate on purpose, see the
// dosetime package.
func (d *Drug) DailyDose() fraction.Fraction {
	total := fraction.Zero
	for _, slot := range dosetime.TimedSlots {
		total = total.Add(d.Dose(slot))
	}
	return total
}

// SupplyDays estimates how many days the current supply lasts. This is a
// display estimate, not a balance: float math is fine here.
func (d *Drug) SupplyDays() float64 {
	daily := d.DailyDose().Float64()
	if daily == 0 {
		return 0
	}
	return d.CurrentSupply.Float64() / daily
}

// HasDoseOnDate reports whether the schedule applies on the given date.
// All schedules are currently daily; skip-day patterns would hook in here.
func (d *Drug) HasDoseOnDate(date time.Time) bool {
	return true
}

// Equal compares all schedule fields. The storage-assigned ID and the
// gorm timestamps are excluded so that duplicate detection works on drugs
// that have not been persisted yet.
func (d *Drug) Equal(other *Drug) bool {
	if other == nil {
		return false
	}
	return d.Name == other.Name &&
		d.Form == other.Form &&
		d.Active == other.Active &&
		d.RefillSize == other.RefillSize &&
		d.CurrentSupply.CmpFrac(other.CurrentSupply) == 0 &&
		d.DoseMorning.CmpFrac(other.DoseMorning) == 0 &&
		d.DoseNoon.CmpFrac(other.DoseNoon) == 0 &&
		d.DoseEvening.CmpFrac(other.DoseEvening) == 0 &&
		d.DoseNight.CmpFrac(other.DoseNight) == 0 &&
		d.DoseWholeDay.CmpFrac(other.DoseWholeDay) == 0 &&
		d.Comment == other.Comment
}

func (d *Drug) String() string {
	return fmt.Sprintf("%s={%s - %s - %s - %s}",
		d.Name, d.DoseMorning, d.DoseNoon, d.DoseEvening, d.DoseNight)
}

// Intake records a dose the user marked as taken.
//
// Date is the scheduled calendar date, which may differ from Timestamp's
// date: a night dose taken a minute past midnight still belongs to the
// previous day.
type Intake struct {
	gorm.Model
	DrugID    uint `gorm:"index:idx_intake_lookup"`
	Drug      Drug
	Date      time.Time `gorm:"index:idx_intake_lookup"`
	Timestamp time.Time
	DoseTime  dosetime.Slot `gorm:"index:idx_intake_lookup"`
}

// Equal compares the four identifying fields, ignoring storage identity.
func (i *Intake) Equal(other *Intake) bool {
	if other == nil {
		return false
	}
	return i.DrugID == other.DrugID &&
		i.Date.Equal(other.Date) &&
		i.Timestamp.Equal(other.Timestamp) &&
		i.DoseTime == other.DoseTime
}

// Preference is one key-value row of engine settings: dose-time window
// offsets, snooze interval, minimum supply days.
type Preference struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func NewPostgresDB(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Drug{}, &Intake{}, &Preference{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	if err := migrations.RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
