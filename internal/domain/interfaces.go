// Package domain declares the contracts between the reminder engine and
// its collaborators. The engine only ever reads drug and intake data;
// mutations happen in the bot and are observed through change callbacks.
package domain

import (
	"context"
	"time"

	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
)

// DrugRepository is the read side of the data-access collaborator.
type DrugRepository interface {
	// ListDrugs returns all drugs in stable storage order.
	ListDrugs(ctx context.Context) ([]database.Drug, error)
	// FindIntakes returns recorded intakes for (drug, scheduled date, slot).
	FindIntakes(ctx context.Context, drugID uint, date time.Time, slot dosetime.Slot) ([]database.Intake, error)
}

// PreferenceSource supplies the engine's tunables.
type PreferenceSource interface {
	// Windows assembles the dose-time window table plus snooze interval.
	Windows(ctx context.Context) (dosetime.Windows, error)
	// MinSupplyDays is the low-supply alert threshold.
	MinSupplyDays(ctx context.Context) int
}

// ComplianceEvaluator classifies outstanding intakes.
type ComplianceEvaluator interface {
	PendingCount(ctx context.Context, date time.Time, slot dosetime.Slot) (int, error)
	ForgottenCount(ctx context.Context, date time.Time, lastSlot dosetime.Slot) (int, error)
}

// SupplyMonitor flags drugs running low.
type SupplyMonitor interface {
	DrugsBelowThreshold(ctx context.Context, minDays int) ([]database.Drug, error)
}

// Scheduler is the port shared by the two driving-loop strategies.
type Scheduler interface {
	// Start launches the loop. It returns once the loop is running.
	Start(ctx context.Context) error
	// Restart cancels any suspension in progress and re-enters the loop.
	// Safe to call from any goroutine at any time; rapid calls coalesce.
	Restart()
	// Stop shuts the loop down and removes the displayed notification.
	Stop()
}
