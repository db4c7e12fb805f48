package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
	apperrors "github.com/dosewatch/meds-reminder/internal/errors"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"gorm.io/gorm"
)

// Preference keys. Window offsets are "HH:MM" strings, the snooze interval
// and supply threshold are plain integers (minutes and days).
const (
	KeyMorningBegin = "time_morning_begin"
	KeyMorningEnd   = "time_morning_end"
	KeyNoonBegin    = "time_noon_begin"
	KeyNoonEnd      = "time_noon_end"
	KeyEveningBegin = "time_evening_begin"
	KeyEveningEnd   = "time_evening_end"
	KeyNightBegin   = "time_night_begin"
	KeyNightEnd     = "time_night_end"
	KeySnooze       = "time_snooze"
	KeyMinSupply    = "num_min_supply_days"
)

var preferenceDefaults = map[string]string{
	KeyMorningBegin: "06:00",
	KeyMorningEnd:   "11:00",
	KeyNoonBegin:    "11:00",
	KeyNoonEnd:      "15:00",
	KeyEveningBegin: "15:00",
	KeyEveningEnd:   "20:00",
	KeyNightBegin:   "20:00",
	KeyNightEnd:     "24:00",
	KeySnooze:       "15",
	KeyMinSupply:    "7",
}

// DefaultWindows assembles the window table from the documented defaults,
// without a database. The defaults are internally consistent, so this
// never fails.
func DefaultWindows() dosetime.Windows {
	offset := func(key string) time.Duration {
		d, _ := parseOffset(preferenceDefaults[key])
		return d
	}
	snooze, _ := strconv.Atoi(preferenceDefaults[KeySnooze])
	return dosetime.NewWindows(
		dosetime.Window{Begin: offset(KeyMorningBegin), End: offset(KeyMorningEnd)},
		dosetime.Window{Begin: offset(KeyNoonBegin), End: offset(KeyNoonEnd)},
		dosetime.Window{Begin: offset(KeyEveningBegin), End: offset(KeyEveningEnd)},
		dosetime.Window{Begin: offset(KeyNightBegin), End: offset(KeyNightEnd)},
		time.Duration(snooze)*time.Minute,
	)
}

// PreferenceListener is told which key changed.
type PreferenceListener func(key string)

// PreferenceService is the key-value preference collaborator. Reads fall
// back to documented defaults when a key is missing or malformed; writes
// notify registered listeners with the key name.
type PreferenceService struct {
	db *gorm.DB

	mu        sync.RWMutex
	listeners map[int]PreferenceListener
	nextID    int
}

func NewPreferenceService(db *gorm.DB) *PreferenceService {
	return &PreferenceService{
		db:        db,
		listeners: make(map[int]PreferenceListener),
	}
}

// RegisterOnChangeListener adds a listener and returns its removal func.
func (s *PreferenceService) RegisterOnChangeListener(l PreferenceListener) func() {
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

// IsSchedulingKey reports whether a change to the key affects the
// reminder schedule. The engine ignores changes to anything else.
func IsSchedulingKey(key string) bool {
	return strings.HasPrefix(key, "time_") || key == KeyMinSupply
}

// Get returns the stored value or the documented default.
func (s *PreferenceService) Get(ctx context.Context, key string) string {
	var pref database.Preference
	err := s.db.WithContext(ctx).First(&pref, "key = ?", key).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			logger.Warn("Preference read failed, using default", "key", key, "error", err)
		}
		return preferenceDefaults[key]
	}
	return pref.Value
}

// Set stores a value and notifies listeners.
func (s *PreferenceService) Set(ctx context.Context, key, value string) error {
	if _, known := preferenceDefaults[key]; !known {
		return apperrors.NewValidationError(fmt.Sprintf("unknown preference key %q", key))
	}

	pref := database.Preference{Key: key, Value: value}
	err := s.db.WithContext(ctx).Save(&pref).Error
	if err != nil {
		return apperrors.NewStorageError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l(key)
	}
	return nil
}

// Windows assembles the dose-time window table. Individual malformed
// values fall back to their defaults; the assembled table is validated as
// a whole so a nonsensical combination still fails fast.
func (s *PreferenceService) Windows(ctx context.Context) (dosetime.Windows, error) {
	windows := dosetime.NewWindows(
		dosetime.Window{Begin: s.offset(ctx, KeyMorningBegin), End: s.offset(ctx, KeyMorningEnd)},
		dosetime.Window{Begin: s.offset(ctx, KeyNoonBegin), End: s.offset(ctx, KeyNoonEnd)},
		dosetime.Window{Begin: s.offset(ctx, KeyEveningBegin), End: s.offset(ctx, KeyEveningEnd)},
		dosetime.Window{Begin: s.offset(ctx, KeyNightBegin), End: s.offset(ctx, KeyNightEnd)},
		s.Snooze(ctx),
	)
	if err := windows.Validate(); err != nil {
		return dosetime.Windows{}, err
	}
	return windows, nil
}

// Snooze returns the interval between repeated pending reminders.
// Zero disables them.
func (s *PreferenceService) Snooze(ctx context.Context) time.Duration {
	return time.Duration(s.intValue(ctx, KeySnooze)) * time.Minute
}

// MinSupplyDays returns the low-supply alert threshold.
func (s *PreferenceService) MinSupplyDays(ctx context.Context) int {
	return s.intValue(ctx, KeyMinSupply)
}

func (s *PreferenceService) offset(ctx context.Context, key string) time.Duration {
	value := s.Get(ctx, key)
	d, err := parseOffset(value)
	if err != nil {
		logger.Warn("Malformed time preference, using default", "key", key, "value", value)
		d, _ = parseOffset(preferenceDefaults[key])
	}
	return d
}

func (s *PreferenceService) intValue(ctx context.Context, key string) int {
	value := s.Get(ctx, key)
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		logger.Warn("Malformed numeric preference, using default", "key", key, "value", value)
		n, _ = strconv.Atoi(preferenceDefaults[key])
	}
	return n
}

// parseOffset parses "HH:MM" into an offset from midnight. "24:00" is
// accepted as the end-of-day boundary.
func parseOffset(s string) (time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hours < 0 || hours > 24 || minutes < 0 || minutes > 59 || (hours == 24 && minutes != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}
