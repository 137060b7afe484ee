package policy

import (
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/visitbook/libs/config"
)

const defaultCancelHours = 2

// DefaultLead is the cancellation lead time used when nothing is configured.
const DefaultLead = defaultCancelHours * time.Hour

// FromEnv builds the static provider from VISIT_CANCEL_WINDOW_HOURS,
// VISIT_RESCHEDULE_WINDOW_HOURS, VISIT_RESCHEDULE_WINDOW_ENFORCED and VISIT_WINDOW_OVERRIDES.
func FromEnv(logger *slog.Logger) Provider {
	cancel := hoursFromEnv(logger, "VISIT_CANCEL_WINDOW_HOURS", defaultCancelHours)
	reschedule := cancel
	if config.String("VISIT_RESCHEDULE_WINDOW_HOURS", "") != "" {
		reschedule = hoursFromEnv(logger, "VISIT_RESCHEDULE_WINDOW_HOURS", cancel.Hours())
	}

	overrides, err := ParseOverrides(config.String("VISIT_WINDOW_OVERRIDES", ""))
	if err != nil {
		logger.Warn("ignoring invalid window overrides", "err", err)
		overrides = nil
	}

	return NewStaticProvider(Windows{
		CancelLead:        cancel,
		RescheduleLead:    reschedule,
		EnforceReschedule: config.Bool("VISIT_RESCHEDULE_WINDOW_ENFORCED", true),
	}, overrides...)
}

func hoursFromEnv(logger *slog.Logger, key string, fallback float64) time.Duration {
	hours := fallback
	if raw := config.String(key, ""); raw != "" {
		if v := config.Float(key, -1); v < 0 {
			logger.Warn("invalid window hours; using default", "key", key, "value", raw)
		} else {
			hours = v
		}
	}
	return time.Duration(hours * float64(time.Hour))
}
