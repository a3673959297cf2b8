package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a probe schedule.
// Supports:
//   - Cron expressions: "0 */5 * * * *" (6-field) or "*/5 * * * *" (5-field)
//   - Descriptors: "@hourly", "@every 90s"
//   - Go duration strings: "30s", "5m", "1h30m"
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive, got %s", duration)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}
