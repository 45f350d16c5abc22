package calendar

import (
	"fmt"

	"tbsync/internal/config"
	"tbsync/internal/tb"
)

// NewCalendarFromConfig creates a CalendarClient based on the calendar config type.
func NewCalendarFromConfig(cfg config.CalendarConfig, clock tb.Clock, logger tb.Logger) (tb.CalendarClient, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCalendar(clock), nil
	case "ics":
		if cfg.ICSDir == "" {
			return nil, fmt.Errorf("ics calendar requires ics_dir to be set")
		}
		c, err := NewICSCalendar(cfg.ICSDir, clock, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown calendar type: %s", cfg.Type)
	}
}
