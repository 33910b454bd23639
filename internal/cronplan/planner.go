// Package cronplan parses five-field cron expressions and computes next
// occurrences for the health-check scheduler.
package cronplan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Validation is the result of checking a cron expression.
type Validation struct {
	Valid       bool       `json:"valid"`
	Description string     `json:"description,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Planner validates cron expressions and computes next-run instants.
type Planner struct {
	logger *zap.Logger
	parser cron.Parser
}

// NewPlanner creates a planner for standard five-field expressions
// (minute, hour, day-of-month, month, day-of-week).
func NewPlanner(logger *zap.Logger) *Planner {
	return &Planner{
		logger: logger.Named("cronplan"),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Validate checks an expression and, when valid, reports a human-readable
// description and the next occurrence after now.
func (p *Planner) Validate(expression string) Validation {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return Validation{Valid: false, Error: fmt.Sprintf("invalid cron expression: %v", err)}
	}

	next := sched.Next(time.Now())
	return Validation{
		Valid:       true,
		Description: Describe(expression),
		NextRun:     &next,
	}
}

// NextRun computes the first occurrence of expression strictly after from.
// The second return value is false when the expression cannot be parsed.
// For a fixed expression the result is monotonic in from.
func (p *Planner) NextRun(expression string, from time.Time) (time.Time, bool) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		p.logger.Warn("Skipping next-run computation for invalid expression",
			zap.String("expression", expression),
			zap.Error(err))
		return time.Time{}, false
	}
	return sched.Next(from), true
}

// Describe renders a human-readable summary for the common expression
// shapes. It is cosmetic: anything it cannot recognize falls back to
// "Custom schedule" rather than failing.
func Describe(expression string) string {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return "Custom schedule"
	}

	minute, minOK := atoi(fields[0])
	hour, hourOK := atoi(fields[1])
	dom, domOK := atoi(fields[2])
	dow, dowOK := atoi(fields[4])

	switch {
	case fields[0] == "*" && fields[1] == "*" && fields[2] == "*" && fields[3] == "*" && fields[4] == "*":
		return "Every minute"
	case minOK && fields[1] == "*" && fields[2] == "*" && fields[3] == "*" && fields[4] == "*":
		return fmt.Sprintf("Hourly at minute %d", minute)
	case minOK && hourOK && fields[2] == "*" && fields[3] == "*" && fields[4] == "*":
		return fmt.Sprintf("Daily at %02d:%02d", hour, minute)
	case minOK && hourOK && fields[2] == "*" && fields[3] == "*" && dowOK && dow >= 0 && dow <= 6:
		return fmt.Sprintf("Weekly on %s at %02d:%02d", dayNames[dow], hour, minute)
	case minOK && hourOK && domOK && fields[3] == "*" && fields[4] == "*":
		return fmt.Sprintf("Monthly on day %d at %02d:%02d", dom, hour, minute)
	}
	return "Custom schedule"
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
