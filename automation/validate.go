// Package automation owns trigger-to-workflow bindings: the cron scheduler,
// the webhook dispatcher and cron expression validation.
package automation

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arcflow/arcflow/flow"
)

// cronParser accepts standard five-field expressions plus an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validation is the result of checking a cron expression.
type Validation struct {
	Valid   bool       `json:"valid"`
	NextRun *time.Time `json:"nextRun,omitempty"`
	Err     string     `json:"error,omitempty"`
}

// Validate checks a cron expression against the scheduler's grammar and
// computes its next fire time in the given IANA timezone (empty means UTC).
//
// Pure by contract: no scheduler state is touched and nothing is persisted.
// Expressions carrying their own TZ/CRON_TZ prefix are rejected; the
// timezone always comes from the automation's own field.
func Validate(expression, timezone string) Validation {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return invalid("cron expression is empty")
	}
	if strings.HasPrefix(expression, "TZ=") || strings.HasPrefix(expression, "CRON_TZ=") {
		return invalid("timezone prefixes are not allowed; use the timezone field")
	}

	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return invalid("unknown timezone: " + timezone)
		}
	}

	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return invalid(err.Error())
	}

	next := schedule.Next(time.Now().In(loc))
	if next.IsZero() {
		return invalid("expression never fires")
	}
	return Validation{Valid: true, NextRun: &next}
}

func invalid(msg string) Validation {
	return Validation{Valid: false, Err: flow.Errf(flow.CodeCronInvalid, "%s", msg).Error()}
}

// cronSpec builds the spec string handed to the cron runner, carrying the
// automation's timezone as a CRON_TZ prefix.
func cronSpec(expression, timezone string) string {
	if timezone == "" || timezone == "UTC" {
		return expression
	}
	return "CRON_TZ=" + timezone + " " + expression
}
