// Package cron turns schedule expressions into next-fire-time computations.
//
// It wraps robfig/cron's parser so the rest of the runtime deals with one
// Schedule type and one error shape. Parsing is the only place a bad
// expression can surface; it must fail at registration time, never be
// tolerated into a schedule that silently fires "never" or "always".
package cron

import (
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// Schedule yields fire times for a parsed expression.
//
// Next returns the earliest instant strictly after t that matches the
// expression, in t's location. It is a pure function of (expression, t).
type Schedule interface {
	Next(t time.Time) time.Time
}

// ParseError reports a malformed schedule expression.
type ParseError struct {
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse schedule %q: %v", e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Standard 5-field grammar (minute hour dom month dow) plus @descriptors
// like @hourly and @every. DOM and DOW are OR'd when both are restricted,
// per conventional cron.
var parser5 = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// 6-field grammar with a leading seconds field.
var parser6 = robfig.NewParser(
	robfig.Second | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow,
)

// Parse compiles a cron expression.
//
// Accepted forms:
//   - 5 fields: "*/5 * * * *"
//   - 6 fields (leading seconds): "30 */5 * * * *"
//   - descriptors: "@hourly", "@daily", "@every 55m"
func Parse(expr string) (Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, &ParseError{Expr: expr, Err: fmt.Errorf("expression required")}
	}

	if strings.HasPrefix(s, "@") {
		sched, err := parser5.Parse(s)
		if err != nil {
			return nil, &ParseError{Expr: expr, Err: err}
		}
		return sched, nil
	}

	switch n := len(strings.Fields(s)); n {
	case 5:
		sched, err := parser5.Parse(s)
		if err != nil {
			return nil, &ParseError{Expr: expr, Err: err}
		}
		return sched, nil
	case 6:
		sched, err := parser6.Parse(s)
		if err != nil {
			return nil, &ParseError{Expr: expr, Err: err}
		}
		return sched, nil
	default:
		return nil, &ParseError{
			Expr: expr,
			Err:  fmt.Errorf("expected 5 or 6 fields, got %d", n),
		}
	}
}

// Validate reports whether expr parses, discarding the schedule.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}
