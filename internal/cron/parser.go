// Package cron wraps robfig/cron with the standard 5-field parser and
// timezone-aware next-occurrence computation.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse parses a 5-field cron expression. An empty timezone means UTC.
func (p *Parser) Parse(expr string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Validate reports whether expr is a well-formed 5-field cron expression.
func (p *Parser) Validate(expr string) error {
	if _, err := p.parser.Parse(expr); err != nil {
		return fmt.Errorf("parse cron: %w", err)
	}
	return nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
