package arbitration

import (
	"context"
	"errors"
)

// Conflict lifecycle: open is the only live state; the three terminal
// states are immutable except for being referenced by later rollbacks.
const (
	StatusOpen       = "open"
	StatusResolved   = "resolved"
	StatusBlocked    = "blocked"
	StatusRolledBack = "rolled_back"
)

var ErrInvalidTransition = errors.New("invalid conflict transition")

func CanTransition(from, to string) bool {
	switch from {
	case StatusOpen:
		return to == StatusResolved || to == StatusBlocked || to == StatusRolledBack
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func IsTerminal(status string) bool {
	switch status {
	case StatusResolved, StatusBlocked, StatusRolledBack:
		return true
	default:
		return false
	}
}

// executeWithCompensation runs execute and calls compensate on failure.
// Used to keep the conflict table and the audit chain in step: both
// writes land or neither does.
func executeWithCompensation(ctx context.Context, execute func(context.Context) error, compensate func(context.Context) error) error {
	if execute == nil {
		return errors.New("execute missing")
	}
	if err := execute(ctx); err != nil {
		if compensate != nil {
			_ = compensate(ctx)
		}
		return err
	}
	return nil
}
