package scraper

import (
	"errors"
	"fmt"
	"testing"
)

type countingRotator struct {
	calls int
	err   error
}

func (r *countingRotator) RotateIP() error {
	r.calls++
	return r.err
}

func TestEscalateBlockRotatesOnBlockedRun(t *testing.T) {
	rot := &countingRotator{}
	o := &Orchestrator{rotator: rot}

	err := fmt.Errorf("index page 1 unreachable: https://x/all?p=1: %w", ErrSourceBlocked)
	o.escalateBlock("avito", err)

	if rot.calls != 1 {
		t.Fatalf("RotateIP called %d times, want 1", rot.calls)
	}
}

func TestEscalateBlockIgnoresOtherFailures(t *testing.T) {
	rot := &countingRotator{}
	o := &Orchestrator{rotator: rot}

	o.escalateBlock("avito", errors.New("parse index page 1: no items"))

	if rot.calls != 0 {
		t.Fatalf("RotateIP called %d times for a parse error, want 0", rot.calls)
	}
}

func TestEscalateBlockWithoutRotator(t *testing.T) {
	o := &Orchestrator{}
	// must not panic when no tunnel is configured
	o.escalateBlock("avito", fmt.Errorf("blocked: %w", ErrSourceBlocked))
}

func TestEscalateBlockSurvivesRotationFailure(t *testing.T) {
	rot := &countingRotator{err: errors.New("expressvpnctl not on PATH")}
	o := &Orchestrator{rotator: rot}

	o.escalateBlock("avito", fmt.Errorf("blocked: %w", ErrSourceBlocked))

	if rot.calls != 1 {
		t.Fatalf("RotateIP called %d times, want 1", rot.calls)
	}
}
