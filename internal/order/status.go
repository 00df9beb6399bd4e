package order

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusReceived  Status = "received"
	StatusWashing   Status = "washing"
	StatusDrying    Status = "drying"
	StatusFolding   Status = "folding"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
)

func (s Status) String() string {
	return string(s)
}

// Stages is the processing order. Index in this slice is the stage rank.
var Stages = []Status{
	StatusReceived,
	StatusWashing,
	StatusDrying,
	StatusFolding,
	StatusReady,
	StatusCompleted,
}

var progressPercent = map[Status]int{
	StatusReceived:  10,
	StatusWashing:   30,
	StatusDrying:    50,
	StatusFolding:   70,
	StatusReady:     90,
	StatusCompleted: 100,
}

// Rank returns the position of s in Stages, or -1 for an unknown status.
func Rank(s Status) int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

func IsValid(s Status) bool {
	return Rank(s) >= 0
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted
}

// Advance returns the stage after s. The terminal stage maps to itself.
func Advance(s Status) (Status, error) {
	rank := Rank(s)
	if rank < 0 {
		return s, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	if rank == len(Stages)-1 {
		return s, nil
	}
	return Stages[rank+1], nil
}

// ProgressPercent maps a stage to the customer-facing progress value.
func ProgressPercent(s Status) int {
	return progressPercent[s]
}

// ParseStatus accepts the canonical names case-insensitively. "ready-for-pickup"
// is accepted as an alias of ready.
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", ErrStatusRequired
	}
	if normalized == "ready-for-pickup" || normalized == "ready_for_pickup" {
		return StatusReady, nil
	}
	s := Status(normalized)
	if !IsValid(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// changeKind classifies a move from current to next for the timeline.
func changeKind(current, next Status) EntryKind {
	switch {
	case Rank(next) < Rank(current):
		return KindCorrection
	case Rank(next) == Rank(current)+1:
		return KindAdvance
	default:
		return KindSet
	}
}
