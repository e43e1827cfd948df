package threat

import (
	"fmt"
	"strings"

	"github.com/raysh454/ztguard/internal/scoring"
)

// Status is the lifecycle state of a threat record.
type Status string

const (
	StatusActive        Status = "active"
	StatusBlocked       Status = "blocked"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// transitions is the full edge set; resolved and false_positive are terminal.
var transitions = map[Status]map[Status]bool{
	StatusActive:        {StatusBlocked: true, StatusResolved: true, StatusFalsePositive: true},
	StatusBlocked:       {StatusResolved: true, StatusFalsePositive: true},
	StatusResolved:      {},
	StatusFalsePositive: {},
}

func Statuses() []Status {
	return []Status{StatusActive, StatusBlocked, StatusResolved, StatusFalsePositive}
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether from → to is an edge of the graph.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// InitialStatus is blocked for phishing records at or above autoBlock,
// active otherwise.
func InitialStatus(isPhishing bool, severity, autoBlock scoring.Severity) Status {
	if isPhishing && severity.AtLeast(autoBlock) {
		return StatusBlocked
	}
	return StatusActive
}
