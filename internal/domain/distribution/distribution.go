package distribution

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm selects how the engine picks among eligible agents.
type Algorithm string

const (
	RoundRobin Algorithm = "round-robin"
	LeastBusy  Algorithm = "least-busy"
	Random     Algorithm = "random"
)

// DefaultAlgorithm is used when no configuration exists or the stored value is unknown.
const DefaultAlgorithm = RoundRobin

// SettingKey is the settings row holding the configured algorithm.
const SettingKey = "distribution.algorithm"

var algorithms = map[Algorithm]bool{
	RoundRobin: true,
	LeastBusy:  true,
	Random:     true,
}

// Algorithms lists the accepted values in display order.
func Algorithms() []Algorithm {
	return []Algorithm{RoundRobin, LeastBusy, Random}
}

// ParseAlgorithm maps a stored configuration string onto the closed set of algorithms.
// Unknown values return DefaultAlgorithm and ok=false so the caller can warn.
func ParseAlgorithm(raw string) (Algorithm, bool) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(raw)))
	if algorithms[a] {
		return a, true
	}
	return DefaultAlgorithm, false
}

type Config struct {
	Algorithm Algorithm `json:"algorithm"`
}

const (
	ReasonNoAgents          = "fallback: no agents available"
	ReasonCapacityExhausted = "fallback: capacity exhausted"
)

var (
	ErrLeadNotFound     = errors.New("lead not found")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAlreadyAssigned  = errors.New("lead already assigned")
	ErrNoAdmin          = errors.New("no administrator configured")
	ErrCapacityExceeded = errors.New("agent capacity exceeded")
	ErrInvalidAlgorithm = errors.New("invalid distribution algorithm")
)

// ConfigurationError means the system cannot guarantee an assignee at all.
// It must reach an operator; retrying does not help.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("distribution misconfigured: %s: %v", e.Reason, e.Err)
	}
	return "distribution misconfigured: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientError wraps persistence failures that may succeed if the caller
// recomputes the decision and tries again.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
