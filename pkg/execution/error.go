package execution

import (
	"fmt"
	"time"
)

// Category partitions node failures for recovery-strategy selection.
type Category string

// Error categories.
const (
	CategoryNetwork         Category = "network"
	CategoryTimeout         Category = "timeout"
	CategoryResource        Category = "resource"
	CategoryConfiguration   Category = "configuration"
	CategoryValidation      Category = "validation"
	CategoryBusinessLogic   Category = "business_logic"
	CategoryExternalService Category = "external_service"
	CategorySystem          Category = "system"
	CategoryUnknown         Category = "unknown"
)

// Severity grades how serious a failure is for reporting and alerting.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy names a recovery behavior.
type Strategy string

// Recovery strategies.
const (
	StrategyRetry          Strategy = "retry"
	StrategySkip           Strategy = "skip"
	StrategyFailFast       Strategy = "fail_fast"
	StrategyFallback       Strategy = "fallback"
	StrategyCircuitBreaker Strategy = "circuit_breaker"
)

// ExecutionError is the classified form of a node failure. The recovery
// manager fills Category, Severity, Recoverable and RecoveryStrategy; the
// engine fills the attempt bookkeeping.
type ExecutionError struct {
	NodeID           string    `json:"node_id"`
	NodeType         string    `json:"node_type"`
	Category         Category  `json:"category"`
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	AttemptNumber    int       `json:"attempt_number"`
	MaxAttempts      int       `json:"max_attempts"`
	Recoverable      bool      `json:"recoverable"`
	RecoveryStrategy Strategy  `json:"recovery_strategy,omitempty"`
	Timestamp        time.Time `json:"timestamp"`

	cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s [%s]: %s", e.NodeID, e.Category, e.Message)
	}
	return fmt.Sprintf("[%s]: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ExecutionError) Unwrap() error {
	return e.cause
}
