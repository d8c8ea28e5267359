// Package dlq implements the dead-letter queue: a durable, per-job
// collection of failed work items retained for retry or manual inspection.
package dlq

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

// ErrorType enumerates the terminal-failure kinds a DLQItem can carry.
type ErrorType string

const (
	ErrorCommandFailed ErrorType = "CommandFailed"
	ErrorTimeout       ErrorType = "Timeout"
)

// FailureDetail records one failed attempt at processing an item.
type FailureDetail struct {
	Timestamp     time.Time `json:"timestamp"`
	ErrorType     ErrorType `json:"error_type"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	Message       string    `json:"message"`
	AgentID       string    `json:"agent_id"`
	Duration      time.Duration `json:"duration"`
	JSONLogLocation string  `json:"json_log_location,omitempty"`
}

// DLQItem is the durable record of a failed work item.
type DLQItem struct {
	ItemID               string          `json:"item_id"`
	ItemData              interface{}     `json:"item_data"`
	FirstAttempt          time.Time       `json:"first_attempt"`
	LastAttempt           time.Time       `json:"last_attempt"`
	FailureCount          int             `json:"failure_count"`
	FailureHistory        []FailureDetail `json:"failure_history"`
	ErrorSignature        string          `json:"error_signature"`
	ReprocessEligible     bool            `json:"reprocess_eligible"`
	ManualReviewRequired  bool            `json:"manual_review_required"`
}

// FromAgentResult converts a failed/timed-out AgentResult into a
// FailureDetail, carrying forward the JSON log location (if the runner
// supplied one) so failures remain debuggable without re-execution. A
// Success result must never be passed here -- callers are expected to
// branch on result.Status before calling.
func FromAgentResult(result checkpoint.AgentResult) FailureDetail {
	fd := FailureDetail{
		Timestamp:       time.Now(),
		Message:         result.Error,
		AgentID:         result.WorktreePath, // best-effort; callers set AgentID explicitly when known
		Duration:        result.Duration,
		JSONLogLocation: result.LogLocation,
	}
	if result.Status == checkpoint.StatusTimeout {
		fd.ErrorType = ErrorTimeout
	} else {
		fd.ErrorType = ErrorCommandFailed
	}
	return fd
}

// ErrorSignature computes a stable grouping key for a failure message by
// normalizing numeric and path-like fragments, so repeated failures of the
// "same kind" (e.g. differing only by a line number or temp-file path)
// group together in `dlq list --error-signature`.
func ErrorSignature(message string) string {
	normalized := numberPattern.ReplaceAllString(message, "#")
	normalized = pathPattern.ReplaceAllString(normalized, "<path>")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

var (
	numberPattern = regexp.MustCompile(`\d+`)
	pathPattern   = regexp.MustCompile(`(?:/[\w.\-]+)+`)
)

// Upsert inserts item into the DLQ, replacing any existing entry carrying
// the same item_id (the cleanup protocol: a successful retry removes the
// old entry entirely via Store.Remove, never via Upsert).
func Upsert(existing map[string]DLQItem, item DLQItem) map[string]DLQItem {
	m := make(map[string]DLQItem, len(existing)+1)
	for k, v := range existing {
		m[k] = v
	}
	m[item.ItemID] = item
	return m
}

// NewOrUpdated builds the DLQItem for a newly-failed attempt, merging it
// with any prior DLQItem for the same work item (accumulating failure
// history) and applying the manual-review threshold: an item becomes
// manual_review_required=true and reprocess_eligible=false once
// failure_count reaches maxRetries.
func NewOrUpdated(prior *DLQItem, itemID string, itemData interface{}, failure FailureDetail, maxRetries int) DLQItem {
	now := failure.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var item DLQItem
	if prior != nil {
		item = *prior
		item.FailureHistory = append(append([]FailureDetail(nil), prior.FailureHistory...), failure)
	} else {
		item = DLQItem{
			ItemID:       itemID,
			ItemData:     itemData,
			FirstAttempt: now,
			FailureHistory: []FailureDetail{failure},
		}
	}

	item.LastAttempt = now
	item.FailureCount = len(item.FailureHistory)
	item.ErrorSignature = ErrorSignature(failure.Message)

	if item.FailureCount >= maxRetries {
		item.ManualReviewRequired = true
		item.ReprocessEligible = false
	} else {
		item.ManualReviewRequired = false
		item.ReprocessEligible = true
	}

	return item
}

// NotFoundError reports a missing DLQ item.
type NotFoundError struct {
	ItemID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dlq item %q not found", e.ItemID)
}
