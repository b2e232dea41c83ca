// Package domain contains core business types and interfaces.
//
// This file defines the Analysis record: one stored result of a screenshot
// analysis, kept as reply history for the user.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reply history retention windows. Enforced by the maintenance worker.
const (
	HistoryRetentionFree       = 30 * 24 * time.Hour
	HistoryRetentionSubscribed = 90 * 24 * time.Hour

	// HistoryPageLimit caps how many analyses the history endpoint returns.
	HistoryPageLimit = 50
)

// ReplySuggestions holds the generated reply options in the three tonal
// categories. Each category carries at least two suggestions once validated.
type ReplySuggestions struct {
	Witty    []string `json:"witty"`
	Romantic []string `json:"romantic"`
	Savage   []string `json:"savage"`
}

// Analysis is one completed screenshot analysis.
type Analysis struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Responses      ReplySuggestions
	ContextSummary string // PII-redacted before storage
	ScreenshotKey  string // storage key of the original upload, empty if not retained
	ThumbnailKey   string // storage key of the history thumbnail
	CreatedAt      time.Time
}
