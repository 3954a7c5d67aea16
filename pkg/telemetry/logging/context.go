package logging

import (
	"context"
	"log/slog"
)

// Context keys for pipeline log fields.
type contextKey string

const (
	// RunIDKey is the context key for run IDs.
	RunIDKey contextKey = "run_id"

	// PhaseKey is the context key for phase names.
	PhaseKey contextKey = "phase"

	// ItemIDKey is the context key for item IDs.
	ItemIDKey contextKey = "item_id"
)

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(RunIDKey).(string); ok {
		return v
	}
	return ""
}

// WithPhase adds a phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, PhaseKey, phase)
}

// GetPhase retrieves the phase name from the context.
func GetPhase(ctx context.Context) string {
	if v, ok := ctx.Value(PhaseKey).(string); ok {
		return v
	}
	return ""
}

// WithItemID adds an item ID to the context.
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, ItemIDKey, itemID)
}

// GetItemID retrieves the item ID from the context.
func GetItemID(ctx context.Context) string {
	if v, ok := ctx.Value(ItemIDKey).(string); ok {
		return v
	}
	return ""
}

// extractContextFields extracts the pipeline fields present in ctx.
func extractContextFields(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := GetRunID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(RunIDKey), v))
	}
	if v := GetPhase(ctx); v != "" {
		attrs = append(attrs, slog.String(string(PhaseKey), v))
	}
	if v := GetItemID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(ItemIDKey), v))
	}
	return attrs
}
