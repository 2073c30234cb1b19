package metrics

import "context"

type triggerKey struct{}

// Triggers of a job start.
const (
	TriggerAPI   = "api"
	TriggerCron  = "cron"
	TriggerWatch = "watch"
	TriggerMCP   = "mcp"
)

// WithTrigger records what caused a job start, for the trigger label.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger recorded in ctx, or TriggerAPI.
func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerAPI
}
