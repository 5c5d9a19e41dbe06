package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// LLMActivityOptions returns standardized options for reasoning activities.
// Generation and verification calls can legitimately take minutes when the
// model chains several calculation rounds, so the timeout is generous and
// the retry budget small.
func LLMActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
}

// SupportActivityOptions returns standardized options for bookkeeping
// activities. One attempt only: losing a metrics tick or a session update
// must never stall or fail the interview.
func SupportActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// WithLLMOptions applies reasoning activity options to a context.
func WithLLMOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, LLMActivityOptions())
}

// WithSupportOptions applies bookkeeping activity options to a context.
func WithSupportOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, SupportActivityOptions())
}
