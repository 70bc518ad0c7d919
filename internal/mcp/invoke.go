package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds a single tool call when no timeout is given.
const DefaultCallTimeout = 60 * time.Second

// Handler is the calling convention shared by raw, validated and logged
// tool callables. It matches tools.Tool.Handler so each layer can stand
// in for the one it wraps.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// NewCaller returns a Handler that calls the remote tool name on session
// under its own time budget. The budget is enforced here even if the
// session ignores context cancellation: when it expires the caller gets
// a KindTimeout error right away, and only this call is abandoned. The
// session stays usable for other calls.
//
// A timeout of zero or less means DefaultCallTimeout.
func NewCaller(session Session, name string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	type result struct {
		out *ToolOutput
		err error
	}

	return func(ctx context.Context, args map[string]any) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			out, err := session.CallTool(callCtx, name, args)
			done <- result{out, err}
		}()

		var r result
		select {
		case r = <-done:
		case <-callCtx.Done():
			return "", callAborted(ctx, callCtx, name, timeout)
		}

		if r.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return "", timedOut(name, timeout, r.err)
			}
			return "", &InvokeError{Kind: KindInvocation, Tool: name, Message: r.err.Error(), Err: r.err}
		}
		if r.out == nil {
			return "", nil
		}
		if r.out.IsError {
			msg := r.out.Text
			if msg == "" {
				msg = "tool reported an error"
			}
			return "", &InvokeError{Kind: KindInvocation, Tool: name, Message: msg}
		}
		return r.out.Text, nil
	}
}

func callAborted(parent, callCtx context.Context, name string, timeout time.Duration) error {
	if parent.Err() != nil {
		return &InvokeError{Kind: KindInvocation, Tool: name, Message: "call cancelled", Err: parent.Err()}
	}
	return timedOut(name, timeout, callCtx.Err())
}

func timedOut(name string, timeout time.Duration, err error) error {
	return &InvokeError{
		Kind:    KindTimeout,
		Tool:    name,
		Message: fmt.Sprintf("timed out after %s", timeout),
		Err:     err,
	}
}

// Validated returns a Handler that checks args with validate before
// delegating to next. Rejected arguments never reach next.
func Validated(name string, validate Validator, next Handler) Handler {
	if validate == nil {
		return next
	}
	return func(ctx context.Context, args map[string]any) (string, error) {
		if args == nil {
			args = map[string]any{}
		}
		if err := validate(args); err != nil {
			return "", &InvokeError{Kind: KindInvalidArguments, Tool: name, Message: err.Error(), Err: err}
		}
		return next(ctx, args)
	}
}

// WithLogging decorates next with start/finish debug events and error
// reporting. Every failure is logged, passed to onError (when non-nil),
// and returned unchanged to the caller.
func WithLogging(name string, next Handler, onError func(message string), logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, args map[string]any) (string, error) {
		log := logger.With("tool", name, "call_id", newCallID())
		log.Debug("tool call started", "arg_count", len(args))
		start := time.Now()

		out, err := next(ctx, args)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			log.Error("tool call failed",
				"kind", string(KindOf(err)),
				"elapsed", elapsed,
				"error", err,
			)
			if onError != nil {
				onError(err.Error())
			}
			return "", err
		}

		log.Debug("tool call finished", "elapsed", elapsed, "bytes", len(out))
		return out, nil
	}
}

func newCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
