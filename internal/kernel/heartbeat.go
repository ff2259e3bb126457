package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/session"
)

// heartbeat emits one heartbeat with the given status.
func (k *Kernel) heartbeat(ctx context.Context, status session.Status) error {
	_, out, err := k.engine.Emit(ctx, ir.KernelSessionHeartbeat{
		SessionID: k.sessionID,
		Status:    string(status),
		At:        k.clock.Now().UnixMilli(),
	}, k.origin())
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", status, err)
	}
	k.metrics.Heartbeat(string(status))
	if !out.Applied {
		slog.Warn("heartbeat rejected", "session", k.sessionID, "status", status, "reason", out.Reason)
	}
	return nil
}

// heartbeatLoop reports liveness every interval and nudges the assigner.
// A failed heartbeat is logged and retried on the next tick: one lost write
// is not fatal while the timeout leaves room for the next.
func (k *Kernel) heartbeatLoop(ctx context.Context) error {
	ticker := k.clock.NewTicker(k.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := k.heartbeat(ctx, session.StatusReady); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("heartbeat failed", "session", k.sessionID, "error", err)
			}
			select {
			case k.wake <- struct{}{}:
			default:
			}
		}
	}
}
