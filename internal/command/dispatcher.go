package command

import (
	"context"
	"fmt"
	"time"

	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
)

const DefaultTimeout = 10 * time.Second

type Poster interface {
	PostCommand(ctx context.Context, deviceID, name string, payload any) (dashboard.CommandStatus, error)
}

type Connectivity interface {
	Connected() bool
}

// Dispatcher issues device commands and, while the realtime channel is up,
// waits for the device to confirm them.
type Dispatcher struct {
	api      Poster
	realtime Connectivity
	timeout  time.Duration
	pending  *pending
	logger   *logging.Logger
}

func NewDispatcher(api Poster, realtime Connectivity, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		panic("command.NewDispatcher: logger must not be nil")
	}
	if api == nil || realtime == nil {
		panic("command.NewDispatcher: api and realtime must not be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{api: api, realtime: realtime, timeout: timeout, pending: newPending(), logger: logger}
}

// Execute reports whether the device applied the command. Without a realtime
// channel, REST acceptance counts as success.
func (d *Dispatcher) Execute(ctx context.Context, deviceID, name string, payload any) (bool, error) {
	accepted, err := d.api.PostCommand(ctx, deviceID, name, payload)
	if err != nil {
		return false, fmt.Errorf("post command %s: %w", name, err)
	}
	log := d.logger.With(
		logging.Field("device", deviceID),
		logging.Field("command", name),
		logging.Field("ack_id", accepted.ID),
	)

	if !d.realtime.Connected() {
		log.Debug("realtime channel down; assuming command applied")
		return true, nil
	}

	// A confirmation that arrived before this point has already been dropped
	// by Resolve; the wait then ends in a timeout.
	results, ok := d.pending.register(accepted.ID)
	if !ok {
		return false, fmt.Errorf("command %s: acknowledgement id %q already pending", name, accepted.ID)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case status := <-results:
		return d.outcome(log, status), nil
	case <-timer.C:
		if d.pending.remove(accepted.ID) {
			log.Warn("command confirmation timed out", logging.Field("timeout", d.timeout.String()))
			return false, nil
		}
		return d.outcome(log, <-results), nil
	case <-ctx.Done():
		if d.pending.remove(accepted.ID) {
			return false, ctx.Err()
		}
		return d.outcome(log, <-results), nil
	}
}

func (d *Dispatcher) outcome(log *logging.Logger, status dashboard.CommandStatus) bool {
	if status.Succeeded() {
		log.Debug("command confirmed")
		return true
	}
	log.Warn("command rejected by device",
		logging.Field("status", status.Status),
		logging.Field("error_code", string(status.ErrorCode)),
	)
	return false
}

// Resolve completes the pending Execute waiting on status.ID, if any.
func (d *Dispatcher) Resolve(status dashboard.CommandStatus) bool {
	if status.ID == "" {
		return false
	}
	if d.pending.resolve(status) {
		return true
	}
	d.logger.Debug("no pending command for confirmation",
		logging.Field("ack_id", status.ID),
		logging.Field("status", status.Status),
	)
	return false
}

// Pending reports how many commands are awaiting confirmation.
func (d *Dispatcher) Pending() int {
	return d.pending.len()
}
