// Package reconciler pushes flow mutations to the switch.
//
// The loop owns the OpenFlow session. Each time the session
// completes a handshake it rebuilds the switch's flow table from
// the evaluator (a delete-all followed by every current flow, in
// one bundle). Between handshakes it sends the manager's pending
// mutations as one bundle per wake-up. While disconnected, pending
// mutations are dropped: the next handshake resyncs anyway.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/frobware/go-p4bridge/bundle"
	"github.com/frobware/go-p4bridge/doorbell"
	"github.com/frobware/go-p4bridge/logging"
	"github.com/frobware/go-p4bridge/ofp"
)

// Transport is the switch connection the loop drives.
// *ofconn.Session implements it.
type Transport interface {
	Run()
	Recv() (ofp.Message, bool)
	Connected() bool
	Epoch() uint64
	Send(ofp.Message) error
	Notify() <-chan struct{}
	NextWake() time.Duration
}

// State is the source of flow mutations. *manager.Manager
// implements it.
type State interface {
	TakePending() []*ofp.FlowMod
	DiscardPending() int
	Resync(ctx context.Context) ([]*ofp.FlowMod, error)
}

// Loop is the reconciliation loop.
type Loop struct {
	transport Transport
	state     State
	bell      *doorbell.Doorbell
	logger    *slog.Logger

	bundleID uint32
	synced   uint64
	isSynced bool
}

// New creates a loop. bell is the doorbell the manager rings after
// each write.
func New(transport Transport, state State, bell *doorbell.Doorbell, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		transport: transport,
		state:     state,
		bell:      bell,
		logger:    logger.With("component", "reconciler"),
	}
}

// Run iterates until ctx is cancelled. It returns nil on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "reconciliation loop started")
	for {
		l.Step(ctx)

		timer := time.NewTimer(l.transport.NextWake())
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.InfoContext(ctx, "reconciliation loop stopped")
			return nil
		case <-l.transport.Notify():
		case <-l.bell.C():
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Step runs one iteration without waiting.
func (l *Loop) Step(ctx context.Context) {
	l.transport.Run()
	l.drain(ctx)
	l.bell.Clear()

	if !l.transport.Connected() {
		if n := l.state.DiscardPending(); n > 0 {
			l.logger.DebugContext(ctx, "switch disconnected, dropped pending mutations", "count", n)
		}
		return
	}

	epoch := l.transport.Epoch()
	if !l.isSynced || epoch != l.synced {
		l.resync(ctx, epoch)
		return
	}
	if mods := l.state.TakePending(); len(mods) > 0 {
		l.send(ctx, mods)
	}
}

func (l *Loop) resync(ctx context.Context, epoch uint64) {
	flows, err := l.state.Resync(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "resync failed, will retry", "epoch", epoch, "error", err)
		return
	}
	mods := make([]*ofp.FlowMod, 0, len(flows)+1)
	mods = append(mods, ofp.DeleteAll())
	mods = append(mods, flows...)
	if l.send(ctx, mods) {
		l.synced, l.isSynced = epoch, true
		l.logger.InfoContext(ctx, "switch resynced", "epoch", epoch, "flows", len(flows))
	}
}

// send transmits mods as one bundle with a fresh id and reports
// whether every message was written.
func (l *Loop) send(ctx context.Context, mods []*ofp.FlowMod) bool {
	l.bundleID++
	id := l.bundleID
	for msg := range bundle.Messages(id, mods) {
		if err := l.transport.Send(msg); err != nil {
			l.logger.WarnContext(ctx, "bundle send failed", "bundle_id", id, "error", err)
			return false
		}
	}
	l.logger.DebugContext(ctx, "bundle sent", "bundle_id", id, "mutations", len(mods), "messages", bundle.Count(len(mods)))
	return true
}

// drain logs everything the switch sent since the last iteration.
func (l *Loop) drain(ctx context.Context) {
	for {
		msg, ok := l.transport.Recv()
		if !ok {
			return
		}
		switch m := msg.(type) {
		case *ofp.Error:
			l.logger.WarnContext(ctx, "switch reported an error",
				"type", m.TypeName(), "code", m.Code, "xid", m.Xid())
		case *ofp.BundleControl:
			l.logger.DebugContext(ctx, "bundle reply",
				"bundle_id", m.BundleID, "type", m.CtrlType.String())
		default:
			l.logger.Log(ctx, logging.LevelTrace.ToSlog(), "ignoring switch message", "type", msg.Type().String())
		}
	}
}
