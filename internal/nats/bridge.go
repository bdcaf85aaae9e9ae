package natsclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ringtail/che/internal/events"
)

// Subjects derives the subject names under a common prefix.
type Subjects struct {
	Prefix string
}

// MachineStatus carries inbound lifecycle signals.
func (s Subjects) MachineStatus() string { return s.Prefix + ".machine.status" }

// Workspace matches inbound workspace started and stopped signals.
func (s Subjects) Workspace() string { return s.Prefix + ".workspace.*" }

func (s Subjects) WorkspaceStarted() string { return s.Prefix + ".workspace.started" }
func (s Subjects) WorkspaceStopped() string { return s.Prefix + ".workspace.stopped" }

// MachineState carries resolved transitions out of the tracker.
func (s Subjects) MachineState() string { return s.Prefix + ".machine.state" }

func (s Subjects) Notifications() string { return s.Prefix + ".notifications" }

// For returns the subject an event of kind is published on.
func (s Subjects) For(kind events.Kind) string {
	switch kind {
	case events.KindMachineStatus:
		return s.MachineStatus()
	case events.KindWorkspaceStarted:
		return s.WorkspaceStarted()
	case events.KindWorkspaceStopped:
		return s.WorkspaceStopped()
	default:
		return s.MachineState()
	}
}

// Transport is the connection the bridge runs over. *Client implements it.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(subject string, fn func(subject string, data []byte)) (func() error, error)
}

// Injector accepts inbound events. *tracker.Tracker implements it.
type Injector interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Bridge feeds inbound lifecycle and workspace signals into the tracker and
// republishes resolved machine.state transitions.
type Bridge struct {
	transport Transport
	injector  Injector
	subjects  Subjects
	log       *zap.Logger

	unsubs []func() error
}

func NewBridge(t Transport, inj Injector, subjects Subjects, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{transport: t, injector: inj, subjects: subjects, log: log.Named("bridge")}
}

// Start subscribes the inbound subjects and forwards machine.state events
// published on bus.
func (b *Bridge) Start(bus *events.Bus) error {
	for _, subject := range []string{b.subjects.MachineStatus(), b.subjects.Workspace()} {
		unsub, err := b.transport.Subscribe(subject, b.inbound)
		if err != nil {
			b.Stop()
			return err
		}
		b.unsubs = append(b.unsubs, unsub)
	}
	off := bus.Subscribe(b.outbound, events.KindMachineState)
	b.unsubs = append(b.unsubs, func() error { off(); return nil })
	b.log.Info("bridge started",
		zap.String("inbound", b.subjects.MachineStatus()),
		zap.String("outbound", b.subjects.MachineState()))
	return nil
}

func (b *Bridge) Stop() {
	for _, unsub := range b.unsubs {
		if err := unsub(); err != nil {
			b.log.Warn("unsubscribe", zap.Error(err))
		}
	}
	b.unsubs = nil
}

func (b *Bridge) inbound(subject string, data []byte) {
	ev, err := events.Decode(data)
	if err != nil {
		b.log.Warn("dropping malformed event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if ev.EventKind() == events.KindMachineState {
		b.log.Warn("dropping resolved event on inbound subject", zap.String("subject", subject))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.injector.Publish(ctx, ev); err != nil {
		b.log.Error("inject event", zap.String("subject", subject), zap.Error(err))
	}
}

func (b *Bridge) outbound(ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		b.log.Error("encode event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.transport.Publish(ctx, b.subjects.MachineState(), payload); err != nil {
		b.log.Warn("publish machine state", zap.Error(err))
	}
}
