package tracker

import (
	"context"

	"go.uber.org/zap"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/metrics"
	"github.com/ringtail/che/internal/models"
)

// Dispatcher turns inbound machine status signals into notifications and
// resolved machine.state events.
type Dispatcher struct {
	loop     *Loop
	bus      *events.Bus
	resolver *Resolver
	notifier Notifier
	seq      *sequencer
	metrics  *metrics.Collector
	log      *zap.Logger
}

func (d *Dispatcher) handle(ev events.Event) {
	sc, ok := ev.(events.StatusChanged)
	if !ok {
		return
	}
	d.metrics.Event(string(events.KindMachineStatus), string(sc.Phase))

	switch sc.Phase {
	case models.StatusCreating, models.StatusRunning:
		d.resolveAndPublish(sc)
	case models.StatusDestroyed:
		d.destroyed(sc)
	case models.StatusError:
		msg := sc.ErrorMessage
		if msg == "" {
			msg = "machine " + nameOf(sc) + " failed"
		}
		d.notify(msg, models.SeverityFail, models.ModeEmerge)
	default:
		d.log.Warn("ignoring machine status", zap.String("phase", string(sc.Phase)), zap.String("machine_id", sc.MachineID))
	}
}

func (d *Dispatcher) resolveAndPublish(sc events.StatusChanged) {
	seq := d.seq.issue()
	name := nameOf(sc)

	Async(d.loop, func(ctx context.Context) (*models.Machine, error) {
		return d.resolver.Resolve(ctx, sc.WorkspaceID, sc.MachineID)
	}, func(m *models.Machine, err error) {
		if err != nil {
			d.log.Warn("resolve machine failed",
				zap.String("workspace_id", sc.WorkspaceID),
				zap.String("machine_id", sc.MachineID),
				zap.Error(err))
		}
		if m == nil {
			d.notify(msgFailedToFindMachine(name), models.SeverityInfo, models.ModeFloat)
			return
		}
		if !d.seq.accept(m.ID, seq) {
			d.metrics.Stale("lifecycle")
			d.log.Debug("dropping superseded lifecycle completion",
				zap.String("machine_id", m.ID),
				zap.String("phase", string(sc.Phase)),
				zap.Uint64("seq", seq))
			return
		}

		// Dev machine startup progress is owned by the workspace loader and is
		// not reported from here.
		if sc.Phase == models.StatusRunning {
			d.notify(msgMachineRunning(name), models.SeveritySuccess, models.ModeEmerge)
		}
		d.bus.Publish(events.MachineState{Phase: sc.Phase, Machine: m, Seq: seq})
	})
}

func (d *Dispatcher) destroyed(sc events.StatusChanged) {
	seq := d.seq.issue()
	d.seq.accept(sc.MachineID, seq)

	d.notify(msgMachineDestroyed(nameOf(sc)), models.SeveritySuccess, models.ModeEmerge)
	d.bus.Publish(events.MachineState{
		Phase: models.StatusDestroyed,
		Machine: &models.Machine{
			ID:          sc.MachineID,
			WorkspaceID: sc.WorkspaceID,
			Name:        sc.MachineName,
			Status:      models.StatusDestroyed,
		},
		Seq: seq,
	})
}

func (d *Dispatcher) notify(msg string, sev models.Severity, mode models.DisplayMode) {
	d.metrics.Notified(string(sev))
	d.notifier.Notify(models.Notification{Message: msg, Severity: sev, Mode: mode})
}

func nameOf(sc events.StatusChanged) string {
	if sc.MachineName != "" {
		return sc.MachineName
	}
	return sc.MachineID
}
