package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/models"
)

const defaultJournalQueue = 256

// Journal records every resolved machine.state transition: the machine's
// last-known record is overwritten and an EventRecord is appended to its
// history. Handle is called on the tracker loop and only enqueues; Run does
// the writes.
type Journal struct {
	store Store
	log   *zap.Logger
	queue chan events.MachineState
}

func NewJournal(store Store, log *zap.Logger, queueSize int) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultJournalQueue
	}
	return &Journal{
		store: store,
		log:   log.Named("journal"),
		queue: make(chan events.MachineState, queueSize),
	}
}

// Handle is an events.Handler for events.KindMachineState.
func (j *Journal) Handle(ev events.Event) {
	st, ok := ev.(events.MachineState)
	if !ok || st.Machine == nil {
		return
	}
	select {
	case j.queue <- st:
	default:
		j.log.Warn("journal queue full, dropping transition",
			zap.String("machine_id", st.Machine.ID),
			zap.String("phase", string(st.Phase)))
	}
}

// Run writes queued transitions until ctx is cancelled, then flushes what is
// already queued.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case st := <-j.queue:
			j.write(ctx, st)
		case <-ctx.Done():
			j.flush()
			return
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case st := <-j.queue:
			j.write(ctx, st)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, st events.MachineState) {
	if err := j.Record(ctx, st); err != nil {
		j.log.Error("record transition",
			zap.String("machine_id", st.Machine.ID),
			zap.String("phase", string(st.Phase)),
			zap.Error(err))
	}
}

// Record stores one transition synchronously.
func (j *Journal) Record(ctx context.Context, st events.MachineState) error {
	if st.Machine == nil {
		return errors.New("transition without machine")
	}
	now := time.Now().UTC()
	rec := models.EventRecord{
		ID:          uuid.NewString(),
		Seq:         st.Seq,
		MachineID:   st.Machine.ID,
		WorkspaceID: st.Machine.WorkspaceID,
		MachineName: st.Machine.Name,
		Phase:       st.Phase,
		At:          now,
	}
	m := st.Machine.Clone()
	m.Status = st.Phase
	m.UpdatedAt = now
	if err := j.store.SaveMachine(ctx, m); err != nil {
		return err
	}
	return j.store.AppendEvent(ctx, rec)
}

// Machine returns the last-known record of id.
func (j *Journal) Machine(ctx context.Context, id string) (*models.Machine, error) {
	return j.store.GetMachine(ctx, id)
}

// History returns the newest limit transitions of machineID, oldest first.
func (j *Journal) History(ctx context.Context, machineID string, limit int) ([]models.EventRecord, error) {
	return j.store.ListEvents(ctx, machineID, limit)
}
