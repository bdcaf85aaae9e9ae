package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ringtail/che/internal/metrics"
	"github.com/ringtail/che/internal/models"
)

// ErrTransport marks a failed snapshot fetch, as opposed to a machine that
// simply is not in the snapshot.
var ErrTransport = errors.New("workspace snapshot unavailable")

// Resolver maps (workspace id, machine id) onto a machine from a freshly
// fetched workspace snapshot.
type Resolver struct {
	fetcher Fetcher
	tracer  trace.Tracer
	metrics *metrics.Collector
}

func NewResolver(f Fetcher, tracer trace.Tracer, m *metrics.Collector) *Resolver {
	return &Resolver{fetcher: f, tracer: tracer, metrics: m}
}

// Resolve returns (nil, nil) when the workspace has no runtime, no machines or
// no machine with machineID. Fetch failures wrap ErrTransport.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, machineID string) (*models.Machine, error) {
	ctx, span := r.tracer.Start(ctx, "workspace.resolve", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID),
		attribute.String("machine.id", machineID),
	))
	defer span.End()

	start := time.Now()
	ws, err := r.fetch(ctx, workspaceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.Resolution(metrics.OutcomeFailed, time.Since(start))
		return nil, err
	}

	for _, d := range ws.Machines() {
		if d.ID == machineID {
			r.metrics.Resolution(metrics.OutcomeFound, time.Since(start))
			span.SetAttributes(attribute.String("machine.status", string(d.Status)))
			return d.Machine(workspaceID), nil
		}
	}
	r.metrics.Resolution(metrics.OutcomeAbsent, time.Since(start))
	span.AddEvent("machine absent")
	return nil, nil
}

// Snapshot returns every machine of the workspace in server order. A workspace
// without a runtime yields an empty list.
func (r *Resolver) Snapshot(ctx context.Context, workspaceID string) ([]*models.Machine, error) {
	ctx, span := r.tracer.Start(ctx, "workspace.snapshot", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID),
	))
	defer span.End()

	ws, err := r.fetch(ctx, workspaceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	descs := ws.Machines()
	out := make([]*models.Machine, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Machine(workspaceID))
	}
	span.SetAttributes(attribute.Int("machine.count", len(out)))
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, workspaceID string) (*models.Workspace, error) {
	ws, err := r.fetcher.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("%w: workspace %s: %w", ErrTransport, workspaceID, err)
	}
	if ws == nil {
		ws = &models.Workspace{ID: workspaceID}
	}
	return ws, nil
}
