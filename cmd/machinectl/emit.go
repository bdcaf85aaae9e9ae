package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/models"
	natsclient "github.com/ringtail/che/internal/nats"
	"github.com/ringtail/che/internal/server"
)

var (
	emitVia     string
	emitName    string
	emitMessage string
)

var emitCmd = &cobra.Command{
	Use:   "emit <phase> <machine-id>",
	Short: "Inject a machine status event",
	Long: `emit publishes a machine status event for a machine of the workspace.
Phases: CREATING, RUNNING, DESTROYED, ERROR. The event goes over NATS by
default, or through the tracker's gRPC API with --via grpc.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if workspaceID == "" {
			return fmt.Errorf("--workspace is required")
		}
		ev := events.StatusChanged{
			Phase:        models.Status(args[0]),
			WorkspaceID:  workspaceID,
			MachineID:    args[1],
			MachineName:  emitName,
			ErrorMessage: emitMessage,
		}
		return emit(cmd.Context(), ev)
	},
}

var workspaceEventCmd = &cobra.Command{
	Use:       "workspace <started|stopped>",
	Short:     "Inject a workspace started or stopped event",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"started", "stopped"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if workspaceID == "" {
			return fmt.Errorf("--workspace is required")
		}
		var kind events.Kind
		switch args[0] {
		case "started":
			kind = events.KindWorkspaceStarted
		case "stopped":
			kind = events.KindWorkspaceStopped
		default:
			return fmt.Errorf("unknown workspace event %q", args[0])
		}
		return emit(cmd.Context(), events.WorkspaceChanged{Kind: kind, WorkspaceID: workspaceID})
	},
}

func init() {
	emitCmd.PersistentFlags().StringVar(&emitVia, "via", "nats", "transport: nats or grpc")
	emitCmd.Flags().StringVar(&emitName, "name", "", "machine name")
	emitCmd.Flags().StringVar(&emitMessage, "error", "", "error message for ERROR events")
	emitCmd.AddCommand(workspaceEventCmd)
	rootCmd.AddCommand(emitCmd)
}

func emit(ctx context.Context, ev events.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	switch emitVia {
	case "grpc":
		return withTracker(ctx, func(ctx context.Context, c *server.Client) error {
			if err := c.PublishEvent(ctx, ev); err != nil {
				return err
			}
			fmt.Printf("published %s via gRPC\n", ev.EventKind())
			return nil
		})
	case "nats":
		payload, err := events.Encode(ev)
		if err != nil {
			return err
		}
		nc, err := natsclient.Connect(natsURL, "machinectl", zap.NewNop())
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()

		subject := natsclient.Subjects{Prefix: subjectPrefix}.For(ev.EventKind())
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := nc.Publish(ctx, subject, payload); err != nil {
			return err
		}
		fmt.Printf("published %s to %s\n", ev.EventKind(), subject)
		return nil
	default:
		return fmt.Errorf("unknown transport %q", emitVia)
	}
}
