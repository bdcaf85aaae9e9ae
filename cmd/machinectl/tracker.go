package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/server"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that machined answers over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTracker(cmd.Context(), func(ctx context.Context, c *server.Client) error {
			msg, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked machines",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTracker(cmd.Context(), func(ctx context.Context, c *server.Client) error {
			ms, err := c.ListMachines(ctx)
			if err != nil {
				return err
			}
			sel, err := c.GetSelection(ctx)
			if err != nil {
				return err
			}
			printMachines(ms, sel.MachineID)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <machine-id>",
	Short: "Select a machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd.Context(), func(ctx context.Context, c *server.Client) error {
			if err := c.SelectMachine(ctx, workspaceID, args[0]); err != nil {
				return err
			}
			fmt.Printf("selecting %s\n", args[0])
			return nil
		})
	},
}

var selectionCmd = &cobra.Command{
	Use:   "selection",
	Short: "Show the selected machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTracker(cmd.Context(), func(ctx context.Context, c *server.Client) error {
			sel, err := c.GetSelection(ctx)
			if err != nil {
				return err
			}
			if !sel.Selected {
				fmt.Println("no machine selected")
				return nil
			}
			state := color.YellowString("not running")
			if sel.Running {
				state = color.GreenString("running")
			}
			fmt.Printf("%s (%s) in %s: %s\n", sel.Name, sel.MachineID, sel.WorkspaceID, state)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the registry from a fresh workspace snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTracker(cmd.Context(), func(ctx context.Context, c *server.Client) error {
			if err := c.Refresh(ctx, workspaceID); err != nil {
				return err
			}
			fmt.Println("refreshing")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pingCmd, listCmd, selectCmd, selectionCmd, refreshCmd)
}

func withTracker(parent context.Context, fn func(context.Context, *server.Client) error) error {
	if parent == nil {
		parent = context.Background()
	}
	cc, err := server.Dial(grpcAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", grpcAddr, err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return fn(ctx, server.NewClient(cc))
}

func printMachines(ms []*models.Machine, selected string) {
	if len(ms) == 0 {
		fmt.Println("no machines")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "ID", "Name", "Status", "Dev", "Workspace"})
	table.SetBorder(false)
	for _, m := range ms {
		mark := ""
		if m.ID == selected {
			mark = "*"
		}
		dev := ""
		if m.Dev {
			dev = "yes"
		}
		table.Append([]string{mark, m.ID, m.DisplayName(), statusText(m.Status), dev, m.WorkspaceID})
	}
	table.Render()
}

func statusText(s models.Status) string {
	switch s {
	case models.StatusRunning:
		return color.GreenString(string(s))
	case models.StatusCreating, models.StatusDestroying:
		return color.YellowString(string(s))
	case models.StatusError:
		return color.RedString(string(s))
	}
	return string(s)
}
