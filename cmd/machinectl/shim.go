package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ringtail/che/internal/create"
	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/panel"
)

var getCmd = &cobra.Command{
	Use:   "get <machine-id>",
	Short: "Show a machine, falling back to its last journaled state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Source  string          `json:"source"`
			Machine *models.Machine `json:"machine"`
		}
		if err := shimGet(cmd.Context(), "/get", url.Values{"id": {args[0]}}, &out); err != nil {
			return err
		}
		m := out.Machine
		fmt.Printf("%s (%s) from %s\n", m.DisplayName(), m.ID, out.Source)
		fmt.Printf("  workspace: %s\n  status:    %s\n  dev:       %t\n", m.WorkspaceID, statusText(m.Status), m.Dev)
		if m.SourceLocation != "" {
			fmt.Printf("  recipe:    %s\n", m.SourceLocation)
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <machine-id>",
	Short: "Show journaled lifecycle transitions of a machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"id": {args[0]}}
		if historyLimit > 0 {
			q.Set("limit", strconv.Itoa(historyLimit))
		}
		var out struct {
			Events []models.EventRecord `json:"events"`
		}
		if err := shimGet(cmd.Context(), "/history", q, &out); err != nil {
			return err
		}
		if len(out.Events) == 0 {
			fmt.Println("no history")
			return nil
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Seq", "Phase", "Name", "At"})
		table.SetBorder(false)
		for _, r := range out.Events {
			table.Append([]string{strconv.FormatUint(r.Seq, 10), statusText(r.Phase), r.MachineName, r.At.Format(time.RFC3339)})
		}
		table.Render()
		return nil
	},
}

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Show the machine panel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var st panel.State
		if err := shimGet(cmd.Context(), "/panel", nil, &st); err != nil {
			return err
		}
		if st.Tree != nil {
			fmt.Println(st.Tree.Label)
			for _, n := range st.Tree.Children {
				mark := " "
				if n.ID != "" && n.ID == st.Selected {
					mark = "*"
				}
				line := n.Label
				if n.Machine != nil {
					line += " " + statusText(n.Machine.Status)
				}
				fmt.Printf(" %s %s\n", mark, line)
			}
		}
		switch {
		case st.Appliance != nil:
			fmt.Printf("appliance: %s (%s)\n", st.Appliance.DisplayName(), st.Appliance.ID)
		case st.Stub != "":
			fmt.Printf("stub: %s\n", color.YellowString(st.Stub))
		}
		return nil
	},
}

var notificationsLimit int

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Show recent notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		if notificationsLimit > 0 {
			q.Set("limit", strconv.Itoa(notificationsLimit))
		}
		var out struct {
			Notifications []models.Notification `json:"notifications"`
		}
		if err := shimGet(cmd.Context(), "/notifications", q, &out); err != nil {
			return err
		}
		for _, n := range out.Notifications {
			sev := string(n.Severity)
			switch n.Severity {
			case models.SeveritySuccess:
				sev = color.GreenString(sev)
			case models.SeverityFail:
				sev = color.RedString(sev)
			}
			fmt.Printf("%s %-7s %s\n", n.Time.Format(time.TimeOnly), sev, n.Message)
		}
		return nil
	},
}

var recipesCmd = &cobra.Command{
	Use:   "recipes <tags>",
	Short: "Search docker recipes by tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Recipes []struct {
				ID        string   `json:"id"`
				Name      string   `json:"name"`
				Tags      []string `json:"tags"`
				ScriptURL string   `json:"script_url"`
			} `json:"recipes"`
		}
		if err := shimGet(cmd.Context(), "/recipes", url.Values{"tags": {strings.Join(args, ",")}}, &out); err != nil {
			return err
		}
		if len(out.Recipes) == 0 {
			fmt.Println("no recipes")
			return nil
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "Tags", "Script"})
		table.SetBorder(false)
		for _, r := range out.Recipes {
			table.Append([]string{r.Name, strings.Join(r.Tags, ","), r.ScriptURL})
		}
		table.Render()
		return nil
	},
}

var (
	createRecipe string
	createTags   []string
	createDev    bool
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Start a machine from a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := struct {
			create.Form
			ReplaceDev bool `json:"replace_dev"`
		}{
			Form:       create.Form{Name: args[0], RecipeURL: createRecipe, Tags: createTags},
			ReplaceDev: createDev,
		}
		if err := req.Validate(); err != nil {
			return err
		}
		var out struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
			Dev    bool   `json:"dev"`
		}
		if err := shimPost(cmd.Context(), "/create", req, &out); err != nil {
			return err
		}
		kind := "machine"
		if out.Dev {
			kind = "dev machine"
		}
		fmt.Printf("%s %s (%s): %s\n", kind, out.Name, out.ID, out.Status)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "show only the last n transitions")
	notificationsCmd.Flags().IntVarP(&notificationsLimit, "limit", "n", 20, "number of notifications")
	createCmd.Flags().StringVarP(&createRecipe, "recipe", "r", "", "recipe script URL")
	createCmd.Flags().StringSliceVarP(&createTags, "tags", "t", nil, "recipe tags")
	createCmd.Flags().BoolVar(&createDev, "dev", false, "replace the current dev machine")
	_ = createCmd.MarkFlagRequired("recipe")

	rootCmd.AddCommand(getCmd, historyCmd, panelCmd, notificationsCmd, recipesCmd, createCmd)
}

func shimGet(ctx context.Context, path string, q url.Values, out any) error {
	u := strings.TrimRight(httpBase, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return shimDo(ctx, http.MethodGet, u, nil, out)
}

func shimPost(ctx context.Context, path string, body, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return shimDo(ctx, http.MethodPost, strings.TrimRight(httpBase, "/")+path, bs, out)
}

func shimDo(parent context.Context, method, u string, body []byte, out any) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
