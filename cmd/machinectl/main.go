package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	grpcAddr      string
	httpBase      string
	natsURL       string
	subjectPrefix string
	workspaceID   string
	timeout       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "machinectl",
	Short: "Inspect and drive a machined tracker",
	Long: `machinectl talks to a running machined over gRPC and its HTTP shim.
It lists and selects machines, reads the journal, creates machines from
recipes, and can inject lifecycle events over NATS for testing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&grpcAddr, "grpc", "localhost:50051", "machined gRPC address")
	pf.StringVar(&httpBase, "http", "http://localhost:8080", "machined HTTP base URL")
	pf.StringVar(&natsURL, "nats", "nats://localhost:4222", "NATS URL")
	pf.StringVar(&subjectPrefix, "prefix", "che", "NATS subject prefix")
	pf.StringVarP(&workspaceID, "workspace", "w", "", "workspace id; empty uses the tracker default")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		Fatal(err)
	}
}

// Fatal prints err and exits non-zero.
func Fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	os.Exit(1)
}
