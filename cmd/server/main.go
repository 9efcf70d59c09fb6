package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "crosspost",
	Short:         "crosspost - publish posts to Facebook, Instagram, Telegram and YouTube",
	Long:          `crosspost stores posts with their target platforms and publishes them now, on a schedule, or again after a failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "crosspost %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Git commit: %s\n", gitCommit)
		fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, serveCmd, sweepCmd, janitorCmd, checkCmd, migrateCmd, tokenCmd, userCmd, publishCmd, retryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
