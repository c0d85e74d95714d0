package reconctl

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"reconstructd/pkg/types"
)

// Config carries the persistent CLI settings.
type Config struct {
	Server  string
	Timeout time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// BuildRootCmd constructs the Cobra command tree over the HTTP client.
func BuildRootCmd() *cobra.Command {
	cfg := &Config{}
	root := &cobra.Command{
		Use:           "reconctl",
		Short:         "Control a running reconstructd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.Server, "server",
		envOr("RECONCTL_SERVER", "http://127.0.0.1:8080"), "Base URL of the reconstructd daemon")
	root.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "HTTP request timeout")
	client := func() *Client { return NewClient(cfg.Server, cfg.Timeout) }

	createCmd := &cobra.Command{
		Use:     "create <image>...",
		Short:   "Register a session with input images",
		Example: "  reconctl create shots/*.jpg\n  reconctl create --session-id scan42 a.jpg b.jpg",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("session-id")
			resp, err := client().CreateSession(id, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s registered with %d images\n", resp.SessionID, resp.ImageCount)
			return nil
		},
	}
	createCmd.Flags().String("session-id", "", "Caller-supplied session id (default: server-generated UUID)")
	root.AddCommand(createCmd)

	startCmd := &cobra.Command{
		Use:     "start <session>",
		Short:   "Start the reconstruction pipeline for a session",
		Example: "  reconctl start scan42 --dense --mesh",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.ProcessRequest{}
			req.EnableDense, _ = cmd.Flags().GetBool("dense")
			req.EnableMeshing, _ = cmd.Flags().GetBool("mesh")
			req.MaxImageSize, _ = cmd.Flags().GetInt("max-image-size")
			req.MatcherType, _ = cmd.Flags().GetString("matcher")
			snap, err := client().StartProcessing(args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", snap.SessionID, snap.Status)
			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				return watchSession(cmd, client(), args[0])
			}
			return nil
		},
	}
	startCmd.Flags().Bool("dense", false, "Enable dense reconstruction")
	startCmd.Flags().Bool("mesh", false, "Enable mesh generation (requires --dense)")
	startCmd.Flags().Int("max-image-size", 0, "Maximum image dimension for feature extraction (0=server default)")
	startCmd.Flags().String("matcher", "", "Feature matcher: exhaustive or sequential")
	startCmd.Flags().Bool("watch", false, "Poll progress until the pipeline finishes")
	root.AddCommand(startCmd)

	statusCmd := &cobra.Command{
		Use:   "status [session]",
		Short: "Show session status, or the daemon aggregate when no session is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				st, err := client().DaemonStatus()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"sessions=%d running=%d complete=%d errored=%d cancelled=%d max_concurrent=%d uptime=%ds\n",
					st.Sessions, st.Running, st.Complete, st.Errored, st.Cancelled, st.MaxConcurrent, st.UptimeSeconds)
				return nil
			}
			snap, err := client().Status(args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}
	root.AddCommand(statusCmd)

	watchCmd := &cobra.Command{
		Use:   "watch <session>",
		Short: "Poll a session until its pipeline finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchSession(cmd, client(), args[0])
		},
	}
	root.AddCommand(watchCmd)

	resultsCmd := &cobra.Command{
		Use:   "results <session>",
		Short: "Show the completed session's output manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			man, err := client().Results(args[0])
			if err != nil {
				return err
			}
			for _, a := range man.Artifacts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %10d bytes  %s\n", a.Kind, a.SizeBytes, a.Path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archive: %s\n", man.ArchivePath)
			return nil
		},
	}
	root.AddCommand(resultsCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel <session>",
		Short: "Request cancellation of a running pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
			return nil
		},
	}
	root.AddCommand(cancelCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup <session>",
		Short: "Remove a finished session's workspace and registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Cleanup(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s removed\n", args[0])
			return nil
		},
	}
	root.AddCommand(cleanupCmd)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	root.AddCommand(completionCmd)

	return root
}

func printSnapshot(cmd *cobra.Command, snap types.SessionSnapshot) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %5.1f%%  %s\n", snap.SessionID, snap.Status, snap.ProgressPercent, snap.Message)
	if snap.Error != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "error: stage=%s reason=%s %s\n", snap.Error.Stage, snap.Error.Reason, snap.Error.Message)
	}
}

func watchSession(cmd *cobra.Command, c *Client, id string) error {
	var last string
	snap, err := c.WaitTerminal(id, time.Second, func(s types.SessionSnapshot) {
		line := fmt.Sprintf("%s %5.1f%% %s", s.Status, s.ProgressPercent, s.Message)
		if line != last {
			fmt.Fprintln(cmd.OutOrStdout(), line)
			last = line
		}
	})
	if err != nil {
		return err
	}
	if snap.Status != types.StatusComplete {
		return fmt.Errorf("session %s finished as %s", id, snap.Status)
	}
	return nil
}
