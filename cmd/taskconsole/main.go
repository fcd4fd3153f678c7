package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags),
		createAttachCommand(),
		createStateCommand(),
		createSendCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskconsole",
		Short: "Run scripted course tasks for remote clients",
		Long: `Taskconsole runs long-lived scripted tasks, streams their output to
remote clients and relays the answers those clients type back to the task.

Examples:
  taskconsole serve --config=config.toml
  taskconsole run --phone=13800000000            # Attended run in this terminal
  taskconsole attach --api-url=http://host:8000  # Follow a remote task`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://localhost:8000", "server base URL including the base path")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for https servers")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the HTTP server",
		Long: `Start the task server. Remote clients obtain a process id, follow its
output and answer its prompts over HTTP.

Examples:
  taskconsole serve                      # Defaults and TASKCONSOLE_* env
  taskconsole serve config.toml
  taskconsole serve --listen=127.0.0.1:9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "override [server].listen")
	return cmd
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the task once in this terminal",
		Long: `Run the configured task in the foreground. Output is rendered to the
terminal and prompts are answered from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			return runAttended(cmd.Context(), flags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Phone, "phone", "", "account phone number used when the prompt is left empty")
	return cmd
}

func createAttachCommand() *cobra.Command {
	flags := &AttachFlags{}
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Follow a remote task and answer its prompts",
		Long: `Attach to a task on a running server. Without --process-id a process
is obtained for --phone, reusing a live one when it exists. Output is shown
as it arrives and every line typed is sent as an answer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd.Context(), flags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().StringVar(&flags.ProcessID, "process-id", "", "existing process to attach to")
	cmd.Flags().StringVar(&flags.Phone, "phone", "", "account phone number for a new process")
	cmd.Flags().DurationVar(&flags.Heartbeat, "heartbeat", 30*time.Second, "heartbeat interval")
	return cmd
}

func createStateCommand() *cobra.Command {
	flags := &StateFlags{}
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the state of a remote process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().StringVar(&flags.ProcessID, "process-id", "", "process id")
	_ = cmd.MarkFlagRequired("process-id")
	return cmd
}

func createSendCommand() *cobra.Command {
	flags := &SendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Answer the pending prompt of a remote process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().StringVar(&flags.ProcessID, "process-id", "", "process id")
	cmd.Flags().StringVar(&flags.Value, "value", "", "answer to deliver")
	_ = cmd.MarkFlagRequired("process-id")
	return cmd
}
