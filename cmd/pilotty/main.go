// Command pilotty automates terminal UIs for programmatic clients. It
// talks to the long-running session daemon over a unix socket, starting
// one on demand.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/pilotty/internal/cli/config"
	"github.com/antonkrylov/pilotty/internal/client"
	"github.com/antonkrylov/pilotty/internal/daemon"
	"github.com/antonkrylov/pilotty/internal/examples"
	"github.com/antonkrylov/pilotty/internal/protocol"
)

// Exit codes are part of the CLI contract.
const (
	exitOK              = 0
	exitFailure         = 1
	exitUsage           = 2
	exitTimeout         = 3
	exitSessionNotFound = 4
)

type rootOptions struct {
	session string
	conn    *client.Connection

	// parsed flips once flag/arg parsing succeeded, separating usage
	// errors (exit 2) from runtime failures.
	parsed bool
}

func (r *rootOptions) prepare() {
	r.parsed = true
	if r.conn == nil {
		r.conn = client.New()
	}
	if r.session == "" {
		r.session = config.DefaultSession()
	}
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "pilotty",
		Short: "Terminal automation for AI agents",
		Long: "pilotty spawns TUI applications in managed PTY sessions and\n" +
			"interacts with them programmatically: structured snapshots,\n" +
			"key injection, and change-aware waits.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.session, "session", "s", "", "target session by name or id (default: last used)")
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		opts.prepare()
	}

	rootCmd.AddCommand(newSpawnCmd(opts))
	rootCmd.AddCommand(newKillCmd(opts))
	rootCmd.AddCommand(newListSessionsCmd(opts))
	rootCmd.AddCommand(newSnapshotCmd(opts))
	rootCmd.AddCommand(newTypeCmd(opts))
	rootCmd.AddCommand(newKeyCmd(opts))
	rootCmd.AddCommand(newClickCmd(opts))
	rootCmd.AddCommand(newScrollCmd(opts))
	rootCmd.AddCommand(newResizeCmd(opts))
	rootCmd.AddCommand(newWaitForCmd(opts))
	rootCmd.AddCommand(newExamplesCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newStopCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err, opts.parsed))
	}
}

func exitCode(err error, parsed bool) int {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case protocol.CodeTimeout:
			return exitTimeout
		case protocol.CodeSessionNotFound:
			return exitSessionNotFound
		}
		return exitFailure
	}
	if !parsed {
		return exitUsage
	}
	return exitFailure
}

// currentTermSize picks up the invoking terminal's size for spawn
// defaults. Off a TTY it returns 0, 0, which leaves the daemon's default
// size (80x24) in effect.
func currentTermSize() (cols, rows uint16) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return uint16(w), uint16(h)
}

func newSpawnCmd(root *rootOptions) *cobra.Command {
	var name, cwd string
	cmd := &cobra.Command{
		Use:   "spawn [flags] -- <command> [args...]",
		Short: "Spawn a TUI application in a managed PTY session",
		Example: "  pilotty spawn htop\n" +
			"  pilotty spawn --name editor vim file.txt\n" +
			"  pilotty spawn --cwd /tmp -- bash -c 'echo hello'",
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cols, rows := currentTermSize()
			var res protocol.SpawnResult
			err := root.conn.Do("spawn", protocol.SpawnArgs{
				Name: name,
				Argv: args,
				Cwd:  cwd,
				Cols: cols,
				Rows: rows,
			}, &res)
			if err != nil {
				return err
			}
			fmt.Printf("Session %s created (id %s)\n", res.Name, res.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (default: \"default\")")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the spawned process")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newKillCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Kill a session and its child process",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return root.conn.Do("kill", protocol.SessionArgs{Session: root.session}, nil)
		},
	}
}

func newListSessionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-sessions",
		Short: "List active sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var res protocol.ListSessionsResult
			if err := root.conn.Do("list_sessions", nil, &res); err != nil {
				return err
			}
			if len(res.Sessions) == 0 {
				fmt.Println("No active sessions")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tCOMMAND")
			for _, s := range res.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.ID, s.Command)
			}
			return w.Flush()
		},
	}
}

func newSnapshotCmd(root *rootOptions) *cobra.Command {
	var format string
	var awaitChange uint64
	var settle, timeout uint64
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the terminal screen as structured data",
		Example: "  pilotty snapshot --format text\n" +
			"  HASH=$(pilotty snapshot | jq -r '.content_hash')\n" +
			"  pilotty key Enter\n" +
			"  pilotty snapshot --await-change $HASH --settle 100",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := protocol.SnapshotArgs{
				Session:   root.session,
				Format:    format,
				SettleMs:  settle,
				TimeoutMs: timeout,
			}
			if cmd.Flags().Changed("await-change") {
				args.AwaitChange = &awaitChange
			}
			if format == protocol.FormatText {
				var res protocol.TextSnapshotResult
				if err := root.conn.Do("snapshot", args, &res); err != nil {
					return err
				}
				fmt.Print(res.Content)
				return nil
			}
			var snap protocol.Snapshot
			if err := root.conn.Do("snapshot", args, &snap); err != nil {
				return err
			}
			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", protocol.FormatFull, "output format: full, compact, or text")
	cmd.Flags().Uint64Var(&awaitChange, "await-change", 0, "block until content_hash differs from this value")
	cmd.Flags().Uint64Var(&settle, "settle", 0, "require this many ms without changes before returning")
	cmd.Flags().Uint64VarP(&timeout, "timeout", "t", 0, "wait timeout in ms (default 30000)")
	return cmd
}

func newTypeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "type <text>",
		Short: "Type text at the current cursor position",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return root.conn.Do("type", protocol.TypeArgs{
				Session: root.session,
				Text:    args[0],
			}, nil)
		},
	}
}

func newKeyCmd(root *rootOptions) *cobra.Command {
	var delay uint64
	cmd := &cobra.Command{
		Use:   "key <keys>",
		Short: "Send a key, combo, or space-separated key sequence",
		Example: "  pilotty key Enter\n" +
			"  pilotty key Ctrl+C\n" +
			"  pilotty key \"Escape : w q Enter\"\n" +
			"  pilotty key \"a b c\" --delay 50",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return root.conn.Do("key", protocol.KeyArgs{
				Session: root.session,
				Keys:    args[0],
				DelayMs: delay,
			}, nil)
		},
	}
	cmd.Flags().Uint64Var(&delay, "delay", 0, "delay between keys in a sequence (ms, max 10000)")
	return cmd
}

func newClickCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "click <row> <col>",
		Short: "Click at a 0-indexed cell coordinate",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			row, err := parseUint16(args[0], "row")
			if err != nil {
				return err
			}
			col, err := parseUint16(args[1], "col")
			if err != nil {
				return err
			}
			var res protocol.ClickResult
			if err := root.conn.Do("click", protocol.ClickArgs{
				Session: root.session,
				Row:     row,
				Col:     col,
			}, &res); err != nil {
				return err
			}
			if !res.Delivered {
				fmt.Println("Click recorded; target has mouse tracking off, nothing sent")
			}
			return nil
		},
	}
}

func newScrollCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scroll <up|down> [lines]",
		Short: "Scroll the terminal",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			lines := uint32(1)
			if len(args) == 2 {
				n, err := parseUint16(args[1], "lines")
				if err != nil {
					return err
				}
				lines = uint32(n)
			}
			return root.conn.Do("scroll", protocol.ScrollArgs{
				Session: root.session,
				Dir:     args[0],
				Lines:   lines,
			}, nil)
		},
	}
}

func newResizeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resize <cols> <rows>",
		Short: "Resize the terminal",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cols, err := parseUint16(args[0], "cols")
			if err != nil {
				return err
			}
			rows, err := parseUint16(args[1], "rows")
			if err != nil {
				return err
			}
			return root.conn.Do("resize", protocol.ResizeArgs{
				Session: root.session,
				Cols:    cols,
				Rows:    rows,
			}, nil)
		},
	}
}

func newWaitForCmd(root *rootOptions) *cobra.Command {
	var regex bool
	var timeout uint64
	cmd := &cobra.Command{
		Use:   "wait-for <pattern>",
		Short: "Wait for text to appear on screen",
		Example: "  pilotty wait-for 'Ready'\n" +
			"  pilotty wait-for -r 'error|warning'\n" +
			"  pilotty wait-for -t 5000 'Done'",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return root.conn.Do("wait_for", protocol.WaitForArgs{
				Session:   root.session,
				Pattern:   args[0],
				Regex:     regex,
				TimeoutMs: timeout,
			}, nil)
		},
	}
	cmd.Flags().BoolVarP(&regex, "regex", "r", false, "treat pattern as a regular expression")
	cmd.Flags().Uint64VarP(&timeout, "timeout", "t", 0, "timeout in ms (default 30000)")
	return cmd
}

func newExamplesCmd() *cobra.Command {
	var run string
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Show an end-to-end walkthrough or run a demo TUI",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if run == "" {
				fmt.Print(examples.Walkthrough)
				return nil
			}
			return examples.Run(run)
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "launch a demo TUI: "+strings.Join(examples.Names(), ", "))
	return cmd
}

func newDaemonCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the session daemon (usually auto-started)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !foreground {
				return client.StartDaemon()
			}
			return runDaemon()
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of detaching")
	return cmd
}

func newStopCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stop",
		Aliases: []string{"shutdown"},
		Short:   "Stop the daemon",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			root.conn.AutoStart = false
			err := root.conn.Do("shutdown", nil, nil)
			var pe *protocol.Error
			if err != nil && !errors.As(err, &pe) {
				// No daemon to stop is success for stop.
				fmt.Println("Daemon not running")
				return nil
			}
			return err
		},
	}
	return cmd
}

// runDaemon runs the server in this process until SIGTERM/SIGINT or a
// shutdown request.
func runDaemon() error {
	limits, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return err
	}

	if err := daemon.RotateLog(config.LogPath(), limits.LogMaxBytes); err != nil {
		fmt.Fprintln(os.Stderr, "log rotation failed:", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	srv, err := daemon.New(daemon.Config{Limits: limits, Logger: logger})
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		// Another daemon owns the socket; clients will use it.
		return nil
	}
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("signal received", "signal", sig.String())
		srv.Stop()
	}()

	return srv.Run()
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("PILOTTY_LOG")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseUint16(s, what string) (uint16, error) {
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n > 65535 {
		return 0, fmt.Errorf("invalid %s %q: expected a number between 0 and 65535", what, s)
	}
	return uint16(n), nil
}
