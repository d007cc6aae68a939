package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sari-dev/sari/internal/config"
	"github.com/sari-dev/sari/internal/daemon"
	"github.com/sari-dev/sari/internal/proxy"
	"github.com/sari-dev/sari/internal/registry"
	"github.com/sari-dev/sari/internal/tools"
	"github.com/sari-dev/sari/internal/workspace"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Println("sari", version)
			return
		case "daemon":
			os.Exit(runDaemonCmd(os.Args[2:]))
		case "proxy", "auto":
			os.Exit(runProxyCmd())
		case "status":
			os.Exit(runToolCmd("status", nil))
		case "search":
			os.Exit(runSearchCmd(os.Args[2:]))
		case "doctor":
			os.Exit(runToolCmd("doctor", nil))
		case "init":
			os.Exit(runInitCmd())
		case "rescan":
			os.Exit(runRescanCmd())
		}
	}
	os.Exit(runProxyCmd())
}

func runDaemonCmd(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: sari daemon {start|stop|status|refresh}")
		return 1
	}

	switch args[0] {
	case "start":
		env := config.LoadEnv()
		d, err := daemon.New(env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := d.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	case "stop":
		pid, ok := daemon.ReadPID()
		if !ok {
			fmt.Println("no daemon is running")
			return 0
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			fmt.Fprintf(os.Stderr, "error signaling pid %d: %v\n", pid, err)
			return 1
		}
		fmt.Printf("sent SIGTERM to daemon (pid %d)\n", pid)
		return 0
	case "status":
		pid, ok := daemon.ReadPID()
		if !ok {
			fmt.Println("daemon: not running")
			return 0
		}
		fmt.Printf("daemon: running (pid %d)\n", pid)
		return 0
	case "refresh":
		workspaceRoot := resolveWorkspaceRoot()
		reg, err := registry.Open(registry.DefaultPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if err := reg.TouchWorkspace(workspaceRoot); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Println("workspace refresh requested")
		return 0
	default:
		fmt.Fprintln(os.Stderr, "usage: sari daemon {start|stop|status|refresh}")
		return 1
	}
}

func runProxyCmd() int {
	flags := pflag.NewFlagSet("sari", pflag.ContinueOnError)
	transport := flags.String("transport", "stdio", "transport to speak: stdio|http")
	format := flags.String("format", string(config.FormatPack), "response encoding: pack|json")
	_ = flags.Parse(os.Args[1:])

	if *transport != "stdio" {
		fmt.Fprintf(os.Stderr, "unsupported transport %q: only stdio is implemented\n", *transport)
		return 1
	}
	os.Setenv("SARI_FORMAT", *format)

	env := config.LoadEnv()
	workspaceRoot := resolveWorkspaceRoot()

	p, err := proxy.New(env, workspaceRoot, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		slog.Error("proxy.exit", "err", err)
		return 1
	}
	return 0
}

func runSearchCmd(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: sari search <query>")
		return 1
	}
	return runToolCmd("search", map[string]any{"query": strings.Join(args, " ")})
}

func runInitCmd() int {
	workspaceRoot := resolveWorkspaceRoot()
	cfgPath := workspaceRoot + "/.sari.yaml"
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("%s already exists\n", cfgPath)
		return 0
	}
	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s\n", cfgPath)
	return 0
}

const defaultConfigYAML = `# sari workspace configuration
discover:
  exclude_dirs: []
  exclude_globs: []
indexer:
  scan_interval_seconds: 30
`

// runRescanCmd triggers a full scan pass in-process and, on a tty,
// drives an indeterminate progress meter off the indexer's scanned-file
// counter while the pass runs.
func runRescanCmd() int {
	workspaceRoot := resolveWorkspaceRoot()

	manager := workspace.NewManager()
	st, err := manager.Acquire(context.Background(), workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer manager.Release(workspaceRoot)

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stdout.Fd()) {
		bar = progressbar.Default(-1, "scanning")
	}

	done := make(chan error, 1)
	go func() { done <- st.Indexer.ScanPass(context.Background()) }()

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case scanErr := <-done:
			if bar != nil {
				_ = bar.Finish()
			}
			if scanErr != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", scanErr)
				return 1
			}
			status := st.Indexer.Status()
			fmt.Printf("scanned %d files, indexed %d, %d errors\n", status.ScannedFiles, status.IndexedFiles, status.Errors)
			return 0
		case <-ticker.C:
			if bar != nil {
				_ = bar.Set64(st.Indexer.Status().ScannedFiles)
			}
		}
	}
}

// runToolCmd executes one tool call directly against a workspace
// opened in-process (no daemon round trip), mirroring the teacher's
// CLI mode that talks straight to the store rather than over the wire.
func runToolCmd(name string, args map[string]any) int {
	workspaceRoot := resolveWorkspaceRoot()
	env := config.LoadEnv()

	manager := workspace.NewManager()
	toolRegistry := tools.New(manager, env.SearchFirstMode)

	start := time.Now()
	result, err := toolRegistry.Execute(context.Background(), name, workspaceRoot, args, nil)
	manager.Release(workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	printResult(name, result, time.Since(start))
	return 0
}

func printResult(name string, result any, elapsed time.Duration) {
	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", result)
		return
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		color.New(color.FgCyan).Printf("%s", name)
		fmt.Printf(" (%s)\n", elapsed.Round(time.Millisecond))
	}
	fmt.Println(string(pretty))
}

func resolveWorkspaceRoot() string {
	if root := os.Getenv("SARI_WORKSPACE_ROOT"); root != "" {
		return root
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
