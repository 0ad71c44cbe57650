package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vignette/internal/generator"
	"github.com/kalambet/vignette/internal/ingest"
)

// maxDashboardConns bounds concurrent dashboard connections.
const maxDashboardConns = 32

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduler, save ingestion and dashboard (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(true)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the generation scheduler and save ingestion without the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(false)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web dashboard only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running vignette service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one generation cycle now",
	Long: `Run one generation cycle now and exit.

By default the cycle runs unconditionally. With --if-due it only runs when the
scheduler would, that is when the interval has elapsed and an input changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ifDue, _ := cmd.Flags().GetBool("if-due")
		return runGenerate(ifDue)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	generateCmd.Flags().Bool("if-due", false, "only generate when the schedule says so")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vignette.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runService(withDashboard bool) error {
	fmt.Fprintf(os.Stderr, "vignette version %s\n", version)

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}()

	pidPath := pidFilePath(a.cfg.Storage.DataDir)
	if pid, err := readPIDFile(pidPath); err == nil && processAlive(pid) {
		printWarning("vignette is already running (PID %d)", pid)
		return fmt.Errorf("service already running (PID %d)", pid)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	a.recoverInterrupted()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bind before starting anything so a busy port leaves no cycle or job
	// running against a store that is about to close.
	var ln net.Listener
	if withDashboard {
		if ln, err = net.Listen("tcp", a.cfg.Server.Addr); err != nil {
			return fmt.Errorf("dashboard listen on %s: %w", a.cfg.Server.Addr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.scheduler().Run(ctx) })
	g.Go(func() error {
		a.worker().Run(ctx)
		return nil
	})
	if w := a.watcher(); w != nil {
		g.Go(func() error {
			// Generation keeps running without save ingestion.
			if err := w.Run(ctx); err != nil {
				a.logger.Error("save watcher stopped", "error", err)
			}
			return nil
		})
	} else {
		a.logger.Info("no game save folder configured, save ingestion is idle")
	}
	if n, err := ingest.EnqueuePendingCombatLogs(a.store, a.combat); err != nil {
		a.logger.Warn("could not queue combat log summaries", "error", err)
	} else if n > 0 {
		a.logger.Info("queued combat log summaries", "count", n)
	}

	if ln != nil {
		serveHTTP(ctx, g, a, ln)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(os.Stderr, "stopped")
	return nil
}

func runDashboard() error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen on %s: %w", a.cfg.Server.Addr, err)
	}
	g, ctx := errgroup.WithContext(ctx)
	serveHTTP(ctx, g, a, ln)
	return g.Wait()
}

// serveHTTP runs the dashboard on ln inside g and shuts it down gracefully
// when ctx ends.
func serveHTTP(ctx context.Context, g *errgroup.Group, a *app, ln net.Listener) {
	srv := &http.Server{
		Handler:           a.dashboard(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "dashboard listening on %s\n", dashboardURL(ln.Addr().String()))
		if a.cfg.Server.Token == "" {
			a.logger.Warn("dashboard_token is empty, the dashboard API is unauthenticated")
		}
		if err := srv.Serve(netutil.LimitListener(ln, maxDashboardConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func runGenerate(ifDue bool) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	a.recoverInterrupted()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reason := "cli request"
	if ifDue {
		d, err := a.trigger.Evaluate(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("evaluating trigger: %w", err)
		}
		if !d.Fire {
			printStatus("Skipped", "%s", d.Reason)
			return nil
		}
		reason = d.Reason
	}

	printStep("Generating vignette with %s...", a.cfg.LLM.Model)
	out, err := a.gen.RunCycle(ctx, generator.TriggerManual, reason)
	if err != nil {
		return err
	}
	printSuccess("Vignette written to %s", out.Artifacts.VignettePath)
	printStatus("Summary", "%s", out.Artifacts.SummaryPath)
	printStatus("Marker", "version %d", out.Artifacts.Marker.Version)
	if !out.Result.CrewUpdated {
		printWarning("crew update could not be parsed, crew details unchanged")
	}
	printStatus("Took", "%s", out.Result.Duration.Round(100*time.Millisecond))
	return nil
}

func runMCP() error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(a.mcpServer())
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("vignette is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vignette (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vignette (PID %d)", pid)
	return nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
