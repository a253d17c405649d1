package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/kalambet/offsync/internal/api"
	"github.com/kalambet/offsync/internal/config"
	"github.com/kalambet/offsync/internal/offline"
	"github.com/kalambet/offsync/internal/session"
	"github.com/kalambet/offsync/internal/source"
	"github.com/kalambet/offsync/internal/storage"
	"github.com/kalambet/offsync/internal/tasks"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the offsync server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running offsync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show offsync server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "offsync.pid")
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

func runServer(mcpStdio bool) error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser := newLogger(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("offsync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("offsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	var src source.ContentSource
	if cfg.Source.Dir != "" {
		src = source.NewDir(cfg.Source.Dir)
		slog.Info("content source", "dir", cfg.Source.Dir)
	} else {
		src = source.NewMemory()
		slog.Warn("no source.dir configured; downloads will report items as not found")
	}

	svc := offline.New(offline.Deps{
		Store:          store,
		Source:         src,
		DefaultLimitMB: cfg.Storage.DefaultLimitMB,
		Tasks: tasks.Config{
			Workers:        cfg.Tasks.Workers,
			QueueSize:      cfg.Tasks.QueueSize,
			StepDelay:      cfg.Tasks.StepDelay,
			MaxRunDuration: cfg.Tasks.MaxRunDuration,
			SweepInterval:  cfg.Tasks.SweepInterval,
		},
	})

	// Tasks left active by a previous process can never finish.
	exec := svc.Executor()
	if n, err := exec.RecoverOrphans(ctx); err != nil {
		return fmt.Errorf("recovering interrupted tasks: %w", err)
	} else if n > 0 {
		slog.Warn("failed tasks interrupted by previous shutdown", "count", n)
	}

	execDone := make(chan error, 1)
	go func() {
		execDone <- exec.Run(ctx)
	}()

	handler := api.NewAppHandler(api.AppDeps{
		Service:        svc,
		Validator:      session.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil),
		StartTime:      time.Now(),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Service: svc,
			OwnerID: int64(cfg.MCP.OwnerID),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "owner_id", cfg.MCP.OwnerID)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("offsync listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stop()
			<-execDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	stop()
	if err := <-execDone; err != nil {
		slog.Error("task executor stopped with error", "error", err)
	}
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("offsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop offsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to offsync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Data struct {
				UptimeSeconds int64 `json:"uptime_seconds"`
			} `json:"data"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d (up %s)", cfg.Server.Port, time.Duration(health.Data.UptimeSeconds)*time.Second)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		c, err := newAPIClient()
		if err == nil {
			var usage struct {
				UsedBytes int64   `json:"used_bytes"`
				LimitMB   int     `json:"limit_mb"`
				Percent   float64 `json:"percent"`
			}
			if r, err := c.get(context.Background(), "/v1/storage"); err == nil && decodeJSON(r, &usage) == nil {
				printStatus("Storage", "%s of %d MB (%.2f%%)", formatBytes(usage.UsedBytes), usage.LimitMB, usage.Percent)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if cfg.Source.Dir != "" {
		printStatus("Source dir", "%s", cfg.Source.Dir)
	}
	return nil
}
