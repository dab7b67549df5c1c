package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/kalambet/forja/internal/api"
	"github.com/kalambet/forja/internal/assemble"
	"github.com/kalambet/forja/internal/batch"
	"github.com/kalambet/forja/internal/blob"
	"github.com/kalambet/forja/internal/config"
	"github.com/kalambet/forja/internal/gemini"
	"github.com/kalambet/forja/internal/pipeline"
	"github.com/kalambet/forja/internal/prompt"
	"github.com/kalambet/forja/internal/schedule"
	"github.com/kalambet/forja/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the forja server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running forja server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show forja system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "forja.pid")
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

// dailyRunner adapts the batch coordinator to the scheduler, resolving the
// user list at fire time.
type dailyRunner struct {
	store *storage.Store
	coord *batch.Coordinator
}

func (d *dailyRunner) RunAll(ctx context.Context) error {
	ids, err := d.store.ListUserIDs()
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	_, err = d.coord.Run(ctx, ids)
	return err
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "forja version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in the secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("forja is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("forja is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the generation pipeline.
	renderer, err := prompt.NewRenderer()
	if err != nil {
		return fmt.Errorf("loading prompt templates: %w", err)
	}
	assembler := assemble.New(store, cfg.Pipeline.MaxProgressNotes)
	genClient := gemini.New(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, gemini.Models{
		Text:   cfg.Gemini.TextModel,
		Image:  cfg.Gemini.ImageModel,
		Speech: cfg.Gemini.SpeechModel,
	})
	if cfg.Gemini.Voice != "" {
		genClient.SetVoice(cfg.Gemini.Voice)
	}
	blobs := blob.NewFSStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
	runner := pipeline.NewRunner(assembler, renderer, genClient, genClient, genClient, store, blobs)
	coord := batch.New(runner, cfg.Batch.WaveSize, cfg.Batch.PauseDuration())

	// Optional daily schedule.
	if cfg.Schedule.Enabled {
		sched, err := schedule.New(&dailyRunner{store: store, coord: coord}, cfg.Schedule.At)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
		slog.Info("daily schedule enabled", "at", cfg.Schedule.At)
	}

	// Build HTTP handler and server.
	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Assembler: assembler,
		Runner:    runner,
		Batch:     coord,
		Token:     apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Assembler: assembler,
		Runner:    runner,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "forja listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("forja is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop forja (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to forja (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Text model", "%s", cfg.Gemini.TextModel)
	printStatus("Image model", "%s", cfg.Gemini.ImageModel)
	printStatus("Speech model", "%s", cfg.Gemini.SpeechModel)
	if cfg.Schedule.Enabled {
		printStatus("Schedule", "daily at %s", cfg.Schedule.At)
	} else {
		printStatus("Schedule", "disabled")
	}

	// Show user count if server is running.
	if apiToken, tokenErr := config.GetAPIToken(config.NewKeychain()); tokenErr == nil && running {
		req, err := http.NewRequest("GET", serverURL+"/users", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+apiToken)
			if usersResp, err := client.Do(req); err == nil {
				var result struct {
					UserIDs []string `json:"user_ids"`
				}
				if decodeJSON(usersResp, &result) == nil {
					printStatus("Users", "%d", len(result.UserIDs))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Media dir", "%s", cfg.Blob.Dir)
	return nil
}
