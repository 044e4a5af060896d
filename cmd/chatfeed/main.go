package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Napageneral/chatfeed/internal/config"
	"github.com/Napageneral/chatfeed/internal/db"
	"github.com/Napageneral/chatfeed/internal/decode"
	"github.com/Napageneral/chatfeed/internal/extractor"
	"github.com/Napageneral/chatfeed/internal/identity"
	"github.com/Napageneral/chatfeed/internal/metrics"
	"github.com/Napageneral/chatfeed/internal/snapshot"
	"github.com/Napageneral/chatfeed/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatfeed",
		Short: "Live mirror of the Messages database",
		Long: `Chatfeed continuously mirrors the macOS Messages database (chat.db)
into a normalized local store, recovering message text from
attributedBody blobs and resolving handles to local users.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(cleanupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("chatfeed %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize chatfeed config and database",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK        bool   `json:"ok"`
				Message   string `json:"message,omitempty"`
				ConfigDir string `json:"config_dir,omitempty"`
				DataDir   string `json:"data_dir,omitempty"`
				DBPath    string `json:"db_path,omitempty"`
			}

			result := Result{OK: true}

			configDir, err := config.GetConfigDir()
			if err != nil {
				fail(errResult(fmt.Errorf("failed to get config directory: %w", err)))
			}
			result.ConfigDir = configDir

			dataDir, err := config.GetDataDir()
			if err != nil {
				fail(errResult(fmt.Errorf("failed to get data directory: %w", err)))
			}
			result.DataDir = dataDir

			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail(errResult(fmt.Errorf("failed to create config directory: %w", err)))
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fail(errResult(fmt.Errorf("failed to create data directory: %w", err)))
			}

			cfg, err := config.Load()
			if err != nil {
				fail(errResult(fmt.Errorf("failed to load config: %w", err)))
			}
			if err := cfg.Save(); err != nil {
				fail(errResult(fmt.Errorf("failed to write config: %w", err)))
			}

			if err := db.Init(); err != nil {
				fail(errResult(fmt.Errorf("failed to initialize database: %w", err)))
			}

			dbPath, err := db.GetPath()
			if err != nil {
				fail(errResult(fmt.Errorf("failed to get database path: %w", err)))
			}
			result.DBPath = dbPath
			result.Message = "Chatfeed initialized successfully"

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("✓ Config directory: %s\n", result.ConfigDir)
				fmt.Printf("✓ Data directory: %s\n", result.DataDir)
				fmt.Printf("✓ Database: %s\n", result.DBPath)
				fmt.Println("\nChatfeed initialized successfully!")
			}
		},
	}
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a single polling cycle",
		Run: func(cmd *cobra.Command, args []string) {
			poller, cleanup, err := buildPoller(nil)
			if err != nil {
				fail(errResult(err))
			}
			defer cleanup()

			if err := poller.Initialize(); err != nil {
				fail(errResult(err))
			}

			res := poller.PollOnce(cmd.Context())
			if jsonOutput {
				printJSON(res)
			} else if res.Success {
				fmt.Printf("✓ %d new, %d persisted, cursor at %d (%s)\n",
					res.NewRecords, res.Persisted, res.LastProcessedRowID,
					res.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(os.Stderr, "✗ poll failed: %s\n", res.Err)
				os.Exit(1)
			}
		},
	}
}

func startCmd() *cobra.Command {
	var (
		watch       bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the continuous polling loop",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fail(errResult(err))
			}

			var opts *extractor.Options
			if watch {
				opts = &extractor.Options{WatchPath: cfg.Source.ChatDBPath}
			}

			poller, cleanup, err := buildPoller(opts)
			if err != nil {
				fail(errResult(err))
			}
			defer cleanup()

			if err := poller.Initialize(); err != nil {
				fail(errResult(err))
			}

			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Listen
			}
			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", metrics.Handler())
					log.WithField("addr", metricsAddr).Info("serving metrics")
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						log.WithError(err).Error("metrics listener failed")
					}
				}()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := poller.Run(ctx); err != nil {
				fail(errResult(err))
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Also poll immediately when the source database changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cursor position and mirror statistics",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fail(errResult(err))
			}

			d, err := db.Open()
			if err != nil {
				fail(errResult(err))
			}
			defer d.Close()

			st := store.New(d)
			cursor, err := st.GetCursor()
			if err != nil {
				fail(errResult(fmt.Errorf("no cursor yet, run 'chatfeed init' then 'chatfeed poll': %w", err)))
			}
			stats, err := st.GetStats()
			if err != nil {
				fail(errResult(err))
			}

			type Result struct {
				OK           bool         `json:"ok"`
				Cursor       store.Cursor `json:"cursor"`
				Stats        store.Stats  `json:"stats"`
				SourcePath   string       `json:"source_path"`
				PollInterval string       `json:"poll_interval"`
				BatchSize    int          `json:"batch_size"`
			}
			result := Result{
				OK:           true,
				Cursor:       cursor,
				Stats:        stats,
				SourcePath:   cfg.Source.ChatDBPath,
				PollInterval: cfg.PollInterval().String(),
				BatchSize:    cfg.Polling.BatchSize,
			}

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("Source:      %s\n", result.SourcePath)
				fmt.Printf("Status:      %s\n", cursor.Status)
				fmt.Printf("Cursor:      %d (%d processed total)\n", cursor.LastProcessedRowID, cursor.TotalProcessed)
				fmt.Printf("Mirror:      %d messages, %d users\n", stats.MessageCount, stats.UserCount)
				fmt.Printf("Interval:    %s (batch %d)\n", result.PollInterval, result.BatchSize)
				if cursor.LastError != "" {
					fmt.Printf("Last error:  %s\n", cursor.LastError)
				}
			}
		},
	}
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode an attributedBody blob from a file (debugging aid)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				fail(errResult(err))
			}

			res := decode.New().Extract("", blob)

			type Result struct {
				OK       bool   `json:"ok"`
				Text     string `json:"text,omitempty"`
				Strategy string `json:"strategy,omitempty"`
			}
			out := Result{OK: res.Text != "", Text: res.Text, Strategy: string(res.Strategy)}

			if jsonOutput {
				printJSON(out)
			} else if out.OK {
				fmt.Printf("strategy: %s\n%s\n", out.Strategy, out.Text)
			} else {
				fmt.Fprintln(os.Stderr, "no text recovered")
				os.Exit(1)
			}
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale snapshot copies",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fail(errResult(err))
			}
			dataDir, err := config.GetDataDir()
			if err != nil {
				fail(errResult(err))
			}

			mgr := snapshot.NewManager(cfg.Source.ChatDBPath, filepath.Join(dataDir, "snapshots"), cfg.SnapshotTTL())
			removed, err := mgr.Cleanup()
			if err != nil {
				fail(errResult(err))
			}

			if jsonOutput {
				printJSON(map[string]any{"ok": true, "removed": removed})
			} else {
				fmt.Printf("✓ Removed %d stale snapshot file(s)\n", removed)
			}
		},
	}
}

// buildPoller wires the collaborators from config. opts overrides, when
// non-nil, are merged over config-derived defaults.
func buildPoller(opts *extractor.Options) (*extractor.Poller, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	dataDir, err := config.GetDataDir()
	if err != nil {
		return nil, nil, err
	}

	if err := db.Init(); err != nil {
		return nil, nil, err
	}
	d, err := db.Open()
	if err != nil {
		return nil, nil, err
	}

	st := store.New(d)
	mgr := snapshot.NewManager(cfg.Source.ChatDBPath, filepath.Join(dataDir, "snapshots"), cfg.SnapshotTTL())

	merged := extractor.Options{
		Interval:  cfg.PollInterval(),
		BatchSize: cfg.Polling.BatchSize,
	}
	if opts != nil {
		merged.WatchPath = opts.WatchPath
		merged.Observer = opts.Observer
	}

	poller := extractor.New(mgr, st, decode.New(), identity.NewResolver(st), merged)
	return poller, func() { d.Close() }, nil
}

func errResult(err error) any {
	return map[string]any{"ok": false, "message": err.Error()}
}

func fail(result any) {
	if jsonOutput {
		printJSON(result)
	} else {
		if m, ok := result.(map[string]any); ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", m["message"])
		} else {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", result)
		}
	}
	os.Exit(1)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
