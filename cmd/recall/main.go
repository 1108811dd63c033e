package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/app"
	"github.com/RnLe/DeepRecall-sub014/internal/config"
	"github.com/RnLe/DeepRecall-sub014/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an initialized App. The caller must
// defer a.Close(). operation identifies the CLI command being run
// (e.g. "StoreBlob", "Serve").
func newApp(ctx context.Context, operation string, serve bool) (*app.App, *config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, serve)
	if err != nil {
		return nil, nil, fmt.Errorf("creating app: %w", err)
	}

	if err := a.Initialize(ctx); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Content-addressed blob store with cross-device sync",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Catalog:      %s\n", cfg.Catalog.Type)
		fmt.Printf("Store:        %s (%s)\n", cfg.Store.Type, cfg.Store.Root)
		fmt.Printf("Mirror:       %s\n", cfg.Mirror.Type)
		fmt.Printf("Coordination: %s\n", cfg.Coordination.Type)
		fmt.Printf("Server Addr:  %s\n", cfg.Server.Addr)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Set the admin API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Print("Admin token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}

		token := strings.TrimSpace(string(raw))
		if token == "" {
			return fmt.Errorf("token must not be empty")
		}

		cfg.Server.AdminToken = token
		if err := config.WriteToFile(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Println("Admin token updated.")
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, cfg, err := newApp(ctx, "Serve", true)
		if err != nil {
			return err
		}
		defer a.Close()

		a.Reconciler().Start(ctx)

		srv := server.NewServer(
			cfg.Server.Addr,
			a.Service(),
			a.Syncer(),
			a.Logger(),
			cfg.Server.AdminToken,
			cfg.Server.MaxUploadBytes,
			a.DeviceID(),
		)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store PATH",
	Short: "Store a file as a blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")

		ctx := cmd.Context()
		a, _, err := newApp(ctx, "StoreBlob", false)
		if err != nil {
			return err
		}
		defer a.Close()

		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		if err := a.PersistOperation(absPath); err != nil {
			return err
		}

		filename := filepath.Base(absPath)
		res, err := a.Service().StoreBlob(ctx, data, filename, mimeForFile(filename), role, "")
		if err != nil {
			a.SetStatus("error")
			return fmt.Errorf("storing blob: %w", err)
		}

		if res.Deduplicated {
			fmt.Printf("Already stored: %s\n", res.SHA256)
		} else {
			fmt.Printf("Stored %s (%d bytes)\n", res.SHA256, res.Size)
		}
		return nil
	},
}

// mimeForFile maps common extensions onto the mime types the library
// understands; everything else is opaque bytes.
func mimeForFile(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// get command
var getCmd = &cobra.Command{
	Use:   "get SHA256",
	Short: "Fetch blob bytes by hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		ctx := cmd.Context()
		a, _, err := newApp(ctx, "FetchBlob", false)
		if err != nil {
			return err
		}
		defer a.Close()

		rc, _, err := a.Service().FetchBlob(ctx, args[0])
		if err != nil {
			return err
		}
		defer rc.Close()

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("writing blob: %w", err)
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		showPaths, _ := cmd.Flags().GetBool("paths")

		ctx := cmd.Context()
		a, _, err := newApp(ctx, "ListFiles", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if showPaths {
			records, err := a.Service().ListFilesWithPaths()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No blobs stored.")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s  %-9s  %8d  %-24s  %s\n",
					r.SHA256[:12], r.Health, r.Size, r.Filename, r.Path)
			}
			return nil
		}

		blobs, err := a.Service().ListFiles()
		if err != nil {
			return err
		}
		if len(blobs) == 0 {
			fmt.Println("No blobs stored.")
			return nil
		}
		for _, b := range blobs {
			fmt.Printf("%s  %-9s  %8d  %-20s  %s\n",
				b.SHA256[:12], b.Health, b.Size, b.Mime, b.Filename)
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the store and update blob health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "Scan", false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Scan()
		if err != nil {
			a.SetStatus("error")
			return fmt.Errorf("scan failed: %w", err)
		}

		fmt.Printf("Added %d, updated %d blob(s)\n", result.Added, result.Updated)
		for _, e := range result.Errors {
			fmt.Printf("  warning: %s\n", e)
		}
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog health statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "Stats", false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Service().Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Total blobs: %d (%d bytes)\n", report.TotalBlobs, report.TotalSize)
		fmt.Printf("  healthy:   %d\n", report.Healthy)
		fmt.Printf("  missing:   %d\n", report.Missing)
		fmt.Printf("  modified:  %d\n", report.Modified)
		fmt.Printf("  relocated: %d\n", report.Relocated)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync SHA256",
	Short: "Publish a blob's availability to the coordination store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "SyncBlob", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.PersistOperation(args[0]); err != nil {
			return err
		}
		if err := a.Syncer().SyncBlob(ctx, args[0], a.DeviceID()); err != nil {
			a.SetStatus("error")
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Synced %s\n", args[0])
		return nil
	},
}

// flush command
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Retry pending coordination publishes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "FlushOutbox", false)
		if err != nil {
			return err
		}
		defer a.Close()

		published, failed, err := a.Syncer().Flush(ctx, 1000)
		if err != nil {
			return fmt.Errorf("flush failed: %w", err)
		}

		fmt.Printf("Published %d, failed %d\n", published, failed)
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete SHA256",
	Short: "Remove a blob's metadata (bytes are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "DeleteBlob", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.PersistOperation(args[0]); err != nil {
			return err
		}
		if err := a.Service().DeleteBlob(args[0]); err != nil {
			a.SetStatus("error")
			return err
		}

		fmt.Printf("Deleted metadata for %s\n", args[0])
		return nil
	},
}

// rename command
var renameCmd = &cobra.Command{
	Use:   "rename SHA256 FILENAME",
	Short: "Update a blob's recorded filename",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := newApp(ctx, "RenameBlob", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.PersistOperation(args[0]); err != nil {
			return err
		}
		if err := a.Service().RenameBlob(args[0], args[1]); err != nil {
			a.SetStatus("error")
			return err
		}

		fmt.Printf("Renamed %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetTokenCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().String("role", "", "Store subtree role (default: library)")
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("output", "o", "", "Write bytes to a file instead of stdout")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("paths", false, "Include local paths")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renameCmd)
}
