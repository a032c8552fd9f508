package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/vocalis/internal/config"
	"github.com/andresmejia3/vocalis/internal/observe"
	"github.com/andresmejia3/vocalis/internal/store"
)

var (
	// DB is the database connection shared by subcommands. It stays nil when
	// no database is configured.
	DB *store.Store
	// Cfg is the run configuration: defaults, then --config, then command flags.
	Cfg *config.Config
	// Logger is the structured logger handed to library packages.
	Logger *slog.Logger

	// dbURL is the connection string
	dbURL      string
	configPath string
	verbose    bool

	shutdownTracing func(context.Context) error
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "vocalis",
	Short:         "Speaker-aware speech clip extraction from recordings",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(Logger)

		// Spans are only worth printing when debugging
		if verbose {
			shutdownTracing = observe.InitTracing(observe.NewLogExporter(Logger))
		} else {
			shutdownTracing = observe.InitTracing(nil)
		}

		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
		if shutdownTracing != nil {
			shutdownTracing(context.Background())
		}
	},
}

// resolveDBURL returns the --db value, else a URL built from POSTGRES_* variables,
// else the empty string.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// connectDB opens the database when one is configured. With required set,
// a missing configuration is an error; otherwise DB is left nil.
func connectDB(ctx context.Context, required bool) error {
	if DB != nil {
		return nil
	}
	url := resolveDBURL()
	if url == "" {
		if required {
			return fmt.Errorf("no database configured: pass --db or set POSTGRES_HOST")
		}
		return nil
	}

	var err error
	DB, err = store.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// PersistentPostRun is skipped when a command fails
		if DB != nil {
			DB.Close(context.Background())
		}
		fmt.Fprintf(os.Stderr, "🚨 %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* env, persistence off when unset)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging, including voicing traces and spans")
}
