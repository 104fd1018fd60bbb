package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deveric/decksync/internal/apkg"
	"github.com/deveric/decksync/internal/config"
	"github.com/deveric/decksync/internal/exporter"
	"github.com/deveric/decksync/internal/importer"
	"github.com/deveric/decksync/internal/media"
	"github.com/deveric/decksync/internal/store"
	"github.com/deveric/decksync/internal/store/postgres"
	"github.com/deveric/decksync/internal/watch"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "decksync",
		Short:   "Flashcard package import/export engine for Postgres",
		Long:    `Imports flashcard packages into a PostgreSQL-backed workspace, merges repeat imports by note guid, resolves media references, and exports decks back to package files.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		importCmd(),
		exportCmd(),
		renderCmd(),
		watchCmd(),
		statusCmd(),
		migrateCmd(),
		initCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStack loads config and connects the store and blob storage.
func openStack(ctx context.Context) (*config.Config, *postgres.Store, *media.FSStore, store.Workspace, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, store.Workspace{}, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := postgres.New(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, nil, store.Workspace{}, fmt.Errorf("failed to connect to database: %w", err)
	}

	blobs, err := media.NewFSStore(cfg.Blob.Root, cfg.Blob.BaseURL)
	if err != nil {
		st.Close()
		return nil, nil, nil, store.Workspace{}, fmt.Errorf("failed to open blob store: %w", err)
	}

	ws, err := st.FindOrCreateWorkspace(ctx, cfg.Workspace)
	if err != nil {
		st.Close()
		return nil, nil, nil, store.Workspace{}, err
	}

	return cfg, st, blobs, ws, nil
}

func importCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <package.apkg>",
		Short: "Import a package file into the workspace",
		Long:  `Reads a flashcard package, merges its notes into the workspace by guid, and uploads its media files. Notes whose guid already exists are skipped unless --force is given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, st, blobs, ws, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read package: %w", err)
			}

			bar := progressbar.Default(-1, "uploading media")
			result, err := importer.New(st, blobs).Import(ctx, ws.ID, data, importer.Options{
				Force:         force || cfg.Import.Force,
				Serialize:     cfg.Import.Serialize,
				MediaProgress: func() { bar.Add(1) },
			})
			bar.Finish()
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			printImportResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing notes that share a guid")
	return cmd
}

func printImportResult(result *importer.Result) {
	fmt.Printf("Import %s\n", result.Status)
	fmt.Printf("  Imported: %d\n", result.ImportedNotes)
	fmt.Printf("  Updated:  %d\n", result.UpdatedNotes)
	fmt.Printf("  Skipped:  %d\n", result.SkippedNotes)
	fmt.Printf("  Media:    %d\n", result.MediaFiles)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
	if len(result.Decks) > 0 {
		fmt.Println("\nDecks:")
		for _, d := range result.Decks {
			fmt.Printf("  %s: %d cards (%d new, %d learning, %d review, %d due)\n",
				d.Name, d.TotalCards, d.NewCards, d.LearningCards, d.ReviewCards, d.DueCards)
			if d.LastStudied != nil {
				fmt.Printf("    last studied %s\n", d.LastStudied.Format(time.RFC3339))
			}
		}
	}
}

func exportCmd() *cobra.Command {
	var decks []string
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export decks to a package file",
		Long:  `Builds a package file containing the named decks, their cards and notes, the models those notes use, and all referenced media.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			_, st, blobs, ws, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			deckIDs, err := resolveDeckIDs(ctx, st, ws.ID, decks)
			if err != nil {
				return err
			}

			result, err := exporter.New(st, blobs).Export(ctx, ws.ID, deckIDs)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if err := os.WriteFile(output, result.Package, 0644); err != nil {
				return fmt.Errorf("failed to write package: %w", err)
			}

			fmt.Printf("Exported %d decks, %d notes, %d cards, %d media files to %s\n",
				result.Decks, result.Notes, result.Cards, result.MediaFiles, output)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&decks, "deck", "d", nil, "deck name to export (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "export.apkg", "output package path")
	cmd.MarkFlagRequired("deck")
	return cmd
}

// resolveDeckIDs maps deck names to workspace ids. Unknown names are
// reported up front instead of silently exporting less than asked for.
func resolveDeckIDs(ctx context.Context, st store.Store, workspaceID uuid.UUID, names []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := st.WithTx(ctx, workspaceID, false, func(tx store.Tx) error {
		for _, name := range names {
			deck, err := tx.FindDeckByName(ctx, workspaceID, name)
			if err != nil {
				return err
			}
			if deck == nil {
				return fmt.Errorf("deck %q not found in workspace", name)
			}
			ids = append(ids, deck.ID)
		}
		return nil
	})
	return ids, err
}

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <note-id>",
		Short: "Print a note with media references resolved",
		Long:  `Loads a note, rewrites its media references to durable URLs using the note's media manifest, and prints each field. The stored note is not modified.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			noteID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid note id: %w", err)
			}

			_, st, _, _, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			note, err := st.NoteByID(ctx, noteID)
			if err != nil {
				return fmt.Errorf("failed to load note: %w", err)
			}

			rendered, err := media.Render(ctx, st, noteID, note.Fields)
			if err != nil {
				return fmt.Errorf("failed to render note: %w", err)
			}

			for i, field := range strings.Split(rendered, apkg.FieldSeparator) {
				fmt.Printf("--- field %d ---\n%s\n", i, field)
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop directory and import packages as they arrive",
		Long:  `Watches the configured drop directory; when a package file appears or changes and the writer goes quiet, it is imported into the workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg, st, blobs, ws, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if cfg.Watch.Dir == "" {
				return fmt.Errorf("watch.dir is not configured")
			}

			im := importer.New(st, blobs)

			w, err := watch.NewWatcher(cfg.Watch.Dir, cfg.Watch.DebounceMs, cfg.Watch.IgnorePatterns, cfg.Watch.IncludePatterns)
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			slog.Info("watching drop directory", "dir", cfg.Watch.Dir, "workspace", ws.Name)
			fmt.Println("Watching for package files. Press Ctrl+C to stop.")

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down...")
					w.Stop()
					return nil

				case event := <-w.Events():
					if event.EventType == watch.EventDelete {
						continue
					}
					slog.Debug("package event", "path", event.Path, "type", event.EventType)

					path := filepath.Join(cfg.Watch.Dir, filepath.FromSlash(event.Path))
					data, err := os.ReadFile(path)
					if err != nil {
						slog.Error("failed to read package", "path", path, "error", err)
						continue
					}

					result, err := im.Import(ctx, ws.ID, data, importer.Options{
						Force:     cfg.Import.Force,
						Serialize: cfg.Import.Serialize,
					})
					if err != nil {
						slog.Error("import failed", "path", path, "error", err)
						continue
					}
					fmt.Printf("%s: %s (%d imported, %d updated, %d skipped)\n",
						event.Path, result.Status,
						result.ImportedNotes, result.UpdatedNotes, result.SkippedNotes)
				}
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status and workspace row counts",
		Long:  `Shows the database connection status and the number of decks, notes, cards and media records in the workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			st, err := postgres.New(ctx, &cfg.Database)
			if err != nil {
				fmt.Printf("Database Status: Disconnected\n")
				fmt.Printf("Error: %v\n", err)
				return nil
			}
			defer st.Close()

			ws, err := st.FindOrCreateWorkspace(ctx, cfg.Workspace)
			if err != nil {
				return err
			}

			status, err := st.GetStatus(ctx, ws.ID)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			fmt.Println("=== Decksync Status ===")
			fmt.Printf("Database Status: Connected\n")
			fmt.Printf("  Host: %s\n", cfg.Database.Host)
			fmt.Printf("  Database: %s\n", cfg.Database.Database)
			fmt.Printf("  Schema: %s\n", cfg.Database.Schema)
			fmt.Println()
			fmt.Printf("Workspace: %s\n", ws.Name)
			fmt.Printf("  Decks: %d\n", status.Decks)
			fmt.Printf("  Notes: %d\n", status.Notes)
			fmt.Printf("  Cards: %d\n", status.Cards)
			fmt.Printf("  Media: %d\n", status.MediaRecords)

			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Runs all pending database migrations from the embedded migration set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			st, err := postgres.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer st.Close()

			if err := st.RunMigrations(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations completed successfully.")
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file and prints next steps.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== Decksync Setup ===")
			fmt.Println()

			fmt.Print("Workspace name: ")
			workspace, _ := reader.ReadString('\n')
			workspace = strings.TrimSpace(workspace)
			if workspace == "" {
				return fmt.Errorf("workspace name is required")
			}

			fmt.Println("\nDatabase Configuration:")
			fmt.Print("  Host: ")
			host, _ := reader.ReadString('\n')
			host = strings.TrimSpace(host)

			fmt.Print("  Port [5432]: ")
			portStr, _ := reader.ReadString('\n')
			portStr = strings.TrimSpace(portStr)
			if portStr == "" {
				portStr = "5432"
			}

			fmt.Print("  User: ")
			user, _ := reader.ReadString('\n')
			user = strings.TrimSpace(user)

			fmt.Print("  Password: ")
			password, _ := reader.ReadString('\n')
			password = strings.TrimSpace(password)

			fmt.Print("  Database name: ")
			dbName, _ := reader.ReadString('\n')
			dbName = strings.TrimSpace(dbName)
			if dbName == "" {
				return fmt.Errorf("database name is required")
			}

			defaultSchema := config.SanitizeIdentifier(workspace)
			fmt.Printf("  Schema name [%s]: ", defaultSchema)
			schemaName, _ := reader.ReadString('\n')
			schemaName = strings.TrimSpace(schemaName)
			if schemaName == "" {
				schemaName = defaultSchema
			}

			fmt.Print("  SSL mode [require]: ")
			sslMode, _ := reader.ReadString('\n')
			sslMode = strings.TrimSpace(sslMode)
			if sslMode == "" {
				sslMode = "require"
			}

			fmt.Print("\nMedia blob root [media]: ")
			blobRoot, _ := reader.ReadString('\n')
			blobRoot = strings.TrimSpace(blobRoot)
			if blobRoot == "" {
				blobRoot = "media"
			}

			fmt.Print("Drop directory to watch (optional): ")
			watchDir, _ := reader.ReadString('\n')
			watchDir = strings.TrimSpace(watchDir)

			configContent := fmt.Sprintf(`workspace: "%s"

database:
  host: "%s"
  port: %s
  user: "%s"
  password: "${DB_PASSWORD}"  # Set DB_PASSWORD environment variable
  database: "%s"
  schema: "%s"  # Each workspace gets its own schema
  sslmode: "%s"

blob:
  root: "%s"
  base_url: "file://%s"

import:
  force: false
  serialize: false

watch:
  dir: "%s"
  debounce_ms: 2000
  include_patterns:
    - "**/*.apkg"
  ignore_patterns:
    - "**/.DS_Store"
    - "**/*.partial"
    - "**/*.tmp"
`, workspace, host, portStr, user, dbName, schemaName, sslMode, blobRoot, blobRoot, watchDir)

			// Sanity check: the rendered template must parse as YAML.
			var parsed map[string]any
			if err := yaml.Unmarshal([]byte(configContent), &parsed); err != nil {
				return fmt.Errorf("generated config is invalid: %w", err)
			}

			configDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Printf("\nIMPORTANT: Set the DB_PASSWORD environment variable:\n")
			fmt.Printf("  export DB_PASSWORD='%s'\n", password)
			fmt.Println("\nTo test the connection, run: decksync status")
			fmt.Println("To run migrations, run: decksync migrate")
			fmt.Println("To import a package, run: decksync import deck.apkg")

			return nil
		},
	}
}
