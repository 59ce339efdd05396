package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"medialib/internal/app"
	"medialib/internal/config"
	"medialib/internal/media"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config, resolves the acting subject and creates a MediaApp.
// The caller must defer app.Close(). operation identifies the CLI command
// being run (e.g. "Upload", "Delete").
func newApp(cmd *cobra.Command, operation string, args []string) (*app.MediaApp, media.Subject, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, media.Subject{}, err
	}
	subj, err := subjectFromFlags(cmd, cfg.CLI)
	if err != nil {
		return nil, media.Subject{}, err
	}

	a, err := app.NewMediaApp(cmd.Context(), cfg, operation, strings.Join(args, " "))
	if err != nil {
		return nil, media.Subject{}, fmt.Errorf("initializing app: %w", err)
	}
	return a, subj, nil
}

var rootCmd = &cobra.Command{
	Use:          "medialib",
	Short:        "Per-user media library",
	SilenceUsage: true,
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

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults.BaseDir)
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
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Instance ID:  %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Upload Root:  %s\n", cfg.Storage.Root)
		fmt.Printf("Base URL:     %s\n", cfg.Storage.BaseURL)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Ledger:       %s\n", cfg.Ledger.Type)
		fmt.Printf("Encryption:   %s\n", cfg.Encryption.Type)
		for _, s := range cfg.Snapshots {
			fmt.Printf("Snapshots:    %s (%s)\n", s.Name, s.Type)
		}
		for _, e := range cfg.Events {
			fmt.Printf("Events:       %s\n", e.Type)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		need, err := app.KeysNeedPassphrase(cfg)
		if err != nil {
			return err
		}

		var passphrase string
		if need {
			passphrase, err = readPassphrase("Passphrase: ", true)
			if err != nil {
				return err
			}
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return err
		}

		if need {
			fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		} else {
			fmt.Printf("Encryption %q needs no keys\n", cfg.Encryption.Type)
		}
		return nil
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir NAME",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")
		status, _ := cmd.Flags().GetString("status")
		title, _ := cmd.Flags().GetString("title")
		owner, _ := cmd.Flags().GetInt64("owner")

		a, subj, err := newApp(cmd, "MakeDirectory", args)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.MakeDirectory(cmd.Context(), subj, media.MakeDirectoryRequest{
			ParentID: parent,
			Status:   media.Status(status),
			Name:     args[0],
			Title:    title,
			OwnerID:  owner,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created directory #%d %s\n", e.ID, e.RelativePath)
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")
		status, _ := cmd.Flags().GetString("status")
		name, _ := cmd.Flags().GetString("name")
		title, _ := cmd.Flags().GetString("title")
		owner, _ := cmd.Flags().GetInt64("owner")
		checksum, _ := cmd.Flags().GetString("sha256")

		a, subj, err := newApp(cmd, "Upload", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.UploadFile(cmd.Context(), subj, args[0], media.UploadRequest{
			ParentID: parent,
			Status:   media.Status(status),
			Name:     name,
			Title:    title,
			OwnerID:  owner,
			Checksum: checksum,
		})
		if err != nil {
			return err
		}

		e := res.Entry
		fmt.Printf("Uploaded #%d %s (%s, %d bytes, %+d KB)\n", e.ID, e.RelativePath, e.MimeType, e.ByteSize, res.DeltaKB)
		fmt.Printf("URL: %s\n", a.Service().Paths().URL(e))
		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetInt64Slice("parent")
		owner, _ := cmd.Flags().GetInt64("owner")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		kind, _ := cmd.Flags().GetString("kind")
		search, _ := cmd.Flags().GetString("search")
		order, _ := cmd.Flags().GetString("order")
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")

		a, subj, err := newApp(cmd, "List", args)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.List(cmd.Context(), subj, media.ListQuery{
			ParentIDs: parents,
			OwnerID:   owner,
			Statuses:  toStatuses(statuses),
			Kind:      media.Kind(kind),
			Search:    search,
			Order:     media.Ordering(order),
			Offset:    offset,
			Limit:     limit,
		})
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No entries.")
			return nil
		}
		for _, e := range entries {
			printEntryLine(e)
		}
		return nil
	},
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info [ID]",
	Short: "Show one entry, by id or by --slug",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug, _ := cmd.Flags().GetString("slug")
		owner, _ := cmd.Flags().GetInt64("owner")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		if (len(args) == 0) == (slug == "") {
			return fmt.Errorf("give either an ID or --slug")
		}

		a, subj, err := newApp(cmd, "Info", args)
		if err != nil {
			return err
		}
		defer a.Close()

		var e *media.Entry
		if slug != "" {
			if owner == 0 {
				owner = subj.ID
			}
			e, err = a.FindBySlug(cmd.Context(), subj, owner, toStatuses(statuses), slug)
		} else {
			var id int64
			if id, err = parseID(args[0]); err != nil {
				return err
			}
			e, err = a.Get(cmd.Context(), subj, id)
		}
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %d\n", e.ID)
		fmt.Printf("Kind:        %s\n", e.Kind)
		fmt.Printf("Title:       %s\n", e.Title)
		fmt.Printf("Slug:        %s\n", e.Slug)
		fmt.Printf("Owner:       %d\n", e.OwnerID)
		fmt.Printf("Parent:      %d\n", e.ParentID)
		fmt.Printf("Status:      %s\n", e.Status)
		fmt.Printf("Path:        %s\n", e.RelativePath)
		if !e.IsDir() {
			fmt.Printf("Type:        %s\n", e.MimeType)
			fmt.Printf("Size:        %d bytes\n", e.ByteSize)
			if len(e.Derivatives) > 0 {
				fmt.Printf("Derivatives: %s\n", strings.Join(e.Derivatives, ", "))
			}
		}
		fmt.Printf("URL:         %s\n", a.Service().Paths().URL(e))
		fmt.Printf("Version:     %d\n", e.Version)
		fmt.Printf("Created:     %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Modified:    %s\n", e.ModifiedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv ID",
	Short: "Move an entry to another directory or status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")
		status, _ := cmd.Flags().GetString("status")
		ifVersion, _ := cmd.Flags().GetInt64("if-version")
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, subj, err := newApp(cmd, "Move", args)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.Move(cmd.Context(), subj, id, media.MoveRequest{
			ParentID:  parent,
			Status:    media.Status(status),
			IfVersion: ifVersion,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Moved #%d to %s (%s)\n", e.ID, e.RelativePath, e.Status)
		return nil
	},
}

// rename command
var renameCmd = &cobra.Command{
	Use:   "rename ID TITLE",
	Short: "Change an entry's title and slug",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ifVersion, _ := cmd.Flags().GetInt64("if-version")
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, subj, err := newApp(cmd, "Rename", args)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.Rename(cmd.Context(), subj, id, args[1], ifVersion)
		if err != nil {
			return err
		}

		fmt.Printf("Renamed #%d to %q (slug %s)\n", e.ID, e.Title, e.Slug)
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete an entry; directories are deleted with their contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, subj, err := newApp(cmd, "Delete", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Delete(cmd.Context(), subj, id)
		if res != nil && len(res.DeletedIDs) > 0 {
			fmt.Printf("Deleted %d entr%s, released %d KB\n", len(res.DeletedIDs), plural(len(res.DeletedIDs), "y", "ies"), res.ReleasedKB)
		}
		return err
	},
}

// regen command
var regenCmd = &cobra.Command{
	Use:   "regen ID",
	Short: "Rebuild an image's derivatives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, subj, err := newApp(cmd, "RegenerateDerivatives", args)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.RegenerateDerivatives(cmd.Context(), subj, id)
		if err != nil {
			return err
		}

		fmt.Printf("Regenerated %d derivative(s) for #%d\n", len(res.Entry.Derivatives), id)
		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

// cat command
var catCmd = &cobra.Command{
	Use:   "cat ID",
	Short: "Write a file's content to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, subj, err := newApp(cmd, "Download", args)
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.Download(cmd.Context(), subj, id, os.Stdout)
		return err
	},
}

// usage command
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show disk usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetInt64("owner")

		a, subj, err := newApp(cmd, "Usage", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if owner == 0 {
			owner = subj.ID
		}
		kb, err := a.Usage(cmd.Context(), subj, owner)
		if err != nil {
			return err
		}

		fmt.Printf("User %d: %s\n", owner, media.FormatUsage(kb))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the operations that changed the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if !cmd.Flags().Changed("limit") {
			limit = 0
		}

		a, _, err := newApp(cmd, "GetHistory", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-22s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage metadata snapshots",
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local database with the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, _ := cmd.Flags().GetString("vault")
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		need, err := app.KeysNeedPassphrase(cfg)
		if err != nil {
			return err
		}
		var passphrase string
		if need {
			if passphrase, err = readPassphrase("Passphrase: ", false); err != nil {
				return err
			}
		}

		version, err := app.RestoreSnapshot(cmd.Context(), cfg, app.RestoreOptions{
			Vault:      vault,
			Passphrase: passphrase,
			Force:      force,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Restored snapshot version %d\n", version)
		return nil
	},
}

func init() {
	// subject flags
	rootCmd.PersistentFlags().Int64("user", 0, "Acting user ID (default from config)")
	rootCmd.PersistentFlags().String("role", "", "Acting user's role (default from config)")
	rootCmd.PersistentFlags().Int64("tenant", 0, "Tenant ID (default from config)")
	rootCmd.PersistentFlags().Bool("network-admin", false, "Act as a network administrator")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().String("vault", "", "Vault to restore from (default: first configured)")
	snapshotRestoreCmd.Flags().Bool("force", false, "Replace a local database that is newer than the snapshot")

	// tree commands
	mkdirCmd.Flags().Int64P("parent", "p", media.RootID, "Parent directory ID (0 for the root)")
	mkdirCmd.Flags().StringP("status", "s", string(media.StatusPublic), "Visibility status")
	mkdirCmd.Flags().String("title", "", "Title (default: NAME)")
	mkdirCmd.Flags().Int64("owner", 0, "Create on behalf of another user")

	uploadCmd.Flags().Int64P("parent", "p", media.RootID, "Parent directory ID (0 for the root)")
	uploadCmd.Flags().StringP("status", "s", string(media.StatusPublic), "Visibility status")
	uploadCmd.Flags().String("name", "", "File name to store (default: base name of FILE)")
	uploadCmd.Flags().String("title", "", "Title (default: the file name)")
	uploadCmd.Flags().Int64("owner", 0, "Upload on behalf of another user")
	uploadCmd.Flags().String("sha256", "", "Expected SHA-256 of FILE, hex encoded")

	lsCmd.Flags().Int64SliceP("parent", "p", nil, "Only children of these directory IDs")
	lsCmd.Flags().Int64("owner", 0, "Only entries of this owner")
	lsCmd.Flags().StringSliceP("status", "s", nil, "Only entries with these statuses")
	lsCmd.Flags().String("kind", "", "Only files or directories")
	lsCmd.Flags().String("search", "", "Search titles and slugs")
	lsCmd.Flags().String("order", string(media.OrderModifiedDesc), "Order: modified, created, title or relevance")
	lsCmd.Flags().Int("offset", 0, "Skip this many entries")
	lsCmd.Flags().IntP("limit", "n", media.DefaultListLimit, "Maximum number of entries")

	infoCmd.Flags().String("slug", "", "Look up by slug instead of ID")
	infoCmd.Flags().Int64("owner", 0, "Owner whose slugs are searched (default: acting user)")
	infoCmd.Flags().StringSliceP("status", "s", nil, "Statuses searched by --slug")

	mvCmd.Flags().Int64P("parent", "p", media.RootID, "Destination directory ID (0 for the root)")
	mvCmd.Flags().StringP("status", "s", "", "Destination status (default: unchanged)")
	mvCmd.Flags().Int64("if-version", 0, "Fail unless the entry is at this version")

	renameCmd.Flags().Int64("if-version", 0, "Fail unless the entry is at this version")

	usageCmd.Flags().Int64("owner", 0, "User whose usage is shown (default: acting user)")

	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of operations to show (default from config)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(regenCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(historyCmd)
}
