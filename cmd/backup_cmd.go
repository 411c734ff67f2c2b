package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kebairia/portalbackup/internal/backup"
	"github.com/kebairia/portalbackup/internal/ledger"
)

var (
	includeFiles   bool
	includeLogs    bool
	encrypt        bool
	retentionDays  int
	listJSON       bool
	restoreTables  []string
	skipValidation bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, restore and prune backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup of the portal tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), &cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := backup.Options{
			IncludeFiles:  cfg.Backup.IncludeFiles || includeFiles,
			IncludeLogs:   cfg.Backup.IncludeLogs || includeLogs,
			Encrypt:       cfg.Backup.Encrypt || encrypt,
			RetentionDays: cfg.Backup.RetentionDays,
		}
		if cmd.Flags().Changed("retention") {
			opts.RetentionDays = retentionDays
		}

		rec, err := a.orchestrator.PerformBackup(cmd.Context(), ledger.OriginManual, opts)
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("Backup %s completed", rec.ID))
		fmt.Printf("  archive:  %s (%s)\n", rec.Archive, humanize.IBytes(uint64(rec.SizeBytes)))
		fmt.Printf("  checksum: %s\n", rec.Checksum)
		fmt.Printf("  tables:   %s\n", strings.Join(rec.Tables, ", "))
		if rec.RemoteKey != "" {
			fmt.Printf("  remote:   %s\n", rec.RemoteKey)
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed backups available for recovery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), &cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		points, err := a.orchestrator.ListRecoveryPoints(cmd.Context())
		if err != nil {
			return err
		}
		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(points)
		}
		if len(points) == 0 {
			fmt.Println(color.YellowString("No backups found in %s", cfg.Backup.Path))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tSIZE\tLOCATION\tDESCRIPTION")
		for _, p := range points {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.BackupID,
				humanize.Time(p.CreatedAt),
				humanize.IBytes(uint64(p.SizeBytes)),
				location(p),
				p.Description,
			)
		}
		return w.Flush()
	},
}

func location(p backup.RecoveryPoint) string {
	switch {
	case p.Local && p.Remote:
		return "local+remote"
	case p.Remote:
		return "remote"
	default:
		return "local"
	}
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore the portal tables from a backup",
	Long: `Restore replaces the contents of every restored table with the rows in
the archive. It is not a merge.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), &cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.PerformRecovery(cmd.Context(), args[0], backup.RecoveryOptions{
			Tables:         restoreTables,
			SkipValidation: skipValidation,
		})
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("Recovery of %s completed (%s archive)", res.BackupID, res.Source))
		for table, rows := range res.Restored {
			fmt.Printf("  %-16s %d rows\n", table, rows)
		}
		for _, table := range res.Skipped {
			fmt.Println(color.YellowString("  %-16s skipped, no data in archive", table))
		}
		for _, path := range res.Files {
			fmt.Printf("  files restored to %s\n", path)
		}
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		days := cfg.Backup.RetentionDays
		if cmd.Flags().Changed("retention") {
			days = retentionDays
		}
		if days <= 0 {
			return fmt.Errorf("%w: retention is not configured, pass --retention", backup.ErrConfiguration)
		}

		a, err := newApp(cmd.Context(), &cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.Prune(cmd.Context(), days)
		if res != nil {
			for _, p := range res.Local {
				fmt.Printf("  deleted %s\n", p)
			}
			for _, k := range res.Remote {
				fmt.Printf("  deleted remote %s\n", k)
			}
			fmt.Println(color.GreenString("Pruned %d local and %d remote archives older than %d days",
				len(res.Local), len(res.Remote), days))
		}
		return err
	},
}

func init() {
	backupCreateCmd.Flags().BoolVar(&includeFiles, "include-files", false, "capture the configured file trees")
	backupCreateCmd.Flags().BoolVar(&includeLogs, "include-logs", false, "capture recent log files")
	backupCreateCmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the archive with the configured key")
	backupCreateCmd.Flags().IntVar(&retentionDays, "retention", 0, "delete archives older than N days after the backup")

	backupListCmd.Flags().BoolVar(&listJSON, "json", false, "print recovery points as JSON")

	backupRestoreCmd.Flags().StringSliceVar(&restoreTables, "tables", nil, "restore only these tables (comma separated)")
	backupRestoreCmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "restore without checking the ledger checksum")

	backupPruneCmd.Flags().IntVar(&retentionDays, "retention", 0, "retention period in days (defaults to backup.retention_days)")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd, backupPruneCmd)
}
