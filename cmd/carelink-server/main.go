package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/patient"
	"github.com/carelink/carelink/internal/domain/pharmacy"
	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/notify"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carelink-server",
		Short: "CareLink clinical portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(digestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CareLink API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig reads the configuration and the pool settings derived from it.
func loadConfig() (*config.Config, db.PoolOptions, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, db.PoolOptions{}, err
	}
	return cfg, poolOptions(cfg), nil
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "carelink",
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, opts, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir := migrationsDir(cmd, cfg)
			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) from %s.\n", count, dir)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, opts, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// demoPatient is the record the seed command creates.
func demoPatient() *patient.Patient {
	return &patient.Patient{
		ID:         "P001",
		Name:       "Demo Patient",
		Consent:    true,
		Conditions: rules.ConditionSet{},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, opts, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			created, err := seed(ctx, patient.NewRepositoriesPG(pool).Patients)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintln(cmd.OutOrStdout(), "Created demo patient P001.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Demo patient P001 already exists.")
			}
			return nil
		},
	}
}

// seed creates the demo patient unless it exists.
func seed(ctx context.Context, patients patient.PatientRepository) (bool, error) {
	err := patients.Create(ctx, demoPatient())
	if errors.Is(err, patient.ErrValidation) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create demo patient: %w", err)
	}
	return true, nil
}

func digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Mail the list of consenting patients due for a medication review",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, opts, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			var sender notify.Sender = notify.LogSender{Logger: logger}
			if cfg.MailEnabled() {
				sender = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
			}

			svc := pharmacy.NewService(patient.NewRepositoriesPG(pool), db.NewTxRunner(pool), auth.Credential{}, nil, nil)
			n, err := svc.SendReviewDigest(ctx, sender, cfg.DigestFrom, cfg.DigestRecipients(), time.Now())
			if err != nil {
				return fmt.Errorf("send digest: %w", err)
			}
			logger.Info().Int("due", n).Msg("review digest complete")
			return nil
		},
	}
}
