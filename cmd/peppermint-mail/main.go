package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/config"
	"github.com/peppermint-lab/peppermint/internal/database"
	"github.com/peppermint-lab/peppermint/internal/logger"
	"github.com/peppermint-lab/peppermint/internal/runner"
	"github.com/peppermint-lab/peppermint/internal/runner/tasks"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configDirFlag string
	pollNowFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "peppermint-mail",
	Short: "Peppermint inbound mail ingestion",
	Long: `Peppermint inbound mail ingestion

Polls every configured mail queue over IMAP, opens tickets for new email
and appends replies to existing tickets as comments.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion cycle over all active queues and exit",
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll queues on the configured schedule and expose metrics",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the ingestion tables if they do not exist",
	RunE:  runMigrate,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last poll result of every queue (requires redis)",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("peppermint-mail %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config", "./config", "Directory holding default.yaml and config.yaml")
	serveCmd.Flags().BoolVar(&pollNowFlag, "poll-now", false, "Run one poll cycle at startup before the first scheduled tick")
	rootCmd.AddCommand(runCmd, serveCmd, statusCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	if err := config.Load(configDirFlag); err != nil {
		return nil, nil, err
	}
	cfg := config.Get()
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	config.OnReload(func(*config.Config) {
		log.Info("configuration file changed; restart to apply mail settings")
	})
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()
	if cfg.Mail.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Mail.CycleTimeout)
		defer cancel()
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.poller.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("polled %d queue(s) in %s, %d failed\n", len(report.Queues), report.Duration.Round(time.Millisecond), report.Failed())
	for _, q := range report.Queues {
		if q.Err != nil {
			fmt.Printf("  %s: %v\n", q.QueueID, q.Err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, a.metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics listening", zap.String("address", cfg.Metrics.Address), zap.String("path", cfg.Metrics.Path))
	}

	if !cfg.Mail.Enabled {
		log.Warn("mail polling disabled by configuration")
		<-ctx.Done()
		return nil
	}

	registry := runner.NewTaskRegistry()
	if err := registry.Register(tasks.NewIMAPPollTask(a.poller, cfg.Mail.Schedule, cfg.Mail.CycleTimeout, log)); err != nil {
		return err
	}
	r := runner.NewRunner(registry, runner.WithLogger(log))
	if pollNowFlag {
		if err := r.RunOnce(ctx, tasks.IMAPPollTaskName); err != nil {
			log.Error("startup poll failed", zap.Error(err))
		}
	}
	err = r.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.status == nil {
		return errors.New("poll status needs redis.enabled")
	}

	queues, err := a.queues.ListMailQueues(ctx)
	if err != nil {
		return err
	}
	for _, q := range queues {
		st, ok, err := a.status.Get(ctx, q.ID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s\t%s\tnever polled\n", q.ID, q.Name)
			continue
		}
		line := fmt.Sprintf("%s\t%s\t%s\tfound=%d processed=%d failed=%d\t%s",
			q.ID, q.Name, st.Status, st.Found, st.Processed, st.Failed, st.FinishedAt.Format(time.RFC3339))
		if st.Error != "" {
			line += "\t" + st.ErrorKind + ": " + st.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := database.Migrate(ctx, db)
	if err != nil {
		return err
	}
	log.Info("schema applied", zap.Int("statements", n))
	return nil
}
