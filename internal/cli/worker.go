package cli

import (
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sebbASF/tooling-trusted-releases/internal/audit"
	"github.com/sebbASF/tooling-trusted-releases/internal/checks"
	"github.com/sebbASF/tooling-trusted-releases/internal/config"
	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
	"github.com/sebbASF/tooling-trusted-releases/internal/vote"
)

// auditLogName is the audit sink file under the audit/ directory.
const auditLogName = "storage-audit.log"

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run task executor workers",
	Long: `worker claims and executes queued tasks until each worker has
processed its per-run task budget, then exits so a supervisor can restart
it with a fresh process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := storage.Open(ctx, c.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		cs, err := content.NewStore(c.StateDir)
		if err != nil {
			return err
		}
		if err := cs.EnsureLayout(ctx); err != nil {
			return err
		}

		slogger := serviceLogger()
		auditLog := audit.New(audit.Options{
			Path:       filepath.Join(cs.AuditDir(), auditLogName),
			MaxSizeMB:  c.Audit.MaxSizeMB,
			MaxBackups: c.Audit.MaxBackups,
			QueueDepth: c.Audit.QueueDepth,
		}, slogger)
		defer auditLog.Close()

		registry := tasks.NewRegistry()
		registerCheckers(registry, store, cs, c)
		registerMail(registry, store, c)

		opts := tasks.Options{
			TasksPerRun:     c.Worker.TasksPerRun,
			PollInterval:    c.Worker.PollInterval,
			MaxLoopFailures: c.Worker.MaxLoopFailures,
		}

		logger.Info("workers starting", "count", workerCount, "tasks_per_run", opts.TasksPerRun)
		g, ctx := errgroup.WithContext(ctx)
		for i := range workerCount {
			worker := tasks.NewWorker(store, registry, opts, slogger.With("worker", strconv.Itoa(i)))
			g.Go(func() error { return worker.Run(ctx) })
		}
		return g.Wait()
	},
}

// registerCheckers binds the built-in structural checkers. Domain checkers
// (signature, license, archive structure, SBOM) are deployment plugins and
// register through their own task types.
func registerCheckers(registry *tasks.Registry, store *storage.Store, cs *content.Store, c *config.Config) {
	orch := checks.NewOrchestrator(store, cs, checks.Config{
		DisableCache: c.Checks.DisableCache,
	}, serviceLogger())

	registry.Register(tasks.TypeHashingCheck, orch.HandlerFor(checks.HashingChecker{}))
	registry.Register(tasks.TypePathsCheck, orch.HandlerFor(checks.PathsChecker{
		Store:   store,
		Content: cs,
	}))
}

// registerMail binds the outbound email handlers to the configured relay.
func registerMail(registry *tasks.Registry, store *storage.Store, c *config.Config) {
	sender := ports.NewSMTPSender(c.SMTPHost)
	registry.Register(tasks.TypeMessageSend, vote.SendHandler(sender))
	registry.Register(tasks.TypeVoteInitiate, vote.InitiateHandler(store, sender))
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 1, "number of concurrent workers")
	rootCmd.AddCommand(workerCmd)
}
