package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/approval"
	"github.com/loomhq/loom/internal/channels"
	slackchan "github.com/loomhq/loom/internal/channels/slack"
	"github.com/loomhq/loom/internal/channels/telegram"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/contacts"
	"github.com/loomhq/loom/internal/costguard"
	"github.com/loomhq/loom/internal/inbound"
	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/projects"
	"github.com/loomhq/loom/internal/prompt"
	"github.com/loomhq/loom/internal/queue"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/scheduler"
	"github.com/loomhq/loom/internal/secrets"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/sessions"
	"github.com/loomhq/loom/internal/store/sqlite"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/internal/webhook"
	"github.com/loomhq/loom/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime server",
		Long: `Start the runtime: the REST and WebSocket API, the channel webhook
pipeline, and the task scheduler.

Without DATABASE_URL all state is held in memory; without REDIS_URL the
queues run in-process. Both are fine for development, neither survives a
restart. Shutdown drains in-flight work on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr,
					&slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// stores collects one implementation per persistence interface, backed by
// SQLite when DATABASE_URL is set and by process memory otherwise.
type stores struct {
	projects     projects.Store
	layers       prompt.LayerStore
	sessions     sessions.Store
	traces       trace.Store
	tasks        scheduler.TaskStore
	runs         scheduler.RunStore
	approvals    approval.Store
	usage        costguard.Store
	contacts     contacts.Store
	integrations channels.IntegrationStore
	secrets      secrets.Store
	memory       memory.Store

	close func() error
}

func openStores(env *config.Env, logger *slog.Logger) (*stores, error) {
	if env.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, state is in-memory only")
		return &stores{
			projects:     projects.NewMemoryStore(),
			layers:       prompt.NewMemoryLayerStore(),
			sessions:     sessions.NewMemoryStore(),
			traces:       trace.NewMemoryStore(),
			tasks:        scheduler.NewMemoryTaskStore(),
			runs:         scheduler.NewMemoryRunStore(),
			approvals:    approval.NewMemoryStore(),
			usage:        costguard.NewMemoryStore(),
			contacts:     contacts.NewMemoryStore(),
			integrations: channels.NewMemoryIntegrationStore(),
			secrets:      secrets.NewMemoryStore(),
			memory:       memory.NewMemoryStore(),
			close:        func() error { return nil },
		}, nil
	}

	db, err := sqlite.Open(env.DatabaseURL)
	if err != nil {
		return nil, err
	}
	s := sqlite.NewStores(db)
	logger.Info("sqlite storage ready", "path", env.DatabaseURL)
	return &stores{
		projects:     s.Projects,
		layers:       s.Layers,
		sessions:     s.Sessions,
		traces:       s.Traces,
		tasks:        s.Tasks,
		runs:         s.Runs,
		approvals:    s.Approvals,
		usage:        s.Usage,
		contacts:     s.Contacts,
		integrations: s.Integrations,
		secrets:      s.Secrets,
		memory:       s.Memory,
		close:        db.Close,
	}, nil
}

func openBroker(env *config.Env, logger *slog.Logger) (queue.Queue, error) {
	if env.RedisURL == "" {
		logger.Warn("REDIS_URL not set, queues run in-process")
		return queue.NewMemory(), nil
	}
	opts, err := redis.ParseURL(env.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis broker ready", "addr", opts.Addr)
	return queue.NewRedis(client, queue.RedisConfig{}), nil
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	env := config.LoadEnv()

	st, err := openStores(env, logger)
	if err != nil {
		return err
	}
	defer st.close()

	broker, err := openBroker(env, logger)
	if err != nil {
		return err
	}

	mets := metrics.New(nil)

	// Approval gate and tool registry.
	gate := approval.NewGate(st.approvals, approval.Config{Logger: logger})
	registry := tools.NewRegistry()
	registry.SetApprovalGate(gate)

	guard := costguard.New(st.usage, costguard.Config{Logger: logger})
	builder := prompt.NewBuilder(st.layers, registry)

	// Long-term memory shares one store; the embedder is optional.
	var embedder memory.Embedder
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		embedder, err = memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{APIKey: key})
		if err != nil {
			return err
		}
	}
	memFactory := func(cfg models.MemoryConfig) *memory.Manager {
		return memory.NewManager(cfg, st.memory, embedder, logger)
	}

	// The remember tool writes through a manager with long-term memory
	// always on; per-project retrieval settings still govern reads.
	rememberMgr := memFactory(models.MemoryConfig{
		LongTerm: models.LongTermMemoryConfig{Enabled: true},
	})
	registerBuiltinTools(registry, func(ctx context.Context, projectID string, in memory.StoreInput) error {
		_, err := rememberMgr.StoreMemory(ctx, projectID, in)
		return err
	})

	host := runner.NewHost(runner.HostConfig{
		Projects: st.projects,
		Sessions: st.sessions,
		Prompts:  builder,
		Registry: registry,
		Guard:    guard,
		Traces:   st.traces,
		Memory:   memFactory,
		Metrics:  mets,
		Logger:   logger,
	})

	// Channel integrations need the secret service for their tokens.
	var secretService *secrets.Service
	if key, keyErr := secrets.KeyFromEnv(); keyErr == nil {
		secretService, err = secrets.NewService(key, st.secrets, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("secret service disabled", "reason", keyErr)
	}
	resolver := channels.NewResolver(st.integrations, secretService, logger)
	if secretService != nil {
		resolver.Register(telegram.Provider, telegram.Builder)
		resolver.Register(slackchan.Provider, slackchan.Builder)
	}

	// Webhook pipeline.
	webhookService := webhook.NewService(broker, logger)
	inboundProc := inbound.NewProcessor(st.contacts, host, resolver, logger)
	webhookProc := webhook.NewProcessor(resolver, inboundProc, logger)
	webhookProc.Metrics = mets
	webhookWorker := webhookProc.NewWorker(broker, 5)
	webhookWorker.Start(ctx)
	defer webhookWorker.Stop()

	// Scheduler.
	taskRunner := scheduler.NewRunner(st.tasks, st.runs, broker,
		scheduler.NewChatExecutor(host), scheduler.RunnerConfig{Metrics: mets, Logger: logger})
	taskRunner.Start(ctx)
	defer taskRunner.Stop()

	go runJanitors(ctx, gate, st.memory, broker, mets, logger)

	if err := loadProjects(ctx, env, st.projects, logger); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Projects:   st.projects,
		Sessions:   st.sessions,
		Contacts:   st.contacts,
		Approvals:  gate,
		Usage:      st.usage,
		Traces:     st.traces,
		Layers:     st.layers,
		Host:       host,
		Webhooks:   webhookService,
		Metrics:    mets,
		CORSOrigin: env.CORSOrigin,
		Logger:     logger,
	})
	addr := fmt.Sprintf("%s:%d", env.Host, env.Port)
	err = srv.Start(ctx, addr)
	logger.Info("shutdown complete")
	return err
}

// loadProjects upserts the JSON project configs found in PROJECTS_DIR.
func loadProjects(ctx context.Context, env *config.Env, store projects.Store, logger *slog.Logger) error {
	loaded, err := config.LoadProjectsDir(ctx, env.ProjectsDir)
	if err != nil {
		return err
	}
	for _, p := range loaded {
		existing, err := store.Get(ctx, p.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			err = store.Create(ctx, p)
		} else {
			err = store.Update(ctx, p)
		}
		if err != nil {
			return err
		}
		logger.Info("project loaded", "project_id", p.ID, "name", p.Name)
	}
	return nil
}

// runJanitors handles the periodic chores: approval pruning, memory expiry,
// and queue depth gauges.
func runJanitors(ctx context.Context, gate *approval.Gate, mem memory.Store,
	broker queue.Queue, mets *metrics.Metrics, logger *slog.Logger) {
	prune := time.NewTicker(time.Hour)
	gauge := time.NewTicker(15 * time.Second)
	defer prune.Stop()
	defer gauge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if n, err := gate.Prune(ctx, 24*time.Hour); err != nil {
				logger.Warn("approval prune failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned stale approvals", "count", n)
			}
			if n, err := mem.DeleteExpired(ctx, time.Now()); err != nil {
				logger.Warn("memory expiry failed", "error", err)
			} else if n > 0 {
				logger.Info("expired memory entries removed", "count", n)
			}
		case <-gauge.C:
			for _, q := range []string{webhook.QueueName, scheduler.TaskQueue} {
				depth, err := broker.Depth(ctx, q)
				if err != nil {
					continue
				}
				mets.QueueDepth.WithLabelValues(q).Set(float64(depth))
			}
		}
	}
}
