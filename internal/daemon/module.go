package daemon

import (
	"context"

	"github.com/mdliss/messageai/internal/ai"
	"github.com/mdliss/messageai/internal/api"
	"github.com/mdliss/messageai/internal/bus"
	"github.com/mdliss/messageai/internal/config"
	"github.com/mdliss/messageai/internal/connectivity"
	"github.com/mdliss/messageai/internal/lock"
	"github.com/mdliss/messageai/internal/logging"
	"github.com/mdliss/messageai/internal/push"
	"github.com/mdliss/messageai/internal/remote"
	"github.com/mdliss/messageai/internal/session"
	"github.com/mdliss/messageai/internal/status"
	"github.com/mdliss/messageai/internal/store"
	intsync "github.com/mdliss/messageai/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	// Store is the remote document store backend. Left nil, an in-memory
	// store is used; real deployments inject their backend here.
	Store remote.DocumentStore
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideStatusPublisher,
			provideMonitor,
			provideDocumentStore,
			provideAdapter,
			provideEngine,
			provideIngestor,
			provideAIClient,
			provideNotifier,
			provideMessageService,
			provideConversationService,
			provideAssistService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing or malformed file; run on defaults.
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStatusPublisher(b *bus.Bus) *status.Publisher {
	return status.NewPublisher(b)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	prober := &connectivity.DialProber{
		Addr:    cfg.Connectivity.ProbeAddr,
		Timeout: cfg.Connectivity.ProbeTimeout.Duration,
	}
	return connectivity.NewMonitor(prober, b, cfg.Connectivity.ProbeInterval.Duration, logger)
}

func provideDocumentStore(p Params, logger *zap.Logger) remote.DocumentStore {
	if p.Store != nil {
		return p.Store
	}
	logger.Warn("no remote backend configured, using in-memory store")
	return remote.NewMemoryStore()
}

func provideAdapter(cfg *config.Config, ds remote.DocumentStore, logger *zap.Logger) *remote.Adapter {
	return remote.NewAdapter(ds, cfg.Remote.DeleteChunkSize, logger)
}

func provideEngine(db *store.DB, adapter *remote.Adapter, monitor *connectivity.Monitor,
	st *status.Publisher, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, adapter, monitor, st, b, cfg.Sync, logger)
}

func provideIngestor(db *store.DB, adapter *remote.Adapter, b *bus.Bus,
	cfg *config.Config, logger *zap.Logger) *intsync.Ingestor {
	return intsync.NewIngestor(db, adapter, b, cfg.Sync, logger)
}

func provideAIClient(cfg *config.Config, logger *zap.Logger) *ai.Client {
	return ai.NewClient(cfg.AI, logger)
}

func provideNotifier(cfg *config.Config, logger *zap.Logger) *push.Notifier {
	return push.NewNotifier(cfg.Push, logger)
}

func provideMessageService(db *store.DB, b *bus.Bus, engine *intsync.Engine,
	adapter *remote.Adapter, notifier *push.Notifier, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(db, b, engine, adapter, notifier, logger)
}

func provideConversationService(db *store.DB, ingestor *intsync.Ingestor) *api.ConversationService {
	return api.NewConversationService(db, ingestor)
}

func provideAssistService(db *store.DB, client *ai.Client, cfg *config.Config) *api.AssistService {
	return api.NewAssistService(db, client, cfg.AI.WindowCap)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, monitor *connectivity.Monitor,
	engine *intsync.Engine, ingestor *intsync.Ingestor, db *store.DB, logger *zap.Logger,
	_ *api.MessageService, _ *api.ConversationService, _ *api.AssistService) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine subscribes to net.* edges before the monitor's
			// first probe so the initial transition is never missed.
			engine.Start(context.Background())
			ingestor.Start(context.Background())
			monitor.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			monitor.Stop()
			ingestor.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("releasing session lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
