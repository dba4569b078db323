package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-chat-gateway/config"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/repositories/postgres"
	"github.com/upb/llm-chat-gateway/services/chat"
	"github.com/upb/llm-chat-gateway/services/configsource/appconfig"
	"github.com/upb/llm-chat-gateway/services/configsource/configmap"
	"github.com/upb/llm-chat-gateway/services/configsource/filesource"
	"github.com/upb/llm-chat-gateway/services/configsource/objectstore"
	"github.com/upb/llm-chat-gateway/services/credentials"
	"github.com/upb/llm-chat-gateway/services/journal"
	"github.com/upb/llm-chat-gateway/services/providers"
	"github.com/upb/llm-chat-gateway/services/providers/openai"
	"github.com/upb/llm-chat-gateway/services/secrets"
	"go.uber.org/zap"
)

const (
	journalStopTimeout = 5 * time.Second
	pruneInterval      = time.Hour
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB

	// Configuration pipeline
	Tokens    credentials.TokenProvider
	Source    runtimeconfig.Source
	Resolver  runtimeconfig.SecretResolver
	Snapshots *runtimeconfig.SnapshotStore
	Refresher *runtimeconfig.Refresher

	// Chat
	Providers *providers.Registry
	Chat      *chat.Service

	// Journal is nil unless a database is configured.
	Journal *journal.Service

	stopPrune context.CancelFunc
	pruneDone sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies.
// Nothing runs until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initTokens(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}

	if err := deps.initSource(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize config source: %w", err)
	}

	deps.initResolver(cfg)

	if err := deps.initJournal(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize refresh journal: %w", err)
	}

	if err := deps.initPipeline(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize config pipeline: %w", err)
	}

	deps.Chat = chat.NewService(deps.Snapshots, deps.Providers, chat.Config{
		ProviderTimeout: cfg.Provider.Timeout,
		MaxHistory:      cfg.Chat.MaxHistory,
	}, logger)

	logger.Info("all dependencies initialized successfully",
		zap.String("config_store", cfg.ConfigStore.Kind),
		zap.Strings("providers", deps.Providers.ListProviders()),
		zap.Bool("journal", deps.Journal != nil))
	return deps, nil
}

// initProviders registers the chat adapters
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	azure := openai.NewAzureAdapter(providers.ProviderConfig{
		APIVersion: cfg.Provider.AzureAPIVersion,
		Timeout:    cfg.Provider.Timeout,
	})
	if err := registry.RegisterProvider(azure); err != nil {
		return err
	}

	compatible := openai.NewOpenAIAdapter(providers.ProviderConfig{
		BaseURL: cfg.Provider.OpenAIBaseURL,
		Timeout: cfg.Provider.Timeout,
		OrgID:   cfg.Provider.OpenAIOrgID,
	})
	if err := registry.RegisterProvider(compatible); err != nil {
		return err
	}

	d.Providers = registry
	return nil
}

// initTokens builds the Azure credential when App Configuration or Key Vault is in use
func (d *Dependencies) initTokens(cfg *config.Config) error {
	if !cfg.NeedsAzureCredential() {
		return nil
	}

	cred, _, err := credentials.New(credentials.Config{
		TenantID:      cfg.Identity.TenantID,
		ClientID:      cfg.Identity.ClientID,
		ClientSecret:  cfg.Identity.ClientSecret,
		AuthorityHost: cfg.Identity.AuthorityHost,
		StaticToken:   cfg.Identity.StaticToken,
		Timeout:       cfg.Identity.Timeout,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.Tokens = cred
	return nil
}

// initSource builds the configuration backend named by CONFIG_STORE_KIND
func (d *Dependencies) initSource(ctx context.Context, cfg *config.Config) error {
	store := cfg.ConfigStore
	var (
		source runtimeconfig.Source
		err    error
	)

	switch store.Kind {
	case config.StoreKindAppConfig:
		source, err = appconfig.New(appconfig.Config{
			Endpoint: store.Endpoint,
			Label:    store.Label,
			Timeout:  store.FetchTimeout,
		}, d.Tokens, d.Logger)
	case config.StoreKindS3:
		source, err = objectstore.New(ctx, objectstore.Config{
			Bucket:   store.Bucket,
			Prefix:   store.Prefix,
			Region:   store.Region,
			Endpoint: store.S3Endpoint,
			Label:    store.Label,
		}, d.Logger)
	case config.StoreKindConfigMap:
		kubeconfig := store.Kubeconfig
		if kubeconfig == "" {
			kubeconfig = configmap.ResolveKubeconfigPath()
		}
		client, loadErr := configmap.LoadClientset(kubeconfig, store.KubeContext)
		if loadErr != nil {
			return loadErr
		}
		source, err = configmap.New(client, configmap.Config{
			Namespace: store.Namespace,
			Name:      store.Name,
			Label:     store.Label,
		}, d.Logger)
	case config.StoreKindFile:
		source, err = filesource.New(store.Path, d.Logger)
	default:
		return fmt.Errorf("unsupported config store kind %q", store.Kind)
	}
	if err != nil {
		return err
	}

	d.Source = source
	return nil
}

// initResolver selects Key Vault or a resolver that rejects every reference
func (d *Dependencies) initResolver(cfg *config.Config) {
	if !cfg.Vault.Enabled {
		d.Resolver = secrets.DisabledResolver{}
		d.Logger.Info("key vault resolution disabled")
		return
	}

	d.Resolver = secrets.NewKeyVaultResolver(d.Tokens, secrets.KeyVaultConfig{
		Timeout:         cfg.Vault.Timeout,
		CacheTTL:        cfg.Vault.CacheTTL,
		CacheMaxEntries: cfg.Vault.CacheMaxEntries,
	}, d.Logger)
}

// initJournal connects to PostgreSQL when configured and creates the journal
func (d *Dependencies) initJournal(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("database not configured, refresh journal disabled")
		return nil
	}

	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.HealthCheck(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return err
		}
	}

	d.DB = db
	d.Journal = journal.NewService(postgres.NewRefreshEventRepository(db, d.Logger), d.Logger, journal.DefaultConfig())

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initPipeline builds the store, the optional bootstrap snapshot and the refresher
func (d *Dependencies) initPipeline(ctx context.Context, cfg *config.Config) error {
	builder := runtimeconfig.NewBuilder(runtimeconfig.StaticCatalog(providerIDs(d.Providers.ListProviders())))
	refreshCfg := refresherConfig(cfg)

	var storeOpts []runtimeconfig.StoreOption
	if cfg.ConfigStore.BootstrapFile != "" {
		snap, err := d.loadBootstrap(ctx, cfg.ConfigStore.BootstrapFile, builder, refreshCfg)
		if err != nil {
			return fmt.Errorf("failed to load bootstrap configuration: %w", err)
		}
		storeOpts = append(storeOpts, runtimeconfig.WithBootstrap(snap))
		d.Logger.Info("bootstrap configuration loaded",
			zap.String("path", cfg.ConfigStore.BootstrapFile),
			zap.Object("config", snap.Config()))
	}
	d.Snapshots = runtimeconfig.NewSnapshotStore(storeOpts...)

	var opts []runtimeconfig.Option
	if d.Journal != nil {
		opts = append(opts, runtimeconfig.WithRecorder(d.Journal))
	}

	refresher, err := runtimeconfig.NewRefresher(d.Source, d.Resolver, builder, d.Snapshots, d.Logger, refreshCfg, opts...)
	if err != nil {
		return err
	}
	d.Refresher = refresher
	return nil
}

// loadBootstrap runs one cycle against the bootstrap file through the same
// builder and resolver, then re-stamps the result as version 0.
func (d *Dependencies) loadBootstrap(ctx context.Context, path string, builder *runtimeconfig.Builder, cfg runtimeconfig.RefresherConfig) (*runtimeconfig.Snapshot, error) {
	source, err := filesource.New(path, d.Logger)
	if err != nil {
		return nil, err
	}

	scratch := runtimeconfig.NewSnapshotStore()
	once, err := runtimeconfig.NewRefresher(source, d.Resolver, builder, scratch, d.Logger.Named("bootstrap"), cfg)
	if err != nil {
		return nil, err
	}

	snap, err := once.Trigger(ctx)
	if err != nil {
		return nil, err
	}

	etags := make(map[string]string, len(runtimeconfig.RequiredKeys))
	for _, key := range runtimeconfig.RequiredKeys {
		etags[key] = snap.ETag(key)
	}
	return runtimeconfig.NewSnapshot(snap.Config(), 0, etags), nil
}

// Start starts the journal writers and the refresher. The first refresh
// cycle runs before Start returns; its failure is not fatal.
func (d *Dependencies) Start(ctx context.Context) error {
	if d.Journal != nil {
		if err := d.Journal.Start(); err != nil {
			return fmt.Errorf("failed to start refresh journal: %w", err)
		}
		d.startPruning(ctx)
	}

	if err := d.Refresher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start refresher: %w", err)
	}
	return nil
}

// RefreshOnce runs a single manual cycle without scheduling further ones.
// It is used by the one-shot CLI commands.
func (d *Dependencies) RefreshOnce(ctx context.Context) (*runtimeconfig.Snapshot, error) {
	if d.Journal != nil && !d.Journal.GetStats().Running {
		if err := d.Journal.Start(); err != nil {
			return nil, fmt.Errorf("failed to start refresh journal: %w", err)
		}
	}
	return d.Refresher.Trigger(ctx)
}

// startPruning removes journal entries older than the retention window every hour
func (d *Dependencies) startPruning(ctx context.Context) {
	retention := d.Config.Refresh.JournalRetention
	if retention <= 0 {
		return
	}

	pruneCtx, cancel := context.WithCancel(ctx)
	d.stopPrune = cancel
	d.pruneDone.Add(1)

	go func() {
		defer d.pruneDone.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			if removed, err := d.Journal.Prune(pruneCtx, retention); err != nil {
				d.Logger.Warn("failed to prune refresh journal", zap.Error(err))
			} else if removed > 0 {
				d.Logger.Info("pruned refresh journal", zap.Int64("removed", removed))
			}

			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Close stops the refresher, drains the journal and closes the database
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Refresher != nil {
		if err := d.Refresher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if d.stopPrune != nil {
		d.stopPrune()
		d.pruneDone.Wait()
	}

	if d.Journal != nil && d.Journal.GetStats().Running {
		if err := d.Journal.Stop(journalStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop refresh journal: %w", err))
		}
	}

	if err := d.closeDatabase(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeDatabase() error {
	if d.DB == nil {
		return nil
	}
	if err := d.DB.Close(); err != nil {
		return err
	}
	d.DB = nil
	d.Logger.Info("database connection closed")
	return nil
}

func refresherConfig(cfg *config.Config) runtimeconfig.RefresherConfig {
	rc := runtimeconfig.DefaultRefresherConfig()
	rc.Interval = cfg.Refresh.Interval
	if cfg.Refresh.CycleTimeout > 0 {
		rc.CycleTimeout = cfg.Refresh.CycleTimeout
	}
	if cfg.ConfigStore.FetchTimeout > 0 {
		rc.FetchTimeout = cfg.ConfigStore.FetchTimeout
	}
	if cfg.Refresh.ResolveTimeout > 0 {
		rc.ResolveTimeout = cfg.Refresh.ResolveTimeout
	}
	rc.SecretReuseTTL = cfg.Refresh.SecretReuseTTL
	rc.MaxConsecutiveFailures = cfg.Refresh.MaxConsecutiveFailures
	return rc
}

func providerIDs(names []string) []runtimeconfig.ProviderID {
	ids := make([]runtimeconfig.ProviderID, 0, len(names))
	for _, name := range names {
		ids = append(ids, runtimeconfig.ProviderID(name))
	}
	return ids
}
