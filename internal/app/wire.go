package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/instabets/marketd/internal/blob/s3"
	"github.com/instabets/marketd/internal/cache/redis"
	"github.com/instabets/marketd/internal/config"
	"github.com/instabets/marketd/internal/crypto"
	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/ledger"
	"github.com/instabets/marketd/internal/notify"
	"github.com/instabets/marketd/internal/platform/compute"
	"github.com/instabets/marketd/internal/platform/machinefi"
	"github.com/instabets/marketd/internal/resolver"
	"github.com/instabets/marketd/internal/service"
	"github.com/instabets/marketd/internal/storage"
	"github.com/instabets/marketd/internal/store/postgres"
	"github.com/instabets/marketd/internal/tracker"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger      *ledger.Gateway
	Content     *storage.Client
	Resolver    *resolver.Resolver
	Tracker     *tracker.Tracker
	Markets     *service.MarketService
	Resolutions domain.ResolutionStore
	SignalBus   domain.SignalBus
	Notifier    *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain ---
	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: dial chain rpc: %w", err)
	}
	closers = append(closers, ethClient.Close)

	operatorKey, err := crypto.LoadECDSA(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	}
	sender := ledger.NewTxSender(ethClient, operatorKey, cfg.Chain.ChainID)

	gateway, err := ledger.NewGateway(ethClient, cfg.Chain.ContractAddress, sender)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: gateway: %w", err)
	}
	deps.Ledger = gateway

	// --- Content storage ---
	flow, err := storage.NewFlow(ethClient, sender, cfg.Storage.FlowContract)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: flow contract: %w", err)
	}
	var selector storage.NodeSelector
	if len(cfg.Storage.NodeURLs) > 0 {
		selector = storage.FixedNodes(storage.StaticNodes(cfg.Storage.NodeURLs))
	} else {
		selector = storage.NewIndexer(cfg.Storage.IndexerURL)
	}
	deps.Content = storage.NewClient(selector, flow, logger,
		storage.WithPolling(cfg.Storage.PollAttempts, cfg.Storage.PollInterval.Duration),
	)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	jobStore := redis.NewJobStore(redisClient)
	marketCache := redis.NewMarketCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Resolutions = postgres.NewResolutionStore(pgClient.Pool())

	// --- S3 evidence archive (optional) ---
	var archive domain.BlobWriter
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		archive = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Resolution pipeline ---
	oracle := compute.NewClient(cfg.Compute.BaseURL, cfg.Compute.APIKey, cfg.Compute.Model)
	resolverOpts := []resolver.Option{
		resolver.WithThreshold(cfg.Resolver.ConfidenceThreshold),
		resolver.WithGatedPersistence(cfg.Resolver.PersistGated),
		resolver.WithAuditLog(deps.Resolutions),
	}
	if archive != nil {
		resolverOpts = append(resolverOpts, resolver.WithArchive(archive))
	}
	deps.Resolver = resolver.New(oracle, gateway, deps.Content, logger, resolverOpts...)

	// --- Settlement tracker ---
	monitor := machinefi.NewClient(cfg.Monitor.BaseURL, cfg.Monitor.APIKey)
	deps.Tracker = tracker.New(jobStore, gateway, monitor, logger,
		tracker.WithSweepInterval(cfg.Tracker.SweepInterval.Duration),
		tracker.WithNotifier(deps.Notifier),
		tracker.WithAuditLog(deps.Resolutions),
	)

	// --- Market service ---
	svcOpts := []service.Option{
		service.WithCache(marketCache),
		service.WithBus(deps.SignalBus),
		service.WithTracker(deps.Tracker, webhookURL(cfg.Monitor.WebhookBaseURL)),
		service.WithResolver(deps.Resolver),
		service.WithAuditLog(deps.Resolutions),
	}
	npc, err := wireNPCBettor(cfg, ethClient, gateway, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if npc != nil {
		svcOpts = append(svcOpts, service.WithNPCBettor(npc))
	}
	deps.Markets = service.NewMarketService(gateway, deps.Content, logger, svcOpts...)

	return deps, cleanup, nil
}

// wireNPCBettor builds the counterparty bettor pair when both identities are
// configured. Returns nil when the feature is off.
func wireNPCBettor(cfg *config.Config, ethClient *ethclient.Client, gateway *ledger.Gateway, logger *slog.Logger) (*service.NPCBettor, error) {
	if cfg.NPC.Bettor1Key == "" || cfg.NPC.Bettor2Key == "" {
		return nil, nil
	}

	amount, ok := new(big.Int).SetString(cfg.NPC.BetAmountWei, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("wire: npc bet_amount_wei %q is not a positive integer", cfg.NPC.BetAmountWei)
	}

	key1, err := crypto.LoadECDSA(crypto.KeyConfig{RawPrivateKey: cfg.NPC.Bettor1Key})
	if err != nil {
		return nil, fmt.Errorf("wire: npc bettor1 key: %w", err)
	}
	key2, err := crypto.LoadECDSA(crypto.KeyConfig{RawPrivateKey: cfg.NPC.Bettor2Key})
	if err != nil {
		return nil, fmt.Errorf("wire: npc bettor2 key: %w", err)
	}

	yes := gateway.WithSender(ledger.NewTxSender(ethClient, key1, cfg.Chain.ChainID))
	no := gateway.WithSender(ledger.NewTxSender(ethClient, key2, cfg.Chain.ChainID))
	return service.NewNPCBettor(yes, no, amount, logger), nil
}

// webhookURL appends the monitor callback path to the configured public base
// URL.
func webhookURL(base string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/webhook/machinefi"
}
