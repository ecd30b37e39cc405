package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mealzee-auth/internal/audit"
	"mealzee-auth/internal/bucketing"
	"mealzee-auth/internal/client"
	"mealzee-auth/internal/config"
	"mealzee-auth/internal/encryption"
	"mealzee-auth/internal/handler"
	"mealzee-auth/internal/hashing"
	"mealzee-auth/internal/jobs"
	"mealzee-auth/internal/provider"
	"mealzee-auth/internal/repository/memory"
	redisrepo "mealzee-auth/internal/repository/redis"
	"mealzee-auth/internal/service"
	"mealzee-auth/internal/tls"
	"mealzee-auth/internal/util"

	"github.com/go-chi/chi/v5"
)

const limiterIdleTTL = 15 * time.Minute

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *client.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	stores         service.Stores
	memoryClosers  []func()
	provider       provider.Provider
	publisher      *audit.Publisher
	serviceFactory *service.ServiceFactory
	limiter        *handler.IPRateLimiter
	scheduler      *jobs.Scheduler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration from the environment and builds every
// dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return NewFactoryWithConfig(cfg)
}

func NewFactoryWithConfig(cfg *config.Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.initializeStores(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	sinks, err := f.initializeSinks(ctx)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize audit sinks: %w", err)
	}
	f.publisher = audit.NewPublisher(sinks, f.encryptionManager, f.bucketingManager, cfg.Audit.BufferSize)

	f.provider = f.buildProvider()
	f.serviceFactory = service.NewServiceFactory(cfg, f.stores, f.provider, f.publisher)
	f.limiter = handler.NewIPRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.RequestBurst)

	if err := f.initializeJobs(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to schedule jobs: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.StoreBackend()),
		util.String("channel", cfg.OTP.Channel),
		util.String("provider", f.provider.Name()),
		util.Int("audit_sinks", len(sinks)),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeStores(ctx context.Context) error {
	if f.config.StoreBackend() == config.StoreBackendRedis {
		rc, err := client.NewRedisClient(f.config)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = rc
		if err := rc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		f.stores = service.Stores{
			OTP:      redisrepo.NewOTPStore(rc),
			Throttle: redisrepo.NewThrottleStore(rc),
			Lockout:  redisrepo.NewLockoutStore(rc),
		}
		util.Info("Redis stores initialized")
		return nil
	}

	capacity := f.config.Store.Capacity
	otpStore, err := memory.NewOTPStore(capacity)
	if err != nil {
		return fmt.Errorf("memory otp store: %w", err)
	}
	f.memoryClosers = append(f.memoryClosers, otpStore.Close)

	throttleStore, err := memory.NewThrottleStore(capacity)
	if err != nil {
		return fmt.Errorf("memory throttle store: %w", err)
	}
	f.memoryClosers = append(f.memoryClosers, throttleStore.Close)

	lockoutStore, err := memory.NewLockoutStore(capacity)
	if err != nil {
		return fmt.Errorf("memory lockout store: %w", err)
	}
	f.memoryClosers = append(f.memoryClosers, lockoutStore.Close)

	f.stores = service.Stores{OTP: otpStore, Throttle: throttleStore, Lockout: lockoutStore}
	util.Info("In-memory stores initialized", util.Int("capacity", capacity))
	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		c, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		kmsClient = c
	}
	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms", kmsClient != nil),
		util.Int("event_buckets", f.bucketingManager.EventBuckets()),
	)
	return nil
}

// initializeSinks connects every enabled audit backend. Outside production an
// unreachable backend is skipped with a warning.
func (f *Factory) initializeSinks(ctx context.Context) ([]audit.Sink, error) {
	var (
		sinks      []audit.Sink
		initErrors []error
	)

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			sinks = append(sinks, audit.NewKafkaSink(producer))
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := es.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = es
			sinks = append(sinks, audit.NewElasticsearchSink(es))
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			sink := audit.NewClickHouseSink(ch, f.config.Clickhouse.Table)
			if err := sink.EnsureSchema(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse schema: %w", err))
			} else {
				sinks = append(sinks, sink)
			}
		}
	}

	if f.config.Scylla.Enabled {
		if sc, err := client.NewScyllaClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = sc
			sink := audit.NewScyllaSink(sc)
			if err := sink.EnsureSchema(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla schema: %w", err))
			} else {
				sinks = append(sinks, sink)
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return nil, errors.Join(initErrors...)
		}
		for _, err := range initErrors {
			util.Warn("Audit sink unavailable, continuing without it", util.ErrorField(err))
		}
	}
	return sinks, nil
}

func (f *Factory) buildProvider() provider.Provider {
	otp := f.config.OTP
	switch otp.Channel {
	case config.ChannelLocal:
		var sender provider.Sender = provider.LogSender{}
		if f.config.WhatsApp.BaseURL != "" {
			sender = provider.NewWhatsAppSender(f.config.WhatsApp, f.config.Provider.Timeout)
		}
		return provider.NewLocal(f.hasher, sender, otp.CodeLength, otp.TTL, otp.Channel)
	default:
		return provider.NewMessageCentral(f.config.Provider, otp.CountryCode, otp.Channel)
	}
}

func (f *Factory) initializeJobs() error {
	f.scheduler = jobs.NewScheduler()

	counters := map[string]jobs.Counter{
		"otp":     f.stores.OTP,
		"lockout": f.stores.Lockout,
	}
	if err := f.scheduler.AddFunc("store_stats", time.Minute, jobs.StoreStats(f.config.StoreBackend(), counters)); err != nil {
		return err
	}

	if auditor, ok := f.stores.OTP.(jobs.OrphanAuditor); ok {
		if err := f.scheduler.AddFunc("otp_orphan_audit", 10*time.Minute, jobs.OrphanKeyAudit(auditor)); err != nil {
			return err
		}
	}

	limiter := f.limiter
	return f.scheduler.AddFunc("ip_limiter_cleanup", 10*time.Minute, func() {
		if n := limiter.Cleanup(limiterIdleTTL); n > 0 {
			util.Debug("Dropped idle IP limiters", util.Int("count", n))
		}
	})
}

// Start runs background jobs. Call once the server is about to listen.
func (f *Factory) Start() {
	f.scheduler.Start()
}

// Router builds the HTTP handler tree.
func (f *Factory) Router() chi.Router {
	otpHandler := handler.NewOTPHandler(f.serviceFactory.OTPService(), util.Get())
	return handler.NewRouter(otpHandler, handler.RouterConfig{
		RequireHTTPS:   f.config.Server.EnableTLS,
		AllowedOrigins: f.config.Server.AllowedOrigins,
		Limiter:        f.limiter,
		Health:         f.HealthCheck,
	}, util.Get())
}

// ==============================
// Health Checks
// ==============================

// HealthCheck returns the dependencies that are currently failing. Audit
// sinks are best effort and are not reported.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.config.StoreBackend() == config.StoreBackendRedis {
		if f.redisClient == nil {
			healthErrors["redis"] = fmt.Errorf("redis client not initialized")
		} else if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

// Close stops jobs, drains the audit publisher and closes every client.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if f.scheduler != nil {
			if err := f.scheduler.Stop(ctx); err != nil {
				util.Error("Failed to stop scheduler", util.ErrorField(err))
			}
		}

		if f.publisher != nil {
			if err := f.publisher.Close(ctx); err != nil {
				util.Error("Failed to drain audit publisher", util.ErrorField(err))
			} else {
				util.Info("Audit publisher drained")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		for _, closeStore := range f.memoryClosers {
			closeStore()
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) OTPService() *service.OTPService {
	return f.serviceFactory.OTPService()
}
