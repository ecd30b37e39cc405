package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// OTP delivery channels
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelLocal    = "local"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Store         StoreConfig
	Redis         RedisConfig
	OTP           OTPConfig
	Provider      ProviderConfig
	WhatsApp      WhatsAppConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Scylla        ScyllaConfig
	Audit         AuditConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	// Per-IP limiter for the OTP endpoints
	RequestsPerSecond float64
	RequestBurst      int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	// Backend is "memory" or "redis". Empty means: redis in production, memory otherwise.
	Backend  string
	Capacity int
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type OTPConfig struct {
	TTL              time.Duration
	MaxAttempts      int
	ResendCooldown   time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
	CodeLength       int
	Channel          string
	CountryCode      string
}

type ProviderConfig struct {
	BaseURL    string
	CustomerID string
	AuthToken  string
	Timeout    time.Duration
}

type WhatsAppConfig struct {
	BaseURL string
	Token   string
	Sender  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	EventBuckets int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
}

type ScyllaConfig struct {
	Enabled  bool
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type AuditConfig struct {
	BufferSize int
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env vars")
	}

	env := getEnv("APP_ENV", "development")

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:              getEnvInt("SERVER_PORT", 8080),
			TLSPort:           getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:         getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:          getEnvBool("SERVER_AUTO_CERT", false),
			Domain:            getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:          getEnv("SERVER_CERT_FILE", ""),
			KeyFile:           getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:       getEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:             getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins:    getEnvList("SERVER_ALLOWED_ORIGINS", []string{"https://*", "http://localhost:3000"}),
			RequestsPerSecond: getEnvFloat("SERVER_OTP_RPS", 5),
			RequestBurst:      getEnvInt("SERVER_OTP_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", defaultLogFormat(env)),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getEnv("STORE_BACKEND", "")),
			Capacity: getEnvInt("STORE_CAPACITY", 100000),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "mealzee:"),
		},
		OTP: OTPConfig{
			TTL:              getEnvDuration("OTP_TTL", 300*time.Second),
			MaxAttempts:      getEnvInt("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown:   getEnvDuration("OTP_RESEND_COOLDOWN", 30*time.Second),
			LockoutThreshold: getEnvInt("OTP_LOCKOUT_THRESHOLD", 5),
			LockoutWindow:    getEnvDuration("OTP_LOCKOUT_WINDOW", time.Hour),
			CodeLength:       getEnvInt("OTP_CODE_LENGTH", 6),
			Channel:          strings.ToLower(getEnv("OTP_CHANNEL", ChannelSMS)),
			CountryCode:      getEnv("OTP_COUNTRY_CODE", "91"),
		},
		Provider: ProviderConfig{
			BaseURL:    getEnv("MESSAGE_CENTRAL_BASE_URL", "https://cpaas.messagecentral.com"),
			CustomerID: getEnv("MESSAGE_CENTRAL_CUSTOMER_ID", ""),
			AuthToken:  getEnv("MESSAGE_CENTRAL_AUTH_TOKEN", ""),
			Timeout:    getEnvDuration("MESSAGE_CENTRAL_TIMEOUT", 10*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL: getEnv("WHATSAPP_BASE_URL", ""),
			Token:   getEnv("WHATSAPP_TOKEN", ""),
			Sender:  getEnv("WHATSAPP_SENDER", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_KB", 19*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 2),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 1),
			Pepper:            getEnv("OTP_PEPPER", ""),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "ap-south-1"),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "otp.security-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "otp-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "mealzee"),
			Table:    getEnv("CLICKHOUSE_TABLE", "otp_security_events"),
		},
		Scylla: ScyllaConfig{
			Enabled:  getEnvBool("SCYLLA_ENABLED", false),
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "mealzee_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Audit: AuditConfig{
			BufferSize: getEnvInt("AUDIT_BUFFER_SIZE", 1024),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded config, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// StoreBackend resolves the OTP store backend. Production always gets redis
// unless explicitly overridden.
func (c *Config) StoreBackend() string {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis:
		return c.Store.Backend
	}
	if c.IsProduction() {
		return StoreBackendRedis
	}
	return StoreBackendMemory
}

func (c *Config) Validate() error {
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTP.LockoutThreshold <= 0 {
		return fmt.Errorf("OTP_LOCKOUT_THRESHOLD must be positive")
	}
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 6 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 6")
	}
	switch c.OTP.Channel {
	case ChannelSMS, ChannelWhatsApp:
		if c.IsProduction() && (c.Provider.CustomerID == "" || c.Provider.AuthToken == "") {
			return fmt.Errorf("message central credentials are required for channel %q", c.OTP.Channel)
		}
	case ChannelLocal:
	default:
		return fmt.Errorf("unsupported OTP_CHANNEL %q", c.OTP.Channel)
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return fmt.Errorf("KMS_KEY_ID is required when KMS is enabled")
	}
	return nil
}

func defaultLogFormat(env string) string {
	if env == "production" {
		return "json"
	}
	return "console"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
