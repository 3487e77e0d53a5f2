package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrConfig marks configuration problems that must stop the process before it serves requests.
var ErrConfig = errors.New("invalid configuration")

type Config struct {
	App        AppConfig        `toml:"app"`
	Auth       AuthConfig       `toml:"auth"`
	LLM        LLMConfig        `toml:"llm"`
	Store      StoreConfig      `toml:"store"`
	MySQL      MySQLConfig      `toml:"mysql"`
	Registry   RegistryConfig   `toml:"registry"`
	Redis      RedisConfig      `toml:"redis"`
	RabbitMQ   RabbitMQConfig   `toml:"rabbitmq"`
	Ingest     IngestConfig     `toml:"ingest"`
	Index      IndexConfig      `toml:"index"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Evaluation EvaluationConfig `toml:"evaluation"`
}

type AppConfig struct {
	Name                 string   `toml:"name"`
	Env                  string   `toml:"env"`
	Host                 string   `toml:"host"`
	Port                 int      `toml:"port"`
	GinMode              string   `toml:"gin_mode"`
	WebRoot              string   `toml:"web_root"`
	CORSOrigins          []string `toml:"cors_origins"`
	QueryTimeoutSeconds  int      `toml:"query_timeout_seconds"`
	IngestTimeoutSeconds int      `toml:"ingest_timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret"`
	JWTExpireMinute int    `toml:"jwt_expire_minute"`
}

type LLMConfig struct {
	BaseURL               string  `toml:"base_url"`
	APIKey                string  `toml:"api_key"`
	Model                 string  `toml:"model"`
	EmbeddingModel        string  `toml:"embedding_model"`
	Temperature           float64 `toml:"temperature"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	MaxRetries            int     `toml:"max_retries"`
}

type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type MySQLConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DB       string `toml:"db"`
	Params   string `toml:"params"`
}

type RegistryConfig struct {
	Backend string `toml:"backend"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

type RabbitMQConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type IngestConfig struct {
	MaxUploadMB         int `toml:"max_upload_mb"`
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`
	MaxFetchMB          int `toml:"max_fetch_mb"`
}

type IndexConfig struct {
	ChunkSize          int `toml:"chunk_size"`
	ChunkOverlap       int `toml:"chunk_overlap"`
	EmbeddingBatchSize int `toml:"embedding_batch_size"`
}

type RetrievalConfig struct {
	Mode           string `toml:"mode"`
	SimilarityTopK int    `toml:"similarity_top_k"`
	FusionTopK     int    `toml:"fusion_top_k"`
	NumExpansions  int    `toml:"num_expansions"`
	RRFK           int    `toml:"rrf_k"`
}

type EvaluationConfig struct {
	Enabled          bool    `toml:"enabled"`
	PassingThreshold float64 `toml:"passing_threshold"`
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	return cfg, nil
}

// Validate reports every startup-fatal problem wrapped in ErrConfig.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		problems = append(problems, "OPENAI_API_KEY is not set")
	}
	if c.LLM.Model == "" || c.LLM.EmbeddingModel == "" {
		problems = append(problems, "llm model and embedding model are required")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for sqlite")
		}
	case "mysql":
	default:
		problems = append(problems, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.Driver == "sqlite" && strings.TrimSpace(c.RabbitMQ.URL) != "" {
		problems = append(problems, "rabbitmq.url needs a store shared by every replica (store.driver=mysql), sqlite files are per process")
	}
	switch c.Registry.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown registry.backend %q", c.Registry.Backend))
	}
	switch c.Retrieval.Mode {
	case "simple", "fusion":
	default:
		problems = append(problems, fmt.Sprintf("unknown retrieval.mode %q", c.Retrieval.Mode))
	}
	if c.Evaluation.PassingThreshold < 0 || c.Evaluation.PassingThreshold > 1 {
		problems = append(problems, "evaluation.passing_threshold must be within [0,1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.DB,
		c.MySQL.Params,
	)
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.App.QueryTimeoutSeconds) * time.Second
}

func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.App.IngestTimeoutSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:                 "docqa",
			Env:                  "dev",
			Host:                 "0.0.0.0",
			Port:                 5000,
			GinMode:              "debug",
			WebRoot:              "web",
			CORSOrigins:          []string{"*"},
			QueryTimeoutSeconds:  120,
			IngestTimeoutSeconds: 300,
		},
		Auth: AuthConfig{
			JWTExpireMinute: 720,
		},
		LLM: LLMConfig{
			BaseURL:               "https://api.openai.com/v1",
			Model:                 "gpt-4o-mini",
			EmbeddingModel:        "text-embedding-3-small",
			RequestTimeoutSeconds: 60,
			MaxRetries:            2,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "./docqa_data/docqa.db",
		},
		MySQL: MySQLConfig{
			Host:   "127.0.0.1",
			Port:   3306,
			User:   "root",
			DB:     "docqa",
			Params: "parseTime=true&loc=Local&charset=utf8mb4",
		},
		Registry: RegistryConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "docqa:collection:",
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "docqa.collections",
		},
		Ingest: IngestConfig{
			MaxUploadMB:         20,
			FetchTimeoutSeconds: 30,
			MaxFetchMB:          10,
		},
		Index: IndexConfig{
			ChunkSize:          1024,
			ChunkOverlap:       128,
			EmbeddingBatchSize: 64,
		},
		Retrieval: RetrievalConfig{
			Mode:           "simple",
			SimilarityTopK: 2,
			FusionTopK:     2,
			NumExpansions:  4,
			RRFK:           60,
		},
		Evaluation: EvaluationConfig{
			Enabled:          true,
			PassingThreshold: 0.5,
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.WebRoot = getEnv("APP_WEB_ROOT", cfg.App.WebRoot)
	cfg.App.CORSOrigins = getEnvAsList("APP_CORS_ORIGINS", cfg.App.CORSOrigins)
	cfg.App.QueryTimeoutSeconds = getEnvAsInt("APP_QUERY_TIMEOUT_SECONDS", cfg.App.QueryTimeoutSeconds)
	cfg.App.IngestTimeoutSeconds = getEnvAsInt("APP_INGEST_TIMEOUT_SECONDS", cfg.App.IngestTimeoutSeconds)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTExpireMinute = getEnvAsInt("JWT_EXPIRE_MINUTE", cfg.Auth.JWTExpireMinute)

	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.EmbeddingModel = getEnv("LLM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.Temperature = getEnvAsFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.RequestTimeoutSeconds = getEnvAsInt("LLM_REQUEST_TIMEOUT_SECONDS", cfg.LLM.RequestTimeoutSeconds)
	cfg.LLM.MaxRetries = getEnvAsInt("LLM_MAX_RETRIES", cfg.LLM.MaxRetries)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = getEnv("STORE_PATH", cfg.Store.Path)

	cfg.MySQL.Host = getEnv("MYSQL_HOST", cfg.MySQL.Host)
	cfg.MySQL.Port = getEnvAsInt("MYSQL_PORT", cfg.MySQL.Port)
	cfg.MySQL.User = getEnv("MYSQL_USER", cfg.MySQL.User)
	cfg.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.MySQL.Password)
	cfg.MySQL.DB = getEnv("MYSQL_DB", cfg.MySQL.DB)
	cfg.MySQL.Params = getEnv("MYSQL_PARAMS", cfg.MySQL.Params)

	cfg.Registry.Backend = getEnv("REGISTRY_BACKEND", cfg.Registry.Backend)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Exchange = getEnv("RABBITMQ_EXCHANGE", cfg.RabbitMQ.Exchange)

	cfg.Ingest.MaxUploadMB = getEnvAsInt("INGEST_MAX_UPLOAD_MB", cfg.Ingest.MaxUploadMB)
	cfg.Ingest.FetchTimeoutSeconds = getEnvAsInt("INGEST_FETCH_TIMEOUT_SECONDS", cfg.Ingest.FetchTimeoutSeconds)
	cfg.Ingest.MaxFetchMB = getEnvAsInt("INGEST_MAX_FETCH_MB", cfg.Ingest.MaxFetchMB)

	cfg.Index.ChunkSize = getEnvAsInt("INDEX_CHUNK_SIZE", cfg.Index.ChunkSize)
	cfg.Index.ChunkOverlap = getEnvAsInt("INDEX_CHUNK_OVERLAP", cfg.Index.ChunkOverlap)
	cfg.Index.EmbeddingBatchSize = getEnvAsInt("INDEX_EMBEDDING_BATCH_SIZE", cfg.Index.EmbeddingBatchSize)

	cfg.Retrieval.Mode = getEnv("RETRIEVAL_MODE", cfg.Retrieval.Mode)
	cfg.Retrieval.SimilarityTopK = getEnvAsInt("RETRIEVAL_SIMILARITY_TOP_K", cfg.Retrieval.SimilarityTopK)
	cfg.Retrieval.FusionTopK = getEnvAsInt("RETRIEVAL_FUSION_TOP_K", cfg.Retrieval.FusionTopK)
	cfg.Retrieval.NumExpansions = getEnvAsInt("RETRIEVAL_NUM_EXPANSIONS", cfg.Retrieval.NumExpansions)
	cfg.Retrieval.RRFK = getEnvAsInt("RETRIEVAL_RRF_K", cfg.Retrieval.RRFK)

	cfg.Evaluation.Enabled = getEnvAsBool("EVALUATION_ENABLED", cfg.Evaluation.Enabled)
	cfg.Evaluation.PassingThreshold = getEnvAsFloat("EVALUATION_PASSING_THRESHOLD", cfg.Evaluation.PassingThreshold)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
