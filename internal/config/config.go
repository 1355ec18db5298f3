package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamo   = "dynamodb"
)

type Config struct {
	Env               string
	HTTPAddr          string
	SharedDatabaseURL string
	Branches          []BranchConfig
	AWSRegion         string
	DynamoEndpoint    string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	ReferenceCacheTTL time.Duration
	Retry             RetryConfig
	IdentitySecret    string
	RunMigrations     bool
}

// BranchConfig describes one branch partition. Backend is memory, postgres
// or dynamodb.
type BranchConfig struct {
	Code        string
	Backend     string
	DatabaseURL string
	DynamoTable string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Load reads configuration from environment variables and an optional .env
// file in the working directory.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("BRANCHES", "CN1,CN2")
	v.SetDefault("SHARED_DATABASE_URL", "")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("DYNAMO_ENDPOINT", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REFERENCE_CACHE_TTL_SECONDS", 60)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_BASE_DELAY_MS", 5)
	v.SetDefault("IDENTITY_SECRET", "")
	v.SetDefault("RUN_MIGRATIONS", true)

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := Config{
		Env:               strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		SharedDatabaseURL: strings.TrimSpace(v.GetString("SHARED_DATABASE_URL")),
		AWSRegion:         v.GetString("AWS_REGION"),
		DynamoEndpoint:    strings.TrimSpace(v.GetString("DYNAMO_ENDPOINT")),
		RedisAddr:         strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		ReferenceCacheTTL: time.Duration(v.GetInt("REFERENCE_CACHE_TTL_SECONDS")) * time.Second,
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseDelay:   time.Duration(v.GetInt("RETRY_BASE_DELAY_MS")) * time.Millisecond,
		},
		IdentitySecret: strings.TrimSpace(v.GetString("IDENTITY_SECRET")),
		RunMigrations:  v.GetBool("RUN_MIGRATIONS"),
	}
	if cfg.ReferenceCacheTTL < time.Second {
		cfg.ReferenceCacheTTL = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 5 * time.Millisecond
	}

	seen := map[string]bool{}
	for _, raw := range strings.Split(v.GetString("BRANCHES"), ",") {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if seen[code] {
			return Config{}, fmt.Errorf("config: branch %s listed twice", code)
		}
		seen[code] = true

		branch, err := loadBranch(v, code)
		if err != nil {
			return Config{}, err
		}
		cfg.Branches = append(cfg.Branches, branch)
	}
	if len(cfg.Branches) == 0 {
		return Config{}, fmt.Errorf("config: BRANCHES must name at least one branch")
	}
	return cfg, nil
}

func loadBranch(v *viper.Viper, code string) (BranchConfig, error) {
	prefix := "BRANCH_" + code + "_"
	b := BranchConfig{
		Code:        code,
		Backend:     strings.ToLower(strings.TrimSpace(v.GetString(prefix + "BACKEND"))),
		DatabaseURL: strings.TrimSpace(v.GetString(prefix + "DATABASE_URL")),
		DynamoTable: strings.TrimSpace(v.GetString(prefix + "DYNAMO_TABLE")),
	}
	if b.Backend == "" {
		switch {
		case b.DatabaseURL != "":
			b.Backend = BackendPostgres
		case b.DynamoTable != "":
			b.Backend = BackendDynamo
		default:
			b.Backend = BackendMemory
		}
	}

	switch b.Backend {
	case BackendMemory:
	case BackendPostgres:
		if b.DatabaseURL == "" {
			return BranchConfig{}, fmt.Errorf("config: %sDATABASE_URL is required for the postgres backend", prefix)
		}
	case BackendDynamo:
		if b.DynamoTable == "" {
			b.DynamoTable = "branchstock-" + strings.ToLower(code)
		}
	default:
		return BranchConfig{}, fmt.Errorf("config: %sBACKEND %q is not one of memory, postgres, dynamodb", prefix, b.Backend)
	}
	return b, nil
}

func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development"
}
