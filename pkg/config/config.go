package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/Mindburn-Labs/weave/pkg/artifacts"
	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/fcp"
	"github.com/Mindburn-Labs/weave/pkg/runtime/budget"
)

// Config holds engine configuration.
type Config struct {
	LogLevel     string
	LogFormat    string
	DatabaseURL  string
	RedisAddr    string
	KVDir        string
	OTelEndpoint string
	FCPMaxDepth  int

	Artifacts artifacts.Config
	Settings  contracts.Settings
	Limits    budget.Limits
	Fetch     FetchPolicy
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	return LoadWithProfile(nil)
}

// LoadWithProfile starts from p and lets set environment variables
// override it. A nil profile means built-in defaults.
func LoadWithProfile(p *Profile) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:    "INFO",
		LogFormat:   "text",
		DatabaseURL: ":memory:",
		FCPMaxDepth: fcp.DefaultMaxDepth,
		Limits:      budget.Default(),
		Fetch:       FetchPolicy{RPS: 10, Burst: 5},
	}
	if p != nil {
		p.apply(cfg)
	}

	env := envReader{}
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)
	env.str("WEAVE_DATABASE_URL", &cfg.DatabaseURL)
	env.str("WEAVE_REDIS_ADDR", &cfg.RedisAddr)
	env.str("WEAVE_KV_DIR", &cfg.KVDir)
	env.str("WEAVE_OTEL_ENDPOINT", &cfg.OTelEndpoint)
	env.integer("WEAVE_FCP_MAX_DEPTH", &cfg.FCPMaxDepth)

	var storeType string
	if env.str("WEAVE_ARTIFACT_STORE", &storeType) {
		cfg.Artifacts.Type = artifacts.StoreType(storeType)
	}
	env.str("WEAVE_ARTIFACT_DIR", &cfg.Artifacts.Dir)
	env.str("WEAVE_ARTIFACT_BUCKET", &cfg.Artifacts.Bucket)
	env.str("WEAVE_ARTIFACT_REGION", &cfg.Artifacts.Region)
	env.str("WEAVE_ARTIFACT_ENDPOINT", &cfg.Artifacts.Endpoint)
	env.str("WEAVE_ARTIFACT_PREFIX", &cfg.Artifacts.Prefix)

	env.float("WEAVE_FETCH_RPS", &cfg.Fetch.RPS)
	env.integer("WEAVE_FETCH_BURST", &cfg.Fetch.Burst)

	env.boolean("EXM", &cfg.Settings.EXM)
	env.boolean("LAZY_EVALUATION", &cfg.Settings.LazyEvaluation)
	env.boolean("SHOW_ERRORS", &cfg.Settings.ShowErrors)
	env.i64("TX_DATE", &cfg.Settings.TxDate)

	env.u64("WEAVE_GAS_LIMIT", &cfg.Limits.GasLimit)
	env.u64("WEAVE_EVM_GAS_LIMIT", &cfg.Limits.EVMGasLimit)
	env.i64("WEAVE_TIME_LIMIT_MS", &cfg.Limits.TimeLimitMs)
	env.i64("WEAVE_WASM_MEMORY_LIMIT_BYTES", &cfg.Limits.MemoryLimitBytes)

	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

// envReader copies set variables into their destinations and keeps the
// first parse failure.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (r *envReader) fail(key, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
}

func (r *envReader) str(key string, dst *string) bool {
	v, ok := r.lookup(key)
	if ok {
		*dst = v
	}
	return ok
}

func (r *envReader) boolean(key string, dst *bool) {
	if v, ok := r.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) integer(key string, dst *int) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) i64(key string, dst *int64) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) u64(key string, dst *uint64) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) float(key string, dst *float64) {
	if v, ok := r.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = f
	}
}
