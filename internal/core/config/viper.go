package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TW_STORE_DB_URL.
const EnvPrefix = "TW"

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if configPath != "" {
		if err := validateNoSecretsInConfig(configPath); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Worker: WorkerConfig{
			ID:               v.GetString("worker.id"),
			PollInterval:     v.GetDuration("worker.poll_interval"),
			LeaseDuration:    v.GetDuration("worker.lease_duration"),
			EvalTimeout:      v.GetDuration("worker.eval_timeout"),
			MaxClaimsPerTick: v.GetInt("worker.max_claims_per_tick"),
			Concurrency:      v.GetInt("worker.concurrency"),
			FinalizeAttempts: v.GetInt("worker.finalize_attempts"),
			FinalizeBackoff:  v.GetDuration("worker.finalize_backoff"),
		},
		Store: StoreConfig{
			Driver:      v.GetString("store.driver"),
			DBURL:       v.GetString("store.db_url"),
			RedisURL:    v.GetString("store.redis_url"),
			RedisPrefix: v.GetString("store.redis_prefix"),
			AutoMigrate: v.GetBool("store.auto_migrate"),
		},
		API: ListenConfig{
			Host: v.GetString("api.host"),
			Port: v.GetInt("api.port"),
		},
		Health: ListenConfig{
			Host: v.GetString("health.host"),
			Port: v.GetInt("health.port"),
		},
		Notify: NotifyConfig{
			RatePerSec:    v.GetFloat64("notify.rate_per_sec"),
			Burst:         v.GetInt("notify.burst"),
			SendTimeout:   v.GetDuration("notify.send_timeout"),
			RetryAttempts: v.GetInt("notify.retry_attempts"),
		},
		Facts: FactsConfig{
			Endpoint:  v.GetString("facts.endpoint"),
			Timeout:   v.GetDuration("facts.timeout"),
			ValuePath: v.GetString("facts.value_path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("worker.id", d.Worker.ID)
	v.SetDefault("worker.poll_interval", d.Worker.PollInterval)
	v.SetDefault("worker.lease_duration", d.Worker.LeaseDuration)
	v.SetDefault("worker.eval_timeout", d.Worker.EvalTimeout)
	v.SetDefault("worker.max_claims_per_tick", d.Worker.MaxClaimsPerTick)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.finalize_attempts", d.Worker.FinalizeAttempts)
	v.SetDefault("worker.finalize_backoff", d.Worker.FinalizeBackoff)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.db_url", d.Store.DBURL)
	v.SetDefault("store.redis_url", d.Store.RedisURL)
	v.SetDefault("store.redis_prefix", d.Store.RedisPrefix)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)

	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("health.host", d.Health.Host)
	v.SetDefault("health.port", d.Health.Port)

	v.SetDefault("notify.rate_per_sec", d.Notify.RatePerSec)
	v.SetDefault("notify.burst", d.Notify.Burst)
	v.SetDefault("notify.send_timeout", d.Notify.SendTimeout)
	v.SetDefault("notify.retry_attempts", d.Notify.RetryAttempts)

	v.SetDefault("facts.endpoint", d.Facts.Endpoint)
	v.SetDefault("facts.timeout", d.Facts.Timeout)
	v.SetDefault("facts.value_path", d.Facts.ValuePath)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// validateNoSecretsInConfig enforces environment-only credentials: store
// URLs written in the config file must not carry a password. The file is
// read on its own so environment values do not mask it.
func validateNoSecretsInConfig(configPath string) error {
	f := viper.New()
	f.SetConfigFile(configPath)
	if err := f.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	for _, key := range []string{"store.db_url", "store.redis_url"} {
		if hasPassword(f.GetString(key)) {
			env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			return fmt.Errorf("passwords not allowed in config files (set %s in the environment instead)", env)
		}
	}
	return nil
}
