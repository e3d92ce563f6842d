package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SEQMGR"

func setDefaults(v *viper.Viper) {
	v.SetDefault("manager.name", "main")
	v.SetDefault("manager.work_batch_size", 1)
	v.SetDefault("manager.timer_slack", "none")
	v.SetDefault("manager.add_queue_time_to_tasks", false)
	v.SetDefault("manager.reclaim_memory_interval", "30s")
	v.SetDefault("manager.record_crash_keys", false)
	v.SetDefault("manager.starvation.high", 3)
	v.SetDefault("manager.starvation.normal", 5)
	v.SetDefault("manager.starvation.low", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.namespace", "seqmgr")
	v.SetDefault("metrics.poll_interval", "1s")
}

// Load reads configuration from the optional file at path and from the
// environment, then validates it. Environment variables take precedence
// over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Metrics.Listen != "" {
		if err := validate.Var(cfg.Metrics.Listen, "hostname_port"); err != nil {
			return fmt.Errorf("invalid configuration: metrics.listen %q is not host:port", cfg.Metrics.Listen)
		}
	}
	return nil
}
