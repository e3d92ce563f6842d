package config

import (
	"io"
	"time"

	"github.com/Swind/go-sequence-manager/core"
	"github.com/rs/zerolog"
)

// Config holds all application configuration.
type Config struct {
	Manager ManagerConfig `mapstructure:"manager" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ManagerConfig maps onto core.Settings.
type ManagerConfig struct {
	Name                  string           `mapstructure:"name" validate:"required"`
	WorkBatchSize         int              `mapstructure:"work_batch_size" validate:"gte=1,lte=1024"`
	TimerSlack            string           `mapstructure:"timer_slack" validate:"oneof=none maximum"`
	AddQueueTimeToTasks   bool             `mapstructure:"add_queue_time_to_tasks"`
	ReclaimMemoryInterval time.Duration    `mapstructure:"reclaim_memory_interval" validate:"gt=0"`
	RecordCrashKeys       bool             `mapstructure:"record_crash_keys"`
	Starvation            StarvationConfig `mapstructure:"starvation"`
}

// StarvationConfig sets how often a band may be skipped before it is served.
type StarvationConfig struct {
	High   int `mapstructure:"high" validate:"gte=1"`
	Normal int `mapstructure:"normal" validate:"gte=1"`
	Low    int `mapstructure:"low" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Listen       string        `mapstructure:"listen" validate:"required_if=Enabled true"`
	Namespace    string        `mapstructure:"namespace" validate:"omitempty,alphanum"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
}

// NewLogger builds the configured zerolog-backed logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) core.Logger {
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return core.NewZerologLogger(w, core.ParseLogLevel(c.Level))
}

// ToSettings converts the manager section into core.Settings. logger and
// metrics may be nil.
func (c *Config) ToSettings(logger core.Logger, metrics core.Metrics) core.Settings {
	slack := core.TimerSlackNone
	if c.Manager.TimerSlack == "maximum" {
		slack = core.TimerSlackMaximum
	}
	s := core.Settings{
		Name:                  c.Manager.Name,
		WorkBatchSize:         c.Manager.WorkBatchSize,
		TimerSlack:            slack,
		AddQueueTimeToTasks:   c.Manager.AddQueueTimeToTasks,
		ReclaimMemoryInterval: c.Manager.ReclaimMemoryInterval,
		RecordCrashKeys:       c.Manager.RecordCrashKeys,
		StarvationLimits: core.StarvationLimits{
			High:   c.Manager.Starvation.High,
			Normal: c.Manager.Starvation.Normal,
			Low:    c.Manager.Starvation.Low,
		},
		Logger:  logger,
		Metrics: metrics,
	}
	if logger != nil {
		s.PanicHandler = &core.DefaultPanicHandler{Logger: logger}
		s.RejectedTaskHandler = &core.DefaultRejectedTaskHandler{Logger: logger}
	}
	return s
}
