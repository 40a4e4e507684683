package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type JobStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig selects the inference backend. Mode is the only switch
// between the real subprocess engine and the deterministic mock; there is no
// code-path literal for it.
type EngineConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
}

type GenerationConfig struct {
	CrossfadeMS  int    `yaml:"crossfade_ms"`
	DefaultVoice string `yaml:"default_voice"`
}

type Config struct {
	WorkerName  string           `yaml:"worker_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Storage     StorageConfig    `yaml:"storage"`
	JobStore    JobStoreConfig   `yaml:"job_store"`
	Engine      EngineConfig     `yaml:"engine"`
	Generation  GenerationConfig `yaml:"generation"`
}

func Default() Config {
	return Config{
		WorkerName:  "narrate-worker",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Storage: StorageConfig{
			Path: "./storage",
		},
		JobStore: JobStoreConfig{
			Path:          "./storage/narrate-jobs.db",
			RetentionDays: 30,
		},
		Engine: EngineConfig{
			Mode:       "mock",
			SampleRate: 24000,
		},
		Generation: GenerationConfig{
			CrossfadeMS:  500,
			DefaultVoice: "en-Carter_man",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.WorkerName, "NARRATE_WORKER_NAME")
	overrideString(&cfg.Environment, "NARRATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Storage.Path, "NARRATE_STORAGE_PATH")
	overrideString(&cfg.JobStore.Path, "NARRATE_JOB_STORE_PATH")
	overrideInt(&cfg.JobStore.RetentionDays, "NARRATE_JOB_STORE_RETENTION_DAYS")
	overrideBool(&cfg.JobStore.VacuumOnStart, "NARRATE_JOB_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "NARRATE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "NARRATE_ENGINE_COMMAND")
	overrideInt(&cfg.Engine.SampleRate, "NARRATE_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Generation.CrossfadeMS, "NARRATE_GENERATION_CROSSFADE_MS")
	overrideString(&cfg.Generation.DefaultVoice, "NARRATE_GENERATION_DEFAULT_VOICE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.WorkerName == "" {
		return errors.New("worker_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path must not be empty")
	}
	if cfg.JobStore.Path == "" {
		return errors.New("job_store.path must not be empty")
	}
	if cfg.JobStore.RetentionDays < 0 {
		return errors.New("job_store.retention_days must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Generation.CrossfadeMS < 0 {
		return errors.New("generation.crossfade_ms must be >= 0")
	}
	if cfg.Generation.DefaultVoice == "" {
		return errors.New("generation.default_voice must not be empty")
	}
	return nil
}
