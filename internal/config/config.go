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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// PrometheusBind serves /metrics on its own listener; empty mounts it on the HTTP server.
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Permission  PermissionConfig `yaml:"permission"`
	Bridge      BridgeConfig     `yaml:"bridge"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// RecognizerConfig selects the speech engine the adapter forwards to.
type RecognizerConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	Available      bool   `yaml:"available"`
	MockTranscript string `yaml:"mock_transcript"`
	MockDelayMS    int    `yaml:"mock_delay_ms"`
	LooperBacklog  int    `yaml:"looper_backlog"`
}

// PermissionConfig controls microphone probing and permission prompting.
type PermissionConfig struct {
	Mode            string `yaml:"mode"`       // granted, denied, prompt
	Microphone      string `yaml:"microphone"` // auto, present, absent
	ProbePath       string `yaml:"probe_path"`
	PromptSubject   string `yaml:"prompt_subject"`
	PromptTimeoutMS int    `yaml:"prompt_timeout_ms"`
}

type BridgeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	CommandSubject string `yaml:"command_subject"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-speech-bridge",
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
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "speech-node-1",
			Role:              "speech-bridge",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Recognizer: RecognizerConfig{
			Mode:           "mock",
			Available:      true,
			MockTranscript: "hello world",
			MockDelayMS:    150,
			LooperBacklog:  64,
		},
		Permission: PermissionConfig{
			Mode:            "granted",
			Microphone:      "auto",
			ProbePath:       "/dev/snd",
			PromptSubject:   "speech.permission.request",
			PromptTimeoutMS: 30000,
		},
		Bridge: BridgeConfig{
			Enabled:        true,
			CommandSubject: "speech.recognition.command",
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
	overrideString(&cfg.RuntimeName, "SPEECH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SPEECH_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEECH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEECH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECH_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SPEECH_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SPEECH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECH_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SPEECH_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "SPEECH_NODE_ID")
	overrideString(&cfg.Node.Role, "SPEECH_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "SPEECH_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "SPEECH_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Mode, "SPEECH_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "SPEECH_RECOGNIZER_COMMAND")
	overrideBool(&cfg.Recognizer.Available, "SPEECH_RECOGNIZER_AVAILABLE")
	overrideString(&cfg.Recognizer.MockTranscript, "SPEECH_RECOGNIZER_MOCK_TRANSCRIPT")
	overrideInt(&cfg.Recognizer.MockDelayMS, "SPEECH_RECOGNIZER_MOCK_DELAY_MS")
	overrideInt(&cfg.Recognizer.LooperBacklog, "SPEECH_RECOGNIZER_LOOPER_BACKLOG")
	overrideString(&cfg.Permission.Mode, "SPEECH_PERMISSION_MODE")
	overrideString(&cfg.Permission.Microphone, "SPEECH_PERMISSION_MICROPHONE")
	overrideString(&cfg.Permission.ProbePath, "SPEECH_PERMISSION_PROBE_PATH")
	overrideString(&cfg.Permission.PromptSubject, "SPEECH_PERMISSION_PROMPT_SUBJECT")
	overrideInt(&cfg.Permission.PromptTimeoutMS, "SPEECH_PERMISSION_PROMPT_TIMEOUT_MS")
	overrideBool(&cfg.Bridge.Enabled, "SPEECH_BRIDGE_ENABLED")
	overrideString(&cfg.Bridge.CommandSubject, "SPEECH_BRIDGE_COMMAND_SUBJECT")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		// A negative port asks the embedded server for a random free port.
		if cfg.Bus.Port == 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535, or negative for a random port, when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognizer.mode must be one of mock|exec")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.MockDelayMS < 0 {
		return errors.New("recognizer.mock_delay_ms must be >= 0")
	}
	if cfg.Recognizer.LooperBacklog <= 0 {
		return errors.New("recognizer.looper_backlog must be >= 1")
	}
	switch cfg.Permission.Mode {
	case "granted", "denied", "prompt":
	default:
		return errors.New("permission.mode must be one of granted|denied|prompt")
	}
	switch cfg.Permission.Microphone {
	case "auto", "present", "absent":
	default:
		return errors.New("permission.microphone must be one of auto|present|absent")
	}
	if cfg.Permission.Microphone == "auto" && cfg.Permission.ProbePath == "" {
		return errors.New("permission.probe_path must be set when microphone=auto")
	}
	if cfg.Permission.Mode == "prompt" {
		if cfg.Permission.PromptSubject == "" {
			return errors.New("permission.prompt_subject must be set when mode=prompt")
		}
		if cfg.Permission.PromptTimeoutMS <= 0 {
			return errors.New("permission.prompt_timeout_ms must be positive")
		}
	}
	if cfg.Bridge.Enabled && cfg.Bridge.CommandSubject == "" {
		return errors.New("bridge.command_subject must not be empty when the bridge is enabled")
	}
	return nil
}
