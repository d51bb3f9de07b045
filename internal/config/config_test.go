package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Recognizer.Mode != "mock" {
		t.Fatalf("expected mock recognizer by default, got %q", cfg.Recognizer.Mode)
	}
	if cfg.Bridge.CommandSubject != "speech.recognition.command" {
		t.Fatalf("unexpected command subject %q", cfg.Bridge.CommandSubject)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPEECH_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SPEECH_BUS_USERNAME", "alice")
	t.Setenv("SPEECH_BUS_PASSWORD", "secret")
	t.Setenv("SPEECH_BUS_TLS_INSECURE", "true")
	t.Setenv("SPEECH_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("SPEECH_NODE_ID", "test-node")
	t.Setenv("SPEECH_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("SPEECH_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("SPEECH_RECOGNIZER_MODE", "exec")
	t.Setenv("SPEECH_RECOGNIZER_COMMAND", "recognize --json")
	t.Setenv("SPEECH_PERMISSION_MODE", "prompt")
	t.Setenv("SPEECH_PERMISSION_MICROPHONE", "present")
	t.Setenv("SPEECH_PERMISSION_PROMPT_TIMEOUT_MS", "1200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Node.HeartbeatInterval != 1500 || cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat overrides, got %d/%d", cfg.Node.HeartbeatInterval, cfg.Node.HeartbeatTimeout)
	}
	if cfg.Recognizer.Mode != "exec" || cfg.Recognizer.Command != "recognize --json" {
		t.Fatalf("expected recognizer overrides, got %+v", cfg.Recognizer)
	}
	if cfg.Permission.Mode != "prompt" || cfg.Permission.Microphone != "present" {
		t.Fatalf("expected permission overrides, got %+v", cfg.Permission)
	}
	if cfg.Permission.PromptTimeoutMS != 1200 {
		t.Fatalf("expected prompt timeout override, got %d", cfg.Permission.PromptTimeoutMS)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.yaml")
	data := []byte(`runtime_name: bridge-under-test
recognizer:
  mode: mock
  mock_transcript: bonjour
permission:
  mode: denied
  microphone: absent
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "bridge-under-test" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.Recognizer.MockTranscript != "bonjour" {
		t.Fatalf("unexpected transcript %q", cfg.Recognizer.MockTranscript)
	}
	if cfg.Permission.Mode != "denied" || cfg.Permission.Microphone != "absent" {
		t.Fatalf("unexpected permission config %+v", cfg.Permission)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected untouched defaults, got port %d", cfg.HTTP.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown recognizer mode": func(c *Config) { c.Recognizer.Mode = "cloud" },
		"exec without command":    func(c *Config) { c.Recognizer.Mode = "exec"; c.Recognizer.Command = "" },
		"unknown permission mode": func(c *Config) { c.Permission.Mode = "ask" },
		"unknown microphone":      func(c *Config) { c.Permission.Microphone = "maybe" },
		"prompt without timeout":  func(c *Config) { c.Permission.Mode = "prompt"; c.Permission.PromptTimeoutMS = 0 },
		"zero looper backlog":     func(c *Config) { c.Recognizer.LooperBacklog = 0 },
		"bridge without subject":  func(c *Config) { c.Bridge.CommandSubject = "" },
		"heartbeat timeout small": func(c *Config) { c.Node.HeartbeatTimeout = c.Node.HeartbeatInterval },
		"embedded zero port":      func(c *Config) { c.Bus.Embedded = true; c.Bus.Port = 0 },
		"embedded port too large": func(c *Config) { c.Bus.Embedded = true; c.Bus.Port = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEmbeddedRandomPort(t *testing.T) {
	t.Setenv("SPEECH_BUS_EMBEDDED", "true")
	t.Setenv("SPEECH_BUS_PORT", "-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected negative embedded port to load, got %v", err)
	}
	if !cfg.Bus.Embedded || cfg.Bus.Port != -1 {
		t.Fatalf("expected embedded random port, got embedded=%v port=%d", cfg.Bus.Embedded, cfg.Bus.Port)
	}
}
