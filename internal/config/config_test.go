package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"BUS_URL", "BUS_EMBEDDED", "BUS_EMBEDDED_PORT", "SERVICE_NAME",
	"HTTP_ADDR", "HTTP_PORT", "REQUEST_TIMEOUT", "SHUTDOWN_GRACE",
	"BOOTSTRAP_FILE", "WATCH", "WATCH_DEBOUNCE",
	"OFFLOAD", "OFFLOAD_ORCHESTRATOR", "OFFLOAD_NAMESPACE", "OFFLOAD_IMAGE", "OFFLOAD_COMMAND",
	"OFFLOAD_MAX_RUNTIME", "HANDSHAKE_TIMEOUT",
	"HANDOFF_STORE", "HANDOFF_INLINE_LIMIT", "HANDOFF_TTL",
	"DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"S3_BUCKET", "S3_PREFIX", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE",
	"EXPOSE_STACK", "LOG_LEVEL", "LOG_FILE", "WORKER_NAME", "WORKER_NAMESPACE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	saved := map[string]string{}
	for _, env := range envVars {
		if v, ok := os.LookupEnv(env); ok {
			saved[env] = v
		}
		os.Unsetenv(env)
	}
	t.Cleanup(func() {
		for _, env := range envVars {
			os.Unsetenv(env)
		}
		for k, v := range saved {
			os.Setenv(k, v)
		}
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.BusURL != "" {
		t.Errorf("config:config_test - BusURL = %q, want empty", cfg.BusURL)
	}
	if cfg.BusEmbeddedPort != 4222 {
		t.Errorf("config:config_test - BusEmbeddedPort = %d, want 4222", cfg.BusEmbeddedPort)
	}
	if cfg.ServiceName != "streamcall" {
		t.Errorf("config:config_test - ServiceName = %q, want %q", cfg.ServiceName, "streamcall")
	}
	if cfg.RequestTimeout != 25*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 25s", cfg.RequestTimeout)
	}
	if !cfg.Watch || cfg.WatchDebounce != 100*time.Millisecond {
		t.Errorf("config:config_test - Watch = %v/%v, want true/100ms", cfg.Watch, cfg.WatchDebounce)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("config:config_test - HandshakeTimeout = %v, want 30s", cfg.HandshakeTimeout)
	}
	if cfg.Offload {
		t.Error("config:config_test - expected Offload=false by default")
	}
	if cfg.OffloadOrchestrator != OrchestratorProcess || cfg.OffloadNamespace != "default" {
		t.Errorf("config:config_test - unexpected offload defaults %q/%q", cfg.OffloadOrchestrator, cfg.OffloadNamespace)
	}
	if cfg.HandoffStore != StoreMemory || cfg.HandoffInlineLimit != 262144 {
		t.Errorf("config:config_test - unexpected hand-off defaults %q/%d", cfg.HandoffStore, cfg.HandoffInlineLimit)
	}
	if cfg.MigrationPath != "" {
		t.Errorf("config:config_test - MigrationPath = %q, want empty (embedded)", cfg.MigrationPath)
	}
	if cfg.ExposeStack {
		t.Error("config:config_test - expected ExposeStack=false by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ListenAddr() != ":8080" {
		t.Errorf("config:config_test - ListenAddr = %q, want :8080", cfg.ListenAddr())
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"BUS_URL":              "nats://custom:4222",
		"SERVICE_NAME":         "test-server",
		"HTTP_ADDR":            "127.0.0.1:9999",
		"REQUEST_TIMEOUT":      "10s",
		"BOOTSTRAP_FILE":       "/tmp/bootstrap.json",
		"WATCH":                "false",
		"OFFLOAD":              "true",
		"OFFLOAD_COMMAND":      "/bin/streamcall,--verbose",
		"HANDOFF_STORE":        "s3",
		"S3_BUCKET":            "frames",
		"S3_PATH_STYLE":        "true",
		"HANDOFF_INLINE_LIMIT": "1024",
		"EXPOSE_STACK":         "true",
		"LOG_LEVEL":            "debug",
		"WORKER_NAME":          "pip-1",
	}
	for key, val := range overrides {
		os.Setenv(key, val)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.BusURL != "nats://custom:4222" {
		t.Errorf("config:config_test - BusURL = %q", cfg.BusURL)
	}
	if cfg.ServiceName != "test-server" {
		t.Errorf("config:config_test - ServiceName = %q", cfg.ServiceName)
	}
	if cfg.ListenAddr() != "127.0.0.1:9999" {
		t.Errorf("config:config_test - ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.BootstrapFile != "/tmp/bootstrap.json" || cfg.Watch {
		t.Errorf("config:config_test - unexpected bootstrap settings %q/%v", cfg.BootstrapFile, cfg.Watch)
	}
	if !cfg.Offload || !reflect.DeepEqual(cfg.OffloadCommand, []string{"/bin/streamcall", "--verbose"}) {
		t.Errorf("config:config_test - unexpected offload settings %v/%v", cfg.Offload, cfg.OffloadCommand)
	}
	if cfg.HandoffStore != StoreS3 || cfg.S3Bucket != "frames" || !cfg.S3PathStyle || cfg.HandoffInlineLimit != 1024 {
		t.Errorf("config:config_test - unexpected store settings %+v", cfg)
	}
	if !cfg.ExposeStack || cfg.LogLevel != "debug" || cfg.WorkerName != "pip-1" {
		t.Errorf("config:config_test - unexpected misc settings %+v", cfg)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - expected valid config: %v", err)
	}
	if err := cfg.ValidateForWorker(); err != nil {
		t.Errorf("config:config_test - expected valid worker config: %v", err)
	}
}

func TestLoadConfig_LogLevels(t *testing.T) {
	clearEnv(t)
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		os.Setenv("LOG_LEVEL", level)
		cfg, err := LoadConfig()
		os.Unsetenv("LOG_LEVEL")

		if err != nil {
			t.Fatalf("config:config_test - unexpected error for level %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RequestTimeout:      time.Second,
			HandshakeTimeout:    time.Second,
			OffloadOrchestrator: OrchestratorProcess,
			HandoffStore:        StoreMemory,
			DatabaseURL:         "postgres://x",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		check   func(c *Config) error
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}, check: (*Config).ValidateForServe},
		{name: "zero request timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, check: (*Config).ValidateForServe, wantErr: "REQUEST_TIMEOUT"},
		{name: "zero handshake timeout", mutate: func(c *Config) { c.HandshakeTimeout = 0 }, check: (*Config).ValidateForServe, wantErr: "HANDSHAKE_TIMEOUT"},
		{name: "embedded with url", mutate: func(c *Config) { c.BusEmbedded, c.BusURL = true, "nats://x:4222" }, check: (*Config).ValidateForServe, wantErr: "mutually exclusive"},
		{name: "bad bus url", mutate: func(c *Config) { c.BusURL = "http://x" }, check: (*Config).ValidateForServe, wantErr: "BUS_URL"},
		{name: "offload needs relay", mutate: func(c *Config) { c.Offload = true }, check: (*Config).ValidateForServe, wantErr: "relayed bus"},
		{name: "offload embedded", mutate: func(c *Config) { c.Offload, c.BusEmbedded = true, true }, check: (*Config).ValidateForServe},
		{name: "unknown orchestrator", mutate: func(c *Config) { c.Offload, c.BusEmbedded, c.OffloadOrchestrator = true, true, "k8s" }, check: (*Config).ValidateForServe, wantErr: "OFFLOAD_ORCHESTRATOR"},
		{name: "unknown store", mutate: func(c *Config) { c.HandoffStore = "redis" }, check: (*Config).ValidateForServe, wantErr: "HANDOFF_STORE"},
		{name: "postgres without url", mutate: func(c *Config) { c.HandoffStore, c.DatabaseURL = StorePostgres, "" }, check: (*Config).ValidateForServe, wantErr: "DATABASE_URL"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.HandoffStore = StoreS3 }, check: (*Config).ValidateForServe, wantErr: "S3_BUCKET"},
		{name: "db without url", mutate: func(c *Config) { c.DatabaseURL = "" }, check: (*Config).ValidateForDB, wantErr: "DATABASE_URL"},
		{name: "worker without bus", mutate: func(*Config) {}, check: (*Config).ValidateForWorker, wantErr: "BUS_URL"},
		{name: "worker", mutate: func(c *Config) { c.BusURL = "nats://x:4222" }, check: (*Config).ValidateForWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := tt.check(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("config:config_test - expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
