package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_DRIVER", "BROKER_DRIVER", "PUSH_PING_INTERVAL", "PUSH_PONG_WAIT", "MESSAGE_RATE_BURST", "LOG_CALLER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "memory" || cfg.Broker.Driver != "memory" {
		t.Fatalf("unexpected drivers: %s / %s", cfg.Store.Driver, cfg.Broker.Driver)
	}
	if cfg.Push.PingInterval != 4*time.Second || cfg.Push.PongWait != 10*time.Second {
		t.Fatalf("unexpected push timings: %+v", cfg.Push)
	}
	if cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected burst: %d", cfg.RateLimit.Burst)
	}
}

func TestLoadServerAddr(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}

	t.Setenv("PORT", "80 80")
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for PORT with space")
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	if _, err := loadStoreConfig(); err == nil {
		t.Fatal("expected error for unknown store driver")
	}

	t.Setenv("BROKER_DRIVER", "kafka")
	if _, err := loadBrokerConfig(); err == nil {
		t.Fatal("expected error for unknown broker driver")
	}
}

func TestPushConfigValidation(t *testing.T) {
	t.Setenv("PUSH_PING_INTERVAL", "10s")
	t.Setenv("PUSH_PONG_WAIT", "5s")
	if _, err := loadPushConfig(); err == nil {
		t.Fatal("expected error when ping interval exceeds pong wait")
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("X_DELAY", "5000")
	d, err := parseDurationEnv("X_DELAY", time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("milliseconds: got %s, %v", d, err)
	}

	t.Setenv("X_DELAY", "1m30s")
	d, err = parseDurationEnv("X_DELAY", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("duration: got %s, %v", d, err)
	}

	t.Setenv("X_DELAY", "")
	d, _ = parseDurationEnv("X_DELAY", time.Second)
	if d != time.Second {
		t.Fatalf("default: got %s", d)
	}

	t.Setenv("X_DELAY", "soon")
	if _, err := parseDurationEnv("X_DELAY", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadClient(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHAT_API_URL", "https://chat.example.com/api/")
	t.Setenv("CHAT_PUSH_URL", "")
	t.Setenv("CHAT_RECONNECT_STRATEGY", "exponential")
	t.Setenv("CHAT_SESSION_FILE", filepath.Join(dir, "s.yaml"))

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient err: %v", err)
	}
	if cfg.APIURL != "https://chat.example.com/api" {
		t.Fatalf("unexpected api url: %s", cfg.APIURL)
	}
	if cfg.PushURL != "wss://chat.example.com/api/ws" {
		t.Fatalf("unexpected push url: %s", cfg.PushURL)
	}
	if cfg.ReconnectStrategy != "exponential" || cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected reconnect config: %s %s", cfg.ReconnectStrategy, cfg.ReconnectDelay)
	}

	t.Setenv("CHAT_RECONNECT_STRATEGY", "random")
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestDerivePushURL(t *testing.T) {
	if got := DerivePushURL("http://localhost:8080/api"); got != "ws://localhost:8080/api/ws" {
		t.Fatalf("unexpected push url: %s", got)
	}
}
