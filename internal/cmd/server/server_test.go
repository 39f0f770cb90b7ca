package server

import (
	"context"
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	if cfg.HTTPAddr == "" {
		t.Fatal("cfg.HTTPAddr empty, want default")
	}
	if cfg.StorageDriver != "sqlite" {
		t.Fatalf("cfg.StorageDriver = %q, want sqlite", cfg.StorageDriver)
	}
}

func TestParseConfigFlagOverrides(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-http-addr", "127.0.0.1:9090",
		"-storage-driver", "postgres",
		"-postgres-dsn", "postgres://localhost/custody",
	})
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Fatalf("cfg.HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.StorageDriver != "postgres" || cfg.PostgresDSN != "postgres://localhost/custody" {
		t.Fatalf("storage config = (%q, %q)", cfg.StorageDriver, cfg.PostgresDSN)
	}
}

func TestRunRejectsUnknownDriver(t *testing.T) {
	cfg, err := ParseConfig(flag.NewFlagSet("server", flag.ContinueOnError), []string{
		"-storage-driver", "oracle",
	})
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("Run() = nil, want unknown driver error")
	}
}
