package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestNewClientConfigDefaults(t *testing.T) {
	cfg := NewClientConfig()
	if cfg == nil {
		t.Fatal("expected config to be created, got nil")
	}

	if cfg.MaxIdleTimeout != 20*time.Second {
		t.Errorf("expected default max idle timeout 20s, got %v", cfg.MaxIdleTimeout)
	}
	if cfg.MaxIncomingStreams != 100 {
		t.Errorf("expected default max incoming streams 100, got %d", cfg.MaxIncomingStreams)
	}
	if cfg.BodyChunkSize != 8192 {
		t.Errorf("expected default body chunk size 8192, got %d", cfg.BodyChunkSize)
	}
	if !cfg.EnableMetrics {
		t.Error("expected metrics enabled by default")
	}
}

func TestValidateRequiresPeerAddress(t *testing.T) {
	cfg := NewClientConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing peer_address")
	}

	cfg.PeerAddress = "peer.example.com:4433"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*ClientConfig)
	}{
		{"zero streams", func(c *ClientConfig) { c.MaxIncomingStreams = 0 }},
		{"zero uni streams", func(c *ClientConfig) { c.MaxIncomingUniStreams = 0 }},
		{"zero chunk size", func(c *ClientConfig) { c.BodyChunkSize = 0 }},
		{"bad metrics port", func(c *ClientConfig) { c.MetricsPort = 70000 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewClientConfig()
			cfg.PeerAddress = "peer.example.com:4433"
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestLoadBindsFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("peer", "", "")
	cmd.Flags().String("local", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("enable-metrics", true, "")
	cmd.Flags().Bool("insecure-skip-verify", false, "")
	cmd.Flags().String("config", "", "")

	if err := cmd.Flags().Set("peer", "peer.example.com:4433"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if err := cmd.Flags().Set("log-level", "debug"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PeerAddress != "peer.example.com:4433" {
		t.Errorf("expected peer_address from flag, got %q", cfg.PeerAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level from flag, got %q", cfg.LogLevel)
	}
}
