// h3client-demo exercises the H3 client against a peer: a GET, a POST, and
// an optional persistent keep-alive stream.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	h3client "marchproxy-h3client"
	"marchproxy-h3client/internal/config"
	"marchproxy-h3client/internal/killkrill"
	"marchproxy-h3client/internal/logging"
	"marchproxy-h3client/internal/metrics"
	"marchproxy-h3client/internal/progress"
)

var (
	version   = "v0.1.0"
	buildTime = "unknown"
	gitHash   = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "h3client-demo",
		Short:   "Demo client for the H3 (HTTP-over-QUIC) transport library",
		Version: fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitHash),
		Run:     runDemo,
	}

	rootCmd.Flags().StringP("peer", "p", "", "peer address, host:port")
	rootCmd.Flags().String("local", "", "local bind address")
	rootCmd.Flags().StringP("log-level", "l", "info", "log level")
	rootCmd.Flags().Bool("enable-metrics", true, "expose Prometheus metrics")
	rootCmd.Flags().Bool("insecure-skip-verify", true, "skip peer certificate verification")
	rootCmd.Flags().StringP("config", "c", "", "configuration file path")
	rootCmd.Flags().String("path", "/", "request path")
	rootCmd.Flags().Bool("stream", false, "open a persistent keep-alive stream instead of a single GET")
	rootCmd.Flags().Bool("killkrill-enabled", false, "export logs and metrics to KillKrill")
	rootCmd.Flags().String("killkrill-log-endpoint", "", "KillKrill log ingest endpoint")
	rootCmd.Flags().String("killkrill-metrics-endpoint", "", "KillKrill metrics ingest endpoint")
	rootCmd.Flags().String("killkrill-api-key", "", "KillKrill API key")
	rootCmd.Flags().String("killkrill-source-name", "h3client", "source name reported to KillKrill")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runDemo(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cmd)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var kkConfig *killkrill.Config
	if cfg.KillKrillEnabled {
		kkConfig = &killkrill.Config{
			Enabled:         true,
			LogEndpoint:     cfg.KillKrillLogEndpoint,
			MetricsEndpoint: cfg.KillKrillMetricsEndpoint,
			APIKey:          cfg.KillKrillAPIKey,
			SourceName:      cfg.KillKrillSourceName,
			BatchSize:       cfg.KillKrillBatchSize,
			FlushInterval:   cfg.KillKrillFlushInterval,
			UseHTTP3:        cfg.KillKrillUseHTTP3,
		}
	}

	logger, err := logging.NewLoggerWithKillKrill(cfg.LogLevel, cfg.SyslogEndpoint, kkConfig)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	client, err := h3client.NewFromClientConfig(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	if cfg.EnableMetrics {
		m := metrics.NewClientMetrics(metrics.DefaultMetricsConfig())
		client.WithMetrics(m)
		srv := metrics.NewServer(m, fmt.Sprintf(":%d", cfg.MetricsPort))
		go func() {
			if err := srv.Start(); err != nil {
				logger.WithField("err", err).Warn("metrics server stopped")
			}
		}()

		if kk := logger.KillKrillClient(); kk != nil {
			go kk.ExportPrometheusLoop(context.Background(), m.GetRegistry(), cfg.KillKrillFlushInterval)
		}
	}

	path, _ := cmd.Flags().GetString("path")
	stream, _ := cmd.Flags().GetBool("stream")

	if stream {
		runStreamDemo(client, path, logger)
		return
	}
	runRequestDemo(client, path, logger)
}

func runRequestDemo(client *h3client.Client, path string, logger *logging.Logger) {
	listener := progress.ListenerFuncs{
		Upload: func(p progress.UploadProgress) {
			logger.WithField("ratio", p.Ratio).Info("upload progress")
		},
		Download: func(p progress.DownloadProgress) {
			logger.WithField("ratio", p.Ratio).Info("download progress")
		},
	}

	handle, err := client.Get(path).
		SetUserAgent("h3client-demo/"+version).
		SubscribeEvent(listener).
		Send()
	if err != nil {
		log.Fatalf("send failed: %v", err)
	}

	resp, err := handle.WaitResponse()
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}

	fmt.Printf("status=%d bytes=%d\n", resp.Status(), len(resp.RawData()))
}

func runStreamDemo(client *h3client.Client, path string, logger *logging.Logger) {
	handle, err := client.Get(path).
		Stream().
		KeepAlive(10).
		Open(func(streamID uint64, headers map[string][]string, frame []byte) {
			logger.WithField("stream_id", streamID).Info("received frame")
			fmt.Printf("frame (%d bytes): %q\n", len(frame), frame)
		})
	if err != nil {
		log.Fatalf("failed to open stream: %v", err)
	}

	fmt.Printf("stream opened, stream_id=%d conn_id=%s\n", handle.StreamID(), handle.ConnID())
	time.Sleep(30 * time.Second)
}
