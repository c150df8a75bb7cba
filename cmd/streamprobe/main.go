// streamprobe connects to a streamcore server, subscribes to event streams,
// and prints what arrives. Useful for smoke-testing a deployment and for
// watching the session state machine under real network conditions.
//
// Usage: go run ./cmd/streamprobe --config configs/streamcore.example.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/markus41/streamcore/internal/config"
	"github.com/markus41/streamcore/internal/creds"
	"github.com/markus41/streamcore/internal/journal"
	"github.com/markus41/streamcore/internal/session"
	"github.com/markus41/streamcore/internal/transport"
	"github.com/markus41/streamcore/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamcore.example.yaml", "path to config file")
	subscribe := flag.String("subscribe", "", "comma-separated event types to subscribe to (type or type@source)")
	verbose := flag.Bool("verbose", false, "print full event payload JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("streamprobe", version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	provider, err := newProvider(cfg.Auth)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	// Optional session event journal.
	var writer *journal.Writer
	if cfg.Journal.Enabled {
		pool, err := journal.NewPool(ctx, cfg.Journal.Postgres)
		if err != nil {
			logger.Error("failed to connect journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		writer = journal.NewWriter(journal.WriterConfig{
			Instance:      cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start journal writer", "error", err)
			os.Exit(1)
		}
	}

	dialer := transport.NewWSDialer(transport.WSConfig{
		URL:              cfg.Server.URL,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteTimeout:     cfg.Transport.WriteTimeout,
		BufferSize:       cfg.Transport.BufferSize,
	}, logger)

	sessCfg := session.Config{
		MaxConnectAttempts: cfg.Session.MaxConnectAttempts,
		Backoff:            session.BackoffPolicy(cfg.Session.Backoff),
		ReconnectBaseDelay: cfg.Session.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Session.ReconnectMaxDelay,
		HeartbeatInterval:  cfg.Session.HeartbeatInterval,
		AuthTimeout:        cfg.Session.AuthTimeout,
		RequestTimeout:     cfg.Session.RequestTimeout,
		MaxPending:         cfg.Session.MaxPending,
		StateHook: func(sc session.StateChange) {
			logger.Info("session state change",
				"from", sc.From,
				"to", sc.To,
				"attempt", sc.Attempt,
				"error", sc.Err,
			)
			if writer != nil {
				detail := ""
				if sc.Err != nil {
					detail = sc.Err.Error()
				}
				writer.Record(journal.Event{
					Kind:      journal.KindStateChange,
					FromState: sc.From.String(),
					ToState:   sc.To.String(),
					Attempt:   sc.Attempt,
					Detail:    detail,
				})
			}
		},
	}

	// One shared client per process, behind the guard.
	guard := session.NewGuard()
	client, err := guard.GetOrCreate(ctx, func(ctx context.Context) (*session.Client, error) {
		c := session.New(sessCfg, dialer, provider, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		logger.Error("failed to establish session", "error", err)
		os.Exit(1)
	}

	logger.Info("session established", "server", cfg.Server.URL, "instance", cfg.Instance.ID)

	for _, spec := range parseSubscriptions(*subscribe) {
		spec := spec
		sub, err := client.Subscribe(ctx, spec.eventType, spec.source, func(ev session.Event) {
			printEvent(ev, *verbose)
		})
		if err != nil {
			logger.Error("subscribe failed", "event_type", spec.eventType, "source", spec.source, "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "event_type", spec.eventType, "source", spec.source, "handle", sub.ID())
		if writer != nil {
			writer.Record(journal.Event{
				Kind:   journal.KindSubscribe,
				Detail: spec.eventType + "@" + spec.source,
			})
		}
	}

	// Periodic health report.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h := client.Health()
				s := client.Stats()
				logger.Info("health",
					"state", h.State,
					"degraded", h.Degraded,
					"reconnect_attempt", h.ReconnectAttempt,
					"pending", s.PendingRequests,
					"subscriptions", s.Subscriptions,
					"epoch", s.Epoch,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	logger.Info("shutting down...")
	client.Disconnect()

	if writer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		writer.Stop(shutdownCtx)

		m := writer.Stats()
		logger.Info("journal stats", "inserts", m.Inserts, "flushes", m.Flushes, "errors", m.Errors, "dropped", m.Dropped)
	}

	logger.Info("shutdown complete")
}

// newProvider picks the credential source from config: an inline token or
// a token file re-read on every reconnect.
func newProvider(cfg config.AuthConfig) (creds.Provider, error) {
	if cfg.TokenPath != "" {
		return creds.NewFile(cfg.TokenPath)
	}
	return creds.NewStatic(cfg.Token)
}

type subscriptionSpec struct {
	eventType string
	source    string
}

// parseSubscriptions parses "type" or "type@source" entries.
func parseSubscriptions(arg string) []subscriptionSpec {
	var specs []subscriptionSpec
	for _, entry := range strings.Split(arg, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		spec := subscriptionSpec{eventType: entry}
		if at := strings.IndexByte(entry, '@'); at >= 0 {
			spec.eventType = entry[:at]
			spec.source = entry[at+1:]
		}
		specs = append(specs, spec)
	}
	return specs
}

func printEvent(ev session.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(struct {
			Type           string          `json:"type"`
			Source         string          `json:"source"`
			SubscriptionID int64           `json:"subscription_id"`
			Payload        json.RawMessage `json:"payload"`
		}{ev.Type, ev.Source, ev.SubscriptionID, ev.Payload}, "", "  ")
		fmt.Printf("[EVENT] %s\n", data)
		return
	}
	fmt.Printf("[EVENT] type=%s source=%s sub=%d payload=%s\n",
		ev.Type, ev.Source, ev.SubscriptionID, ev.Payload)
}
