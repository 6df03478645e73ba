// Command mdns-dns-proxy runs the RFC 8766 discovery proxy: a unicast DNS
// server that answers queries under a configured discovery domain by
// translating them into mDNS/DNS-SD queries on the local link.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mdns-discovery-proxy/proxy/internal/config"
	"github.com/mdns-discovery-proxy/proxy/internal/mdnsengine"
	"github.com/mdns-discovery-proxy/proxy/internal/proxy"
	"github.com/mdns-discovery-proxy/proxy/internal/rewrite"
)

var (
	configPath          string
	printExampleConfig  bool
	flagDiscoveryDomain string
	flagListenAddress   string
	flagPort            int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mdns-dns-proxy",
		Short: "Translate unicast DNS queries into mDNS/DNS-SD lookups",
		Long: "mdns-dns-proxy implements RFC 8766: it answers unicast DNS queries " +
			"under a configured discovery domain by querying the local mDNS link " +
			"and rewriting the results back into that domain.",
		RunE: runServe,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	cmd.Flags().BoolVar(&printExampleConfig, "print-example-config", false, "print the default configuration as TOML and exit")
	cmd.Flags().StringVar(&flagDiscoveryDomain, "discovery-domain", "", "override discovery_domain from the config file")
	cmd.Flags().StringVar(&flagListenAddress, "listen", "", "override server.listen_address from the config file")
	cmd.Flags().IntVar(&flagPort, "port", 0, "override server.port from the config file")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if printExampleConfig {
		doc, err := config.ExampleTOML()
		if err != nil {
			return fmt.Errorf("rendering example config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)
	cfg.DiscoveryDomain = rewrite.Normalize(cfg.DiscoveryDomain)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config after flag overrides: %w", err)
	}

	log := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon := proxy.NewDaemon(proxy.Config{
		DiscoveryDomain:    cfg.DiscoveryDomain,
		CacheEnabled:       cfg.Cache.Enabled,
		CacheTTL:           time.Duration(cfg.Cache.TTL),
		SuppressionEnabled: cfg.SuppressionEnabled,
		Timeouts: mdnsengine.Timeouts{
			ServiceQueryTimeout:       time.Duration(cfg.MDNS.ServiceQueryTimeout),
			ServicePollInterval:       time.Duration(cfg.MDNS.ServicePollInterval),
			HostnameResolutionTimeout: time.Duration(cfg.MDNS.HostnameResolutionTimeout),
		},
	}, log)

	if err := daemon.Start(ctx); err != nil {
		return fmt.Errorf("starting mdns daemon: %w", err)
	}
	defer func() {
		if err := daemon.Shutdown(); err != nil {
			log.WithError(err).Warn("error shutting down mdns daemon")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.Port)

	udpServer := &dns.Server{Addr: addr, Net: "udp", Handler: daemon.Handler}
	tcpServer := &dns.Server{Addr: addr, Net: "tcp", Handler: daemon.Handler}

	errCh := make(chan error, 2)
	go func() { errCh <- udpServer.ListenAndServe() }()
	go func() { errCh <- tcpServer.ListenAndServe() }()

	log.WithFields(logrus.Fields{
		"discovery_domain": cfg.DiscoveryDomain,
		"listen":           addr,
	}).Info("mdns-dns-proxy listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("dns server exited: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = udpServer.ShutdownContext(shutdownCtx)
	_ = tcpServer.ShutdownContext(shutdownCtx)

	stats := daemon.CacheStats()
	log.WithFields(logrus.Fields{
		"cache_hits":    stats.Hits,
		"cache_misses":  stats.Misses,
		"cache_entries": stats.Entries,
	}).Debug("final cache stats")

	return nil
}

// applyFlagOverrides wins last in the flags > env > file > defaults
// precedence chain (spec §6). It uses pflag.Changed rather than zero-value
// checks so that an explicitly passed "--port 0" is still honored as an
// override.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("discovery-domain") {
		cfg.DiscoveryDomain = flagDiscoveryDomain
	}
	if flags.Changed("listen") {
		cfg.Server.ListenAddress = flagListenAddress
	}
	if flags.Changed("port") {
		cfg.Server.Port = flagPort
	}
}

func newLogger(cfg config.Logging) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}
