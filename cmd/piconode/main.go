// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Piconode presents this machine to a cluster as a minimal node: it
// registers itself with the API server, keeps its status fresh,
// serves the kubelet health endpoint, and mirrors a configmap into a
// local memory region.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/piconode/piconode/agent"
	"github.com/piconode/piconode/lib/config"
	"github.com/piconode/piconode/lib/version"
	"github.com/piconode/piconode/netstack/hostnet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var logLevel string
	var insecure bool
	var showVersion bool

	flags := pflag.NewFlagSet("piconode", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to config file (or set PICONODE_CONFIG)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&insecure, "insecure", false, "speak plaintext to the API server (development only)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("piconode %s\n", version.Info())
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("starting piconode",
		"version", version.Info(),
		"node", cfg.Node.Name,
		"cluster", fmt.Sprintf("%s:%d", cfg.Cluster.Host, cfg.Cluster.Port),
	)

	opts := agent.Options{
		Stack:      hostnet.New(hostnet.Config{Logger: logger}),
		Logger:     logger,
		InternalIP: localIP(),
	}

	if cfg.Node.DefinitionFile != "" {
		def, err := config.LoadNodeDefinition(cfg.Node.DefinitionFile)
		if err != nil {
			return fmt.Errorf("failed to load node definition: %w", err)
		}
		opts.Definition = def
	}

	if !insecure {
		tlsConfig, err := buildTLSConfig(cfg, logger)
		if err != nil {
			return err
		}
		opts.TLS = tlsConfig
	} else {
		logger.Warn("TLS disabled, API traffic is plaintext")
	}

	a, err := agent.New(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("piconode stopped")
	return nil
}

// buildTLSConfig assembles the client TLS configuration from the
// configured certificate files. A CA file pins server verification;
// without one the session is encrypted but unverified, matching the
// lab-use contract of the ca_cert setting. A cert/key pair enables
// mutual TLS.
func buildTLSConfig(cfg *config.Config, logger *slog.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: cfg.Cluster.Host}

	if cfg.Cluster.CACert == "" {
		tlsConfig.InsecureSkipVerify = true
		logger.Warn("no CA certificate configured, server verification disabled")
	} else {
		pem, err := os.ReadFile(cfg.Cluster.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.Cluster.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.Cluster.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Cluster.ClientCert, cfg.Cluster.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// localIP picks the address reported to the cluster: the first global
// unicast IPv4 address on any interface.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return "127.0.0.1"
}
