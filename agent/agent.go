// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent runs the node's cooperative main loop. One goroutine
// owns everything: it polls the network stack, serves the kubelet
// endpoint through stack callbacks, and runs the periodic duties at
// their configured intervals. Registration is folded into the status
// cycle; until it succeeds, every status tick retries it.
package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piconode/piconode/cluster"
	"github.com/piconode/piconode/kubelet"
	"github.com/piconode/piconode/lib/clock"
	"github.com/piconode/piconode/lib/config"
	"github.com/piconode/piconode/lib/memregion"
	"github.com/piconode/piconode/lib/timesync"
	"github.com/piconode/piconode/netstack"
)

// Options carries the collaborators the config file cannot express.
// Stack is required.
type Options struct {
	Stack  netstack.Stack
	Clock  clock.Clock
	Logger *slog.Logger

	// TLS enables the secure transport toward the API server. Nil
	// sends plaintext, for development servers and tests.
	TLS *tls.Config

	// Definition optionally overrides the node identity payload.
	Definition *config.NodeDefinition

	// InternalIP is the address reported to the cluster. Defaults to
	// "0.0.0.0" when the stack cannot say.
	InternalIP string
}

// Agent is the assembled node. Create with New, drive with Run.
type Agent struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger
	stack  netstack.Stack

	client  *cluster.Client
	region  *memregion.Region
	time    *timesync.Sync
	kubelet *kubelet.Server

	registered    bool
	nextStatus    time.Time
	nextConfigMap time.Time
	nextHealth    time.Time
}

// New wires the subsystems together and binds the kubelet endpoint.
// The periodic duties are all due immediately, so the first Step
// registers the node and fetches the configmap.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	if opts.Stack == nil {
		return nil, errors.New("agent: stack is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	internalIP := opts.InternalIP
	if internalIP == "" {
		internalIP = "0.0.0.0"
	}

	a := &Agent{
		cfg:    cfg,
		clock:  opts.Clock,
		logger: opts.Logger,
		stack:  opts.Stack,
		region: memregion.New(cfg.Memory.RegionSize),
	}
	a.time = timesync.New(a.clock)

	client, err := cluster.New(cluster.Config{
		Host: cfg.Cluster.Host,
		Port: cfg.Cluster.Port,
		Node: cluster.NodeSpec{
			Name:        cfg.Node.Name,
			InternalIP:  internalIP,
			KubeletPort: cfg.Kubelet.Port,
			Definition:  opts.Definition,
		},
		Token:          cfg.Cluster.Token,
		TLS:            opts.TLS,
		Stack:          opts.Stack,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
		Time:           a.time,
		RingSize:       cfg.Transport.RingSize,
		PollInterval:   cfg.Transport.PollInterval.Std(),
		RequestTimeout: cfg.Transport.RequestTimeout.Std(),
		ResponseLimit:  cfg.Transport.ResponseLimit,
	})
	if err != nil {
		return nil, err
	}
	a.client = client

	server, err := kubelet.Listen(opts.Stack, cfg.Kubelet.Port, opts.Logger)
	if err != nil {
		return nil, err
	}
	a.kubelet = server

	now := a.clock.Now()
	a.nextStatus = now
	a.nextConfigMap = now
	a.nextHealth = now
	return a, nil
}

// Region returns the cluster-writable memory region.
func (a *Agent) Region() *memregion.Region { return a.region }

// Time returns the synchronized time reference.
func (a *Agent) Time() *timesync.Sync { return a.time }

// Registered reports whether the node object exists on the cluster.
func (a *Agent) Registered() bool { return a.registered }

// Run drives the loop until ctx is done. Duty failures are logged and
// retried on their next interval; only a cancelled context ends the
// loop.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent loop starting",
		"node", a.cfg.Node.Name,
		"cluster", fmt.Sprintf("%s:%d", a.cfg.Cluster.Host, a.cfg.Cluster.Port),
		"kubelet_port", a.cfg.Kubelet.Port)
	defer a.kubelet.Close()

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info("agent loop stopping", "reason", context.Cause(ctx))
			return err
		}
		a.Step()
		a.clock.Sleep(a.cfg.Transport.PollInterval.Std())
	}
}

// Step runs one loop iteration: poll the stack, then any duties whose
// interval has elapsed. Each duty reschedules from the current time,
// so a slow cycle delays the next rather than bunching them.
func (a *Agent) Step() {
	a.stack.Poll()
	now := a.clock.Now()

	if !now.Before(a.nextStatus) {
		a.statusCycle()
		a.nextStatus = a.clock.Now().Add(a.cfg.Intervals.StatusReport.Std())
	}
	if !now.Before(a.nextConfigMap) {
		a.configMapCycle()
		a.nextConfigMap = a.clock.Now().Add(a.cfg.Intervals.ConfigMapPoll.Std())
	}
	if !now.Before(a.nextHealth) {
		a.healthCheck()
		a.nextHealth = a.clock.Now().Add(a.cfg.Intervals.HealthCheck.Std())
	}
}

// statusCycle keeps the cluster's view of the node fresh. Until the
// first registration succeeds it retries RegisterNode, which itself
// falls through to a status update when the node already exists.
func (a *Agent) statusCycle() {
	if !a.registered {
		if err := a.client.RegisterNode(); err != nil {
			a.logger.Warn("node registration failed, will retry", "error", err)
			return
		}
		a.registered = true
		return
	}
	if err := a.client.ReportStatus(); err != nil {
		a.logger.Warn("status report failed", "error", err)
	}
}

func (a *Agent) configMapCycle() {
	applied, err := a.client.SyncConfigMap(
		a.cfg.ConfigMap.Namespace, a.cfg.ConfigMap.Name, a.region)
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		a.logger.Debug("configmap does not exist yet",
			"namespace", a.cfg.ConfigMap.Namespace, "name", a.cfg.ConfigMap.Name)
	case err != nil:
		a.logger.Warn("configmap poll failed", "error", err)
	case applied > 0:
		a.logger.Info("memory region updated", "updates", applied)
	}
}

// healthCheck is a heartbeat log line: it proves the loop is alive and
// snapshots the node's vitals.
func (a *Agent) healthCheck() {
	stats := a.kubelet.Stats()
	a.logger.Debug("health check",
		"registered", a.registered,
		"time_synced", a.time.Synced(),
		"node_time", a.time.ISO8601(),
		"healthz_served", stats.Healthz,
		"metrics_served", stats.Metrics)
}
