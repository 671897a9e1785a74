// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Piconode-apiserver-mock is a development stand-in for the cluster
// API server: it accepts node registrations and status patches and
// serves a configmap whose memory values come from a flag. It exists
// so a piconode can be exercised end to end without a real cluster.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/pflag"

	"github.com/piconode/piconode/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var listen string
	var memoryValues string
	var showVersion bool

	flags := pflag.NewFlagSet("piconode-apiserver-mock", pflag.ContinueOnError)
	flags.StringVar(&listen, "listen", ":6443", "listen address")
	flags.StringVar(&memoryValues, "memory-values", "0=0x42,1=0x43", "memory_values served in the configmap")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("piconode-apiserver-mock %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	srv := &mockServer{
		logger:       logger,
		memoryValues: memoryValues,
		nodes:        make(map[string]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/nodes", srv.createNode)
	mux.HandleFunc("PATCH /api/v1/nodes/{name}/status", srv.patchStatus)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/configmaps/{name}", srv.getConfigMap)

	logger.Info("mock API server listening",
		"addr", listen, "version", version.Info())
	return http.ListenAndServe(listen, mux)
}

type mockServer struct {
	logger       *slog.Logger
	memoryValues string

	mu    sync.Mutex
	nodes map[string]json.RawMessage
}

type nodeMeta struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
}

func (s *mockServer) createNode(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	var meta nodeMeta
	if err := json.Unmarshal(body, &meta); err != nil || meta.Metadata.Name == "" {
		http.Error(w, "not a node object", http.StatusBadRequest)
		return
	}
	name := meta.Metadata.Name

	s.mu.Lock()
	_, exists := s.nodes[name]
	if !exists {
		s.nodes[name] = body
	}
	s.mu.Unlock()

	if exists {
		s.logger.Info("node already exists", "node", name)
		writeJSON(w, http.StatusConflict, map[string]any{
			"kind":    "Status",
			"status":  "Failure",
			"reason":  "AlreadyExists",
			"code":    http.StatusConflict,
			"message": fmt.Sprintf("nodes %q already exists", name),
		})
		return
	}
	s.logger.Info("node registered", "node", name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

func (s *mockServer) patchStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, exists := s.nodes[name]
	if exists {
		s.nodes[name] = body
	}
	s.mu.Unlock()

	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"kind":   "Status",
			"status": "Failure",
			"reason": "NotFound",
			"code":   http.StatusNotFound,
		})
		return
	}
	s.logger.Info("node status patched", "node", name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *mockServer) getConfigMap(w http.ResponseWriter, r *http.Request) {
	namespace := r.PathValue("namespace")
	name := r.PathValue("name")
	s.logger.Info("configmap served", "namespace", namespace, "name", name)
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":       "ConfigMap",
		"apiVersion": "v1",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
		},
		"data": map[string]string{
			"memory_values": s.memoryValues,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
