// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/piconode/piconode/lib/config"
)

// Node is the cluster API object the node submits about itself. Only
// the fields the node actually sends are modeled; the API server
// tolerates the rest being absent.
type Node struct {
	Kind       string     `json:"kind"`
	APIVersion string     `json:"apiVersion"`
	Metadata   ObjectMeta `json:"metadata"`
	Status     NodeStatus `json:"status"`
}

// ObjectMeta carries the object name and labels.
type ObjectMeta struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

// NodeStatus is the status block of a Node object.
type NodeStatus struct {
	Conditions      []NodeCondition   `json:"conditions"`
	Addresses       []NodeAddress     `json:"addresses"`
	Capacity        map[string]string `json:"capacity"`
	Allocatable     map[string]string `json:"allocatable"`
	NodeInfo        NodeSystemInfo    `json:"nodeInfo"`
	DaemonEndpoints DaemonEndpoints   `json:"daemonEndpoints"`
}

// NodeCondition reports one aspect of node health. Both timestamps
// are required by the API schema on every condition.
type NodeCondition struct {
	Type               string `json:"type"`
	Status             string `json:"status"`
	LastHeartbeatTime  string `json:"lastHeartbeatTime"`
	LastTransitionTime string `json:"lastTransitionTime"`
	Reason             string `json:"reason"`
	Message            string `json:"message,omitempty"`
}

// NodeAddress associates an address with its kind (InternalIP,
// Hostname).
type NodeAddress struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// NodeSystemInfo identifies the machine and its software versions.
type NodeSystemInfo struct {
	MachineID               string `json:"machineID"`
	SystemUUID              string `json:"systemUUID"`
	BootID                  string `json:"bootID"`
	KernelVersion           string `json:"kernelVersion"`
	OSImage                 string `json:"osImage"`
	ContainerRuntimeVersion string `json:"containerRuntimeVersion"`
	KubeletVersion          string `json:"kubeletVersion"`
	KubeProxyVersion        string `json:"kubeProxyVersion"`
	OperatingSystem         string `json:"operatingSystem"`
	Architecture            string `json:"architecture"`
}

// DaemonEndpoints points the cluster at the node-agent port.
type DaemonEndpoints struct {
	KubeletEndpoint DaemonEndpoint `json:"kubeletEndpoint"`
}

// DaemonEndpoint is one listening port. The capitalized JSON key is
// how the cluster API spells this field.
type DaemonEndpoint struct {
	Port int `json:"Port"`
}

// NodeSpec is the identity the payload is built from.
type NodeSpec struct {
	Name        string
	InternalIP  string
	KubeletPort uint16

	// Definition optionally overrides labels, capacity, OS image, and
	// architecture from the node definition file.
	Definition *config.NodeDefinition
}

const kubeletVersion = "v1.34.0"

// buildNode assembles the full Node payload: baseline identity for a
// small always-ready device, with definition-file overrides merged on
// top. heartbeat and transition stamp every condition.
func buildNode(spec NodeSpec, heartbeat, transition string) *Node {
	arch := "arm"
	osImage := "Piconode"
	labels := map[string]string{
		"beta.kubernetes.io/arch":          arch,
		"beta.kubernetes.io/os":            "linux",
		"kubernetes.io/arch":               arch,
		"kubernetes.io/os":                 "linux",
		"kubernetes.io/hostname":           spec.Name,
		"node.kubernetes.io/instance-type": "rp2040-pico",
	}
	capacity := map[string]string{
		"cpu":    "1",
		"memory": "256Ki",
		"pods":   "0",
	}

	if def := spec.Definition; def != nil {
		if def.Architecture != "" {
			arch = def.Architecture
			labels["beta.kubernetes.io/arch"] = arch
			labels["kubernetes.io/arch"] = arch
		}
		if def.OSImage != "" {
			osImage = def.OSImage
		}
		for k, v := range def.Labels {
			labels[k] = v
		}
		for k, v := range def.Capacity {
			capacity[k] = v
		}
	}

	allocatable := make(map[string]string, len(capacity))
	for k, v := range capacity {
		allocatable[k] = v
	}

	return &Node{
		Kind:       "Node",
		APIVersion: "v1",
		Metadata: ObjectMeta{
			Name:   spec.Name,
			Labels: labels,
		},
		Status: NodeStatus{
			Conditions: stampConditions([]NodeCondition{
				{Type: "Ready", Status: "True", Reason: "KubeletReady", Message: "node is ready"},
				{Type: "MemoryPressure", Status: "False", Reason: "KubeletHasSufficientMemory"},
				{Type: "DiskPressure", Status: "False", Reason: "KubeletHasNoDiskPressure"},
				{Type: "PIDPressure", Status: "False", Reason: "KubeletHasSufficientPID"},
				{Type: "NetworkUnavailable", Status: "False", Reason: "RouteCreated"},
			}, heartbeat, transition),
			Addresses: []NodeAddress{
				{Type: "InternalIP", Address: spec.InternalIP},
				{Type: "Hostname", Address: spec.Name},
			},
			Capacity:    capacity,
			Allocatable: allocatable,
			NodeInfo: NodeSystemInfo{
				MachineID:               spec.Name,
				SystemUUID:              spec.Name,
				BootID:                  spec.Name,
				KernelVersion:           "none",
				OSImage:                 osImage,
				ContainerRuntimeVersion: "mock://1.0.0",
				KubeletVersion:          kubeletVersion,
				KubeProxyVersion:        kubeletVersion,
				OperatingSystem:         "linux",
				Architecture:            arch,
			},
			DaemonEndpoints: DaemonEndpoints{
				KubeletEndpoint: DaemonEndpoint{Port: int(spec.KubeletPort)},
			},
		},
	}
}

func stampConditions(conds []NodeCondition, heartbeat, transition string) []NodeCondition {
	for i := range conds {
		conds[i].LastHeartbeatTime = heartbeat
		conds[i].LastTransitionTime = transition
	}
	return conds
}

func encodeNode(spec NodeSpec, heartbeat, transition string) ([]byte, error) {
	payload, err := json.Marshal(buildNode(spec, heartbeat, transition))
	if err != nil {
		return nil, fmt.Errorf("cluster: encode node: %w", err)
	}
	return payload, nil
}
