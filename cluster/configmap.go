// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"errors"

	"github.com/piconode/piconode/lib/memregion"
)

// ErrNotFound reports that the requested object does not exist. The
// configmap poll treats this as normal: the map may simply not have
// been created yet.
var ErrNotFound = errors.New("cluster: object not found")

// memoryValuesKey is the configmap data field holding the memory
// update string.
const memoryValuesKey = "memory_values"

// configMap models the slice of the ConfigMap object the node reads.
type configMap struct {
	Kind     string            `json:"kind"`
	Metadata ObjectMeta        `json:"metadata"`
	Data     map[string]string `json:"data"`
}

// SyncConfigMap fetches the named configmap and applies its memory
// update string to the region. Returns the number of updates applied;
// a map without the expected data field applies nothing.
func (c *Client) SyncConfigMap(namespace, name string, region *memregion.Region) (int, error) {
	path := "/api/v1/namespaces/" + namespace + "/configmaps/" + name
	resp, err := c.do("GET", path, "", nil)
	if err != nil {
		return 0, err
	}
	switch {
	case resp.StatusCode == 404:
		return 0, ErrNotFound
	case resp.StatusCode != 200:
		return 0, &StatusError{Method: "GET", Path: path, Status: resp.StatusCode}
	}

	var cm configMap
	if err := decodeJSON(resp, &cm); err != nil {
		return 0, err
	}
	values := cm.Data[memoryValuesKey]
	if values == "" {
		c.logger.Debug("configmap has no memory values",
			"namespace", namespace, "name", name)
		return 0, nil
	}
	applied := region.ApplyUpdates(values)
	c.logger.Info("configmap applied",
		"namespace", namespace, "name", name, "updates", applied)
	return applied, nil
}
