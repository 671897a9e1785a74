// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// NodeDefinition is the optional JSONC document describing how the
// node presents itself to the cluster beyond the built-in identity:
// extra labels, capacity overrides, and cosmetic node info. Comments
// and trailing commas are allowed; operators hand-edit these files.
type NodeDefinition struct {
	// Labels are merged over the built-in node labels.
	Labels map[string]string `json:"labels"`

	// Capacity overrides individual capacity entries (for example
	// "memory": "264Ki").
	Capacity map[string]string `json:"capacity"`

	// OSImage and Architecture override the reported node info.
	OSImage      string `json:"osImage"`
	Architecture string `json:"architecture"`
}

// LoadNodeDefinition reads a JSONC node definition file.
func LoadNodeDefinition(path string) (*NodeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def NodeDefinition
	if err := json.Unmarshal(jsonc.ToJSON(data), &def); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &def, nil
}
