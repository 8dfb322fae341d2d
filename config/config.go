// Package config parses the declarative step-sequence YAML
// into a closed sum type over step variants, validating at parse time:
// a malformed step fails fast with ConfigError, before anything is
// enqueued.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package config

import (
	"gopkg.in/yaml.v3"

	"github.com/xufeisofly/datarig/cmn/cos"
)

// CommitMarker is the literal step string that triggers a durable commit.
const CommitMarker = "commit"

// AggregateSpec drives a post-step reduction over one document field.
// YAML accepts either a bare string (the aggregator type name) or a map
// with "type" plus optional "transform" and extra aggregator-specific
// keys.
type AggregateSpec struct {
	Type      string
	Transform string
	Extra     map[string]any
}

func (a *AggregateSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&a.Type)
	}
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		return cos.NewErrConfig("_aggregate entry missing required 'type'")
	}
	a.Type = typ
	if tr, ok := raw["transform"].(string); ok {
		a.Transform = tr
	}
	a.Extra = make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "type" || k == "transform" {
			continue
		}
		a.Extra[k] = v
	}
	return nil
}

// Step is either a commit marker or a mapper invocation, optionally paired
// with an _aggregate spec. Kept as one struct (rather than an interface)
// so the executor can switch on IsCommit and exec.IsGlobal(Func) without
// type assertions.
type Step struct {
	IsCommit  bool
	Func      string
	Args      map[string]any
	Aggregate map[string]AggregateSpec
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var lit string
		if err := node.Decode(&lit); err != nil {
			return err
		}
		if lit != CommitMarker {
			return cos.NewErrConfig("bare string step must be %q, got %q", CommitMarker, lit)
		}
		s.IsCommit = true
		return nil
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	funcName, _ := raw["func"].(string)
	if funcName == "" {
		return cos.NewErrConfig("step map missing required 'func'")
	}
	s.Func = funcName
	s.Args = make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "func" || k == "_aggregate" {
			continue
		}
		s.Args[k] = v
	}

	if aggNode, ok := lookupNode(node, "_aggregate"); ok {
		var aggRaw map[string]AggregateSpec
		if err := aggNode.Decode(&aggRaw); err != nil {
			return cos.NewErrConfig("step %q: malformed _aggregate: %v", funcName, err)
		}
		s.Aggregate = aggRaw
	}
	return nil
}

// lookupNode finds a mapping key's value node directly, since a Step's
// generic map[string]any decode above loses node-level typing needed to
// re-decode _aggregate precisely.
func lookupNode(node *yaml.Node, key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1], true
		}
	}
	return nil, false
}

// Source is one top-level entry: a named pipeline of steps.
type Source struct {
	Source string `yaml:"source"`
	Steps  []Step `yaml:"steps"`
}

// Parse validates and decodes the top-level step configuration YAML.
func Parse(raw []byte) ([]Source, error) {
	var sources []Source
	if err := yaml.Unmarshal(raw, &sources); err != nil {
		return nil, cos.NewErrConfig("yaml: %v", err)
	}
	for i := range sources {
		if sources[i].Source == "" {
			return nil, cos.NewErrConfig("source entry %d missing required 'source' name", i)
		}
	}
	return sources, nil
}

// ForSource returns the step sequence for a named source, or ConfigError
// if absent.
func ForSource(sources []Source, name string) ([]Step, error) {
	for _, s := range sources {
		if s.Source == name {
			return s.Steps, nil
		}
	}
	return nil, cos.NewErrConfig("no source named %q in configuration", name)
}
