// Package mappers is the process-local registry mapping a step's func name
// to a factory that builds a document -> []document callable, plus the
// _safe/_profile wrapping and _aggregate reduction the executor relies on.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package mappers

import (
	"fmt"
	"sync"
	"time"

	"github.com/xufeisofly/datarig/cmn/cos"
	"github.com/xufeisofly/datarig/doc"
)

// Mapper transforms one document into zero, one, or several output
// documents. A factory may hold expensive immutable state (regexes,
// wordlists) constructed once per worker process.
type Mapper func(d doc.Document) ([]doc.Document, error)

// Factory builds a Mapper from a step's argument map.
type Factory func(args map[string]any) (Mapper, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register installs a mapper factory under name. Called from init() by
// each builtin mapper file; panics on duplicate registration since that
// can only be a programming error, never a runtime condition.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("mappers: duplicate registration for %q", name))
	}
	registry[name] = f
}

// Build constructs the mapper named by funcName, or ConfigError if no such
// factory is registered.
func Build(funcName string, args map[string]any) (Mapper, error) {
	mu.RLock()
	f, ok := registry[funcName]
	mu.RUnlock()
	if !ok {
		return nil, cos.NewErrConfig("no mapper registered under func name %q", funcName)
	}
	return f(args)
}

// Profile wraps m to also return the call's wall-clock duration.
func Profile(m Mapper) func(doc.Document) ([]doc.Document, time.Duration, error) {
	return func(d doc.Document) ([]doc.Document, time.Duration, error) {
		start := time.Now()
		out, err := m(d)
		return out, time.Since(start), err
	}
}

// Safe wraps m so a panicking mapper body is converted into an error
// return rather than crashing the worker process, matching the source
// baseline's per-document try/except boundary.
func Safe(step string, m Mapper) Mapper {
	return func(d doc.Document) (out []doc.Document, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = cos.NewErrMapper(step, fmt.Errorf("panic: %v", r))
			}
		}()
		out, err = m(d)
		if err != nil {
			err = cos.NewErrMapper(step, err)
		}
		return out, err
	}
}
