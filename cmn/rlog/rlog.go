// Package rlog provides a single shared, leveled, structured logger keyed by
// component name, backed by zerolog.
/*
 * Copyright (c) 2018-2024, the datarig authors. All rights reserved.
 */
package rlog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	base zerolog.Logger
	once sync.Once
)

func root() zerolog.Logger {
	once.Do(func() {
		level := zerolog.InfoLevel
		if v := os.Getenv("DATARIG_LOG_LEVEL"); v != "" {
			if l, err := zerolog.ParseLevel(v); err == nil {
				level = l
			}
		}
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()
	})
	return base
}

// Of returns a logger scoped to one component (e.g. "store", "queue",
// "lock", "exec", "worker", "split").
func Of(component string) zerolog.Logger {
	return root().With().Str("component", component).Logger()
}
