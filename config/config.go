// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

// Package config loads the sizing and diagnostic knobs the heap and
// process entry need, following the retrieved corpus's manifest.toml
// pattern: BurntSushi/toml for an optional file, xyproto/env/v2 for
// environment overrides on top of compiled-in defaults.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/xyproto/env/v2"
)

// Config holds every knob the runtime's ambient stack reads at
// startup.
type Config struct {
	HeapSize        uint          `toml:"heap_size"`
	ReservedSize    uint          `toml:"reserved_size"`
	StackSize       uint          `toml:"stack_size"`
	TracebackSize   uint          `toml:"traceback_size"`
	MaxHeapObject   uint          `toml:"max_heap_object"`
	MaxBigObject    uint          `toml:"max_big_object"`
	GCLatencyMillis uint          `toml:"gc_latency_millis"`
	PrintGCStats    bool          `toml:"print_gc_stats"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		HeapSize:        4 << 20,
		ReservedSize:    256 << 20,
		StackSize:       4096,
		TracebackSize:   256,
		MaxHeapObject:   4096,
		MaxBigObject:    (1 << 32) / 8,
		GCLatencyMillis: 50,
		PrintGCStats:    false,
	}
}

// Load reads a TOML file at path, starting from Default() so any
// field the file omits keeps its compiled-in value.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}

// WithEnvOverrides applies OME_* environment variables on top of c,
// leaving any field whose variable is unset untouched.
func (c Config) WithEnvOverrides() Config {
	c.HeapSize = uint(env.Int("OME_HEAP_SIZE", int(c.HeapSize)))
	c.ReservedSize = uint(env.Int("OME_RESERVED_SIZE", int(c.ReservedSize)))
	c.StackSize = uint(env.Int("OME_STACK_SIZE", int(c.StackSize)))
	c.TracebackSize = uint(env.Int("OME_TRACEBACK_SIZE", int(c.TracebackSize)))
	c.MaxHeapObject = uint(env.Int("OME_MAX_HEAP_OBJECT", int(c.MaxHeapObject)))
	c.MaxBigObject = uint(env.Int("OME_MAX_BIG_OBJECT", int(c.MaxBigObject)))
	c.GCLatencyMillis = uint(env.Int("OME_GC_LATENCY_MILLIS", int(c.GCLatencyMillis)))
	if os.Getenv("OME_PRINT_GC_STATS") != "" {
		c.PrintGCStats = env.Bool("OME_PRINT_GC_STATS")
	}
	return c
}

// GCLatency converts GCLatencyMillis to a time.Duration.
func (c Config) GCLatency() time.Duration {
	return time.Duration(c.GCLatencyMillis) * time.Millisecond
}
