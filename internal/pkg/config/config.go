// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the knobs of the memory model: the allocator table
// and the naming conventions used to recognize unions and anonymous types.
package config

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"sync"

	log "github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"

	"github.com/google/go-kanalyzer/internal/pkg/config/regexp"
)

// FlagSet should be used by tools to reuse the -config flag.
var FlagSet flag.FlagSet
var configFile string

func init() {
	FlagSet.StringVar(&configFile, "config", "", "path to analysis configuration file")
}

const (
	defaultUnionTypeRE = `^union`
	defaultAnonTypeRE  = `^(struct|union)\.anon`
	defaultLogLevel    = "info"
)

// Config contains the allocator table and naming conventions.
type Config struct {
	// AllocFns adds to, or overrides by name, the built-in allocator table.
	AllocFns []AllocFn
	// NoDefaultAllocFns drops the built-in allocator table.
	NoDefaultAllocFns bool
	// UnionTypeRE matches the LLVM names of union types.
	UnionTypeRE *regexp.Regexp
	// AnonTypeRE matches the LLVM names of anonymous struct and union types,
	// which are qualified by their module.
	AnonTypeRE *regexp.Regexp
	LogLevel   string

	allocFns map[string]AllocFn
}

// AllocFn describes a heap allocator. Argument indices are zero-based;
// -1 means the allocator has no such argument.
type AllocFn struct {
	Name     string
	SizeArg  int
	FlagArg  int
	CountArg int
}

// this type uses the default unmarshaler and mirrors configuration key-value pairs
type rawAllocFn AllocFn

func (a *AllocFn) UnmarshalJSON(b []byte) error {
	raw := rawAllocFn{SizeArg: -1, FlagArg: -1, CountArg: -1}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return fmt.Errorf("allocator entry without Name")
	}
	if raw.SizeArg < -1 || raw.FlagArg < -1 || raw.CountArg < -1 {
		return fmt.Errorf("allocator %s: argument indices must be >= -1", raw.Name)
	}
	*a = AllocFn(raw)
	return nil
}

// defaultAllocFns are the kernel and libc allocators recognized without
// any configuration.
var defaultAllocFns = []AllocFn{
	{Name: "malloc", SizeArg: 0, FlagArg: -1, CountArg: -1},
	{Name: "calloc", SizeArg: 1, FlagArg: -1, CountArg: 0},
	{Name: "realloc", SizeArg: 1, FlagArg: -1, CountArg: -1},
	{Name: "kmalloc", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "__kmalloc", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kmalloc_node", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "__kmalloc_node", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "__kmalloc_track_caller", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kzalloc", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kzalloc_node", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kcalloc", SizeArg: 1, FlagArg: 2, CountArg: 0},
	{Name: "kmalloc_array", SizeArg: 1, FlagArg: 2, CountArg: 0},
	{Name: "krealloc", SizeArg: 1, FlagArg: 2, CountArg: -1},
	{Name: "kmemdup", SizeArg: 1, FlagArg: 2, CountArg: -1},
	{Name: "kstrdup", SizeArg: -1, FlagArg: 1, CountArg: -1},
	{Name: "vmalloc", SizeArg: 0, FlagArg: -1, CountArg: -1},
	{Name: "vzalloc", SizeArg: 0, FlagArg: -1, CountArg: -1},
	{Name: "__vmalloc", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kvmalloc", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kvzalloc", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kvmalloc_node", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "devm_kmalloc", SizeArg: 1, FlagArg: 2, CountArg: -1},
	{Name: "devm_kzalloc", SizeArg: 1, FlagArg: 2, CountArg: -1},
	{Name: "sock_kmalloc", SizeArg: 1, FlagArg: 2, CountArg: -1},
	{Name: "__alloc_skb", SizeArg: 0, FlagArg: 1, CountArg: -1},
	{Name: "kmem_cache_alloc", SizeArg: -1, FlagArg: 1, CountArg: -1},
	{Name: "kmem_cache_zalloc", SizeArg: -1, FlagArg: 1, CountArg: -1},
	{Name: "kmem_cache_alloc_node", SizeArg: -1, FlagArg: 1, CountArg: -1},
	{Name: "__get_free_pages", SizeArg: -1, FlagArg: 0, CountArg: -1},
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := new(Config)
	if err := c.finish(); err != nil {
		// The built-in values are constants; failing here is a programming error.
		panic(err)
	}
	return c
}

// finish fills unset keys with their defaults, validates them, and builds
// the allocator lookup table.
func (c *Config) finish() error {
	if c.UnionTypeRE == nil {
		c.UnionTypeRE = regexp.New(defaultUnionTypeRE)
	}
	if c.AnonTypeRE == nil {
		c.AnonTypeRE = regexp.New(defaultAnonTypeRE)
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	c.allocFns = map[string]AllocFn{}
	if !c.NoDefaultAllocFns {
		for _, a := range defaultAllocFns {
			c.allocFns[a.Name] = a
		}
	}
	for _, a := range c.AllocFns {
		c.allocFns[a.Name] = a
	}
	return nil
}

// Level returns the configured logrus level.
func (c *Config) Level() log.Level {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// AllocFn returns the allocator table entry for the function name.
// Matching is by exact name.
func (c *Config) AllocFn(name string) (AllocFn, bool) {
	a, ok := c.allocFns[name]
	return a, ok
}

// IsAllocFn reports whether name is a registered heap allocator.
func (c *Config) IsAllocFn(name string) bool {
	_, ok := c.allocFns[name]
	return ok
}

// IsUnionType reports whether an LLVM struct name denotes a C union.
func (c *Config) IsUnionType(name string) bool {
	return name != "" && c.UnionTypeRE.MatchString(name)
}

// IsAnonType reports whether an LLVM struct name denotes an anonymous
// struct or union.
func (c *Config) IsAnonType(name string) bool {
	return name != "" && c.AnonTypeRE.MatchString(name)
}

func parse(b []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return nil, err
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

var readFileOnce sync.Once
var readConfigCached *Config
var readConfigCachedErr error

// ReadConfig loads the file named by the -config flag, or returns the
// default configuration when the flag is unset. The result is cached.
func ReadConfig() (*Config, error) {
	readFileOnce.Do(func() {
		if configFile == "" {
			readConfigCached = Default()
			return
		}
		data, err := ioutil.ReadFile(configFile)
		if err != nil {
			readConfigCachedErr = fmt.Errorf("error reading analysis config: %v", err)
			return
		}
		readConfigCached, readConfigCachedErr = parse(data)
	})
	return readConfigCached, readConfigCachedErr
}

// SetConfig sets the config returned by ReadConfig.
// ReadConfig does not read any file after this call.
func SetConfig(c *Config) {
	readFileOnce.Do(func() {})
	readConfigCached, readConfigCachedErr = c, c.finish()
}

// SetBytes parses b and makes the result the config returned by ReadConfig.
func SetBytes(b []byte) {
	readFileOnce.Do(func() {})
	readConfigCached, readConfigCachedErr = parse(b)
}

// Load parses a configuration file without touching the ReadConfig cache.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading analysis config: %v", err)
	}
	return parse(data)
}
