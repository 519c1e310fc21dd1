// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/elastic/go-esblocks"
)

const defaultBatchSize = 100

// fileConfig is the YAML configuration of the command.
type fileConfig struct {
	Elasticsearch    elasticsearchConfig `yaml:"elasticsearch"`
	Index            string              `yaml:"index"`
	DocType          string              `yaml:"doc_type"`
	Enrich           enrichConfig        `yaml:"enrich"`
	Retry            retryConfig         `yaml:"retry"`
	RequestTimeout   time.Duration       `yaml:"request_timeout"`
	CompressionLevel int                 `yaml:"compression_level"`
	BatchSize        int                 `yaml:"batch_size"`
	Insert           insertConfig        `yaml:"insert"`
	Find             findConfig          `yaml:"find"`
	Logging          loggingConfig       `yaml:"logging"`
}

type elasticsearchConfig struct {
	Host          string         `yaml:"host"`
	Port          int            `yaml:"port"`
	Username      string         `yaml:"username"`
	Password      string         `yaml:"password"`
	HTTPS         bool           `yaml:"https"`
	ClientOptions map[string]any `yaml:"client_options"`
}

type enrichConfig struct {
	Mode  string `yaml:"mode"` // none, merge, field
	Field string `yaml:"field"`
}

type retryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"` // multiplied by the attempt number
}

type insertConfig struct {
	IncludeType bool   `yaml:"include_type"`
	Bulk        bool   `yaml:"bulk"`
	Refresh     string `yaml:"refresh"`
	Pipeline    string `yaml:"pipeline"`
}

type findConfig struct {
	Condition       string            `yaml:"condition"`
	StrictCondition bool              `yaml:"strict_condition"`
	Size            string            `yaml:"size"`
	Offset          string            `yaml:"offset"`
	Sort            []sortFieldConfig `yaml:"sort"`
	PrettyResults   bool              `yaml:"pretty_results"`
}

type sortFieldConfig struct {
	Key       string `yaml:"key"`
	Direction string `yaml:"direction"`
}

type loggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// envVarRegex matches ${VAR} and ${VAR:-default}. Bare $VAR is left alone,
// since expressions use it to refer to signal fields.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		name, defaultVal, hasDefault := strings.Cut(string(match[2:len(match)-1]), ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// loadConfig reads the configuration at path, expanding environment
// variables. An empty path yields the defaults.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fileConfig{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
			return fileConfig{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return cfg, nil
}

// blockConfig returns the shared block configuration.
func (c fileConfig) blockConfig(logger *zap.Logger) (esblocks.Config, error) {
	enrich, err := c.Enrich.enrichConfig()
	if err != nil {
		return esblocks.Config{}, err
	}
	cfg := esblocks.Config{
		Host: c.Elasticsearch.Host,
		Port: c.Elasticsearch.Port,
		Auth: esblocks.AuthConfig{
			Username: c.Elasticsearch.Username,
			Password: c.Elasticsearch.Password,
			UseHTTPS: c.Elasticsearch.HTTPS,
		},
		Index:            c.Index,
		DocType:          c.DocType,
		Enrich:           enrich,
		Retry:            esblocks.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts},
		RequestTimeout:   c.RequestTimeout,
		CompressionLevel: c.CompressionLevel,
		Logger:           logger,
	}
	if len(c.Elasticsearch.ClientOptions) > 0 {
		cfg.ClientOptions = c.Elasticsearch.ClientOptions
	}
	if d := c.Retry.Delay; d > 0 {
		cfg.Retry.Delay = func(attempt int) time.Duration {
			return time.Duration(attempt) * d
		}
	}
	return cfg, nil
}

func (c enrichConfig) enrichConfig() (esblocks.EnrichConfig, error) {
	switch c.Mode {
	case "", "none":
		return esblocks.EnrichConfig{}, nil
	case "merge":
		return esblocks.EnrichConfig{Mode: esblocks.EnrichMerge}, nil
	case "field":
		return esblocks.EnrichConfig{Mode: esblocks.EnrichField, Field: c.Field}, nil
	}
	return esblocks.EnrichConfig{}, fmt.Errorf("enrich.mode must be one of none, merge or field, got %q", c.Mode)
}

func (c fileConfig) insertConfig(cfg esblocks.Config) esblocks.InsertConfig {
	return esblocks.InsertConfig{
		Config:      cfg,
		IncludeType: c.Insert.IncludeType,
		Bulk:        c.Insert.Bulk,
		Refresh:     c.Insert.Refresh,
		Pipeline:    c.Insert.Pipeline,
	}
}

func (c fileConfig) findConfig(cfg esblocks.Config) esblocks.FindConfig {
	sort := make([]esblocks.SortField, len(c.Find.Sort))
	for i, f := range c.Find.Sort {
		sort[i] = esblocks.SortField{Key: f.Key, Direction: esblocks.SortDirection(f.Direction)}
	}
	return esblocks.FindConfig{
		Config:          cfg,
		Condition:       c.Find.Condition,
		StrictCondition: c.Find.StrictCondition,
		Size:            c.Find.Size,
		Offset:          c.Find.Offset,
		Sort:            sort,
		PrettyResults:   c.Find.PrettyResults,
	}
}

// newLogger returns a JSON logger writing to stderr at the configured level.
func (c loggingConfig) newLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("invalid logging.level: %w", err)
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
