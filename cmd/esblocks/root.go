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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elastic/go-esblocks"
)

// maxLineSize bounds a single NDJSON signal.
const maxLineSize = 16 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// block is the part of the esblocks blocks driven by the command.
type block interface {
	Configure() error
	Start() error
	Stop() error
	Connected(ctx context.Context) (bool, error)
	ProcessSignals(ctx context.Context, signals []esblocks.Signal) error
}

type options struct {
	configPath string
	batchSize  int
}

func newRootCmd() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "esblocks",
		Short:         "Run Elasticsearch blocks over NDJSON signals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration")
	root.PersistentFlags().IntVar(&opts.batchSize, "batch-size", 0, "Signals per batch, overrides batch_size")

	root.AddCommand(
		&cobra.Command{
			Use:   "insert",
			Short: "Index every signal read from stdin, writing the generated ids to stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBlock(cmd, opts, func(c fileConfig, cfg esblocks.Config) (block, error) {
					return esblocks.NewInsert(c.insertConfig(cfg))
				})
			},
		},
		&cobra.Command{
			Use:   "find",
			Short: "Search for every signal read from stdin, writing the hits to stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBlock(cmd, opts, func(c fileConfig, cfg esblocks.Config) (block, error) {
					return esblocks.NewFind(c.findConfig(cfg))
				})
			},
		},
		&cobra.Command{
			Use:   "ping",
			Short: "Check that Elasticsearch is reachable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ping(cmd, opts)
			},
		},
	)
	return root
}

type newBlockFunc func(c fileConfig, cfg esblocks.Config) (block, error)

func setup(opts options) (fileConfig, esblocks.Config, error) {
	c, err := loadConfig(opts.configPath)
	if err != nil {
		return fileConfig{}, esblocks.Config{}, err
	}
	if opts.batchSize > 0 {
		c.BatchSize = opts.batchSize
	}
	logger, err := c.Logging.newLogger()
	if err != nil {
		return fileConfig{}, esblocks.Config{}, err
	}
	cfg, err := c.blockConfig(logger)
	if err != nil {
		return fileConfig{}, esblocks.Config{}, err
	}
	return c, cfg, nil
}

func runBlock(cmd *cobra.Command, opts options, newBlock newBlockFunc) error {
	c, cfg, err := setup(opts)
	if err != nil {
		return err
	}
	logger := cfg.Logger
	defer logger.Sync()

	out := newSignalWriter(cmd.OutOrStdout(), logger)
	cfg.Notifier = out
	b, err := newBlock(c, cfg)
	if err != nil {
		return err
	}
	if err := b.Configure(); err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, b, cmd.InOrStdin(), c.BatchSize, logger); err != nil {
		return err
	}
	return out.flush()
}

func ping(cmd *cobra.Command, opts options) error {
	c, cfg, err := setup(opts)
	if err != nil {
		return err
	}
	defer cfg.Logger.Sync()
	b, err := esblocks.NewInsert(c.insertConfig(cfg))
	if err != nil {
		return err
	}
	if err := b.Configure(); err != nil {
		return err
	}
	ok, err := b.Connected(cmd.Context())
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping failed: elasticsearch returned an error")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "connected")
	return nil
}

// run reads signals from r and feeds them to b in batches of batchSize.
// Lines that are not JSON objects are logged and skipped.
func run(ctx context.Context, b block, r io.Reader, batchSize int, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan []esblocks.Signal)

	g.Go(func() error {
		defer close(batches)
		send := func(batch []esblocks.Signal) error {
			select {
			case batches <- batch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		batch := make([]esblocks.Signal, 0, batchSize)
		var line int
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			var s esblocks.Signal
			if err := json.UnmarshalFromString(text, &s); err != nil || s == nil {
				logger.Warn("skipping invalid signal", zap.Int("line", line), zap.Error(err))
				continue
			}
			batch = append(batch, s)
			if len(batch) == batchSize {
				if err := send(batch); err != nil {
					return err
				}
				batch = make([]esblocks.Signal, 0, batchSize)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read signals: %w", err)
		}
		if len(batch) > 0 {
			return send(batch)
		}
		return nil
	})

	g.Go(func() error {
		for batch := range batches {
			if err := b.ProcessSignals(ctx, batch); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// signalWriter writes notified signals as NDJSON.
type signalWriter struct {
	w      *bufio.Writer
	enc    *jsoniter.Encoder
	logger *zap.Logger
}

func newSignalWriter(w io.Writer, logger *zap.Logger) *signalWriter {
	bw := bufio.NewWriter(w)
	return &signalWriter{w: bw, enc: json.NewEncoder(bw), logger: logger}
}

func (sw *signalWriter) NotifySignals(_ string, signals []esblocks.Signal) {
	for _, s := range signals {
		if err := sw.enc.Encode(s); err != nil {
			sw.logger.Error("failed to write signal", zap.Error(err))
		}
	}
	if err := sw.w.Flush(); err != nil {
		sw.logger.Error("failed to flush output", zap.Error(err))
	}
}

func (sw *signalWriter) flush() error {
	return sw.w.Flush()
}
