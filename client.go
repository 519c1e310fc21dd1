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

package esblocks

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildHostURL returns the base URL of the Elasticsearch node, including
// credentials when a username is set.
func BuildHostURL(host string, port int, auth AuthConfig) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	if auth.UseHTTPS {
		u.Scheme = "https"
	}
	if auth.Username != "" {
		u.User = url.UserPassword(auth.Username, auth.Password)
	}
	return u.String()
}

// clientOptions are the free-form options recognised on top of the host URL.
type clientOptions struct {
	Hosts               []string          `json:"hosts"`
	APIKey              string            `json:"api_key"`
	CACert              string            `json:"ca_cert"`
	MaxRetries          *int              `json:"max_retries"`
	RetryOnStatus       []int             `json:"retry_on_status"`
	DisableRetry        bool              `json:"disable_retry"`
	CompressRequestBody bool              `json:"compress_request_body"`
	Headers             map[string]string `json:"headers"`
}

// ClientConfig returns the go-elasticsearch configuration for url, with
// options merged on top of the default {"hosts": [url]}.
//
// options may be nil, a map or a string holding a JSON object. An empty
// string is the same as nil. Options that cannot be decoded are logged as
// a warning and the defaults are returned.
//
// Retries are owned by the block's RetryPolicy, so the transport's own
// retry is disabled unless max_retries or retry_on_status is given.
func ClientConfig(url string, options any, logger *zap.Logger) elasticsearch.Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := elasticsearch.Config{Addresses: []string{url}, DisableRetry: true}
	opts, err := decodeClientOptions(options)
	if err != nil {
		logger.Warn("client options need to be a JSON object, using defaults",
			zap.Any("client_options", options), zap.Error(err),
		)
		return cfg
	}
	if len(opts.Hosts) > 0 {
		cfg.Addresses = opts.Hosts
	}
	cfg.APIKey = opts.APIKey
	if opts.CACert != "" {
		cfg.CACert = []byte(opts.CACert)
	}
	if opts.MaxRetries != nil {
		cfg.MaxRetries = *opts.MaxRetries
	}
	cfg.RetryOnStatus = opts.RetryOnStatus
	cfg.DisableRetry = opts.DisableRetry || (opts.MaxRetries == nil && len(opts.RetryOnStatus) == 0)
	cfg.CompressRequestBody = opts.CompressRequestBody
	if len(opts.Headers) > 0 {
		cfg.Header = make(http.Header, len(opts.Headers))
		for k, v := range opts.Headers {
			cfg.Header.Set(k, v)
		}
	}
	return cfg
}

func decodeClientOptions(options any) (clientOptions, error) {
	var opts clientOptions
	var raw []byte
	switch v := options.(type) {
	case nil:
		return opts, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return opts, nil
		}
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := jsoniter.Marshal(v)
		if err != nil {
			return opts, err
		}
		raw = b
	}
	if err := jsoniter.Unmarshal(raw, &opts); err != nil {
		return clientOptions{}, err
	}
	return opts, nil
}

// transportLogger logs every round trip of the Elasticsearch transport at
// debug level.
type transportLogger struct {
	logger *zap.Logger
}

func newTransportLogger(logger *zap.Logger) elastictransport.Logger {
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		return nil
	}
	return &transportLogger{logger: logger.Named("elasticsearch")}
}

func (l *transportLogger) LogRoundTrip(req *http.Request, res *http.Response, err error, start time.Time, dur time.Duration) error {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("took", dur),
	}
	if res != nil {
		fields = append(fields, zap.Int("status", res.StatusCode))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.logger.Debug("elasticsearch round trip", fields...)
	return nil
}

func (l *transportLogger) RequestBodyEnabled() bool  { return false }
func (l *transportLogger) ResponseBodyEnabled() bool { return false }
