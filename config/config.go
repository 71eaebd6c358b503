// Package config loads fleck configuration from YAML files and FLECK_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration of a fleck application
type Config struct {
	AppName   string           `yaml:"app_name"`
	RabbitMQ  RabbitMQConfig   `yaml:"rabbitmq"`
	Log       LogConfig        `yaml:"log"`
	Client    ClientConfig     `yaml:"client"`
	Consumers []ConsumerConfig `yaml:"consumers"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// RabbitMQConfig holds the broker connection settings. URL wins over the
// individual fields when set.
type RabbitMQConfig struct {
	URL            string        `yaml:"url"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	VHost          string        `yaml:"vhost"`
	Hosts          []string      `yaml:"hosts"` // host[:port] candidates ranked by latency
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxRetries     int           `yaml:"max_retries"` // 0 retries forever
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RatingRefresh  time.Duration `yaml:"rating_refresh"`
	RatingPeriod   time.Duration `yaml:"rating_period"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level    string `yaml:"level"`  // debug, info, warn, error
	Format   string `yaml:"format"` // text, json
	Progname string `yaml:"progname"`
}

// ClientConfig holds the defaults of clients built by the application
type ClientConfig struct {
	Queue             string        `yaml:"queue"`
	ExchangeType      string        `yaml:"exchange_type"`
	ExchangeName      string        `yaml:"exchange_name"`
	MultipleResponses bool          `yaml:"multiple_responses"`
	Concurrency       int           `yaml:"concurrency"`
	Timeout           time.Duration `yaml:"timeout"`
	AppID             string        `yaml:"app_id"`
	Mandatory         bool          `yaml:"mandatory"`
	RateLimit         float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst         int           `yaml:"rate_burst"`
	BreakerThreshold  uint32        `yaml:"breaker_threshold"` // consecutive failures, 0 disables
	BreakerReset      time.Duration `yaml:"breaker_reset"`
}

// ConsumerConfig holds the broker settings of one consumer definition
type ConsumerConfig struct {
	Name         string `yaml:"name"`
	Queue        string `yaml:"queue"`
	ExchangeType string `yaml:"exchange_type"`
	ExchangeName string `yaml:"exchange_name"`
	Concurrency  int    `yaml:"concurrency"`
	Prefetch     int    `yaml:"prefetch"`
	Mandatory    bool   `yaml:"mandatory"`
	Autostart    *bool  `yaml:"autostart"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		AppName: filepath.Base(os.Args[0]),
		RabbitMQ: RabbitMQConfig{
			Host:           "127.0.0.1",
			Port:           5672,
			VHost:          "/",
			ReconnectDelay: 5 * time.Second,
			MaxRetries:     0,
			DialTimeout:    30 * time.Second,
			RatingRefresh:  30 * time.Second,
			RatingPeriod:   5 * time.Minute,
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "text",
			Progname: "Fleck",
		},
		Client: ClientConfig{
			Queue:        "default",
			ExchangeType: "direct",
			Concurrency:  1,
			Mandatory:    true,
			RateBurst:    1,
			BreakerReset: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads filename over the defaults, then applies FLECK_* environment
// overrides. An empty or missing filename yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML data over the defaults without consulting the environment
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies FLECK_* overrides read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("FLECK_APP_NAME", &c.AppName)
	str("FLECK_URL", &c.RabbitMQ.URL)
	str("FLECK_HOST", &c.RabbitMQ.Host)
	str("FLECK_USER", &c.RabbitMQ.User)
	str("FLECK_PASSWORD", &c.RabbitMQ.Password)
	str("FLECK_VHOST", &c.RabbitMQ.VHost)
	str("FLECK_LOG_LEVEL", &c.Log.Level)
	str("FLECK_LOG_FORMAT", &c.Log.Format)
	str("FLECK_QUEUE", &c.Client.Queue)

	if v, ok := lookup("FLECK_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLECK_PORT: %w", err)
		}
		c.RabbitMQ.Port = port
	}

	if v, ok := lookup("FLECK_HOSTS"); ok && v != "" {
		c.RabbitMQ.Hosts = nil
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				c.RabbitMQ.Hosts = append(c.RabbitMQ.Hosts, h)
			}
		}
	}

	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.RabbitMQ.URL == "" {
		if c.RabbitMQ.Host == "" && len(c.RabbitMQ.Hosts) == 0 {
			errs = append(errs, fmt.Errorf("rabbitmq.host cannot be empty"))
		}
		if c.RabbitMQ.Port < 1 || c.RabbitMQ.Port > 65535 {
			errs = append(errs, fmt.Errorf("rabbitmq.port must be between 1 and 65535"))
		}
	} else if _, err := url.Parse(c.RabbitMQ.URL); err != nil {
		errs = append(errs, fmt.Errorf("rabbitmq.url: %w", err))
	}
	if c.RabbitMQ.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("rabbitmq.max_retries cannot be negative"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}

	if c.Client.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("client.concurrency cannot be negative"))
	}
	if c.Client.Timeout < 0 {
		errs = append(errs, fmt.Errorf("client.timeout cannot be negative"))
	}
	if c.Client.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("client.rate_limit cannot be negative"))
	}
	if err := validExchangeType(c.Client.ExchangeType); err != nil {
		errs = append(errs, fmt.Errorf("client.exchange_type: %w", err))
	}

	seen := make(map[string]bool)
	for i, cc := range c.Consumers {
		switch {
		case cc.Name == "":
			errs = append(errs, fmt.Errorf("consumers[%d].name cannot be empty", i))
		case seen[cc.Name]:
			errs = append(errs, fmt.Errorf("consumers[%d].name %q is duplicated", i, cc.Name))
		}
		seen[cc.Name] = true

		if cc.Queue == "" {
			errs = append(errs, fmt.Errorf("consumers[%d].queue cannot be empty", i))
		}
		if err := validExchangeType(cc.ExchangeType); err != nil {
			errs = append(errs, fmt.Errorf("consumers[%d].exchange_type: %w", i, err))
		}
		if cc.Concurrency < 0 || cc.Prefetch < 0 {
			errs = append(errs, fmt.Errorf("consumers[%d]: concurrency and prefetch cannot be negative", i))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, fmt.Errorf("metrics.addr required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

func validExchangeType(kind string) error {
	switch kind {
	case "", "direct", "fanout", "topic":
		return nil
	}
	return fmt.Errorf("unsupported exchange type %q", kind)
}

// Consumer returns the consumer section named name
func (c *Config) Consumer(name string) (ConsumerConfig, bool) {
	for _, cc := range c.Consumers {
		if cc.Name == name {
			return cc, true
		}
	}
	return ConsumerConfig{}, false
}

// AMQPURL returns the connection URL. Without an explicit URL it is built
// from the individual fields.
func (r RabbitMQConfig) AMQPURL() string {
	if r.URL != "" {
		return r.URL
	}
	return r.URLFor(net.JoinHostPort(r.Host, strconv.Itoa(r.Port)))
}

// URLFor returns the connection URL for hostport with the configured
// credentials and vhost. A hostport without port uses the configured port.
func (r RabbitMQConfig) URLFor(hostport string) string {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(hostport, strconv.Itoa(r.Port))
	}

	u := url.URL{Scheme: "amqp", Host: hostport, Path: "/"}
	if r.User != "" {
		u.User = url.UserPassword(r.User, r.Password)
	}
	if r.VHost != "" && r.VHost != "/" {
		u.Path = "/" + r.VHost
		u.RawPath = "/" + url.PathEscape(r.VHost)
	}
	return u.String()
}

// Candidates returns the configured hosts as host:port pairs, falling back to
// the single configured host
func (r RabbitMQConfig) Candidates() []string {
	hosts := r.Hosts
	if len(hosts) == 0 {
		hosts = []string{r.Host}
	}

	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if _, _, err := net.SplitHostPort(h); err != nil {
			h = net.JoinHostPort(h, strconv.Itoa(r.Port))
		}
		out = append(out, h)
	}
	return out
}
