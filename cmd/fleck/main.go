package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/fleck-go"
	"github.com/glimte/fleck-go/codec"
	"github.com/glimte/fleck-go/config"
	"github.com/glimte/fleck-go/consumer"
	"github.com/glimte/fleck-go/health"
	"github.com/glimte/fleck-go/hostrating"
	"github.com/glimte/fleck-go/messaging"
	"github.com/glimte/fleck-go/metrics"
	"github.com/glimte/fleck-go/transports/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the global flags
type options struct {
	configFile string
	url        string
	logLevel   string
}

// load reads the configuration and applies the global flags
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.url != "" {
		cfg.RabbitMQ.URL = o.url
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "fleck",
		Short: "Request/response over RabbitMQ",
		Long: `fleck sends requests to fleck consumers, runs a demo consumer and ranks
RabbitMQ hosts by latency.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&opts.url, "url", "u", "", "RabbitMQ connection URL (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newRequestCommand(opts),
		newServeCommand(opts),
		newDemoCommand(opts),
		newHostsCommand(opts),
	)
	return rootCmd
}

func newRequestCommand(opts *options) *cobra.Command {
	var (
		params     []string
		headers    []string
		version    string
		timeout    time.Duration
		multiple   bool
		exchange   string
		exchangeTy string
	)

	cmd := &cobra.Command{
		Use:   "request <queue> <action>",
		Short: "Send a request and print the response",
		Example: `  fleck request calc incr --param num=5
  fleck request cache flush --exchange cache --exchange-type fanout --multiple`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if exchange != "" {
				cfg.Client.ExchangeName = exchange
				cfg.Client.ExchangeType = exchangeTy
			}
			cfg.Client.MultipleResponses = multiple

			paramValues, err := parsePairs(params)
			if err != nil {
				return fmt.Errorf("invalid --param: %w", err)
			}
			headerValues, err := parsePairs(headers)
			if err != nil {
				return fmt.Errorf("invalid --header: %w", err)
			}

			app, err := fleck.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Terminate()

			client, err := app.NewClient(ctx, args[0])
			if err != nil {
				return err
			}

			reqOpts := []messaging.RequestOption{
				messaging.WithParams(paramValues),
				messaging.WithHeaders(headerValues),
				messaging.WithVersion(version),
				messaging.WithTimeout(timeout),
			}
			if !multiple {
				return printResponse(cmd.OutOrStdout(), client.Request(ctx, args[1], reqOpts...))
			}

			reqOpts = append(reqOpts, messaging.WithCallback(func(_ *messaging.Request, resp *messaging.Response) {
				_ = printResponse(cmd.OutOrStdout(), resp)
			}))
			req := client.Go(ctx, args[1], reqOpts...)
			select {
			case <-req.Done():
			case <-ctx.Done():
				req.Complete()
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Request parameter as key=value, values are parsed as JSON when possible")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as key=value")
	cmd.Flags().StringVar(&version, "version-header", "", "Action version")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&multiple, "multiple", false, "Collect every response until the timeout")
	cmd.Flags().StringVar(&exchange, "exchange", "", "Publish through the named exchange")
	cmd.Flags().StringVar(&exchangeTy, "exchange-type", messaging.ExchangeDirect, "Exchange type")
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	var (
		queue       string
		concurrency int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo calculator consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if metricsAddr == "" && cfg.Metrics.Enabled {
				metricsAddr = cfg.Metrics.Addr
			}

			registry := prometheus.NewRegistry()
			collector := metrics.New(registry)
			if err := collector.Register(); err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			app, err := fleck.Connect(ctx, cfg, fleck.WithMetrics(collector))
			if err != nil {
				return err
			}
			defer app.Terminate()

			def := calculator(app, queue, consumer.WithConcurrency(concurrency))
			group, err := app.Register(ctx, def)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				checks := health.NewRegistry()
				checks.SetMetadata("version", version)
				checks.Register(health.NewBrokerChecker(app.Broker()))
				checks.Register(health.NewGroupChecker(group))

				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           newMux(registry, checks),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						app.Logger().Error("Metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				app.Logger().Info("Serving metrics and health", "addr", metricsAddr)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on queue %q... Press Ctrl+C to stop\n", def.Name(), queue)
			if err := app.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "calc", "Queue to consume")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of consumer instances")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics and health checks on this address")
	return cmd
}

func newDemoCommand(opts *options) *cobra.Command {
	var num float64

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a client and a consumer against an in-memory broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			app := fleck.New(memory.New(memory.WithLogger(logger)), fleck.WithConfig(cfg), fleck.WithLogger(logger))
			defer app.Terminate()

			if _, err := app.Register(ctx, calculator(app, "calc")); err != nil {
				return err
			}

			client, err := app.NewClient(ctx, "calc")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, call := range []struct {
				action string
				params map[string]interface{}
			}{
				{"incr", map[string]interface{}{"num": num}},
				{"sum", map[string]interface{}{"a": num, "b": 10}},
				{"incr", nil},
				{"frobnicate", nil},
			} {
				resp := client.Request(ctx, call.action,
					messaging.WithParams(call.params),
					messaging.WithTimeout(5*time.Second))
				fmt.Fprintf(out, "%s %v => ", call.action, call.params)
				if err := printResponse(out, resp); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&num, "num", 5, "Number sent to the calculator")
	return cmd
}

func newHostsCommand(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "hosts [host[:port]...]",
		Short: "Rank RabbitMQ hosts by connect latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			candidates := cfg.RabbitMQ.Candidates()
			if len(args) > 0 {
				cfg.RabbitMQ.Hosts = args
				candidates = cfg.RabbitMQ.Candidates()
			}

			ratings := make([]*hostrating.Rating, len(candidates))
			for i, addr := range candidates {
				ratings[i] = hostrating.New(addr,
					hostrating.WithTimeout(timeout),
					hostrating.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
				_ = ratings[i].Refresh(cmd.Context())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-40s %-10s %s\n", "HOST", "REACHABLE", "LATENCY")
			fmt.Fprintln(out, strings.Repeat("-", 64))
			for _, r := range hostrating.Rank(ratings) {
				latency := "-"
				if r.Reachable() {
					latency = r.Average().Round(time.Microsecond).String()
				}
				fmt.Fprintf(out, "%-40s %-10t %s\n", r.Addr(), r.Reachable(), latency)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", hostrating.DefaultTimeout, "Connect timeout per host")
	return cmd
}

// newMux serves metrics and health checks
func newMux(registry *prometheus.Registry, checks *health.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health.NewHandler(checks, 5*time.Second))
	mux.Handle("/readyz", health.ReadinessHandler(checks))
	mux.Handle("/livez", health.LivenessHandler())
	return mux
}

// calculator is the demo consumer served by serve and demo
func calculator(app *fleck.App, queue string, opts ...consumer.DefinitionOption) *consumer.Definition {
	opts = append([]consumer.DefinitionOption{consumer.WithQueue(queue)}, opts...)
	return app.Definition("calculator", opts...).
		Action("incr", func(c *consumer.Context) error {
			return c.OK(c.Number("num") + 1)
		}, consumer.Describe("Adds one to num"), consumer.Param("num", "number", consumer.Required())).
		Action("sum", func(c *consumer.Context) error {
			return c.OK(c.Number("a") + c.Number("b"))
		}, consumer.Param("a", "number", consumer.Required()), consumer.Param("b", "number", consumer.Default(0))).
		Action("echo", func(c *consumer.Context) error {
			return c.OK(c.Params())
		})
}

// parsePairs turns key=value pairs into a map, decoding values as JSON when
// they parse and keeping them as strings otherwise
func parsePairs(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}

		var value interface{}
		if err := codec.Default.Decode([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// printResponse writes resp as JSON
func printResponse(w io.Writer, resp *messaging.Response) error {
	if resp == nil {
		return fmt.Errorf("no response")
	}
	data, err := codec.Default.Encode(resp.Envelope())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
