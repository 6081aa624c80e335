package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dejobratic/orderwatch/internal/config"
	"github.com/dejobratic/orderwatch/internal/orderstatus/adapters"
	httpadapter "github.com/dejobratic/orderwatch/internal/orderstatus/adapters/http"
	"github.com/dejobratic/orderwatch/internal/orderstatus/adapters/websocket"
	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/metrics"
	"github.com/dejobratic/orderwatch/internal/orderstatus/monitor"
	"github.com/dejobratic/orderwatch/internal/orderstatus/poll"
	"github.com/dejobratic/orderwatch/internal/orderstatus/push"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

const shutdownGrace = 5 * time.Second

var errSessionFailed = errors.New("order status could not be determined")

type watchOptions struct {
	now     bool
	noPush  bool
	timeout time.Duration
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <order-id>",
		Short: "Follow an order over push, falling back to polling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("no-push") {
				cfg.Push.Enabled = !opts.noPush
			}
			if !cmd.Flags().Changed("timeout") {
				opts.timeout = cfg.Monitor.Timeout
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.now, "now", false, "drop push and poll in fast mode right away")
	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "poll only")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits for a final status)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func runWatch(ctx context.Context, cfg *config.Config, orderID string, opts watchOptions, out io.Writer) error {
	// stdout carries the result; logs go to stderr.
	logger := telemetry.NewLoggerTo(os.Stderr, telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	slog.SetDefault(logger)

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		Insecure:       cfg.Telemetry.OTelInsecure,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	m, err := buildMonitor(cfg, orderID, tel, logger)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	logger.InfoContext(ctx, "watching order", "order_id", orderID, "push", cfg.Push.Enabled)

	var s *monitor.Session
	if opts.now {
		s = m.FetchOrderStatusNow(ctx)
	} else {
		s = m.FetchOrderStatus(ctx)
	}

	// The session observes ctx itself; Wait only needs to outlive it.
	res, err := s.Wait(context.Background())
	if err != nil {
		return fmt.Errorf("watch stopped: %w", err)
	}

	if err := writeResult(out, orderID, res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%w: %w", errSessionFailed, res.Err)
	}
	return nil
}

func buildMonitor(cfg *config.Config, orderID string, tel *telemetry.Telemetry, logger *slog.Logger) (*monitor.Monitor, error) {
	meter := tel.Meter("orderwatch")

	orderMetrics, err := metrics.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create order metrics: %w", err)
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}

	httpClient := &nethttp.Client{
		Transport: httpadapter.WithMetrics(nethttp.DefaultTransport, httpMetrics, httpadapter.Route),
	}
	clientOpts := []httpadapter.Option{
		httpadapter.WithHTTPClient(httpClient),
		httpadapter.WithLogger(logger),
	}
	if cfg.API.RateLimit > 0 {
		clientOpts = append(clientOpts, httpadapter.WithLimiter(rate.NewLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst)))
	}
	client, err := httpadapter.NewClient(httpadapter.Config{
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.API.Token,
		RequestTimeout: cfg.API.RequestTimeout,
		Query:          cfg.API.Query,
	}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	policy := cfg.StatusPolicy()

	poller, err := poll.NewChannel(orderID, adapters.NewObservableFetcher(client, orderMetrics), poll.Config{
		PollInterval:  cfg.Polling.Interval,
		RetryInterval: cfg.Polling.RetryInterval,
		MaxRetries:    cfg.Polling.MaxRetries,
		Policy:        policy,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create poll channel: %w", err)
	}

	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithMetrics(orderMetrics),
		monitor.WithPolicy(policy),
		monitor.WithReporter(adapters.NewLogReporter(logger)),
		monitor.WithFailoverOnDecodeError(cfg.Monitor.FailoverOnDecodeError),
	}

	if !cfg.Push.Enabled {
		opts = append(opts, monitor.WithoutPush())
		return monitor.New(orderID, nil, poller, opts...)
	}

	transport, err := websocket.NewTransport(websocket.Config{
		URL:            cfg.Push.URL,
		Token:          cfg.API.Token,
		Query:          cfg.Push.Query,
		PingInterval:   cfg.Push.PingInterval,
		InitialBackoff: cfg.Push.InitialBackoff,
		MaxBackoff:     cfg.Push.MaxBackoff,
	}, websocket.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create push transport: %w", err)
	}

	pusher, err := push.NewChannel(orderID, adapters.NewObservableTransport(transport, orderMetrics), policy, logger, orderMetrics)
	if err != nil {
		return nil, fmt.Errorf("create push channel: %w", err)
	}

	return monitor.New(orderID, pusher, poller, opts...)
}

type watchResult struct {
	OrderID string                   `json:"order_id"`
	Status  domain.OrderStatus       `json:"status,omitempty"`
	Event   *domain.OrderStatusEvent `json:"event,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Kind    string                   `json:"error_kind,omitempty"`
}

func writeResult(w io.Writer, orderID string, res domain.Result) error {
	out := watchResult{OrderID: orderID}
	if res.OK() {
		out.Status = res.Event.Status()
		out.Event = res.Event
	} else {
		out.Error = res.Err.Error()
		out.Kind = domain.KindOf(res.Err).String()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
