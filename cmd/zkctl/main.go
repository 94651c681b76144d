// Command zkctl is a manual smoke test against a ZKTeco terminal.
//
//	zkctl [flags] <host> [port]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/quira/zkbridge/internal/adapter/mqtt"
	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/metrics"
	"github.com/quira/zkbridge/internal/rawdevice"
	"github.com/quira/zkbridge/internal/terminal"
	"github.com/quira/zkbridge/pkg/logging"
	"github.com/quira/zkbridge/pkg/zk"
)

type options struct {
	host string
	port int

	info, count, users, logs, live bool

	raw          bool
	network      string
	commKey      int
	timezone     string
	timeout      time.Duration
	fingerprints bool
	start        int
	limit        int
	from, to     string

	metricsAddr string
	mqttBroker  string

	logLevel, logFormat string
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("zkctl", flag.ContinueOnError)
	fs.BoolVar(&o.info, "info", false, "print device information")
	fs.BoolVar(&o.count, "count", false, "print the number of users")
	fs.BoolVar(&o.users, "users", false, "print the user list")
	fs.BoolVar(&o.logs, "logs", false, "print attendance logs")
	fs.BoolVar(&o.live, "live", false, "stream realtime punches until interrupted")
	fs.BoolVar(&o.raw, "raw", false, "use the raw frame protocol instead of the ZK TCP protocol")
	fs.StringVar(&o.network, "network", "udp", "raw protocol network (udp or tcp)")
	fs.IntVar(&o.commKey, "comm-key", 0, "terminal communication key")
	fs.StringVar(&o.timezone, "timezone", zk.DefaultTimezone, "terminal clock timezone")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "socket timeout")
	fs.BoolVarP(&o.fingerprints, "fingerprints", "f", false, "count fingerprint templates per user")
	fs.IntVar(&o.start, "start", 0, "first user index")
	fs.IntVar(&o.limit, "limit", 0, "maximum number of users (0 = all)")
	fs.StringVar(&o.from, "from", "", "first day of attendance logs (YYYY-MM-DD)")
	fs.StringVar(&o.to, "to", "", "last day of attendance logs (YYYY-MM-DD)")
	fs.StringVar(&o.metricsAddr, "metrics", "", "serve prometheus metrics on this address while running")
	fs.StringVar(&o.mqttBroker, "mqtt", "", "publish live punches to this MQTT broker")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")
	fs.StringVar(&o.logFormat, "log-format", "console", "log format (json or console)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 2 {
		return nil, errors.New("usage: zkctl [flags] <host> [port]")
	}
	o.host = rest[0]
	o.port = zk.DefaultPort
	if len(rest) == 2 {
		port, err := strconv.Atoi(rest[1])
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", rest[1])
		}
		o.port = port
	}
	if !o.info && !o.count && !o.users && !o.logs && !o.live {
		o.info = true
	}
	if o.raw && o.live {
		return nil, errors.New("--live needs the ZK TCP protocol")
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.NewLogger(o.logLevel, o.logFormat)
	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gracefulQuit(cancel, logger)

	c := newClient(o, logger, metricsRegistry)
	if err := c.Connect(); err != nil {
		logger.Fatal().Err(err).Str("host", o.host).Int("port", o.port).Msg("Failed to connect")
	}
	defer c.Disconnect()

	g, ctx := errgroup.WithContext(ctx)
	if o.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, o.metricsAddr, metricsRegistry, logger) })
	}

	g.Go(func() error {
		defer cancel()
		return run(ctx, o, c, os.Stdout, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("zkctl failed")
		c.Disconnect()
		os.Exit(1)
	}
}

func newClient(o *options, logger zerolog.Logger, metricsRegistry *metrics.Registry) client {
	if o.raw {
		return rawClient{rawdevice.New(rawdevice.Config{
			Host:     o.host,
			Port:     o.port,
			Network:  o.network,
			Timeout:  o.timeout,
			Timezone: o.timezone,
		}, logger, metricsRegistry)}
	}
	return zkClient{terminal.NewZKTerminal(terminal.Config{
		Host:     o.host,
		Port:     o.port,
		CommKey:  o.commKey,
		Timezone: o.timezone,
		Timeout:  o.timeout,
	}, logger, metricsRegistry)}
}

func run(ctx context.Context, o *options, c client, out io.Writer, logger zerolog.Logger) error {
	if o.info {
		if err := printJSON(out, c.GetDeviceInfo()); err != nil {
			return err
		}
	}
	if o.count {
		if err := printJSON(out, map[string]int{"users": c.GetUserCount()}); err != nil {
			return err
		}
	}
	if o.users {
		if err := printJSON(out, c.GetUserList(o.start, o.limit, o.fingerprints)); err != nil {
			return err
		}
	}
	if o.logs {
		loc, err := time.LoadLocation(o.timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		r, err := domain.ParseDateRange(o.from, o.to, loc)
		if err != nil {
			return err
		}
		if err := printJSON(out, c.GetAttendanceLogs(r)); err != nil {
			return err
		}
	}
	if o.live {
		return live(ctx, o, c, out, logger)
	}
	return nil
}

func live(ctx context.Context, o *options, c client, out io.Writer, logger zerolog.Logger) error {
	var publisher *mqtt.Publisher
	if o.mqttBroker != "" {
		hostname, _ := os.Hostname()
		publisher = mqtt.NewPublisher(mqtt.PublisherConfig{
			BrokerURL:      o.mqttBroker,
			ClientID:       fmt.Sprintf("zkctl-%s", hostname),
			TopicPrefix:    "quira",
			QoS:            1,
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		}, logger)
		if err := publisher.Connect(ctx); err != nil {
			return err
		}
		defer publisher.Disconnect()
	}

	punches := make(chan domain.AttendanceLogEntry, 16)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(punches)
		return c.LiveCapture(ctx, punches)
	})
	g.Go(func() error {
		for p := range punches {
			if err := printJSON(out, p); err != nil {
				return err
			}
			if publisher != nil {
				if err := publisher.PublishPunch(ctx, o.host, p); err != nil {
					logger.Warn().Err(err).Msg("Punch not published")
				}
			}
		}
		return nil
	})

	logger.Info().Str("host", o.host).Msg("Waiting for punches, press Ctrl+C to stop")
	return g.Wait()
}

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func serveMetrics(ctx context.Context, addr string, reg *metrics.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics server starting")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func gracefulQuit(f func(), logger zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Stopping...")
		f()
	}()
}
