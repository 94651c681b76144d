// Command enroll binds to the configured terminal and assigns a candidate to
// a fingerprint captured at the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/quira/zkbridge/internal/adapter/config"
	"github.com/quira/zkbridge/internal/adapter/mqtt"
	"github.com/quira/zkbridge/internal/adapter/postgres"
	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/enrollment"
	"github.com/quira/zkbridge/internal/metrics"
	"github.com/quira/zkbridge/internal/terminal"
	"github.com/quira/zkbridge/pkg/logging"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "configuration file")
	operator := flag.String("operator", os.Getenv("USER"), "operator name recorded with the enrollment")
	candidate := flag.String("candidate", "", "candidate id to enroll; lists pending terminal users when empty")
	uid := flag.Int("uid", 0, "terminal uid of the captured fingerprint")
	userID := flag.String("user-id", "", "user id written to the terminal")
	name := flag.String("name", "", "name written to the terminal")
	admin := flag.Bool("admin", false, "enroll with administrator privilege")
	initSchema := flag.Bool("init-schema", false, "create the registry tables before running")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info().
		Str("version", version).
		Str("service", cfg.Service.Name).
		Str("terminal", cfg.Terminal.Host).
		Msg("Starting enrollment")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metrics.NewRegistry()

	registry, err := postgres.NewRegistry(ctx, postgres.RegistryConfig{
		Host:                    cfg.Database.Host,
		Port:                    cfg.Database.Port,
		Database:                cfg.Database.Database,
		User:                    cfg.Database.User,
		Password:                cfg.Database.Password,
		SSLMode:                 cfg.Database.SSLMode,
		PoolSize:                cfg.Database.PoolSize,
		MaxIdleTime:             cfg.Database.MaxIdleTime,
		BreakerMaxRequests:      cfg.Breaker.MaxRequests,
		BreakerInterval:         cfg.Breaker.Interval,
		BreakerTimeout:          cfg.Breaker.Timeout,
		BreakerFailureThreshold: cfg.Breaker.FailureThreshold,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize registry")
	}
	defer registry.Close()

	if *initSchema {
		if err := registry.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create registry schema")
		}
	}

	device := terminal.NewZKTerminal(terminal.Config{
		MachineID: cfg.Terminal.MachineID,
		Host:      cfg.Terminal.Host,
		Port:      cfg.Terminal.Port,
		CommKey:   cfg.Terminal.CommKey,
		Timezone:  cfg.Terminal.Timezone,
		Timeout:   cfg.Terminal.Timeout,
	}, logger, metricsRegistry)
	defer device.Disconnect()

	bootstrapper := enrollment.NewBootstrapper(device, registry, enrollment.BootstrapConfig{
		Attempts: cfg.Bootstrap.Attempts,
		Delay:    cfg.Bootstrap.Delay,
		Placeholder: domain.DeviceIdentity{
			ID:   cfg.Bootstrap.TestDeviceID,
			Name: cfg.Bootstrap.TestDeviceName,
		},
	}, logger)

	result := <-bootstrapper.StartBootstrap(ctx)
	if result.Err != nil {
		var unreachable *enrollment.UnreachableError
		if errors.As(result.Err, &unreachable) {
			fmt.Fprintln(os.Stderr, unreachable.Guidance())
		}
		logger.Error().Err(result.Err).Msg("Terminal bootstrap failed")
		os.Exit(1)
	}
	binding := result.Binding

	enroller := enrollment.NewEnroller(device, registry, logger, metricsRegistry)
	if cfg.MQTT.Enabled {
		publisher := connectPublisher(ctx, cfg, logger)
		if publisher != nil {
			defer publisher.Disconnect()
			enroller.SetPublisher(publisher)
		}
	}

	if *candidate == "" {
		pending, err := enroller.PendingUsers(ctx, binding)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list pending users")
		}
		printJSON(map[string]any{
			"device":    binding.Device,
			"test_mode": binding.TestMode,
			"pending":   pending,
		})
		return
	}

	privilege := domain.PrivilegeUser
	if *admin {
		privilege = domain.PrivilegeAdmin
	}
	session := enrollment.NewSession(*operator)
	res, err := enroller.Enroll(ctx, session, binding, enrollment.Request{
		CandidateID: *candidate,
		UID:         *uid,
		UserID:      *userID,
		Name:        *name,
		Privilege:   privilege,
	})
	if err != nil {
		logger.Error().Err(err).Str("candidate_id", *candidate).Msg("Enrollment failed")
		device.Disconnect()
		os.Exit(1)
	}
	printJSON(res)
}

func connectPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *mqtt.Publisher {
	publisher := mqtt.NewPublisher(mqtt.PublisherConfig{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            cfg.MQTT.QoS,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}, logger)
	if err := publisher.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("MQTT unavailable, enrollments will not be announced")
		return nil
	}
	return publisher
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(b))
}
