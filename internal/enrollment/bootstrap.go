package enrollment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/quira/zkbridge/internal/domain"
)

// Guidance is shown to the operator when no terminal answers.
const Guidance = "check that the terminal is powered on, that the network cable is connected and that its IP address matches the configuration, then retry"

// Placeholder uids are drawn from the top of the terminal's uid space.
const (
	placeholderUIDMin = 60000
	placeholderUIDMax = 65000
)

// BootstrapConfig controls the connect retries and the test-mode identity.
type BootstrapConfig struct {
	Attempts    int
	Delay       time.Duration
	Placeholder domain.DeviceIdentity
}

// Binding is the outcome of a successful bootstrap: the device the session
// writes to, or the placeholder identity when running in test mode.
type Binding struct {
	Device         domain.DeviceIdentity
	Serial         string
	TestMode       bool
	PlaceholderUID int
}

// BootstrapResult carries the result of an asynchronous bootstrap.
type BootstrapResult struct {
	Binding *Binding
	Err     error
}

// UnreachableError reports a terminal that did not answer any attempt while
// test mode was off.
type UnreachableError struct {
	Attempts int
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", domain.ErrDeviceUnreachable, e.Attempts, e.Err)
}

func (e *UnreachableError) Unwrap() []error {
	return []error{domain.ErrDeviceUnreachable, e.Err}
}

// Guidance returns the operator instructions for this failure.
func (e *UnreachableError) Guidance() string {
	return Guidance
}

type Bootstrapper struct {
	device   Device
	registry Registry
	config   BootstrapConfig
	logger   zerolog.Logger

	randUID func() int
}

func NewBootstrapper(device Device, registry Registry, config BootstrapConfig, logger zerolog.Logger) *Bootstrapper {
	if config.Attempts <= 0 {
		config.Attempts = 3
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if config.Placeholder.Name == "" {
		config.Placeholder.Name = "Test device"
	}

	return &Bootstrapper{
		device:   device,
		registry: registry,
		config:   config,
		logger:   logger.With().Str("component", "bootstrap").Logger(),
		randUID: func() int {
			return placeholderUIDMin + rand.IntN(placeholderUIDMax-placeholderUIDMin)
		},
	}
}

// Bootstrap connects to the terminal and resolves it to a registered device.
// When every attempt fails it falls back to test mode if the registry has it
// enabled; otherwise it returns an *UnreachableError. Calling Bootstrap again
// is the retry.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*Binding, error) {
	lastErr := b.connect(ctx)
	if lastErr == nil {
		return b.resolve(ctx)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	active, err := b.registry.IsTestModeActive(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to read test mode flag")
		return nil, &UnreachableError{Attempts: b.config.Attempts, Err: errors.Join(lastErr, err)}
	}
	if !active {
		return nil, &UnreachableError{Attempts: b.config.Attempts, Err: lastErr}
	}

	binding := &Binding{
		Device:         b.config.Placeholder,
		TestMode:       true,
		PlaceholderUID: b.randUID(),
	}
	b.logger.Warn().
		Str("device", binding.Device.Name).
		Int("placeholder_uid", binding.PlaceholderUID).
		Msg("Terminal unreachable, continuing in test mode")
	return binding, nil
}

// StartBootstrap runs Bootstrap on its own goroutine.
func (b *Bootstrapper) StartBootstrap(ctx context.Context) <-chan BootstrapResult {
	out := make(chan BootstrapResult, 1)
	go func() {
		defer close(out)
		binding, err := b.Bootstrap(ctx)
		out <- BootstrapResult{Binding: binding, Err: err}
	}()
	return out
}

func (b *Bootstrapper) connect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= b.config.Attempts; attempt++ {
		if err = b.device.Connect(); err == nil {
			b.logger.Info().Int("attempt", attempt).Msg("Terminal connected")
			return nil
		}
		b.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", b.config.Attempts).
			Msg("Terminal connect failed")

		if attempt == b.config.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.config.Delay):
		}
	}
	return err
}

func (b *Bootstrapper) resolve(ctx context.Context) (*Binding, error) {
	serial, err := b.device.SerialNumber()
	if err != nil {
		b.device.Disconnect()
		return nil, fmt.Errorf("%w: read serial number: %v", domain.ErrDeviceUnreachable, err)
	}

	identity, err := b.registry.ResolveDeviceBySerial(ctx, serial)
	if err != nil {
		b.device.Disconnect()
		return nil, fmt.Errorf("resolve device %s: %w", serial, err)
	}
	if identity == nil {
		b.device.Disconnect()
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownDevice, serial)
	}

	b.logger.Info().
		Str("serial", serial).
		Int64("device_id", identity.ID).
		Str("device", identity.Name).
		Msg("Terminal resolved")
	return &Binding{Device: *identity, Serial: serial}, nil
}
