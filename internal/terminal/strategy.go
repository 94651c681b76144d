package terminal

import (
	"errors"
	"fmt"
	"time"
)

var errAllStrategiesFailed = errors.New("all strategies failed")

// strategy is one way of obtaining a value from the terminal.
type strategy[T any] struct {
	name string
	run  func() (T, error)
}

// firstSuccess tries the strategies in order and returns the first result
// obtained without error, unmodified. Each attempt is logged and counted.
func firstSuccess[T any](t *Terminal, query string, strategies []strategy[T]) (T, string, error) {
	started := time.Now()
	defer func() {
		t.metrics.ObserveQuery(query, time.Since(started).Seconds())
	}()

	var zero T
	for i, s := range strategies {
		v, err := call(s.run)
		t.metrics.IncStrategy(query, s.name, err == nil)
		if err != nil {
			t.logger.Warn().
				Err(err).
				Str("query", query).
				Str("strategy", s.name).
				Int("tier", i+1).
				Msg("Strategy failed")
			continue
		}
		t.logger.Info().
			Str("query", query).
			Str("strategy", s.name).
			Int("tier", i+1).
			Msg("Strategy succeeded")
		return v, s.name, nil
	}

	t.logger.Error().Str("query", query).Int("tiers", len(strategies)).Msg("All strategies failed")
	return zero, "", errAllStrategiesFailed
}

// call runs fn, turning a panic inside the vendor library into an error.
func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()
	return fn()
}

// whileDisabled runs fn with the terminal's keypad and sensor locked.
func whileDisabled[T any](t *Terminal, fn func() (T, error)) (T, error) {
	var zero T
	if err := t.driver.DisableDevice(); err != nil {
		return zero, fmt.Errorf("disable device: %w", err)
	}
	defer func() {
		if err := t.driver.EnableDevice(); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to enable device")
		}
	}()
	return fn()
}
