package main

import (
	"context"
	"fmt"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/rawdevice"
	"github.com/quira/zkbridge/internal/terminal"
)

// client is what zkctl needs from either protocol implementation.
type client interface {
	Connect() error
	Disconnect()
	GetDeviceInfo() domain.DeviceInfo
	GetUserCount() int
	GetUserList(start, count int, fingerprints bool) []domain.UserRecord
	GetAttendanceLogs(r domain.DateRange) []domain.AttendanceLogEntry
	LiveCapture(ctx context.Context, out chan<- domain.AttendanceLogEntry) error
}

type zkClient struct {
	*terminal.Terminal
}

func (c zkClient) GetUserList(start, count int, fingerprints bool) []domain.UserRecord {
	return c.Terminal.GetUserList(terminal.UserListOptions{
		Start:               start,
		Count:               count,
		IncludeFingerprints: fingerprints,
	})
}

type rawClient struct {
	*rawdevice.Device
}

func (c rawClient) GetUserList(start, count int, _ bool) []domain.UserRecord {
	return c.Device.GetUserList(start, count)
}

func (c rawClient) LiveCapture(context.Context, chan<- domain.AttendanceLogEntry) error {
	return fmt.Errorf("live capture: %w", terminal.ErrUnsupported)
}
