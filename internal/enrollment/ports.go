// Package enrollment drives a terminal through the enrollment workflow:
// connecting with bounded retries, resolving the terminal to a registered
// device, falling back to test mode, and saving candidate enrollments.
package enrollment

import (
	"context"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/terminal"
)

// Registry is the persistence service the workflow consumes.
type Registry interface {
	// ResolveDeviceBySerial returns nil without error when the serial is
	// not registered.
	ResolveDeviceBySerial(ctx context.Context, serial string) (*domain.DeviceIdentity, error)
	IsTestModeActive(ctx context.Context) (bool, error)
	UpsertEnrollmentRecord(ctx context.Context, rec domain.EnrollmentRecord) (domain.EnrollmentResult, error)
}

// Device is the terminal surface the workflow needs. *terminal.Terminal
// implements it.
type Device interface {
	Connect() error
	Disconnect()
	Reconnect() error
	SerialNumber() (string, error)
	SetUser(rec domain.UserRecord) bool
	GetUserList(opts terminal.UserListOptions) []domain.UserRecord
}

// Publisher announces saved enrollments.
type Publisher interface {
	PublishEnrollment(ctx context.Context, rec domain.EnrollmentRecord) error
}

var _ Device = (*terminal.Terminal)(nil)
