package terminal

import (
	"time"

	"github.com/quira/zkbridge/pkg/zk"
)

// Driver is the part of the vendor protocol library every generation
// provides.
type Driver interface {
	Connect() error
	Disconnect() error
	SessionID() int

	ReadSizes() (*zk.Sizes, error)
	GetUsers() ([]*zk.User, error)
	ReadAllUserID() ([]*zk.User, error)
	GetAttendances() ([]*zk.Attendance, error)
	ReadAttendances() ([]*zk.Attendance, error)

	DisableDevice() error
	EnableDevice() error

	SetUser(user zk.User) (bool, error)
	DeleteUser(uid int) error

	GetSerialNumber() (string, error)
	GetFirmwareVersion() (string, error)
}

// DriverFactory returns a fresh, unconnected driver to the same terminal.
type DriverFactory func() Driver

// Optional capabilities, discovered by type assertion.
type (
	deviceNamer interface {
		GetDeviceName() (string, error)
	}
	platformReader interface {
		GetPlatform() (string, error)
	}
	algorithmReader interface {
		GetFPVersion() (string, error)
	}
	macReader interface {
		GetMAC() (string, error)
	}
	networkReader interface {
		GetNetworkParams() (*zk.NetworkParams, error)
	}
	templateReader interface {
		GetUserTemplate(uid, fid int) ([]byte, error)
	}
	bulkTemplateReader interface {
		GetTemplates() ([]*zk.Finger, error)
	}
	refresher interface {
		RefreshData() error
	}
	liveCapturer interface {
		LiveCapture(chan<- *zk.Attendance) error
		StopCapture()
		Done() <-chan struct{}
	}
	locator interface {
		Location() *time.Location
	}
)

var (
	_ Driver             = (*zk.ZK)(nil)
	_ deviceNamer        = (*zk.ZK)(nil)
	_ platformReader     = (*zk.ZK)(nil)
	_ algorithmReader    = (*zk.ZK)(nil)
	_ macReader          = (*zk.ZK)(nil)
	_ networkReader      = (*zk.ZK)(nil)
	_ templateReader     = (*zk.ZK)(nil)
	_ bulkTemplateReader = (*zk.ZK)(nil)
	_ refresher          = (*zk.ZK)(nil)
	_ liveCapturer       = (*zk.ZK)(nil)
	_ locator            = (*zk.ZK)(nil)
)
