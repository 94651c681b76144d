// Package domain contains the records exchanged between the terminal
// clients, the enrollment flow and the persistence layer.
package domain

// NotAvailable is reported for device metadata the terminal did not return.
const NotAvailable = "N/A"

// DeviceInfo keys.
const (
	InfoFirmwareVersion = "firmware_version"
	InfoSerialNumber    = "serial_number"
	InfoMACAddress      = "mac_address"
	InfoPlatform        = "platform"
	InfoAlgorithm       = "algorithm"
	InfoDeviceName      = "device_name"
	InfoDeviceInfo      = "device_info"
	InfoIPAddress       = "ip_address"
	InfoNetmask         = "netmask"
	InfoGateway         = "gateway"
)

// DeviceInfo is a snapshot of terminal metadata. It is recomputed on every
// query and never cached.
type DeviceInfo map[string]string

// Get returns the value for key, or NotAvailable when it is missing or empty.
func (d DeviceInfo) Get(key string) string {
	if v, ok := d[key]; ok && v != "" {
		return v
	}
	return NotAvailable
}

// DeviceIdentity is the local record a terminal serial number resolves to.
type DeviceIdentity struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Serial   string `json:"serial,omitempty"`
}
