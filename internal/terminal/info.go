package terminal

import (
	"fmt"
	"strings"

	"github.com/quira/zkbridge/internal/domain"
)

// GetDeviceInfo reads each piece of metadata on its own; a failed lookup
// only marks its own keys as not available.
func (t *Terminal) GetDeviceInfo() domain.DeviceInfo {
	info := domain.DeviceInfo{}

	if n, ok := t.driver.(deviceNamer); ok {
		name := t.lookup("device_name", n.GetDeviceName)
		info[domain.InfoDeviceInfo] = name
		info[domain.InfoDeviceName] = name
	} else {
		info[domain.InfoDeviceInfo] = domain.NotAvailable
		info[domain.InfoDeviceName] = domain.NotAvailable
	}

	info[domain.InfoPlatform] = domain.NotAvailable
	if p, ok := t.driver.(platformReader); ok {
		info[domain.InfoPlatform] = t.lookup("platform", p.GetPlatform)
	}

	info[domain.InfoAlgorithm] = domain.NotAvailable
	if a, ok := t.driver.(algorithmReader); ok {
		info[domain.InfoAlgorithm] = t.lookup("algorithm", a.GetFPVersion)
	}

	info[domain.InfoFirmwareVersion] = t.lookup("firmware_version", func() (string, error) {
		raw, err := t.driver.GetFirmwareVersion()
		if err != nil {
			return "", err
		}
		t.logger.Debug().
			Str("raw", fmt.Sprintf("%q", raw)).
			Str("type", fmt.Sprintf("%T", raw)).
			Msg("Firmware version")
		return raw, nil
	})

	info[domain.InfoSerialNumber] = t.lookup("serial_number", t.driver.GetSerialNumber)

	info[domain.InfoMACAddress] = domain.NotAvailable
	if m, ok := t.driver.(macReader); ok {
		info[domain.InfoMACAddress] = t.lookup("mac_address", m.GetMAC)
	}

	info[domain.InfoIPAddress] = domain.NotAvailable
	info[domain.InfoNetmask] = domain.NotAvailable
	info[domain.InfoGateway] = domain.NotAvailable
	if nr, ok := t.driver.(networkReader); ok {
		params, err := call(nr.GetNetworkParams)
		if err != nil || params == nil {
			t.logger.Warn().Err(err).Str("field", "network").Msg("Device info lookup failed")
		} else {
			info[domain.InfoIPAddress] = orNotAvailable(params.IP)
			info[domain.InfoNetmask] = orNotAvailable(params.Mask)
			info[domain.InfoGateway] = orNotAvailable(params.Gateway)
		}
	}

	return info
}

func (t *Terminal) lookup(field string, fn func() (string, error)) string {
	v, err := call(fn)
	if err != nil {
		t.logger.Warn().Err(err).Str("field", field).Msg("Device info lookup failed")
		return domain.NotAvailable
	}
	return orNotAvailable(v)
}

func orNotAvailable(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return domain.NotAvailable
	}
	return v
}
