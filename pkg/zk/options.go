package zk

import (
	"bytes"
	"fmt"
)

// GetOption reads one configuration option, e.g. "~SerialNumber".
func (zk *ZK) GetOption(name string) (string, error) {
	res, err := zk.sendCommand(CMD_OPTIONS_RRQ, append([]byte(name), 0))
	if err != nil {
		return "", err
	}
	if !res.Status {
		return "", fmt.Errorf("%w: can't read option %s", ErrResponse, name)
	}

	value := res.Data
	if i := bytes.IndexByte(value, '='); i >= 0 {
		value = value[i+1:]
	}
	return cString(string(value)), nil
}

func (zk *ZK) GetSerialNumber() (string, error) {
	return zk.GetOption("~SerialNumber")
}

func (zk *ZK) GetPlatform() (string, error) {
	return zk.GetOption("~Platform")
}

func (zk *ZK) GetDeviceName() (string, error) {
	return zk.GetOption("~DeviceName")
}

func (zk *ZK) GetMAC() (string, error) {
	return zk.GetOption("MAC")
}

// GetFPVersion returns the fingerprint algorithm version, e.g. "10".
func (zk *ZK) GetFPVersion() (string, error) {
	return zk.GetOption("~ZKFPVersion")
}

// GetFirmwareVersion returns the raw version string reported by the terminal.
func (zk *ZK) GetFirmwareVersion() (string, error) {
	res, err := zk.sendCommand(CMD_GET_VERSION, nil)
	if err != nil {
		return "", err
	}
	if !res.Status {
		return "", fmt.Errorf("%w: can't read firmware version", ErrResponse)
	}
	return cString(string(res.Data)), nil
}

func (zk *ZK) GetNetworkParams() (*NetworkParams, error) {
	ip, err := zk.GetOption("IPAddress")
	if err != nil {
		return nil, err
	}
	mask, err := zk.GetOption("NetMask")
	if err != nil {
		return nil, err
	}
	gateway, err := zk.GetOption("GATEIPAddress")
	if err != nil {
		return nil, err
	}
	return &NetworkParams{IP: ip, Mask: mask, Gateway: gateway}, nil
}
