package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateRange(t *testing.T) {
	lima := time.FixedZone("PET", -5*3600)

	r, err := ParseDateRange("2024-03-01", "2024-03-15", lima)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, lima), r.Start())
	assert.Equal(t, time.Date(2024, 3, 15, 23, 59, 59, 0, lima), r.End())

	assert.True(t, r.Contains(time.Date(2024, 3, 15, 18, 0, 0, 0, lima)))
	assert.True(t, r.Contains(time.Date(2024, 3, 1, 0, 0, 0, 0, lima)))
	assert.False(t, r.Contains(time.Date(2024, 3, 16, 0, 0, 0, 0, lima)))
	assert.False(t, r.Contains(time.Date(2024, 2, 29, 23, 59, 59, 0, lima)))
}

func TestParseDateRangeOpenEnds(t *testing.T) {
	r, err := ParseDateRange("", "", time.UTC)
	require.NoError(t, err)
	assert.True(t, r.IsOpen())
	assert.True(t, r.Contains(time.Unix(0, 0)))

	start, end := r.EpochBounds()
	assert.Equal(t, uint32(0), start)
	assert.Equal(t, uint32(math.MaxUint32), end)

	r, err = ParseDateRange("2024-01-01", "", time.UTC)
	require.NoError(t, err)
	start, end = r.EpochBounds()
	assert.Equal(t, uint32(1704067200), start)
	assert.Equal(t, uint32(math.MaxUint32), end)

	r, err = ParseDateRange("", "2024-01-01", time.UTC)
	require.NoError(t, err)
	start, end = r.EpochBounds()
	assert.Equal(t, uint32(0), start)
	assert.Equal(t, uint32(1704067200+86399), end)
}

func TestParseDateRangeErrors(t *testing.T) {
	_, err := ParseDateRange("2024/01/01", "", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	_, err = ParseDateRange("2024-02-01", "2024-01-01", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestUserPlaceholder(t *testing.T) {
	assert.True(t, UserRecord{UserID: "NN-12"}.IsPlaceholder())
	assert.True(t, UserRecord{UserID: PlaceholderUserID(3)}.IsPlaceholder())
	assert.False(t, UserRecord{UserID: "70123456"}.IsPlaceholder())
	assert.False(t, UserRecord{UserID: "NN-"}.IsPlaceholder())
	assert.False(t, UserRecord{}.IsPlaceholder())
}

func TestPrivilegeMapping(t *testing.T) {
	assert.Equal(t, PrivilegeUser, PrivilegeFromDevice(0))
	assert.Equal(t, PrivilegeAdmin, PrivilegeFromDevice(DeviceAdminPrivilege))
	assert.Equal(t, DeviceAdminPrivilege, PrivilegeToDevice(PrivilegeAdmin))
	assert.Equal(t, 0, PrivilegeToDevice(PrivilegeUser))
}

func TestDeviceInfoGet(t *testing.T) {
	info := DeviceInfo{InfoSerialNumber: "PAS4241300509", InfoPlatform: ""}
	assert.Equal(t, "PAS4241300509", info.Get(InfoSerialNumber))
	assert.Equal(t, NotAvailable, info.Get(InfoPlatform))
	assert.Equal(t, NotAvailable, info.Get(InfoMACAddress))
}
