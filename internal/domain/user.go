package domain

import (
	"regexp"
	"strconv"
)

// Application privilege levels.
const (
	PrivilegeUser  = 0
	PrivilegeAdmin = 1
)

// DeviceAdminPrivilege is the value terminals store for administrators.
const DeviceAdminPrivilege = 14

var placeholderUserID = regexp.MustCompile(`^NN-\d+$`)

// UserRecord is one identity enrolled on a terminal. UID is the device
// handle used for updates; UserID is the site identifier and may be empty.
type UserRecord struct {
	UID              int    `json:"uid"`
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Privilege        int    `json:"privilege"`
	Password         string `json:"password,omitempty"`
	GroupID          string `json:"group_id,omitempty"`
	Card             uint32 `json:"card,omitempty"`
	FingerprintCount int    `json:"fingerprint_count"`

	// only reported by the raw protocol
	FaceCount     int `json:"face_count,omitempty"`
	PasswordCount int `json:"password_count,omitempty"`
	Status        int `json:"status,omitempty"`
}

// IsPlaceholder reports whether the user was created at the terminal and
// still carries an "NN-<n>" id instead of a candidate's identifier.
func (u UserRecord) IsPlaceholder() bool {
	return placeholderUserID.MatchString(u.UserID)
}

// PlaceholderUserID formats the terminal-side placeholder id for n.
func PlaceholderUserID(n int) string {
	return "NN-" + strconv.Itoa(n)
}

// PrivilegeFromDevice maps a terminal privilege to the application level.
func PrivilegeFromDevice(p int) int {
	if p == PrivilegeUser {
		return PrivilegeUser
	}
	return PrivilegeAdmin
}

// PrivilegeToDevice maps an application privilege to the terminal encoding.
func PrivilegeToDevice(p int) int {
	if p == PrivilegeUser {
		return PrivilegeUser
	}
	return DeviceAdminPrivilege
}
