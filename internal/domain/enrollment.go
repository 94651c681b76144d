package domain

import "time"

// EnrollmentRecord links a candidate to the terminal slot holding their
// fingerprint.
type EnrollmentRecord struct {
	SessionID   string    `json:"session_id"`
	DeviceID    int64     `json:"device_id"`
	CandidateID string    `json:"candidate_id"`
	UID         int       `json:"uid"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Privilege   int       `json:"privilege"`
	Operator    string    `json:"operator"`
	TestMode    bool      `json:"test_mode"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// EnrollmentResult is the persistence outcome shown to the operator.
type EnrollmentResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
