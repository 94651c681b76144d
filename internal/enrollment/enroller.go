package enrollment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/metrics"
	"github.com/quira/zkbridge/internal/terminal"
)

// Session identifies one operator's enrollment run.
type Session struct {
	ID        string
	Operator  string
	StartedAt time.Time
}

func NewSession(operator string) Session {
	return Session{
		ID:        uuid.NewString(),
		Operator:  operator,
		StartedAt: time.Now(),
	}
}

// Request assigns a candidate to a terminal user slot.
type Request struct {
	CandidateID string
	UID         int // ignored in test mode
	UserID      string
	Name        string
	Privilege   int
	Password    string
}

type Enroller struct {
	device    Device
	registry  Registry
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.Registry

	now func() time.Time
}

func NewEnroller(device Device, registry Registry, logger zerolog.Logger, metricsReg *metrics.Registry) *Enroller {
	return &Enroller{
		device:   device,
		registry: registry,
		logger:   logger.With().Str("component", "enroller").Logger(),
		metrics:  metricsReg,
		now:      time.Now,
	}
}

// SetPublisher announces every saved enrollment through p.
func (e *Enroller) SetPublisher(p Publisher) {
	e.publisher = p
}

// PendingUsers lists the terminal users still carrying an NN-<n> placeholder
// id. In test mode the placeholder uid is the only pending user.
func (e *Enroller) PendingUsers(ctx context.Context, b *Binding) ([]domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.TestMode {
		return []domain.UserRecord{{
			UID:    b.PlaceholderUID,
			UserID: domain.PlaceholderUserID(b.PlaceholderUID),
		}}, nil
	}

	var pending []domain.UserRecord
	for _, u := range e.device.GetUserList(terminal.UserListOptions{IncludeFingerprints: true}) {
		if u.IsPlaceholder() {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

// Enroll writes the candidate to the terminal and saves the enrollment. A
// failed write is retried once after a reconnect; if it still fails nothing
// is saved. In test mode the terminal is never written.
func (e *Enroller) Enroll(ctx context.Context, s Session, b *Binding, req Request) (domain.EnrollmentResult, error) {
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.CandidateID == "" || req.UserID == "" {
		return domain.EnrollmentResult{}, fmt.Errorf("%w: candidate and user id are required", domain.ErrInvalidUser)
	}

	mode := "live"
	uid := req.UID
	if b.TestMode {
		mode = "test"
		uid = b.PlaceholderUID
	} else if err := e.write(uid, req); err != nil {
		e.metrics.IncEnrollment(mode, false)
		return domain.EnrollmentResult{}, err
	}

	rec := domain.EnrollmentRecord{
		SessionID:   s.ID,
		DeviceID:    b.Device.ID,
		CandidateID: req.CandidateID,
		UID:         uid,
		UserID:      req.UserID,
		Name:        req.Name,
		Privilege:   req.Privilege,
		Operator:    s.Operator,
		TestMode:    b.TestMode,
		EnrolledAt:  e.now(),
	}

	result, err := e.registry.UpsertEnrollmentRecord(ctx, rec)
	if err != nil {
		e.metrics.IncEnrollment(mode, false)
		return domain.EnrollmentResult{}, fmt.Errorf("save enrollment: %w", err)
	}
	e.metrics.IncEnrollment(mode, result.Success)

	e.logger.Info().
		Str("session_id", s.ID).
		Str("candidate_id", rec.CandidateID).
		Int("uid", uid).
		Bool("test_mode", b.TestMode).
		Bool("success", result.Success).
		Msg(result.Message)

	if result.Success && e.publisher != nil {
		if err := e.publisher.PublishEnrollment(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish enrollment")
		}
	}
	return result, nil
}

func (e *Enroller) write(uid int, req Request) error {
	if uid <= 0 {
		return fmt.Errorf("%w: uid %d", domain.ErrInvalidUser, uid)
	}
	user := domain.UserRecord{
		UID:       uid,
		UserID:    req.UserID,
		Name:      req.Name,
		Privilege: req.Privilege,
		Password:  req.Password,
	}

	if e.device.SetUser(user) {
		return nil
	}
	e.logger.Warn().Int("uid", uid).Msg("User write failed, reconnecting")

	if err := e.device.Reconnect(); err != nil {
		return fmt.Errorf("%w: reconnect: %v", domain.ErrDeviceWriteFailed, err)
	}
	if !e.device.SetUser(user) {
		return fmt.Errorf("%w: uid %d", domain.ErrDeviceWriteFailed, uid)
	}
	return nil
}
