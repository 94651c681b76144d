package terminal

import (
	"strings"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/pkg/zk"
)

// maxFingerProbes bounds template slot probing per user.
const maxFingerProbes = 5

// UserListOptions selects a page of the user table. Count 0 returns every
// user from Start on.
type UserListOptions struct {
	Start               int
	Count               int
	IncludeFingerprints bool
}

// GetUserCount returns the number of users on the terminal, 0 when every
// strategy failed.
func (t *Terminal) GetUserCount() int {
	count, _, err := firstSuccess(t, "user_count", []strategy[int]{
		{"read_sizes", func() (int, error) {
			sizes, err := t.driver.ReadSizes()
			if err != nil {
				return 0, err
			}
			return sizes.Users, nil
		}},
		{"buffered_users", func() (int, error) {
			users, err := t.driver.GetUsers()
			return len(users), err
		}},
		{"direct_users", func() (int, error) {
			users, err := t.driver.ReadAllUserID()
			return len(users), err
		}},
	})
	if err != nil {
		return 0
	}
	return count
}

// GetUserList returns the selected users in device order, or an empty list
// when every strategy failed.
func (t *Terminal) GetUserList(opts UserListOptions) []domain.UserRecord {
	rec := &recovery{}
	users, name, err := firstSuccess(t, "users", []strategy[[]*zk.User]{
		{"buffered_read", t.withRecovery(rec, t.driver.GetUsers)},
		{"direct_read", t.withRecovery(rec, t.driver.ReadAllUserID)},
		{"disabled_buffered_read", t.withRecovery(rec, func() ([]*zk.User, error) {
			return whileDisabled(t, t.driver.GetUsers)
		})},
	})
	if err != nil {
		return []domain.UserRecord{}
	}

	users = page(users, opts.Start, opts.Count)
	if opts.IncludeFingerprints {
		t.attachTemplates(users)
	}

	records := make([]domain.UserRecord, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		r := toUserRecord(u)
		if opts.IncludeFingerprints {
			r.FingerprintCount = t.fingerprintCount(u)
		}
		records = append(records, r)
	}

	t.logger.Debug().Str("strategy", name).Int("users", len(records)).Msg("User list read")
	return records
}

func page(users []*zk.User, start, count int) []*zk.User {
	if start < 0 {
		start = 0
	}
	if start >= len(users) {
		return nil
	}
	users = users[start:]
	if count > 0 && count < len(users) {
		users = users[:count]
	}
	return users
}

// recovery tracks the single secondary connection allowed per call.
type recovery struct {
	used bool
}

// withRecovery wraps a users strategy: when it fails with a corruption
// signature, the query is re-issued once on a secondary connection. If that
// fails too, the original error is returned so the remaining strategies run
// on the primary connection.
func (t *Terminal) withRecovery(rec *recovery, fn func() ([]*zk.User, error)) func() ([]*zk.User, error) {
	return func() ([]*zk.User, error) {
		users, err := call(fn)
		if err == nil || !zk.IsCorruption(err) || rec.used || t.secondary == nil {
			return users, err
		}
		rec.used = true

		t.logger.Warn().Err(err).Msg("Corrupted read on primary connection, trying a secondary connection")
		recovered, rerr := t.recoverUsers()
		t.metrics.IncRecovery(rerr == nil)
		if rerr != nil {
			t.logger.Warn().Err(rerr).Msg("Secondary connection recovery failed")
			return nil, err
		}
		t.logger.Info().Int("users", len(recovered)).Msg("Users read through secondary connection")
		return recovered, nil
	}
}

func (t *Terminal) recoverUsers() ([]*zk.User, error) {
	d := t.secondary()
	if err := d.Connect(); err != nil {
		return nil, err
	}
	defer func() {
		if err := d.Disconnect(); err != nil {
			t.logger.Debug().Err(err).Msg("Secondary disconnect")
		}
	}()
	return call(d.GetUsers)
}

// attachTemplates fills the Fingers of users from one bulk template read
// when the driver supports it. Users keep whatever they already carry.
func (t *Terminal) attachTemplates(users []*zk.User) {
	reader, ok := t.driver.(bulkTemplateReader)
	if !ok || len(users) == 0 {
		return
	}
	fingers, err := call(reader.GetTemplates)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Bulk template read failed, probing per user")
		return
	}

	byUID := make(map[int][]*zk.Finger)
	for _, f := range fingers {
		if f != nil {
			byUID[f.UID] = append(byUID[f.UID], f)
		}
	}
	for _, u := range users {
		if u != nil && len(u.Fingers) == 0 {
			u.Fingers = byUID[u.UID]
		}
	}
}

// fingerprintCount uses templates already attached to u, otherwise probes
// slots 0..4 and stops at the first empty or failing slot.
func (t *Terminal) fingerprintCount(u *zk.User) int {
	if len(u.Fingers) > 0 {
		n := 0
		for _, f := range u.Fingers {
			if f != nil && len(f.Template) > 0 {
				n++
			}
		}
		return n
	}

	reader, ok := t.driver.(templateReader)
	if !ok {
		return 0
	}
	n := 0
	for fid := 0; fid < maxFingerProbes; fid++ {
		tpl, err := call(func() ([]byte, error) { return reader.GetUserTemplate(u.UID, fid) })
		if err != nil || len(tpl) == 0 {
			break
		}
		n++
	}
	return n
}

func toUserRecord(u *zk.User) domain.UserRecord {
	return domain.UserRecord{
		UID:       u.UID,
		UserID:    strings.TrimSpace(u.UserID),
		Name:      strings.TrimSpace(u.Name),
		Privilege: domain.PrivilegeFromDevice(u.Privilege),
		Password:  u.Password,
		GroupID:   u.GroupID,
		Card:      u.Card,
	}
}
