package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mirrord/internal/profile"
	"github.com/hrygo/mirrord/plugin/ai/timeout"
	"github.com/hrygo/mirrord/store/lock"
)

// defaultLockWait bounds how long a request waits for another request of the same identity.
const defaultLockWait = timeout.LockWaitTimeout

// Store provides database access to user records.
type Store struct {
	profile *profile.Profile
	driver  Driver
	locker  lock.Locker
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(s *Store) { s.locker = l }
}

// WithClock overrides the time source used when creating records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile, opts ...Option) *Store {
	s := &Store{
		profile: profile,
		driver:  driver,
		locker:  lock.NewKeyedMutex(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// GetOrCreateUserRecord returns the record for identity, creating a free-tier
// record stamped with the current time if none exists.
func (s *Store) GetOrCreateUserRecord(ctx context.Context, identity string) (*UserRecord, error) {
	record, err := s.driver.GetUserRecord(ctx, identity)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get user record %q", identity)
	}
	if record != nil {
		return record, nil
	}
	record, err = s.driver.CreateUserRecord(ctx, NewUserRecord(identity, s.now()))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create user record %q", identity)
	}
	return record, nil
}

// MutateUserRecord runs fn on a copy of the identity's record while holding the
// identity's lock and persists the copy if fn returns nil. An error from fn
// aborts the write and is returned unchanged.
func (s *Store) MutateUserRecord(ctx context.Context, identity string, fn func(record *UserRecord) error) (*UserRecord, error) {
	lockCtx, cancel := context.WithTimeout(ctx, defaultLockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, identity)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock user record %q", identity)
	}
	defer unlock()

	current, err := s.GetOrCreateUserRecord(ctx, identity)
	if err != nil {
		return nil, err
	}

	record := current.Clone()
	if err := fn(record); err != nil {
		return current, err
	}

	// Identity and FirstSeenAt are immutable.
	record.Identity = current.Identity
	record.FirstSeenAt = current.FirstSeenAt

	updated, err := s.driver.UpdateUserRecord(ctx, record.FullUpdate())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update user record %q", identity)
	}
	return updated, nil
}

// ClaimExtraction takes the identity's extraction slot without waiting. ok is
// false while another pass, in this or any instance sharing the locker, holds
// it. The claim lapses after ttl if release is never called.
func (s *Store) ClaimExtraction(ctx context.Context, identity string, ttl time.Duration) (release func(), ok bool, err error) {
	release, ok, err = s.locker.TryLock(ctx, "extract:"+identity, ttl)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to claim extraction for %q", identity)
	}
	return release, ok, nil
}

// SetSubscriptionTier records a billing change for identity.
func (s *Store) SetSubscriptionTier(ctx context.Context, identity string, tier SubscriptionTier) (*UserRecord, error) {
	if !tier.Valid() {
		return nil, errors.Errorf("invalid subscription tier %q", tier)
	}
	return s.MutateUserRecord(ctx, identity, func(record *UserRecord) error {
		record.SubscriptionTier = tier
		return nil
	})
}
