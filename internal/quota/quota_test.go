package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milna-relay/models"
)

type fakeStore struct {
	profile    *models.Profile
	getErr     error
	incErr     error
	increments int
}

func (s *fakeStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.profile, nil
}

func (s *fakeStore) IncrementMessageCount(ctx context.Context, userID string) error {
	if s.incErr != nil {
		return s.incErr
	}
	s.increments++
	if s.profile != nil {
		s.profile.MessageCount++
	}
	return nil
}

func TestCheckUnderLimit(t *testing.T) {
	guard := NewGuard(&fakeStore{profile: &models.Profile{UserID: "u1", MessageCount: 99}}, 0)

	status := guard.Check(context.Background(), "u1")

	assert.True(t, status.Allowed)
	assert.Equal(t, 1, status.Remaining)
	assert.False(t, status.Unlimited)
}

func TestCheckAtLimit(t *testing.T) {
	guard := NewGuard(&fakeStore{profile: &models.Profile{UserID: "u1", MessageCount: 100}}, 0)

	status := guard.Check(context.Background(), "u1")

	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)
}

func TestCheckOverLimitClampsRemaining(t *testing.T) {
	guard := NewGuard(&fakeStore{profile: &models.Profile{UserID: "u1", MessageCount: 140}}, 0)

	status := guard.Check(context.Background(), "u1")

	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)
}

func TestCheckProAccessIsUnlimited(t *testing.T) {
	guard := NewGuard(&fakeStore{profile: &models.Profile{
		UserID:       "u1",
		MessageCount: 100000,
		HasProAccess: true,
	}}, 0)

	status := guard.Check(context.Background(), "u1")

	assert.True(t, status.Allowed)
	assert.True(t, status.Unlimited)
	assert.Equal(t, UnlimitedRemaining, status.Remaining)
}

func TestCheckCouponRedeemedIsUnlimited(t *testing.T) {
	guard := NewGuard(&fakeStore{profile: &models.Profile{
		UserID:         "u1",
		MessageCount:   500,
		CouponRedeemed: true,
	}}, 0)

	status := guard.Check(context.Background(), "u1")

	assert.True(t, status.Allowed)
	assert.True(t, status.Unlimited)
}

func TestCheckMissingProfileAllows(t *testing.T) {
	guard := NewGuard(&fakeStore{}, 0)

	status := guard.Check(context.Background(), "brand-new")

	assert.True(t, status.Allowed)
	assert.Equal(t, DefaultMessageLimit, status.Remaining)
}

// A broken profile store must not block visitors: the guard fails open.
func TestCheckStoreErrorFailsOpen(t *testing.T) {
	guard := NewGuard(&fakeStore{getErr: errors.New("connection reset")}, 0)

	status := guard.Check(context.Background(), "u1")

	assert.True(t, status.Allowed)
}

func TestRecordUsageIncrementsOnce(t *testing.T) {
	store := &fakeStore{profile: &models.Profile{UserID: "u1", MessageCount: 50}}
	guard := NewGuard(store, 0)

	require.NoError(t, guard.RecordUsage(context.Background(), "u1"))

	assert.Equal(t, 1, store.increments)
	assert.Equal(t, 51, store.profile.MessageCount)
}

func TestCustomLimit(t *testing.T) {
	guard := NewGuard(&fakeStore{profile: &models.Profile{UserID: "u1", MessageCount: 5}}, 10)

	status := guard.Check(context.Background(), "u1")

	assert.True(t, status.Allowed)
	assert.Equal(t, 5, status.Remaining)
	assert.Equal(t, 10, guard.Limit())
}
