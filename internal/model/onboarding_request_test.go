package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRequest() *OnboardingRequest {
	return &OnboardingRequest{
		ID:         uuid.New(),
		Email:      "admin@example.com",
		FullName:   "New Admin",
		FamilyName: "Smith",
		Status:     RequestPending,
	}
}

func TestOnboardingRequestApprove(t *testing.T) {
	reviewer := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC()

	req := pendingRequest()
	require.NoError(t, req.Approve(reviewer, userID, now))

	assert.Equal(t, RequestApproved, req.Status)
	require.NotNil(t, req.UserID)
	assert.Equal(t, userID, *req.UserID)
	require.NotNil(t, req.ReviewedBy)
	assert.Equal(t, reviewer, *req.ReviewedBy)
	require.NotNil(t, req.ReviewedAt)
	assert.Equal(t, now, *req.ReviewedAt)
}

func TestOnboardingRequestReject(t *testing.T) {
	reviewer := uuid.New()
	now := time.Now().UTC()

	req := pendingRequest()
	require.NoError(t, req.Reject(reviewer, "unverifiable family", now))

	assert.Equal(t, RequestRejected, req.Status)
	require.NotNil(t, req.RejectionReason)
	assert.Equal(t, "unverifiable family", *req.RejectionReason)
	assert.Nil(t, req.UserID)
}

func TestOnboardingRequestReviewedExactlyOnce(t *testing.T) {
	reviewer := uuid.New()
	now := time.Now().UTC()

	t.Run("approve then approve", func(t *testing.T) {
		req := pendingRequest()
		require.NoError(t, req.Approve(reviewer, uuid.New(), now))
		assert.ErrorIs(t, req.Approve(reviewer, uuid.New(), now), ErrNotPending)
	})

	t.Run("approve then reject", func(t *testing.T) {
		req := pendingRequest()
		firstUser := uuid.New()
		require.NoError(t, req.Approve(reviewer, firstUser, now))
		assert.ErrorIs(t, req.Reject(reviewer, "changed my mind", now), ErrNotPending)
		assert.Equal(t, RequestApproved, req.Status)
		assert.Equal(t, firstUser, *req.UserID)
	})

	t.Run("reject then approve", func(t *testing.T) {
		req := pendingRequest()
		require.NoError(t, req.Reject(reviewer, "no", now))
		assert.ErrorIs(t, req.Approve(reviewer, uuid.New(), now), ErrNotPending)
		assert.Equal(t, RequestRejected, req.Status)
	})
}

func TestValidRoleAndApprovalStatus(t *testing.T) {
	for _, role := range []string{RoleSuperAdmin, RoleFamilyAdmin, RoleFamilyCoAdmin, RoleFamilyUser} {
		assert.True(t, ValidRole(role), role)
	}
	assert.False(t, ValidRole("owner"))
	assert.False(t, ValidRole(""))

	for _, status := range []string{ApprovalApproved, ApprovalPending, ApprovalRejected} {
		assert.True(t, ValidApprovalStatus(status), status)
	}
	assert.False(t, ValidApprovalStatus("maybe"))
}
