package db

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecrm/backend/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func seedTelecaller(t *testing.T, s *Store, name string) models.User {
	t.Helper()
	u := models.User{
		ID:           uuid.NewString(),
		Username:     name + "-" + uuid.NewString()[:8],
		PasswordHash: "x",
		UserType:     models.RoleTeleCaller,
	}
	require.NoError(t, s.CreateUser(context.Background(), &u))
	t.Cleanup(func() {
		_, _ = s.Pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, u.ID)
	})
	return u
}

func seedLead(t *testing.T, s *Store) models.Lead {
	t.Helper()
	l := models.Lead{
		ID:     uuid.NewString(),
		Name:   "Lead",
		Phone:  uuid.NewString(),
		Status: models.StatusPending,
	}
	require.NoError(t, s.CreateLead(context.Background(), &l))
	t.Cleanup(func() {
		_, _ = s.Pool.Exec(context.Background(), `DELETE FROM leads WHERE id = $1`, l.ID)
	})
	return l
}

func TestConditionalAssignment(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t1 := seedTelecaller(t, s, "t1")
	t2 := seedTelecaller(t, s, "t2")
	lead := seedLead(t, s)

	got, err := s.AssignLead(ctx, lead.ID, t1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, t1.ID, *got.AssignedTo)
	assert.NotNil(t, got.AssignedAt)

	_, err = s.AssignLead(ctx, lead.ID, t2.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.ReassignLead(ctx, lead.ID, t2.ID, t1.ID)
	assert.ErrorIs(t, err, ErrConflict)

	got, err = s.ReassignLead(ctx, lead.ID, t1.ID, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, *got.AssignedTo)

	got, err = s.UnassignLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.AssignedAt)

	_, err = s.UnassignLead(ctx, lead.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.AssignLead(ctx, uuid.NewString(), t1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnassignKeepsDecidedLeads(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t1 := seedTelecaller(t, s, "t1")
	lead := seedLead(t, s)

	_, err := s.AssignLead(ctx, lead.ID, t1.ID)
	require.NoError(t, err)
	approved := models.StatusApproved
	_, err = s.UpdateLead(ctx, lead.ID, models.LeadPatch{Status: &approved})
	require.NoError(t, err)

	_, err = s.UnassignLead(ctx, lead.ID)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, *got.AssignedTo)
}

func TestInsertLeadsSkipsDuplicatePhones(t *testing.T) {
	s := testStore(t)
	existing := seedLead(t, s)

	fresh := models.Lead{ID: uuid.NewString(), Name: "Fresh", Phone: uuid.NewString(), Status: models.StatusPending}
	dup := models.Lead{ID: uuid.NewString(), Name: "Dup", Phone: existing.Phone, Status: models.StatusPending}
	t.Cleanup(func() {
		_, _ = s.Pool.Exec(context.Background(), `DELETE FROM leads WHERE id = ANY($1)`, []string{fresh.ID, dup.ID})
	})

	n, err := s.InsertLeads(context.Background(), []models.Lead{fresh, dup})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetLead(context.Background(), dup.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUserRejectsTakenUsername(t *testing.T) {
	s := testStore(t)
	u := seedTelecaller(t, s, "dup")

	again := models.User{ID: uuid.NewString(), Username: u.Username, PasswordHash: "x", UserType: models.RoleAgent}
	assert.ErrorIs(t, s.CreateUser(context.Background(), &again), ErrConflict)
}

func TestUpdateOwnedLeadRequiresOwner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t1 := seedTelecaller(t, s, "t1")
	t2 := seedTelecaller(t, s, "t2")
	lead := seedLead(t, s)

	approved := models.StatusApproved
	patch := models.LeadPatch{Status: &approved}

	_, err := s.UpdateOwnedLead(ctx, lead.ID, t1.ID, patch)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.AssignLead(ctx, lead.ID, t2.ID)
	require.NoError(t, err)
	_, err = s.UpdateOwnedLead(ctx, lead.ID, t1.ID, patch)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.UpdateOwnedLead(ctx, lead.ID, t2.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)

	_, err = s.UpdateOwnedLead(ctx, uuid.NewString(), t2.ID, patch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateFirstUserRefusesOnceUsersExist(t *testing.T) {
	s := testStore(t)
	seedTelecaller(t, s, "existing")

	u := models.User{ID: uuid.NewString(), Username: "root-" + uuid.NewString()[:8], PasswordHash: "x", UserType: models.RoleAdmin}
	assert.ErrorIs(t, s.CreateFirstUser(context.Background(), &u), ErrNotEmpty)

	_, err := s.GetUser(context.Background(), u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
