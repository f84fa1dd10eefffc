package territory

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Territory{}, &audit.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Recorder: audit.NewRecorder(node),
	})
}

func TestCreateSlugsCodeFromName(t *testing.T) {
	svc := newService(t)

	created, err := svc.Create(context.Background(), CreateRequest{Name: "North East", Actor: "ops"})
	require.NoError(t, err)
	require.Equal(t, "north-east", created.Code)
	require.Equal(t, OwnerOperator, created.OwnerType)
	require.Nil(t, created.LicenseeID)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Name: "North", Code: "north"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRequest{Name: "Other North", Code: "north"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestCreateWithLicenseeIsDelegated(t *testing.T) {
	svc := newService(t)

	created, err := svc.Create(context.Background(), CreateRequest{Name: "South", LicenseeID: "lic-1"})
	require.NoError(t, err)
	require.Equal(t, OwnerLicensee, created.OwnerType)
	require.True(t, created.OwnedByLicensee("lic-1"))
}

func TestAssignToLicensee(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Name: "West"})
	require.NoError(t, err)

	assigned, err := svc.AssignToLicensee(ctx, created.ID, "lic-9", "ops")
	require.NoError(t, err)
	require.Equal(t, OwnerLicensee, assigned.OwnerType)
	require.Equal(t, "lic-9", *assigned.LicenseeID)

	// A delegated territory cannot be delegated again.
	_, err = svc.AssignToLicensee(ctx, created.ID, "lic-10", "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestAssignToLicenseeUnknownTerritory(t *testing.T) {
	svc := newService(t)

	_, err := svc.AssignToLicensee(context.Background(), "missing", "lic-1", "ops")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestListFiltersByOwner(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Name: "A"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Name: "B", LicenseeID: "lic-1"})
	require.NoError(t, err)

	owned, err := svc.List(ctx, ListRequest{OwnerType: OwnerLicensee})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, "b", owned[0].Code)
}
