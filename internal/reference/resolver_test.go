package reference

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/db/dbtest"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

func seedResolverData(t *testing.T) (*gorm.DB, models.Module, models.Tenant) {
	t.Helper()
	conn := dbtest.Open(t)
	module := models.Module{ID: uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000001"), Name: "Delivery", PriceCents: 4900}
	tenant := models.Tenant{
		ID:      uuid.MustParse("e5f6a7b8-0000-4000-8000-000000000002"),
		OwnerID: uuid.MustParse("c0ffee00-0000-4000-8000-000000000003"),
		Name:    "Cafe",
	}
	plan := models.Plan{ID: uuid.MustParse("bada5500-0000-4000-8000-000000000004"), Name: "Pro", PriceCents: 9900}
	require.NoError(t, conn.Create(&module).Error)
	require.NoError(t, conn.Create(&tenant).Error)
	require.NoError(t, conn.Create(&plan).Error)
	return conn, module, tenant
}

func TestResolveModuleByPrefix(t *testing.T) {
	conn, module, tenant := seedResolverData(t)
	resolver := NewResolver(conn)

	resolved, err := resolver.ResolveModule(context.Background(), ModuleRef{ModuleID: "a1b2c3d4", TenantID: "e5f6a7b8"})
	require.NoError(t, err)
	require.Equal(t, module.ID, resolved.ModuleID)
	require.Equal(t, tenant.ID, resolved.TenantID)
}

func TestResolvePlanByFullIDs(t *testing.T) {
	conn, _, tenant := seedResolverData(t)
	resolver := NewResolver(conn)

	resolved, err := resolver.ResolvePlan(context.Background(), PlanRef{
		PlanID:  "bada5500-0000-4000-8000-000000000004",
		OwnerID: tenant.OwnerID.String(),
	})
	require.NoError(t, err)
	require.Equal(t, tenant.ID, resolved.TenantID)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	conn, _, _ := seedResolverData(t)
	other := models.Module{ID: uuid.MustParse("a1b2c3d4-9999-4000-8000-000000000009"), Name: "Loyalty", PriceCents: 1900}
	require.NoError(t, conn.Create(&other).Error)

	_, err := NewResolver(conn).ResolveModule(context.Background(), ModuleRef{ModuleID: "a1b2c3d4", TenantID: "e5f6a7b8"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	require.Equal(t, "ambiguous reference prefix", typed.Message())
}

func TestResolveNotFoundAndInvalid(t *testing.T) {
	conn, _, _ := seedResolverData(t)
	resolver := NewResolver(conn)

	_, err := resolver.ResolveModule(context.Background(), ModuleRef{ModuleID: "ffffffff", TenantID: "e5f6a7b8"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = resolver.ResolveModule(context.Background(), ModuleRef{ModuleID: "a1b2", TenantID: "e5f6a7b8"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = resolver.ResolveModule(context.Background(), ModuleRef{ModuleID: "a1b2c3d4%", TenantID: "e5f6a7b8"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}
