package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

// ResolvedPlan is a plan reference expanded to full identifiers.
type ResolvedPlan struct {
	PlanID   uuid.UUID
	TenantID uuid.UUID
}

// ResolvedModule is a module reference expanded to full identifiers.
type ResolvedModule struct {
	ModuleID uuid.UUID
	TenantID uuid.UUID
}

// Resolver expands the id prefixes carried by references. A prefix matching
// more than one row is rejected rather than picking one.
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	if tx == nil {
		return r
	}
	return &Resolver{db: tx}
}

// ResolvePlan finds the plan and the tenant owned by the referenced owner.
func (r *Resolver) ResolvePlan(ctx context.Context, ref PlanRef) (ResolvedPlan, error) {
	planID, err := r.lookup(ctx, "plans", "id", ref.PlanID, "plan")
	if err != nil {
		return ResolvedPlan{}, err
	}
	tenantID, err := r.lookup(ctx, "tenants", "owner_id", ref.OwnerID, "tenant owner")
	if err != nil {
		return ResolvedPlan{}, err
	}
	return ResolvedPlan{PlanID: planID, TenantID: tenantID}, nil
}

// ResolveModule finds the module and tenant named by the reference.
func (r *Resolver) ResolveModule(ctx context.Context, ref ModuleRef) (ResolvedModule, error) {
	moduleID, err := r.lookup(ctx, "modules", "id", ref.ModuleID, "module")
	if err != nil {
		return ResolvedModule{}, err
	}
	tenantID, err := r.lookup(ctx, "tenants", "id", ref.TenantID, "tenant")
	if err != nil {
		return ResolvedModule{}, err
	}
	return ResolvedModule{ModuleID: moduleID, TenantID: tenantID}, nil
}

// lookup returns the id of the single row of table whose column equals or
// starts with value. table and column are never caller supplied.
func (r *Resolver) lookup(ctx context.Context, table, column, value, label string) (uuid.UUID, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	query := r.db.WithContext(ctx).Table(table).Limit(2)

	if full, err := uuid.Parse(value); err == nil {
		query = query.Where(column+" = ?", full)
	} else {
		if !validPrefix(value) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid %s reference", label))
		}
		query = query.Where("CAST("+column+" AS TEXT) LIKE ?", value+"%")
	}

	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve reference")
	}
	switch len(ids) {
	case 0:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, label+" not found")
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "ambiguous reference prefix").
			WithDetails(map[string]any{"kind": label, "prefix": value})
	}
}

func validPrefix(v string) bool {
	if len(v) < PrefixLen {
		return false
	}
	for _, c := range v {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && c != '-' {
			return false
		}
	}
	return true
}
