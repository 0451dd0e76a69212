package persistence

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnscopedQuery is returned when a statement on a tenant-partitioned table has no tenant predicate
var ErrUnscopedQuery = errors.New("query on tenant-partitioned table without tenant_id condition")

const tenantColumn = "tenant_id"

// TenantGuard rejects reads, updates and deletes on guarded tables that do
// not filter by tenant. It never adds a filter itself: the tenant travels as
// an explicit parameter.
type TenantGuard struct {
	tables map[string]struct{}
}

// NewTenantGuard creates a guard for the given tables
func NewTenantGuard(tables ...string) *TenantGuard {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[t] = struct{}{}
	}
	return &TenantGuard{tables: set}
}

// EventStoreTables are the tables partitioned by tenant_id
func EventStoreTables() []string {
	return []string{"domain_events", "aggregate_snapshots", "tracking_tokens"}
}

// Register installs the guard callbacks on db
func (g *TenantGuard) Register(db *gorm.DB) error {
	return errors.Join(
		db.Callback().Query().Before("gorm:query").Register("eaf:tenant_guard_query", g.check),
		db.Callback().Row().Before("gorm:row").Register("eaf:tenant_guard_row", g.check),
		db.Callback().Update().Before("gorm:update").Register("eaf:tenant_guard_update", g.check),
		db.Callback().Delete().Before("gorm:delete").Register("eaf:tenant_guard_delete", g.check),
	)
}

func (g *TenantGuard) check(db *gorm.DB) {
	if db.Error != nil || db.Statement.Unscoped {
		return
	}
	if _, guarded := g.tables[db.Statement.Table]; !guarded {
		return
	}
	if hasTenantCondition(db.Statement) {
		return
	}
	_ = db.AddError(ErrUnscopedQuery)
}

func hasTenantCondition(stmt *gorm.Statement) bool {
	c, ok := stmt.Clauses["WHERE"]
	if !ok {
		return false
	}
	where, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, expr := range where.Exprs {
		if exprContainsTenant(expr) {
			return true
		}
	}
	return false
}

func exprContainsTenant(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Expr:
		return strings.Contains(e.SQL, tenantColumn)
	case clause.Eq:
		return columnIsTenant(e.Column)
	case clause.IN:
		return columnIsTenant(e.Column)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if exprContainsTenant(cond) {
				return true
			}
		}
	}
	return false
}

func columnIsTenant(col any) bool {
	switch c := col.(type) {
	case clause.Column:
		return c.Name == tenantColumn
	case string:
		return c == tenantColumn
	}
	return false
}
