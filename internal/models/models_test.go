package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPermissionKey(t *testing.T) {
	assert.Equal(t, "document:READ:OWN", PermissionKey("document", ActionRead, ScopeOwn))
	assert.Equal(t, "user:DELETE:all", PermissionKey("user", ActionDelete, ""))
}

func TestActionIsValid(t *testing.T) {
	assert.True(t, ActionRead.IsValid())
	assert.True(t, Action("PUBLISH").IsValid())
	assert.True(t, Action("BULK_EXPORT").IsValid())
	assert.False(t, Action("read").IsValid())
	assert.False(t, Action("").IsValid())
	assert.False(t, Action("DROP TABLE").IsValid())
}

func TestScopeIsValid(t *testing.T) {
	assert.True(t, Scope("").IsValid())
	assert.True(t, ScopeDepartment.IsValid())
	assert.False(t, Scope("GLOBAL").IsValid())
}

func TestUserPermissionActiveAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	up := &UserPermission{}
	assert.True(t, up.ActiveAt(now), "open-ended window is always active")

	up = &UserPermission{ValidFrom: &future}
	assert.False(t, up.ActiveAt(now))

	up = &UserPermission{ValidUntil: &past}
	assert.False(t, up.ActiveAt(now))

	up = &UserPermission{ValidFrom: &past, ValidUntil: &future}
	assert.True(t, up.ActiveAt(now))

	// validUntil is exclusive
	up = &UserPermission{ValidUntil: &now}
	assert.False(t, up.ActiveAt(now))
}

func TestDelegationActiveAt(t *testing.T) {
	now := time.Now()
	d := &PermissionDelegation{
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
	}
	assert.True(t, d.ActiveAt(now))

	d.IsRevoked = true
	assert.False(t, d.ActiveAt(now))
}

func TestRollbackOperation(t *testing.T) {
	assert.Equal(t, "rollback_grant", RollbackOperation(OpGrant))
	assert.Equal(t, "rollback_revoke", RollbackOperation(OpRevoke))
}

func TestHistoryCanRollback(t *testing.T) {
	h := &PermissionChangeHistory{IsRollbackable: true}
	assert.True(t, h.CanRollback())

	at := time.Now()
	h.RolledBackAt = &at
	assert.False(t, h.CanRollback())

	h = &PermissionChangeHistory{IsRollbackable: false}
	assert.False(t, h.CanRollback())
}

func TestIsCriticalPermissionCode(t *testing.T) {
	assert.True(t, IsCriticalPermissionCode("system.admin"))
	assert.True(t, IsCriticalPermissionCode("permission.grant"))
	assert.True(t, IsCriticalPermissionCode("permission.revoke"))
	assert.False(t, IsCriticalPermissionCode("document.read"))
}

func TestStringArrayContains(t *testing.T) {
	a := StringArray{"a.read", "b.write"}
	assert.True(t, a.Contains("a.read"))
	assert.False(t, a.Contains("c.delete"))
}

func TestStringArrayMatchesPermission(t *testing.T) {
	a := StringArray{"document.read", "report.*"}
	assert.True(t, a.MatchesPermission("document.read"))
	assert.True(t, a.MatchesPermission("report.export"))
	assert.False(t, a.MatchesPermission("document.write"))
	assert.False(t, a.MatchesPermission("reporting.read"), "prefix wildcard binds at the dot")

	assert.True(t, StringArray{"*"}.MatchesPermission("anything.at.all"))
	assert.False(t, StringArray{}.MatchesPermission("document.read"))
}

func TestCheckTripleKeyDistinguishesResourceInstances(t *testing.T) {
	base := CheckTriple{Resource: "document", Action: ActionRead, Scope: ScopeOwn}
	instance := CheckTriple{Resource: "document", Action: ActionRead, Scope: ScopeOwn, ResourceID: "doc-7"}

	assert.Equal(t, "document:READ:OWN", base.Key())
	assert.Equal(t, "document:READ:OWN:doc-7", instance.Key())
	assert.NotEqual(t, base.Key(), instance.Key())
}

func TestAppErrorCodes(t *testing.T) {
	err := ErrConflictf(CodePermissionAlreadyExists, "permission %s already exists", "document.read")
	assert.True(t, IsCode(err, CodePermissionAlreadyExists))
	assert.Equal(t, 409, err.HTTPStatus)

	wrapped := ErrInternalf(CodeDBQueryFailed, "query failed").WithCause(err)
	app, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CodeDBQueryFailed, app.Code)
}
