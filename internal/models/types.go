package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JSONMap stores schemaless JSON columns (conditions, metadata, rules).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// StringArray stores string lists as JSON columns (permission codes,
// grantedBy sources, parent role IDs).
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported array column type %T", value)
	}
	if len(b) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(b, a)
}

// Contains reports whether s is present.
func (a StringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// MatchesPermission reports whether any entry covers the permission code:
// an exact code, a "resource.*" prefix wildcard, or the global "*".
func (a StringArray) MatchesPermission(code string) bool {
	for _, v := range a {
		if v == code || v == "*" {
			return true
		}
		if strings.HasSuffix(v, ".*") && strings.HasPrefix(code, v[:len(v)-1]) {
			return true
		}
	}
	return false
}

// Action is the verb half of a permission coordinate. Domain-specific verbs
// beyond the core set are accepted but must be upper-case identifiers.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionRead    Action = "READ"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionApprove Action = "APPROVE"
	ActionAssign  Action = "ASSIGN"
	ActionExport  Action = "EXPORT"
	ActionImport  Action = "IMPORT"
)

var coreActions = map[Action]bool{
	ActionCreate:  true,
	ActionRead:    true,
	ActionUpdate:  true,
	ActionDelete:  true,
	ActionApprove: true,
	ActionAssign:  true,
	ActionExport:  true,
	ActionImport:  true,
}

// IsValid accepts the core verbs plus upper-case domain extensions.
func (a Action) IsValid() bool {
	if coreActions[a] {
		return true
	}
	if len(a) == 0 || len(a) > 32 {
		return false
	}
	for _, r := range a {
		if !(r >= 'A' && r <= 'Z' || r == '_') {
			return false
		}
	}
	return true
}

// Scope narrows where a permission applies. Empty means unscoped.
type Scope string

const (
	ScopeOwn        Scope = "OWN"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeSchool     Scope = "SCHOOL"
	ScopeAll        Scope = "ALL"
)

func (s Scope) IsValid() bool {
	switch s {
	case "", ScopeOwn, ScopeDepartment, ScopeSchool, ScopeAll:
		return true
	}
	return false
}

// PolicyType selects the evaluator for a policy's rules.
type PolicyType string

const (
	PolicyTimeBased      PolicyType = "TIME_BASED"
	PolicyLocationBased  PolicyType = "LOCATION_BASED"
	PolicyAttributeBased PolicyType = "ATTRIBUTE_BASED"
)

func (t PolicyType) IsValid() bool {
	switch t {
	case PolicyTimeBased, PolicyLocationBased, PolicyAttributeBased:
		return true
	}
	return false
}

// PrincipalType is the target kind of a policy assignment.
type PrincipalType string

const (
	PrincipalUser       PrincipalType = "USER"
	PrincipalRole       PrincipalType = "ROLE"
	PrincipalDepartment PrincipalType = "DEPARTMENT"
	PrincipalPosition   PrincipalType = "POSITION"
)

func (t PrincipalType) IsValid() bool {
	switch t {
	case PrincipalUser, PrincipalRole, PrincipalDepartment, PrincipalPosition:
		return true
	}
	return false
}

// ErrNotFound is the generic repository miss sentinel; repositories wrap it
// with entity context before it crosses a service boundary.
var ErrNotFound = errors.New("record not found")
