package services

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/authz-core/internal/models"
)

// TestFixtures holds shared test data loaded from testdata/fixtures.yaml so
// tests agree on one permission catalog instead of hardcoding codes inline.
type TestFixtures struct {
	Permissions []FixturePermission `yaml:"permissions"`
	Users       []FixtureUser       `yaml:"users"`
	Checks      []FixtureCheck      `yaml:"checks"`
}

type FixturePermission struct {
	ID          string `yaml:"id"`
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Scope       string `yaml:"scope"`
}

type FixtureUser struct {
	ID           string `yaml:"id"`
	ExternalID   string `yaml:"external_id"`
	FullName     string `yaml:"full_name"`
	DepartmentID string `yaml:"department_id"`
	IsSuperadmin bool   `yaml:"is_superadmin"`
}

// FixtureCheck is one expected decision against the fixture catalog.
type FixtureCheck struct {
	Name     string `yaml:"name"`
	UserID   string `yaml:"user_id"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
	Scope    string `yaml:"scope"`
	Allowed  bool   `yaml:"allowed"`
}

var (
	fixturesOnce   sync.Once
	loadedFixtures *TestFixtures
	fixturesErr    error
)

// LoadTestFixtures reads testdata/fixtures.yaml once and caches the result
// for every test in the package.
func LoadTestFixtures() (*TestFixtures, error) {
	fixturesOnce.Do(func() {
		raw, err := os.ReadFile(filepath.Join("testdata", "fixtures.yaml"))
		if err != nil {
			fixturesErr = err
			return
		}
		var f TestFixtures
		if err := yaml.Unmarshal(raw, &f); err != nil {
			fixturesErr = err
			return
		}
		loadedFixtures = &f
	})
	return loadedFixtures, fixturesErr
}

// Model converts a fixture row into the persistence model used by tests.
func (p FixturePermission) Model() *models.Permission {
	scope := models.Scope(p.Scope)
	if p.Scope == "" {
		scope = models.ScopeAll
	}
	return &models.Permission{
		ID:          p.ID,
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
		Resource:    p.Resource,
		Action:      models.Action(p.Action),
		Scope:       scope,
		IsActive:    true,
	}
}
