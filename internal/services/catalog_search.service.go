package services

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// catalogDoc is the indexed shape of one permission.
type catalogDoc struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Scope       string `json:"scope"`
}

// CatalogSearchService keeps an in-memory full-text index of the permission
// catalog for the admin search surface. The catalog is small; the index is
// rebuilt from Postgres on startup and kept current by the permission
// service through the CatalogIndexer interface.
type CatalogSearchService struct {
	permissions postgres.PermissionStore
	logger      logger.Logger

	mu    sync.RWMutex
	index bleve.Index
}

func NewCatalogSearchService(permissions postgres.PermissionStore, log logger.Logger) (*CatalogSearchService, error) {
	indexMapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, err
	}
	return &CatalogSearchService{
		permissions: permissions,
		logger:      log.With("component", "catalog_search"),
		index:       index,
	}, nil
}

// Rebuild reloads the whole catalog into the index.
func (s *CatalogSearchService) Rebuild(ctx context.Context) error {
	perms, _, err := s.permissions.List(ctx, models.PermissionFilter{Limit: 10000})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.index.NewBatch()
	for i := range perms {
		if err := batch.Index(perms[i].ID, toCatalogDoc(&perms[i])); err != nil {
			return err
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return err
	}
	s.logger.Info("permission catalog indexed", "permissions", len(perms))
	return nil
}

// IndexPermission upserts one catalog entry.
func (s *CatalogSearchService) IndexPermission(p *models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Index(p.ID, toCatalogDoc(p))
}

// RemovePermission drops one catalog entry.
func (s *CatalogSearchService) RemovePermission(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Delete(id)
}

// Search runs a match query across the indexed fields and returns matching
// permission IDs in relevance order.
func (s *CatalogSearchService) Search(ctx context.Context, queryText string, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	q := bleve.NewQueryStringQuery(queryText)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)

	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, models.ErrValidationf(models.CodeInvalidQuery, "catalog query is not parseable").WithCause(err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the index.
func (s *CatalogSearchService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func toCatalogDoc(p *models.Permission) catalogDoc {
	return catalogDoc{
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
		Resource:    p.Resource,
		Action:      string(p.Action),
		Scope:       string(p.Scope),
	}
}
