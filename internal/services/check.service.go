package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/internal/repo/postgres"
	"github.com/platformbuilds/authz-core/internal/tracing"
	"github.com/platformbuilds/authz-core/pkg/breaker"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

const (
	defaultCheckTimeout = 100 * time.Millisecond
	defaultBatchMax     = 100
)

// CheckEventSink receives one event per resolved check. The websocket hub
// implements it; a nil sink disables streaming.
type CheckEventSink interface {
	Publish(event *models.CheckEvent)
}

// CheckService is the permission check engine. A check walks superadmin
// bypass, the pre-computed matrix, the cache, and finally full database
// resolution, in that order. Database resolution runs behind the DB breaker
// and the whole check is bounded by a hard deadline.
type CheckService struct {
	permissions postgres.PermissionStore
	users       postgres.UserStore
	cache       *PermissionCacheService
	matrix      *MatrixService
	resolver    *PermissionResolver
	history     postgres.HistoryStore
	dbBreaker   *breaker.Breaker
	events      CheckEventSink
	logger      logger.Logger

	timeout      time.Duration
	batchMax     int
	batchTimeout time.Duration
}

func NewCheckService(
	permissions postgres.PermissionStore,
	users postgres.UserStore,
	cacheService *PermissionCacheService,
	matrixService *MatrixService,
	resolver *PermissionResolver,
	history postgres.HistoryStore,
	dbBreaker *breaker.Breaker,
	events CheckEventSink,
	cfg config.CheckConfig,
	log logger.Logger,
) *CheckService {
	s := &CheckService{
		permissions:  permissions,
		users:        users,
		cache:        cacheService,
		matrix:       matrixService,
		resolver:     resolver,
		history:      history,
		dbBreaker:    dbBreaker,
		events:       events,
		logger:       log.With("component", "check"),
		timeout:      cfg.Timeout(),
		batchMax:     cfg.BatchMaxSize,
		batchTimeout: cfg.BatchTimeout(),
	}
	if s.timeout <= 0 {
		s.timeout = defaultCheckTimeout
	}
	if s.batchMax <= 0 {
		s.batchMax = defaultBatchMax
	}
	if s.batchTimeout <= 0 {
		s.batchTimeout = 2 * time.Second
	}
	return s
}

// Check answers one permission question. Denial is a normal result; only
// infrastructure trouble surfaces as an error.
func (s *CheckService) Check(ctx context.Context, req *models.CheckRequest) (*models.CheckResult, error) {
	started := time.Now()
	monitoring.CheckStarted()
	defer monitoring.CheckFinished()

	tracer := tracing.GetGlobalTracer()
	var span trace.Span
	if tracer != nil {
		ctx, span = tracer.StartCheckSpan(ctx, req.UserProfileID, req.Resource, string(req.Action))
		defer span.End()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.check(ctx, req, started)
	if err != nil {
		if tracer != nil {
			tracer.RecordError(span, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			monitoring.RecordCheckTimeout("pipeline")
			return nil, models.ErrTimeoutf(models.CodeCheckTimeout,
				"permission check exceeded %s", s.timeout)
		}
		monitoring.RecordCheckError(models.SourceDatabase)
		return nil, err
	}

	result.CheckDurationMs = time.Since(started).Milliseconds()
	if tracer != nil {
		tracer.RecordDecision(span, result.IsAllowed, result.Source, time.Since(started))
	}
	monitoring.RecordCheck(result.Source, result.IsAllowed, time.Since(started))
	s.publish(req, result)
	s.appendCheckLog(req, result)
	return result, nil
}

func (s *CheckService) check(ctx context.Context, req *models.CheckRequest, started time.Time) (*models.CheckResult, error) {
	// Superadmin bypass answers before any storage is touched.
	user, err := s.users.GetByID(ctx, req.UserProfileID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", req.UserProfileID)
		}
		return nil, err
	}
	if user.IsSuperadmin {
		return &models.CheckResult{
			IsAllowed: true,
			GrantedBy: []string{models.SourceSuperadmin},
			Reason:    "superadmin bypass",
			Source:    models.SourceSuperadmin,
		}, nil
	}

	// Activity tracking feeds warm-up and matrix refresh selection. It runs
	// fire-and-forget so counter writes never ride on the check deadline.
	go s.trackActivity(req.UserProfileID)

	if decision, ok := s.matrix.Lookup(ctx, req.UserProfileID, models.PermissionKey(req.Resource, req.Action, req.Scope)); ok {
		return &models.CheckResult{
			IsAllowed: decision.Allowed,
			GrantedBy: decision.GrantedBy,
			Reason:    decision.Reason,
			Source:    models.SourceMatrix,
		}, nil
	}

	key := CheckKey(req.UserProfileID, req.Resource, req.Action, req.Scope, req.ResourceID)
	if allowed, ok := s.cache.GetCheck(ctx, key); ok {
		return &models.CheckResult{
			IsAllowed: allowed,
			Reason:    "cached result",
			Source:    models.SourceCache,
		}, nil
	}

	return s.resolveFromDB(ctx, req)
}

// resolveFromDB runs the layered resolution behind the DB breaker and caches
// the answer.
func (s *CheckService) resolveFromDB(ctx context.Context, req *models.CheckRequest) (*models.CheckResult, error) {
	now := time.Now().UTC()
	raw, err := s.dbBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		perm, err := s.permissions.GetByCombination(ctx, req.Resource, req.Action, req.Scope)
		if err != nil {
			if postgres.IsNotFound(err) {
				// Unknown coordinate denies without touching the layers.
				return &Decision{
					Allowed: false,
					Source:  models.SourceDatabase,
					Reason:  "permission is not defined",
				}, nil
			}
			return nil, err
		}
		if !perm.IsActive {
			return &Decision{
				Allowed: false,
				Source:  models.SourceDatabase,
				Reason:  "permission is inactive",
			}, nil
		}
		return s.resolver.Resolve(ctx, req, perm, now)
	}, nil)
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return nil, models.ErrUnavailablef(models.CodeDBUnavailable,
				"permission database is unavailable")
		}
		return nil, err
	}

	decision := raw.(*Decision)
	result := &models.CheckResult{
		IsAllowed: decision.Allowed,
		GrantedBy: decision.GrantedBy,
		Reason:    decision.Reason,
		Source:    decision.Source,
	}
	s.cache.SetCheck(ctx, req, decision.Allowed)
	return result, nil
}

// BatchCheck answers many triples for one user. Cached answers come back in
// one pipelined round-trip; misses resolve sequentially.
func (s *CheckService) BatchCheck(ctx context.Context, req *models.BatchCheckRequest) (*models.BatchCheckResult, error) {
	if len(req.Checks) > s.batchMax {
		return nil, models.ErrValidationf(models.CodeBatchSizeExceeded,
			"batch holds %d checks, limit is %d", len(req.Checks), s.batchMax)
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	user, err := s.users.GetByID(ctx, req.UserProfileID)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, models.ErrNotFoundf(models.CodeUserNotFound, "user %s not found", req.UserProfileID)
		}
		return nil, err
	}

	out := &models.BatchCheckResult{Results: make(map[string]models.CheckResult, len(req.Checks))}
	if user.IsSuperadmin {
		for _, triple := range req.Checks {
			out.Results[triple.Key()] = models.CheckResult{
				IsAllowed: true,
				GrantedBy: []string{models.SourceSuperadmin},
				Source:    models.SourceSuperadmin,
			}
			out.TotalAllowed++
		}
		out.TotalChecked = len(req.Checks)
		out.DurationMs = time.Since(started).Milliseconds()
		return out, nil
	}

	keys := make([]string, len(req.Checks))
	for i, triple := range req.Checks {
		keys[i] = CheckKey(req.UserProfileID, triple.Resource, triple.Action, triple.Scope, triple.ResourceID)
	}
	cached := s.cache.GetCheckMulti(ctx, keys)

	for i, triple := range req.Checks {
		if allowed, hit := cached[keys[i]]; hit {
			out.Results[triple.Key()] = models.CheckResult{
				IsAllowed: allowed,
				Reason:    "cached result",
				Source:    models.SourceCache,
			}
			out.CacheHits++
			if allowed {
				out.TotalAllowed++
			}
			continue
		}
		single := &models.CheckRequest{
			UserProfileID: req.UserProfileID,
			Resource:      triple.Resource,
			Action:        triple.Action,
			Scope:         triple.Scope,
			ResourceID:    triple.ResourceID,
			Context:       req.Context,
		}
		result, err := s.resolveFromDB(ctx, single)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				monitoring.RecordCheckTimeout("batch")
				return nil, models.ErrTimeoutf(models.CodeCheckTimeout,
					"batch check exceeded %s", s.batchTimeout)
			}
			return nil, err
		}
		out.Results[triple.Key()] = *result
		if result.IsAllowed {
			out.TotalAllowed++
		}
	}
	out.TotalChecked = len(req.Checks)
	out.DurationMs = time.Since(started).Milliseconds()

	hitRate := 0.0
	if len(req.Checks) > 0 {
		hitRate = float64(out.CacheHits) / float64(len(req.Checks))
	}
	monitoring.RecordBatchCheck(len(req.Checks), time.Since(started), hitRate)
	return out, nil
}

// trackActivity bumps the warm-up and matrix activity counters off the
// check path, triggering cache pre-population when the warm-up threshold
// is crossed.
func (s *CheckService) trackActivity(userProfileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.cache.RecordActivity(ctx, userProfileID) {
		s.warmUp(userProfileID)
	}
	s.matrix.RecordActivity(ctx, userProfileID)
}

// warmUp pre-populates the hot user's cache from the resolver's effective
// set. Runs detached from the triggering check.
func (s *CheckService) warmUp(userProfileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	effective, err := s.resolver.EffectiveEntries(ctx, userProfileID, now)
	if err != nil {
		s.logger.Warn("cache warm-up resolution failed", "user", userProfileID, "error", err)
		return
	}
	s.cache.Prepopulate(ctx, userProfileID, checkAnswers(userProfileID, effective))
}

// checkAnswers converts an effective-permission set into per-check cache
// entries keyed without a resource instance.
func checkAnswers(userProfileID string, effective map[string]*Decision) map[string]bool {
	answers := make(map[string]bool, len(effective))
	for permKey, decision := range effective {
		resource, action, scope := splitPermissionKey(permKey)
		answers[CheckKey(userProfileID, resource, action, scope, "")] = decision.Allowed
	}
	return answers
}

// splitPermissionKey undoes models.PermissionKey composition.
func splitPermissionKey(key string) (resource string, action models.Action, scope models.Scope) {
	first, rest, _ := strings.Cut(key, ":")
	second, third, _ := strings.Cut(rest, ":")
	if third == "all" {
		third = ""
	}
	return first, models.Action(second), models.Scope(third)
}

// publish streams the resolved check to live subscribers.
func (s *CheckService) publish(req *models.CheckRequest, result *models.CheckResult) {
	if s.events == nil {
		return
	}
	s.events.Publish(&models.CheckEvent{
		UserProfileID: req.UserProfileID,
		Resource:      req.Resource,
		Action:        req.Action,
		Scope:         req.Scope,
		Allowed:       result.IsAllowed,
		Source:        result.Source,
		DurationMs:    result.CheckDurationMs,
		Timestamp:     time.Now().UTC(),
	})
}

// appendCheckLog writes the audit row fire-and-forget so log latency never
// rides on the check path.
func (s *CheckService) appendCheckLog(req *models.CheckRequest, result *models.CheckResult) {
	entry := &models.PermissionCheckLog{
		ID:              uuid.NewString(),
		UserProfileID:   req.UserProfileID,
		Resource:        req.Resource,
		Action:          req.Action,
		Scope:           req.Scope,
		ResourceID:      req.ResourceID,
		IsAllowed:       result.IsAllowed,
		CheckDurationMs: result.CheckDurationMs,
		CreatedAt:       time.Now().UTC(),
	}
	if !result.IsAllowed {
		entry.DeniedReason = result.Reason
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.AppendCheckLog(ctx, entry); err != nil {
			s.logger.Warn("check log write failed", "user", entry.UserProfileID, "error", err)
		}
	}()
}
