package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kentpulse/kentpulse-api/internal/models"
	"github.com/kentpulse/kentpulse-api/internal/policy"
	appErrors "github.com/kentpulse/kentpulse-api/pkg/errors"
)

type dashboardIssueRepository interface {
	Total(ctx context.Context, city string) (int, error)
	CountByStatus(ctx context.Context, city string) ([]models.StatusCount, error)
	CountByCategory(ctx context.Context, city string) ([]models.CategoryCount, error)
	CountByDistrict(ctx context.Context, city string) ([]models.LabelCount, error)
	CountByCity(ctx context.Context) ([]models.LabelCount, error)
	CountByMonth(ctx context.Context, city string) ([]models.LabelCount, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService aggregates issue counts for the staff dashboard.
// Aggregates honour the caller's visibility scope: municipal workers see
// their city's slice, admins see everything.
type DashboardService struct {
	repo   dashboardIssueRepository
	cache  *CacheService
	logger *zap.Logger
	cfg    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(repo dashboardIssueRepository, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{repo: repo, cache: cache, logger: logger, cfg: cfg}
}

func dashboardCacheKey(city string) string {
	if city == "" {
		return "kentpulse:dashboard:summary:all"
	}
	return fmt.Sprintf("kentpulse:dashboard:summary:%s", strings.ToLower(strings.TrimSpace(city)))
}

// Summary composes the dashboard payload for the actor, serving from
// cache when possible. Returns whether the cache was hit.
func (s *DashboardService) Summary(ctx context.Context, actor policy.Actor) (*models.DashboardSummary, bool, error) {
	if !actor.Authenticated || !actor.Role.IsStaff() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "dashboard is limited to municipal staff")
	}

	city := ""
	if actor.Role != models.RoleAdmin {
		city = actor.City
	}

	key := dashboardCacheKey(city)
	var cached models.DashboardSummary
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	summary, err := s.build(ctx, city)
	if err != nil {
		return nil, false, err
	}

	if err := s.cache.Set(ctx, key, summary, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache dashboard summary", zap.Error(err))
	}
	return summary, false, nil
}

func (s *DashboardService) build(ctx context.Context, city string) (*models.DashboardSummary, error) {
	total, err := s.repo.Total(ctx, city)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count issues")
	}

	byStatus, err := s.repo.CountByStatus(ctx, city)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by status")
	}
	byCategory, err := s.repo.CountByCategory(ctx, city)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by category")
	}
	byDistrict, err := s.repo.CountByDistrict(ctx, city)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by district")
	}
	byMonth, err := s.repo.CountByMonth(ctx, city)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by month")
	}

	summary := &models.DashboardSummary{
		Total:      total,
		ByStatus:   byStatus,
		ByCategory: byCategory,
		ByDistrict: byDistrict,
		ByMonth:    byMonth,
		City:       city,
		Generated:  time.Now().UTC(),
	}

	// Cross-city breakdown only makes sense on the unscoped view.
	if city == "" {
		byCity, err := s.repo.CountByCity(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate by city")
		}
		summary.ByCity = byCity
	}

	return summary, nil
}

// SummaryForCity builds an aggregate pinned to a city scope recorded at
// job creation time. Used by report generation.
func (s *DashboardService) SummaryForCity(ctx context.Context, city string) (*models.DashboardSummary, error) {
	return s.build(ctx, city)
}
