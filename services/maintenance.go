package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"school-copilot/internal/logger"
	"school-copilot/models"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"
)

const (
	maintenanceTag     = "isolation-maintenance"
	maintenanceTimeout = 30 * time.Minute
	auditConcurrency   = 4
)

// MaintenanceReport is the outcome of one maintenance run
type MaintenanceReport struct {
	Cleanup  *models.CleanupResult   `json:"cleanup"`
	Audits   []models.IsolationAudit `json:"audits"`
	Warnings []string                `json:"warnings"`
	RanAt    time.Time               `json:"ran_at"`
}

// MaintenanceService periodically cleans orphaned data and audits the
// isolation of every class
type MaintenanceService struct {
	isolation *ClassIsolationService
	scheduler *gocron.Scheduler
	cron      string

	// one run at a time
	runMu sync.Mutex
}

// NewMaintenanceService creates a scheduler running on cronExpr (UTC)
func NewMaintenanceService(isolation *ClassIsolationService, cronExpr string) *MaintenanceService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &MaintenanceService{
		isolation: isolation,
		scheduler: s,
		cron:      cronExpr,
	}
}

// Start schedules the maintenance job and starts the scheduler
func (m *MaintenanceService) Start() error {
	_, err := m.scheduler.Cron(m.cron).Tag(maintenanceTag).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()
		if _, err := m.RunOnce(ctx); err != nil {
			logger.Error("Maintenance run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", m.cron, err)
	}

	m.scheduler.StartAsync()
	logger.Info("Maintenance scheduler started", "cron", m.cron)
	return nil
}

// Stop stops the scheduler. A run in progress finishes.
func (m *MaintenanceService) Stop() {
	m.scheduler.Stop()
}

// NextRun reports when the maintenance job runs next
func (m *MaintenanceService) NextRun() (time.Time, bool) {
	jobs, err := m.scheduler.FindJobsByTag(maintenanceTag)
	if err != nil || len(jobs) == 0 {
		return time.Time{}, false
	}
	return jobs[0].NextRun(), true
}

// RunOnce cleans orphaned data and then audits every class. Audits of
// individual classes that fail are logged and skipped.
func (m *MaintenanceService) RunOnce(ctx context.Context) (*MaintenanceReport, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := time.Now()
	report := &MaintenanceReport{RanAt: start.UTC(), Warnings: []string{}}

	cleanup, err := m.isolation.CleanupOrphanedData(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	report.Cleanup = cleanup

	classes, err := m.isolation.store.ListClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}

	audits := make([]*models.IsolationAudit, len(classes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditConcurrency)
	for i, class := range classes {
		g.Go(func() error {
			audit, err := m.isolation.AuditClassIsolation(gctx, class.ID)
			if err != nil {
				logger.Error("Class audit failed", "class_id", class.ID, "error", err)
				return nil
			}
			audits[i] = audit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, audit := range audits {
		if audit == nil {
			continue
		}
		report.Audits = append(report.Audits, *audit)
		if audit.IsolationStatus == models.IsolationWarning {
			report.Warnings = append(report.Warnings, audit.ClassID)
			logger.Warn("Class isolation warning",
				"class_id", audit.ClassID,
				"potential_leaks", len(audit.PotentialLeaks),
				"index_leaks", len(audit.IndexLeaks),
				"stale_vectors", audit.StaleVectors,
			)
		}
	}

	logger.Info("Maintenance run completed",
		"classes", len(classes),
		"warnings", len(report.Warnings),
		"orphaned_chunks", cleanup.OrphanedChunks,
		"invalid_assignments", cleanup.InvalidAssignments,
		"rebuilt_indexes", cleanup.EmptyIndexes+cleanup.StaleIndexes,
		"dropped_indexes", cleanup.DroppedIndexes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}
