package dispatch

import (
	"context"
	"fmt"

	"github.com/calliopehq/calliope/app/dto"
	"github.com/calliopehq/calliope/app/services"
	"github.com/calliopehq/calliope/repository"
	"github.com/calliopehq/calliope/utils"
)

// StatusReporter answers tenant-facing questions about throttle and queue
// state. Reads only; it never mutates dispatch state.
type StatusReporter struct {
	campaignRepo   repository.CampaignRepository
	enrollmentRepo repository.EnrollmentRepository
	settings       services.TenantSettings
	throttle       ThrottleGate
}

// NewStatusReporter creates a new status reporter instance
func NewStatusReporter(
	campaignRepo repository.CampaignRepository,
	enrollmentRepo repository.EnrollmentRepository,
	settings services.TenantSettings,
	throttle ThrottleGate,
) *StatusReporter {
	return &StatusReporter{
		campaignRepo:   campaignRepo,
		enrollmentRepo: enrollmentRepo,
		settings:       settings,
		throttle:       throttle,
	}
}

// RateLimitStatus reports the tenant's current throttle window
func (r *StatusReporter) RateLimitStatus(ctx context.Context, tenantID uint) (*dto.RateLimitStatusResponse, error) {
	limit, err := r.settings.ThrottleLimit(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load throttle limit: %w", err)
	}

	adm, err := r.throttle.Status(ctx, tenantID, limit, utils.UTCNow())
	if err != nil {
		return nil, fmt.Errorf("read throttle status: %w", err)
	}

	return &dto.RateLimitStatusResponse{
		TenantID:      tenantID,
		Limit:         adm.Limit,
		Used:          adm.Used,
		Remaining:     adm.Remaining(),
		CanSend:       adm.Allowed,
		WindowStart:   adm.WindowStart,
		WindowSeconds: int(adm.ResetsAt.Sub(adm.WindowStart).Seconds()),
		ResetsAt:      adm.ResetsAt,
	}, nil
}

// QueueStatus reports the tenant's pending workload: unprocessed campaign
// recipients with a drain estimate at the tenant's current limit, plus the
// due enrollment steps competing for the same budget.
func (r *StatusReporter) QueueStatus(ctx context.Context, tenantID uint) (*dto.QueueStatusResponse, error) {
	summary, err := r.campaignRepo.QueueSummary(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("summarize campaign backlog: %w", err)
	}

	dueEnrollments, err := r.enrollmentRepo.CountDue(ctx, tenantID, utils.UTCNow())
	if err != nil {
		return nil, fmt.Errorf("count due enrollments: %w", err)
	}

	limit, err := r.settings.ThrottleLimit(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load throttle limit: %w", err)
	}

	resp := &dto.QueueStatusResponse{
		TenantID:                tenantID,
		QueueLength:             summary.Remaining,
		ActiveCampaigns:         summary.ActiveCampaigns,
		DueEnrollments:          dueEnrollments,
		ThrottleLimit:           limit,
		OldestCampaignStartedAt: summary.OldestStartedAt,
	}
	if limit > 0 {
		minutes := (summary.Remaining + int64(limit) - 1) / int64(limit)
		resp.EstimatedWaitSeconds = minutes * 60
	}

	return resp, nil
}
