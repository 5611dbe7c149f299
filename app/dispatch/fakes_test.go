package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/calliopehq/calliope/models"
)

// In-memory repository fakes. Compare-and-set methods mirror the conditional
// UPDATE semantics of the real implementations.

type fakeSettings struct {
	limit int
}

func (s *fakeSettings) ThrottleLimit(ctx context.Context, tenantID uint) (int, error) {
	return s.limit, nil
}

type fakeCampaignRepo struct {
	mu        sync.Mutex
	nextID    uint
	campaigns map[uint]*models.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uint]*models.Campaign)}
}

func (r *fakeCampaignRepo) add(c *models.Campaign) *models.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == 0 {
		r.nextID++
		c.ID = r.nextID
	} else if c.ID > r.nextID {
		r.nextID = c.ID
	}
	r.campaigns[c.ID] = c
	return c
}

func (r *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeCampaignRepo) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.campaigns {
		if c.UUID.String() == uuid {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Campaign
	for _, c := range r.campaigns {
		runnable := c.Status == models.CampaignStatusInProgress ||
			(c.Status == models.CampaignStatusScheduled && (c.ScheduledAt == nil || !c.ScheduledAt.After(now)))
		if runnable {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) Save(ctx context.Context, campaign *models.Campaign) error {
	r.add(campaign)
	return nil
}

func (r *fakeCampaignRepo) Update(ctx context.Context, campaign models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := campaign
	r.campaigns[campaign.ID] = &copied
	return nil
}

func (r *fakeCampaignRepo) UpdateStatus(ctx context.Context, id uint, from, to models.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if to == models.CampaignStatusInProgress {
		now := time.Now().UTC()
		c.StartedAt = &now
	}
	return true, nil
}

func (r *fakeCampaignRepo) AdvanceCursor(ctx context.Context, id uint, fromIndex, toIndex, sentDelta, failedDelta, skippedDelta, optOutDelta int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.LastSentIndex != fromIndex {
		return false, nil
	}
	if c.Status != models.CampaignStatusInProgress && c.Status != models.CampaignStatusCancelled {
		return false, nil
	}
	c.LastSentIndex = toIndex
	c.SentCount += sentDelta
	c.FailedCount += failedDelta
	c.SkippedCount += skippedDelta
	c.OptOutCount += optOutDelta
	return true, nil
}

func (r *fakeCampaignRepo) IncrementDelivered(ctx context.Context, id uint, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.DeliveredCount += delta
	}
	return nil
}

func (r *fakeCampaignRepo) QueueSummary(ctx context.Context, tenantID uint) (*models.CampaignQueueSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &models.CampaignQueueSummary{}
	for _, c := range r.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if c.Status == models.CampaignStatusScheduled || c.Status == models.CampaignStatusInProgress {
			summary.Remaining += int64(c.TotalRecipients - c.LastSentIndex)
			summary.ActiveCampaigns++
			if c.StartedAt != nil && (summary.OldestStartedAt == nil || c.StartedAt.Before(*summary.OldestStartedAt)) {
				summary.OldestStartedAt = c.StartedAt
			}
		}
	}
	return summary, nil
}

type fakeConsumerRepo struct {
	mu        sync.Mutex
	consumers map[uint]*models.Consumer
}

func newFakeConsumerRepo(consumers ...*models.Consumer) *fakeConsumerRepo {
	r := &fakeConsumerRepo{consumers: make(map[uint]*models.Consumer)}
	for _, c := range consumers {
		r.consumers[c.ID] = c
	}
	return r
}

func (r *fakeConsumerRepo) ByID(ctx context.Context, id uint) (*models.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeConsumerRepo) ByIDs(ctx context.Context, ids []uint) ([]*models.Consumer, error) {
	var out []*models.Consumer
	for _, id := range ids {
		c, _ := r.ByID(ctx, id)
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConsumerRepo) ByFilter(ctx context.Context, filter models.ConsumerFilter, orderBy string, limit, offset int) ([]*models.Consumer, error) {
	return nil, nil
}

func (r *fakeConsumerRepo) ListByAudience(ctx context.Context, tenantID uint, audience models.AudienceSpec) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint
	for id, c := range r.consumers {
		if c.TenantID != tenantID || c.SMSOptedOut {
			continue
		}
		if audience.Empty() || audienceMatches(audience, id, c.FolderID) {
			out = append(out, id)
		}
	}
	// The real query orders by id.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// audienceMatches mirrors the union semantics of the real query: a consumer
// is in when either selector names it.
func audienceMatches(audience models.AudienceSpec, id uint, folderID *uint) bool {
	for _, cid := range audience.ConsumerIDs {
		if cid == id {
			return true
		}
	}
	if folderID != nil {
		for _, fid := range audience.FolderIDs {
			if fid == *folderID {
				return true
			}
		}
	}
	return false
}

func (r *fakeConsumerRepo) ByPhoneNumber(ctx context.Context, tenantID uint, phone string) (*models.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.consumers {
		if c.TenantID == tenantID && c.PhoneNumber == phone {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeConsumerRepo) Save(ctx context.Context, consumer *models.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[consumer.ID] = consumer
	return nil
}

func (r *fakeConsumerRepo) MarkSMSOptOut(ctx context.Context, consumerID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.consumers[consumerID]; ok {
		c.SMSOptedOut = true
	}
	return nil
}

type fakeTemplateRepo struct {
	templates map[uint]*models.Template
}

func newFakeTemplateRepo(templates ...*models.Template) *fakeTemplateRepo {
	r := &fakeTemplateRepo{templates: make(map[uint]*models.Template)}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *fakeTemplateRepo) ByID(ctx context.Context, id uint) (*models.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (r *fakeTemplateRepo) ByFilter(ctx context.Context, filter models.TemplateFilter, orderBy string, limit, offset int) ([]*models.Template, error) {
	return nil, nil
}

func (r *fakeTemplateRepo) Save(ctx context.Context, template *models.Template) error {
	r.templates[template.ID] = template
	return nil
}

type fakeTrackingRepo struct {
	mu      sync.Mutex
	nextID  uint
	records []*models.TrackingRecord
}

func newFakeTrackingRepo() *fakeTrackingRepo {
	return &fakeTrackingRepo{}
}

func (r *fakeTrackingRepo) ByID(ctx context.Context, id uint) (*models.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeTrackingRepo) ByExternalMessageID(ctx context.Context, externalID string) (*models.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ExternalMessageID != nil && *rec.ExternalMessageID == externalID {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeTrackingRepo) ByFilter(ctx context.Context, filter models.TrackingRecordFilter, orderBy string, limit, offset int) ([]*models.TrackingRecord, error) {
	return nil, nil
}

func (r *fakeTrackingRepo) Save(ctx context.Context, record *models.TrackingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	r.records = append(r.records, record)
	return nil
}

func (r *fakeTrackingRepo) SaveBatch(ctx context.Context, records []*models.TrackingRecord) error {
	for _, rec := range records {
		if err := r.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeTrackingRepo) UpdateDeliveryStatus(ctx context.Context, externalID string, status models.TrackingStatus, reason *string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ExternalMessageID == nil || *rec.ExternalMessageID != externalID {
			continue
		}
		if !rec.Status.CanTransitionTo(status) {
			return false, nil
		}
		rec.Status = status
		switch status {
		case models.TrackingStatusDelivered:
			rec.DeliveredAt = &at
		case models.TrackingStatusOpened:
			rec.OpenedAt = &at
		case models.TrackingStatusClicked:
			rec.ClickedAt = &at
		case models.TrackingStatusBounced, models.TrackingStatusFailed:
			rec.FailedAt = &at
			rec.FailureReason = reason
		case models.TrackingStatusSent:
			rec.SentAt = &at
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeTrackingRepo) CountByStatus(ctx context.Context, tenantID uint, status models.TrackingStatus, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.TenantID == tenantID && rec.Status == status && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeTrackingRepo) byStatus(status models.TrackingStatus) []*models.TrackingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TrackingRecord
	for _, rec := range r.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

type fakeEnrollmentRepo struct {
	mu          sync.Mutex
	nextID      uint
	enrollments map[uint]*models.Enrollment
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{enrollments: make(map[uint]*models.Enrollment)}
}

func (r *fakeEnrollmentRepo) add(e *models.Enrollment) *models.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		r.nextID++
		e.ID = r.nextID
	} else if e.ID > r.nextID {
		r.nextID = e.ID
	}
	r.enrollments[e.ID] = e
	return e
}

func (r *fakeEnrollmentRepo) ByID(ctx context.Context, id uint) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (r *fakeEnrollmentRepo) ByFilter(ctx context.Context, filter models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error) {
	return nil, nil
}

func (r *fakeEnrollmentRepo) ActiveBySequenceAndConsumer(ctx context.Context, sequenceID, consumerID uint) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.enrollments {
		if e.SequenceID == sequenceID && e.ConsumerID == consumerID && !e.Status.Terminal() {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeEnrollmentRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Enrollment
	for _, e := range r.enrollments {
		if e.Status == models.EnrollmentStatusActive && e.NextStepAt != nil && !e.NextStepAt.After(now) {
			copied := *e
			out = append(out, &copied)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeEnrollmentRepo) Save(ctx context.Context, enrollment *models.Enrollment) error {
	r.add(enrollment)
	return nil
}

func (r *fakeEnrollmentRepo) Update(ctx context.Context, enrollment models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := enrollment
	r.enrollments[enrollment.ID] = &copied
	return nil
}

func (r *fakeEnrollmentRepo) AdvanceProgress(ctx context.Context, id uint, fromStep, toStep int, nextStepAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive || e.CurrentStep != fromStep {
		return false, nil
	}
	e.CurrentStep = toStep
	e.NextStepAt = nextStepAt
	return true, nil
}

func (r *fakeEnrollmentRepo) IncrementMessagesSent(ctx context.Context, id uint, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.enrollments[id]; ok {
		e.MessagesSent += delta
	}
	return nil
}

func (r *fakeEnrollmentRepo) IncrementEngagement(ctx context.Context, id uint, openedDelta, clickedDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.enrollments[id]; ok {
		e.MessagesOpened += openedDelta
		e.MessagesClicked += clickedDelta
	}
	return nil
}

func (r *fakeEnrollmentRepo) UpdateStatus(ctx context.Context, id uint, from, to models.EnrollmentStatus, nextStepAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.NextStepAt = nextStepAt
	return true, nil
}

func (r *fakeEnrollmentRepo) CountByStatus(ctx context.Context, tenantID uint, status models.EnrollmentStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.enrollments {
		if e.TenantID == tenantID && e.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *fakeEnrollmentRepo) CountDue(ctx context.Context, tenantID uint, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.enrollments {
		if e.TenantID == tenantID && e.Status == models.EnrollmentStatusActive &&
			e.NextStepAt != nil && !e.NextStepAt.After(now) {
			n++
		}
	}
	return n, nil
}

type fakeSequenceRepo struct {
	sequences map[uint]*models.Sequence
}

func newFakeSequenceRepo(sequences ...*models.Sequence) *fakeSequenceRepo {
	r := &fakeSequenceRepo{sequences: make(map[uint]*models.Sequence)}
	for _, s := range sequences {
		r.sequences[s.ID] = s
	}
	return r
}

func (r *fakeSequenceRepo) ByID(ctx context.Context, id uint) (*models.Sequence, error) {
	s, ok := r.sequences[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (r *fakeSequenceRepo) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	return r.ByID(ctx, id)
}

func (r *fakeSequenceRepo) ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	return nil, nil
}

func (r *fakeSequenceRepo) Save(ctx context.Context, sequence *models.Sequence) error {
	r.sequences[sequence.ID] = sequence
	return nil
}

func (r *fakeSequenceRepo) SetActive(ctx context.Context, id uint, active bool) error {
	if s, ok := r.sequences[id]; ok {
		s.IsActive = &active
	}
	return nil
}

type fakeAutomationRepo struct {
	mu          sync.Mutex
	automations map[uint]*models.Automation
}

func newFakeAutomationRepo(automations ...*models.Automation) *fakeAutomationRepo {
	r := &fakeAutomationRepo{automations: make(map[uint]*models.Automation)}
	for _, a := range automations {
		r.automations[a.ID] = a
	}
	return r
}

func (r *fakeAutomationRepo) ByID(ctx context.Context, id uint) (*models.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.automations[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAutomationRepo) ByFilter(ctx context.Context, filter models.AutomationFilter, orderBy string, limit, offset int) ([]*models.Automation, error) {
	return nil, nil
}

func (r *fakeAutomationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Automation
	for _, a := range r.automations {
		if a.ShouldFire(now) {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAutomationRepo) Save(ctx context.Context, automation *models.Automation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.automations[automation.ID] = automation
	return nil
}

func (r *fakeAutomationRepo) Update(ctx context.Context, automation models.Automation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := automation
	r.automations[automation.ID] = &copied
	return nil
}

func (r *fakeAutomationRepo) Claim(ctx context.Context, id uint, occurrence time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.automations[id]
	if !ok || a.Status != models.AutomationStatusScheduled || a.NextExecution == nil || !a.NextExecution.Equal(occurrence) {
		return false, nil
	}
	if a.LastExecuted != nil && !a.LastExecuted.Before(*a.NextExecution) {
		return false, nil
	}
	claimed := occurrence
	a.LastExecuted = &claimed
	a.Status = models.AutomationStatusExecuted
	return true, nil
}

func (r *fakeAutomationRepo) UpdateStatus(ctx context.Context, id uint, status models.AutomationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.automations[id]; ok {
		a.Status = status
	}
	return nil
}

func (r *fakeAutomationRepo) IncrementTotalSent(ctx context.Context, id uint, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.automations[id]; ok {
		a.TotalSent += delta
	}
	return nil
}

type fakeExecutionRepo struct {
	mu         sync.Mutex
	executions []*models.AutomationExecution
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{}
}

func (r *fakeExecutionRepo) Save(ctx context.Context, execution *models.AutomationExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	execution.ID = uint(len(r.executions) + 1)
	r.executions = append(r.executions, execution)
	return nil
}

func (r *fakeExecutionRepo) ByAutomationID(ctx context.Context, automationID uint, limit, offset int) ([]*models.AutomationExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AutomationExecution
	for _, e := range r.executions {
		if e.AutomationID == automationID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeBlockedRepo struct {
	mu      sync.Mutex
	blocked map[string]int
}

func newFakeBlockedRepo() *fakeBlockedRepo {
	return &fakeBlockedRepo{blocked: make(map[string]int)}
}

func blockedKey(tenantID uint, phone string) string {
	return fmt.Sprintf("%d:%s", tenantID, phone)
}

func (r *fakeBlockedRepo) IsBlocked(ctx context.Context, tenantID uint, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocked[blockedKey(tenantID, phone)]
	return ok, nil
}

func (r *fakeBlockedRepo) Upsert(ctx context.Context, tenantID uint, phone, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[blockedKey(tenantID, phone)]++
	return nil
}

func (r *fakeBlockedRepo) ByFilter(ctx context.Context, filter models.BlockedNumberFilter, orderBy string, limit, offset int) ([]*models.BlockedNumber, error) {
	return nil, nil
}
