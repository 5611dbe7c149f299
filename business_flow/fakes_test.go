package businessflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/calliopehq/calliope/models"
)

// In-memory repository fakes for flow tests. Conditional updates mirror the
// compare-and-set semantics of the real implementations.

type stubSequenceRepo struct {
	sequences map[uint]*models.Sequence
	nextID    uint
}

func newStubSequenceRepo(sequences ...*models.Sequence) *stubSequenceRepo {
	r := &stubSequenceRepo{sequences: make(map[uint]*models.Sequence)}
	for _, s := range sequences {
		r.sequences[s.ID] = s
		if s.ID > r.nextID {
			r.nextID = s.ID
		}
	}
	return r
}

func (r *stubSequenceRepo) ByID(ctx context.Context, id uint) (*models.Sequence, error) {
	s, ok := r.sequences[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (r *stubSequenceRepo) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	return r.ByID(ctx, id)
}

func (r *stubSequenceRepo) ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	return nil, nil
}

func (r *stubSequenceRepo) Save(ctx context.Context, sequence *models.Sequence) error {
	if sequence.ID == 0 {
		r.nextID++
		sequence.ID = r.nextID
	}
	r.sequences[sequence.ID] = sequence
	return nil
}

func (r *stubSequenceRepo) SetActive(ctx context.Context, id uint, active bool) error {
	if s, ok := r.sequences[id]; ok {
		s.IsActive = &active
	}
	return nil
}

type stubTemplateRepo struct {
	templates map[uint]*models.Template
}

func newStubTemplateRepo(templates ...*models.Template) *stubTemplateRepo {
	r := &stubTemplateRepo{templates: make(map[uint]*models.Template)}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *stubTemplateRepo) ByID(ctx context.Context, id uint) (*models.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (r *stubTemplateRepo) ByFilter(ctx context.Context, filter models.TemplateFilter, orderBy string, limit, offset int) ([]*models.Template, error) {
	return nil, nil
}

func (r *stubTemplateRepo) Save(ctx context.Context, template *models.Template) error {
	r.templates[template.ID] = template
	return nil
}

type stubConsumerRepo struct {
	consumers map[uint]*models.Consumer
}

func newStubConsumerRepo(consumers ...*models.Consumer) *stubConsumerRepo {
	r := &stubConsumerRepo{consumers: make(map[uint]*models.Consumer)}
	for _, c := range consumers {
		r.consumers[c.ID] = c
	}
	return r
}

func (r *stubConsumerRepo) ByID(ctx context.Context, id uint) (*models.Consumer, error) {
	c, ok := r.consumers[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (r *stubConsumerRepo) ByIDs(ctx context.Context, ids []uint) ([]*models.Consumer, error) {
	var out []*models.Consumer
	for _, id := range ids {
		if c, ok := r.consumers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *stubConsumerRepo) ByFilter(ctx context.Context, filter models.ConsumerFilter, orderBy string, limit, offset int) ([]*models.Consumer, error) {
	return nil, nil
}

func (r *stubConsumerRepo) ListByAudience(ctx context.Context, tenantID uint, audience models.AudienceSpec) ([]uint, error) {
	var out []uint
	for id, c := range r.consumers {
		if c.TenantID != tenantID || c.SMSOptedOut {
			continue
		}
		if audience.Empty() || stubAudienceMatches(audience, id, c.FolderID) {
			out = append(out, id)
		}
	}
	// The real query orders by id.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func stubAudienceMatches(audience models.AudienceSpec, id uint, folderID *uint) bool {
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

func (r *stubConsumerRepo) ByPhoneNumber(ctx context.Context, tenantID uint, phone string) (*models.Consumer, error) {
	for _, c := range r.consumers {
		if c.TenantID == tenantID && c.PhoneNumber == phone {
			return c, nil
		}
	}
	return nil, nil
}

func (r *stubConsumerRepo) Save(ctx context.Context, consumer *models.Consumer) error {
	r.consumers[consumer.ID] = consumer
	return nil
}

func (r *stubConsumerRepo) MarkSMSOptOut(ctx context.Context, consumerID uint) error {
	if c, ok := r.consumers[consumerID]; ok {
		c.SMSOptedOut = true
	}
	return nil
}

type stubEnrollmentRepo struct {
	enrollments map[uint]*models.Enrollment
	nextID      uint
}

func newStubEnrollmentRepo(enrollments ...*models.Enrollment) *stubEnrollmentRepo {
	r := &stubEnrollmentRepo{enrollments: make(map[uint]*models.Enrollment)}
	for _, e := range enrollments {
		r.enrollments[e.ID] = e
		if e.ID > r.nextID {
			r.nextID = e.ID
		}
	}
	return r
}

func (r *stubEnrollmentRepo) ByID(ctx context.Context, id uint) (*models.Enrollment, error) {
	e, ok := r.enrollments[id]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (r *stubEnrollmentRepo) ByFilter(ctx context.Context, filter models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error) {
	return nil, nil
}

func (r *stubEnrollmentRepo) ActiveBySequenceAndConsumer(ctx context.Context, sequenceID, consumerID uint) (*models.Enrollment, error) {
	for _, e := range r.enrollments {
		if e.SequenceID == sequenceID && e.ConsumerID == consumerID && !e.Status.Terminal() {
			return e, nil
		}
	}
	return nil, nil
}

func (r *stubEnrollmentRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	return nil, nil
}

func (r *stubEnrollmentRepo) Save(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == 0 {
		r.nextID++
		enrollment.ID = r.nextID
	}
	r.enrollments[enrollment.ID] = enrollment
	return nil
}

func (r *stubEnrollmentRepo) Update(ctx context.Context, enrollment models.Enrollment) error {
	copied := enrollment
	r.enrollments[enrollment.ID] = &copied
	return nil
}

func (r *stubEnrollmentRepo) AdvanceProgress(ctx context.Context, id uint, fromStep, toStep int, nextStepAt *time.Time) (bool, error) {
	e, ok := r.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive || e.CurrentStep != fromStep {
		return false, nil
	}
	e.CurrentStep = toStep
	e.NextStepAt = nextStepAt
	return true, nil
}

func (r *stubEnrollmentRepo) IncrementMessagesSent(ctx context.Context, id uint, delta int) error {
	if e, ok := r.enrollments[id]; ok {
		e.MessagesSent += delta
	}
	return nil
}

func (r *stubEnrollmentRepo) IncrementEngagement(ctx context.Context, id uint, openedDelta, clickedDelta int) error {
	if e, ok := r.enrollments[id]; ok {
		e.MessagesOpened += openedDelta
		e.MessagesClicked += clickedDelta
	}
	return nil
}

func (r *stubEnrollmentRepo) UpdateStatus(ctx context.Context, id uint, from, to models.EnrollmentStatus, nextStepAt *time.Time) (bool, error) {
	e, ok := r.enrollments[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.NextStepAt = nextStepAt
	return true, nil
}

func (r *stubEnrollmentRepo) CountByStatus(ctx context.Context, tenantID uint, status models.EnrollmentStatus) (int64, error) {
	return 0, nil
}

func (r *stubEnrollmentRepo) CountDue(ctx context.Context, tenantID uint, now time.Time) (int64, error) {
	return 0, nil
}

type stubTrackingRepo struct {
	records []*models.TrackingRecord
}

func newStubTrackingRepo(records ...*models.TrackingRecord) *stubTrackingRepo {
	return &stubTrackingRepo{records: records}
}

func (r *stubTrackingRepo) ByID(ctx context.Context, id uint) (*models.TrackingRecord, error) {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *stubTrackingRepo) ByExternalMessageID(ctx context.Context, externalID string) (*models.TrackingRecord, error) {
	for _, rec := range r.records {
		if rec.ExternalMessageID != nil && *rec.ExternalMessageID == externalID {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *stubTrackingRepo) ByFilter(ctx context.Context, filter models.TrackingRecordFilter, orderBy string, limit, offset int) ([]*models.TrackingRecord, error) {
	return nil, nil
}

func (r *stubTrackingRepo) Save(ctx context.Context, record *models.TrackingRecord) error {
	record.ID = uint(len(r.records) + 1)
	r.records = append(r.records, record)
	return nil
}

func (r *stubTrackingRepo) SaveBatch(ctx context.Context, records []*models.TrackingRecord) error {
	for _, rec := range records {
		if err := r.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *stubTrackingRepo) UpdateDeliveryStatus(ctx context.Context, externalID string, status models.TrackingStatus, reason *string, at time.Time) (bool, error) {
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

func (r *stubTrackingRepo) CountByStatus(ctx context.Context, tenantID uint, status models.TrackingStatus, since time.Time) (int64, error) {
	return 0, nil
}

type stubBlockedRepo struct {
	blocked map[string]string
}

func newStubBlockedRepo() *stubBlockedRepo {
	return &stubBlockedRepo{blocked: make(map[string]string)}
}

func (r *stubBlockedRepo) key(tenantID uint, phone string) string {
	return fmt.Sprintf("%d:%s", tenantID, phone)
}

func (r *stubBlockedRepo) IsBlocked(ctx context.Context, tenantID uint, phone string) (bool, error) {
	_, ok := r.blocked[r.key(tenantID, phone)]
	return ok, nil
}

func (r *stubBlockedRepo) Upsert(ctx context.Context, tenantID uint, phone, reason string) error {
	r.blocked[r.key(tenantID, phone)] = reason
	return nil
}

func (r *stubBlockedRepo) ByFilter(ctx context.Context, filter models.BlockedNumberFilter, orderBy string, limit, offset int) ([]*models.BlockedNumber, error) {
	return nil, nil
}

type stubCampaignRepo struct {
	campaigns map[uint]*models.Campaign
	nextID    uint
}

func newStubCampaignRepo(campaigns ...*models.Campaign) *stubCampaignRepo {
	r := &stubCampaignRepo{campaigns: make(map[uint]*models.Campaign)}
	for _, c := range campaigns {
		r.campaigns[c.ID] = c
		if c.ID > r.nextID {
			r.nextID = c.ID
		}
	}
	return r
}

func (r *stubCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	c, ok := r.campaigns[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (r *stubCampaignRepo) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	for _, c := range r.campaigns {
		if c.UUID.String() == uuid {
			return c, nil
		}
	}
	return nil, nil
}

func (r *stubCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *stubCampaignRepo) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *stubCampaignRepo) Save(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == 0 {
		r.nextID++
		campaign.ID = r.nextID
	}
	r.campaigns[campaign.ID] = campaign
	return nil
}

func (r *stubCampaignRepo) Update(ctx context.Context, campaign models.Campaign) error {
	copied := campaign
	r.campaigns[campaign.ID] = &copied
	return nil
}

func (r *stubCampaignRepo) UpdateStatus(ctx context.Context, id uint, from, to models.CampaignStatus) (bool, error) {
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *stubCampaignRepo) AdvanceCursor(ctx context.Context, id uint, fromIndex, toIndex, sentDelta, failedDelta, skippedDelta, optOutDelta int) (bool, error) {
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

func (r *stubCampaignRepo) IncrementDelivered(ctx context.Context, id uint, delta int) error {
	if c, ok := r.campaigns[id]; ok {
		c.DeliveredCount += delta
	}
	return nil
}

func (r *stubCampaignRepo) QueueSummary(ctx context.Context, tenantID uint) (*models.CampaignQueueSummary, error) {
	return &models.CampaignQueueSummary{}, nil
}

type stubAutomationRepo struct {
	automations map[uint]*models.Automation
	nextID      uint
}

func newStubAutomationRepo(automations ...*models.Automation) *stubAutomationRepo {
	r := &stubAutomationRepo{automations: make(map[uint]*models.Automation)}
	for _, a := range automations {
		r.automations[a.ID] = a
		if a.ID > r.nextID {
			r.nextID = a.ID
		}
	}
	return r
}

func (r *stubAutomationRepo) ByID(ctx context.Context, id uint) (*models.Automation, error) {
	a, ok := r.automations[id]
	if !ok {
		return nil, nil
	}
	return a, nil
}

func (r *stubAutomationRepo) ByFilter(ctx context.Context, filter models.AutomationFilter, orderBy string, limit, offset int) ([]*models.Automation, error) {
	return nil, nil
}

func (r *stubAutomationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Automation, error) {
	return nil, nil
}

func (r *stubAutomationRepo) Save(ctx context.Context, automation *models.Automation) error {
	if automation.ID == 0 {
		r.nextID++
		automation.ID = r.nextID
	}
	r.automations[automation.ID] = automation
	return nil
}

func (r *stubAutomationRepo) Update(ctx context.Context, automation models.Automation) error {
	copied := automation
	r.automations[automation.ID] = &copied
	return nil
}

func (r *stubAutomationRepo) Claim(ctx context.Context, id uint, occurrence time.Time) (bool, error) {
	a, ok := r.automations[id]
	if !ok || a.Status != models.AutomationStatusScheduled {
		return false, nil
	}
	claimed := occurrence
	a.LastExecuted = &claimed
	a.Status = models.AutomationStatusExecuted
	return true, nil
}

func (r *stubAutomationRepo) UpdateStatus(ctx context.Context, id uint, status models.AutomationStatus) error {
	if a, ok := r.automations[id]; ok {
		a.Status = status
	}
	return nil
}

func (r *stubAutomationRepo) IncrementTotalSent(ctx context.Context, id uint, delta int) error {
	if a, ok := r.automations[id]; ok {
		a.TotalSent += delta
	}
	return nil
}
