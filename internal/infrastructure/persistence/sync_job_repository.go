package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/persistence/models"
)

// nonTerminalStates mirrors the predicate of the partial unique index on
// sync_jobs. Keep the two in lockstep.
var nonTerminalStates = []string{
	string(accounting.JobStatePending),
	string(accounting.JobStateInProgress),
	string(accounting.JobStateFailed),
}

// GormSyncJobRepository implements accounting.SyncJobRepository using GORM
type GormSyncJobRepository struct {
	db *gorm.DB
}

// NewGormSyncJobRepository creates a new GORM-based sync job repository
func NewGormSyncJobRepository(db *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: db}
}

// Enqueue records that a local entity needs synchronization. Repeated calls
// for the same entity coalesce into the single non-terminal job; concurrent
// inserts are resolved by the partial unique index.
func (r *GormSyncJobRepository) Enqueue(ctx context.Context, organizationID uuid.UUID, entityType accounting.EntityType, localEntityID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error) {
	job, err := r.tryEnqueue(ctx, organizationID, entityType, localEntityID, reason)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	// Lost the insert race: another caller created the active job between
	// our lookup and insert. Coalesce into theirs.
	return r.coalesceExisting(ctx, organizationID, entityType, localEntityID, reason)
}

func (r *GormSyncJobRepository) tryEnqueue(ctx context.Context, organizationID uuid.UUID, entityType accounting.EntityType, localEntityID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error) {
	var result *accounting.SyncJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.SyncJobModel
		err := tx.
			Where("organization_id = ? AND entity_type = ? AND local_entity_id = ? AND state IN ?",
				organizationID, string(entityType), localEntityID, nonTerminalStates).
			First(&model).Error
		if err == nil {
			job := model.ToDomain()
			job.Coalesce(reason)
			if err := tx.Model(&models.SyncJobModel{}).
				Where("id = ?", job.ID).
				Updates(map[string]any{"reason": string(job.Reason), "updated_at": job.UpdatedAt}).Error; err != nil {
				return err
			}
			result = job
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		job := accounting.NewSyncJob(organizationID, entityType, localEntityID, reason)
		if err := tx.Create(models.SyncJobModelFromDomain(job)).Error; err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *GormSyncJobRepository) coalesceExisting(ctx context.Context, organizationID uuid.UUID, entityType accounting.EntityType, localEntityID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error) {
	var model models.SyncJobModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND entity_type = ? AND local_entity_id = ? AND state IN ?",
			organizationID, string(entityType), localEntityID, nonTerminalStates).
		First(&model).Error
	if err != nil {
		return nil, err
	}
	job := model.ToDomain()
	job.Coalesce(reason)
	if err := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{"reason": string(job.Reason), "updated_at": job.UpdatedAt}).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// DequeueBatch atomically claims up to limit eligible jobs for the given
// owner. Eligible means: pending or failed with the backoff elapsed, or
// in_progress with an expired lease (crashed worker). Jobs belonging to
// organizations whose connection is in the error state are never claimed, so
// a broken authorization halts the whole organization.
func (r *GormSyncJobRepository) DequeueBatch(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]*accounting.SyncJob, error) {
	now := time.Now()
	erroredOrgs := r.db.Model(&models.ConnectionModel{}).
		Select("organization_id").
		Where("status = ?", string(accounting.ConnectionStatusError))

	var candidates []models.SyncJobModel
	err := r.db.WithContext(ctx).
		Where("((state IN ? AND next_eligible_run <= ?) OR (state = ? AND lease_expires_at < ?))",
			[]string{string(accounting.JobStatePending), string(accounting.JobStateFailed)}, now,
			string(accounting.JobStateInProgress), now).
		Where("organization_id NOT IN (?)", erroredOrgs).
		Order("next_eligible_run ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]*accounting.SyncJob, 0, len(candidates))
	for i := range candidates {
		job := candidates[i].ToDomain()
		prevUpdated := job.UpdatedAt
		job.Claim(owner, leaseTTL)

		// Optimistic claim: only the worker whose guard still matches wins.
		res := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
			Where("id = ? AND state = ? AND updated_at = ?", job.ID, candidates[i].State, prevUpdated).
			Updates(map[string]any{
				"state":            string(job.State),
				"lease_owner":      job.LeaseOwner,
				"lease_expires_at": job.LeaseExpiresAt,
				"updated_at":       job.UpdatedAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// MarkSucceeded persists a successful terminal transition
func (r *GormSyncJobRepository) MarkSucceeded(ctx context.Context, owner string, job *accounting.SyncJob) error {
	return r.writeOutcome(ctx, owner, job)
}

// MarkFailed persists a failed (or dead) transition
func (r *GormSyncJobRepository) MarkFailed(ctx context.Context, owner string, job *accounting.SyncJob) error {
	return r.writeOutcome(ctx, owner, job)
}

// writeOutcome records a job transition guarded on the writer still holding
// the lease. A worker stalled past its lease loses the guard to whoever
// reclaimed the job and must not overwrite their transition, so zero rows
// affected surfaces as ErrLeaseLost. Same optimistic shape as the claim in
// DequeueBatch.
func (r *GormSyncJobRepository) writeOutcome(ctx context.Context, owner string, job *accounting.SyncJob) error {
	res := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
		Where("id = ? AND lease_owner = ? AND state = ?", job.ID, owner, string(accounting.JobStateInProgress)).
		Updates(map[string]any{
			"external_id":       job.ExternalID,
			"state":             string(job.State),
			"attempts":          job.Attempts,
			"last_error":        job.LastError,
			"last_error_kind":   string(job.LastErrorKind),
			"next_eligible_run": job.NextEligibleRun,
			"lease_owner":       job.LeaseOwner,
			"lease_expires_at":  job.LeaseExpiresAt,
			"updated_at":        job.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return accounting.ErrLeaseLost
	}
	return nil
}

// FindByID returns a job by its identifier
func (r *GormSyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*accounting.SyncJob, error) {
	var model models.SyncJobModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ResetDead re-enqueues a dead job with a fresh retry budget. When another
// active job for the same entity already exists the retry coalesces into it
// instead, so the single-active-job invariant holds.
func (r *GormSyncJobRepository) ResetDead(ctx context.Context, id uuid.UUID) (*accounting.SyncJob, error) {
	job, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.ResetForRetry(); err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Save(models.SyncJobModelFromDomain(job)).Error
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	return r.coalesceExisting(ctx, job.OrganizationID, job.EntityType, job.LocalEntityID, accounting.ReasonManualRetry)
}

// CountByState returns per-state job counts for an organization
func (r *GormSyncJobRepository) CountByState(ctx context.Context, organizationID uuid.UUID) (map[accounting.JobState]int64, error) {
	type row struct {
		State string
		Count int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
		Select("state, COUNT(*) AS count").
		Where("organization_id = ?", organizationID).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[accounting.JobState]int64, len(rows))
	for _, r := range rows {
		counts[accounting.JobState(r.State)] = r.Count
	}
	return counts, nil
}

// RecentFailures returns the most recently failed or dead jobs for an
// organization, newest first
func (r *GormSyncJobRepository) RecentFailures(ctx context.Context, organizationID uuid.UUID, limit int) ([]*accounting.SyncJob, error) {
	var rows []models.SyncJobModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND state IN ?", organizationID,
			[]string{string(accounting.JobStateFailed), string(accounting.JobStateDead)}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]*accounting.SyncJob, len(rows))
	for i := range rows {
		jobs[i] = rows[i].ToDomain()
	}
	return jobs, nil
}

// CancelPendingForOrganization transitions every pending or failed job of an
// organization to dead, used when the connection is severed. In-flight jobs
// finish their current attempt and fail on their own.
func (r *GormSyncJobRepository) CancelPendingForOrganization(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
		Where("organization_id = ? AND state IN ?", organizationID,
			[]string{string(accounting.JobStatePending), string(accounting.JobStateFailed)}).
		Updates(map[string]any{
			"state":           string(accounting.JobStateDead),
			"last_error":      "connection disconnected",
			"last_error_kind": string(accounting.ErrorKindPermanentLocal),
			"updated_at":      time.Now(),
		})
	return res.RowsAffected, res.Error
}

// Ensure GormSyncJobRepository implements SyncJobRepository
var _ accounting.SyncJobRepository = (*GormSyncJobRepository)(nil)
