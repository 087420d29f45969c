package accounting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

// In-memory fakes for the domain ports. They implement just enough
// semantics for the service tests; storage behavior has its own tests.

type fakeConnectionRepo struct {
	mu    sync.Mutex
	byOrg map[uuid.UUID]*accounting.Connection
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{byOrg: make(map[uuid.UUID]*accounting.Connection)}
}

func (r *fakeConnectionRepo) FindByOrganization(ctx context.Context, organizationID uuid.UUID) (*accounting.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byOrg[organizationID]
	if !ok || conn.Status == accounting.ConnectionStatusDisconnected {
		return nil, accounting.ErrNotConnected
	}
	clone := *conn
	return &clone, nil
}

func (r *fakeConnectionRepo) FindByRealmID(ctx context.Context, realmID string) (*accounting.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.byOrg {
		if conn.RealmID == realmID && conn.Status != accounting.ConnectionStatusDisconnected {
			clone := *conn
			return &clone, nil
		}
	}
	return nil, accounting.ErrNotConnected
}

func (r *fakeConnectionRepo) Create(ctx context.Context, conn *accounting.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byOrg[conn.OrganizationID]; ok && existing.Status != accounting.ConnectionStatusDisconnected {
		return accounting.ErrAlreadyConnected
	}
	clone := *conn
	r.byOrg[conn.OrganizationID] = &clone
	return nil
}

func (r *fakeConnectionRepo) Update(ctx context.Context, conn *accounting.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *conn
	r.byOrg[conn.OrganizationID] = &clone
	return nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*accounting.SyncJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*accounting.SyncJob)}
}

func (r *fakeJobRepo) Enqueue(ctx context.Context, organizationID uuid.UUID, entityType accounting.EntityType, localEntityID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.OrganizationID == organizationID && job.EntityType == entityType &&
			job.LocalEntityID == localEntityID && !job.State.IsTerminal() {
			job.Coalesce(reason)
			clone := *job
			return &clone, nil
		}
	}
	job := accounting.NewSyncJob(organizationID, entityType, localEntityID, reason)
	r.jobs[job.ID] = job
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepo) DequeueBatch(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]*accounting.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []*accounting.SyncJob
	now := time.Now()
	for _, job := range r.jobs {
		if len(claimed) >= limit {
			break
		}
		eligible := (job.State == accounting.JobStatePending || job.State == accounting.JobStateFailed) &&
			!job.NextEligibleRun.After(now)
		if eligible {
			job.Claim(owner, leaseTTL)
			clone := *job
			claimed = append(claimed, &clone)
		}
	}
	return claimed, nil
}

func (r *fakeJobRepo) MarkSucceeded(ctx context.Context, owner string, job *accounting.SyncJob) error {
	return r.store(ctx, owner, job)
}

func (r *fakeJobRepo) MarkFailed(ctx context.Context, owner string, job *accounting.SyncJob) error {
	return r.store(ctx, owner, job)
}

func (r *fakeJobRepo) store(ctx context.Context, owner string, job *accounting.SyncJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.jobs[job.ID]; ok &&
		current.State == accounting.JobStateInProgress && current.LeaseOwner != owner {
		return accounting.ErrLeaseLost
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *fakeJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*accounting.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepo) ResetDead(ctx context.Context, id uuid.UUID) (*accounting.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if err := job.ResetForRetry(); err != nil {
		return nil, err
	}
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepo) CountByState(ctx context.Context, organizationID uuid.UUID) (map[accounting.JobState]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[accounting.JobState]int64)
	for _, job := range r.jobs {
		if job.OrganizationID == organizationID {
			counts[job.State]++
		}
	}
	return counts, nil
}

func (r *fakeJobRepo) RecentFailures(ctx context.Context, organizationID uuid.UUID, limit int) ([]*accounting.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*accounting.SyncJob
	for _, job := range r.jobs {
		if job.OrganizationID == organizationID &&
			(job.State == accounting.JobStateFailed || job.State == accounting.JobStateDead) {
			clone := *job
			out = append(out, &clone)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeJobRepo) CancelPendingForOrganization(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cancelled int64
	for _, job := range r.jobs {
		if job.OrganizationID == organizationID &&
			(job.State == accounting.JobStatePending || job.State == accounting.JobStateFailed) {
			job.MarkDead(accounting.ErrorKindPermanentLocal, "connection disconnected")
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *fakeJobRepo) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, job := range r.jobs {
		if !job.State.IsTerminal() {
			n++
		}
	}
	return n
}

type fakeInvoiceReader struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*accounting.InvoiceSnapshot
}

func newFakeInvoiceReader() *fakeInvoiceReader {
	return &fakeInvoiceReader{snapshots: make(map[uuid.UUID]*accounting.InvoiceSnapshot)}
}

func (r *fakeInvoiceReader) put(snap *accounting.InvoiceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap.ID] = snap
}

func (r *fakeInvoiceReader) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, id)
}

func (r *fakeInvoiceReader) FindSnapshot(ctx context.Context, organizationID, invoiceID uuid.UUID) (*accounting.InvoiceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[invoiceID]
	if !ok || snap.OrganizationID != organizationID {
		return nil, shared.ErrNotFound
	}
	return snap, nil
}

type fakeStatusRepo struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]*accounting.InvoiceSyncStatus
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{statuses: make(map[uuid.UUID]*accounting.InvoiceSyncStatus)}
}

func (r *fakeStatusRepo) Find(ctx context.Context, organizationID, invoiceID uuid.UUID) (*accounting.InvoiceSyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[invoiceID]
	if !ok || status.OrganizationID != organizationID {
		return nil, shared.ErrNotFound
	}
	clone := *status
	return &clone, nil
}

func (r *fakeStatusRepo) FindByExternalID(ctx context.Context, organizationID uuid.UUID, externalID string) (*accounting.InvoiceSyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, status := range r.statuses {
		if status.OrganizationID == organizationID && status.ExternalID == externalID {
			clone := *status
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeStatusRepo) Upsert(ctx context.Context, status *accounting.InvoiceSyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *status
	r.statuses[status.InvoiceID] = &clone
	return nil
}

type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	remote  map[string]*accounting.InvoiceSnapshot
	creates int
	updates int

	createErr error
	updateErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{remote: make(map[string]*accounting.InvoiceSnapshot), nextID: 41}
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, accessToken, realmID string, inv *accounting.InvoiceSnapshot, settings accounting.SyncSettings) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return "", g.createErr
	}
	g.nextID++
	id := fmt.Sprintf("qbo-%d", g.nextID)
	g.remote[id] = inv
	return id, nil
}

func (g *fakeGateway) UpdateInvoice(ctx context.Context, accessToken, realmID, externalID string, inv *accounting.InvoiceSnapshot, settings accounting.SyncSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates++
	if g.updateErr != nil {
		return g.updateErr
	}
	if _, ok := g.remote[externalID]; !ok {
		return accounting.NewNotFoundRemoteError("record gone")
	}
	g.remote[externalID] = inv
	return nil
}

func (g *fakeGateway) GetInvoice(ctx context.Context, accessToken, realmID, externalID string) (*accounting.RemoteInvoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.remote[externalID]; !ok {
		return nil, accounting.NewNotFoundRemoteError("record gone")
	}
	return &accounting.RemoteInvoice{ExternalID: externalID, SyncToken: "0"}, nil
}

type fakeTokenEndpoint struct {
	mu        sync.Mutex
	refreshes int
	delay     time.Duration
	err       error
	pair      accounting.TokenPair
}

func (e *fakeTokenEndpoint) Exchange(ctx context.Context, code string) (accounting.TokenPair, error) {
	if e.err != nil {
		return accounting.TokenPair{}, e.err
	}
	return e.pair, nil
}

func (e *fakeTokenEndpoint) Refresh(ctx context.Context, refreshToken string) (accounting.TokenPair, error) {
	e.mu.Lock()
	e.refreshes++
	e.mu.Unlock()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return accounting.TokenPair{}, e.err
	}
	return e.pair, nil
}

func (e *fakeTokenEndpoint) refreshCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

type fakeSeenStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeSeenStore() *fakeSeenStore {
	return &fakeSeenStore{seen: make(map[string]bool)}
}

func (s *fakeSeenStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[id] {
		return false, nil
	}
	s.seen[id] = true
	return true, nil
}

func (s *fakeSeenStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[id], nil
}

func (s *fakeSeenStore) Close() error { return nil }
