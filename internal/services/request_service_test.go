package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"servicehub/request-service/internal/config"
	"servicehub/request-service/internal/models"
	"servicehub/request-service/internal/utils"
)

type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[primitive.ObjectID]models.ServiceRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[primitive.ObjectID]models.ServiceRequest)}
}

func (r *fakeRequestRepo) Create(_ context.Context, req *models.ServiceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = primitive.NewObjectID()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.requests[req.ID] = *req
	return nil
}

func (r *fakeRequestRepo) Update(_ context.Context, req *models.ServiceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.ID]; !ok {
		return models.ErrNotFound
	}
	req.UpdatedAt = time.Now()
	r.requests[req.ID] = *req
	return nil
}

func (r *fakeRequestRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.requests, id)
	return nil
}

func (r *fakeRequestRepo) GetByID(_ context.Context, id primitive.ObjectID) (*models.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := req
	return &copied, nil
}

func (r *fakeRequestRepo) GetByParticipant(_ context.Context, userID string) ([]models.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ServiceRequest
	for _, req := range r.requests {
		if req.IsParticipant(userID) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *fakeRequestRepo) GetAll(_ context.Context) ([]models.ServiceRequest, error) {
	return r.Filter(context.Background(), bson.M{})
}

func (r *fakeRequestRepo) Filter(_ context.Context, filter bson.M) ([]models.ServiceRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ServiceRequest
	for _, req := range r.requests {
		if status, ok := filter["status"]; ok && req.Status != status.(models.RequestStatus) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

type fakeDirectory struct {
	active map[string]bool
}

func (d *fakeDirectory) GetActiveProviders(_ context.Context) ([]utils.Provider, error) {
	var out []utils.Provider
	for id := range d.active {
		out = append(out, utils.Provider{ID: id, Active: true})
	}
	return out, nil
}

func (d *fakeDirectory) IsProviderActive(_ context.Context, providerID string) (bool, error) {
	return d.active[providerID], nil
}

// testRedis returns a client pointing nowhere; cache misses and notification
// publish errors are tolerated by the service.
func testRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     10 * time.Millisecond,
		ReadTimeout:     10 * time.Millisecond,
		WriteTimeout:    10 * time.Millisecond,
		MaxRetries:      -1,
		PoolTimeout:     10 * time.Millisecond,
		MinRetryBackoff: -1,
		MaxRetryBackoff: -1,
	})
}

func newTestService(repo *fakeRequestRepo, active ...string) RequestService {
	dir := &fakeDirectory{active: make(map[string]bool)}
	for _, id := range active {
		dir.active[id] = true
	}
	return NewRequestService(repo, testRedis(), dir, &config.Config{})
}

func newPendingRequest(t *testing.T, svc RequestService, clientID string) *models.ServiceRequest {
	t.Helper()
	req := &models.ServiceRequest{
		ClientID:      clientID,
		ServiceType:   "deep_cleaning",
		Address:       "12 Main St",
		Date:          time.Now().Add(48 * time.Hour),
		DurationHours: 2,
	}
	if err := svc.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	return req
}

func TestLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")

	req := newPendingRequest(t, svc, "client-1")
	if req.Status != models.StatusPending {
		t.Fatalf("created status = %s, want %s", req.Status, models.StatusPending)
	}

	assigned, err := svc.AssignProvider(ctx, req.ID, "client-1", "provider-1")
	if err != nil {
		t.Fatalf("AssignProvider failed: %v", err)
	}
	if assigned.Status != models.StatusPending {
		t.Errorf("status after assign = %s, want %s (assignment must not advance state)", assigned.Status, models.StatusPending)
	}
	if assigned.ProviderID == nil || *assigned.ProviderID != "provider-1" {
		t.Errorf("provider after assign = %v, want provider-1", assigned.ProviderID)
	}

	accepted, err := svc.Accept(ctx, req.ID, "provider-1")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if accepted.Status != models.StatusAccepted || accepted.AcceptedAt == nil {
		t.Errorf("after accept: status = %s, accepted_at = %v", accepted.Status, accepted.AcceptedAt)
	}

	started, err := svc.Start(ctx, req.ID, "provider-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Status != models.StatusInProgress || started.StartedAt == nil {
		t.Errorf("after start: status = %s, started_at = %v", started.Status, started.StartedAt)
	}

	finished, err := svc.Finish(ctx, req.ID, "provider-1")
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if finished.Status != models.StatusFinalized || finished.FinishedAt == nil {
		t.Errorf("after finish: status = %s, finished_at = %v", finished.Status, finished.FinishedAt)
	}
	if !finished.Status.IsTerminal() {
		t.Errorf("finalized should be terminal")
	}

	// created ≤ accepted ≤ started ≤ finished
	if finished.AcceptedAt.Before(finished.CreatedAt) ||
		finished.StartedAt.Before(*finished.AcceptedAt) ||
		finished.FinishedAt.Before(*finished.StartedAt) {
		t.Errorf("timestamps not monotonic: created=%v accepted=%v started=%v finished=%v",
			finished.CreatedAt, finished.AcceptedAt, finished.StartedAt, finished.FinishedAt)
	}
}

func TestRepeatedActionFailsPrecondition(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")
	req := newPendingRequest(t, svc, "client-1")

	if _, err := svc.Accept(ctx, req.ID, "provider-1"); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if _, err := svc.Accept(ctx, req.ID, "provider-1"); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("second accept error = %v, want ErrPreconditionFailed", err)
	}

	if _, err := svc.Start(ctx, req.ID, "provider-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.Start(ctx, req.ID, "provider-1"); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("second start error = %v, want ErrPreconditionFailed", err)
	}

	if _, err := svc.Finish(ctx, req.ID, "provider-1"); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if _, err := svc.Finish(ctx, req.ID, "provider-1"); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("second finish error = %v, want ErrPreconditionFailed", err)
	}
}

func TestNotFoundDistinctFromWrongState(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")

	_, err := svc.Accept(ctx, primitive.NewObjectID(), "provider-1")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("accept on absent request = %v, want ErrNotFound", err)
	}
	if errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("absent request must not be reported as a precondition failure")
	}
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1", "provider-2")
	req := newPendingRequest(t, svc, "client-1")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, provider := range []string{"provider-1", "provider-2"} {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			_, results[i] = svc.Accept(ctx, req.ID, provider)
		}(i, provider)
	}
	wg.Wait()

	successes, preconditions := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, models.ErrPreconditionFailed):
			preconditions++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || preconditions != 1 {
		t.Errorf("got %d successes and %d precondition failures, want exactly 1 and 1", successes, preconditions)
	}

	final, err := repo.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != models.StatusAccepted || final.ProviderID == nil {
		t.Errorf("final state = %s provider = %v, want accepted with a bound provider", final.Status, final.ProviderID)
	}
}

func TestCancelOnlyWhilePending(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")
	req := newPendingRequest(t, svc, "client-1")

	if _, err := svc.Cancel(ctx, req.ID, "someone-else"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("cancel by non-owner = %v, want ErrForbidden", err)
	}

	cancelled, err := svc.Cancel(ctx, req.ID, "client-1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.StatusRejected {
		t.Errorf("status after cancel = %s, want %s", cancelled.Status, models.StatusRejected)
	}

	req2 := newPendingRequest(t, svc, "client-1")
	if _, err := svc.Accept(ctx, req2.ID, "provider-1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := svc.Cancel(ctx, req2.ID, "client-1"); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("cancel after accept = %v, want ErrPreconditionFailed", err)
	}
}

func TestUpdateAndDeleteOnlyWhilePending(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")
	req := newPendingRequest(t, svc, "client-1")

	updated := &models.ServiceRequest{
		ServiceType:   "window_cleaning",
		Address:       "44 Oak Ave",
		Date:          time.Now().Add(72 * time.Hour),
		DurationHours: 3,
	}
	if _, err := svc.UpdateRequest(ctx, req.ID, "client-1", updated); err != nil {
		t.Fatalf("update while pending failed: %v", err)
	}

	if _, err := svc.Accept(ctx, req.ID, "provider-1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := svc.UpdateRequest(ctx, req.ID, "client-1", updated); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("update after accept = %v, want ErrPreconditionFailed", err)
	}
	if err := svc.DeleteRequest(ctx, req.ID, "client-1"); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("delete after accept = %v, want ErrPreconditionFailed", err)
	}
}

func TestAssignGuards(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")
	req := newPendingRequest(t, svc, "client-1")

	if _, err := svc.AssignProvider(ctx, req.ID, "client-1", "inactive-provider"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("assign inactive provider = %v, want ErrValidation", err)
	}
	if _, err := svc.AssignProvider(ctx, req.ID, "not-the-owner", "provider-1"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("assign by non-owner = %v, want ErrForbidden", err)
	}

	if _, err := svc.AssignProvider(ctx, req.ID, "client-1", "provider-1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if _, err := svc.AssignProvider(ctx, req.ID, "client-1", "provider-1"); !errors.Is(err, models.ErrConflict) {
		t.Errorf("second assign = %v, want ErrConflict", err)
	}
}

func TestAcceptByUnassignedProviderForbidden(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1", "provider-2")
	req := newPendingRequest(t, svc, "client-1")

	if _, err := svc.AssignProvider(ctx, req.ID, "client-1", "provider-1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if _, err := svc.Accept(ctx, req.ID, "provider-2"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("accept by other provider = %v, want ErrForbidden", err)
	}
}

func TestAdminOverride(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")
	req := newPendingRequest(t, svc, "client-1")

	overridden, err := svc.AdminOverride(ctx, req.ID, models.StatusInProgress)
	if err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if overridden.Status != models.StatusInProgress || overridden.StartedAt == nil {
		t.Errorf("after override: status = %s, started_at = %v", overridden.Status, overridden.StartedAt)
	}

	if _, err := svc.AdminOverride(ctx, req.ID, models.StatusCancelled); err != nil {
		t.Fatalf("override to cancelled failed: %v", err)
	}
	if _, err := svc.AdminOverride(ctx, req.ID, models.StatusPending); !errors.Is(err, models.ErrPreconditionFailed) {
		t.Errorf("override of terminal request = %v, want ErrPreconditionFailed", err)
	}
}

func TestMarkOverdueRequests(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRequestRepo()
	svc := newTestService(repo, "provider-1")

	overdue := newPendingRequest(t, svc, "client-1")
	onTime := newPendingRequest(t, svc, "client-2")

	for _, id := range []primitive.ObjectID{overdue.ID, onTime.ID} {
		if _, err := svc.Accept(ctx, id, "provider-1"); err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		if _, err := svc.Start(ctx, id, "provider-1"); err != nil {
			t.Fatalf("start failed: %v", err)
		}
	}

	// push the first request's window into the past
	repo.mu.Lock()
	r := repo.requests[overdue.ID]
	r.Date = time.Now().Add(-3 * time.Hour)
	r.DurationHours = 1
	repo.requests[overdue.ID] = r
	repo.mu.Unlock()

	marked, err := svc.MarkOverdueRequests(ctx)
	if err != nil {
		t.Fatalf("MarkOverdueRequests failed: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}

	got, _ := repo.GetByID(ctx, overdue.ID)
	if got.Status != models.StatusOverdueActive {
		t.Errorf("overdue request status = %s, want %s", got.Status, models.StatusOverdueActive)
	}
	got, _ = repo.GetByID(ctx, onTime.ID)
	if got.Status != models.StatusInProgress {
		t.Errorf("on-time request status = %s, want %s", got.Status, models.StatusInProgress)
	}

	// a finish is still accepted from the overdue state
	if _, err := svc.Finish(ctx, overdue.ID, "provider-1"); err != nil {
		t.Errorf("finish from overdue = %v, want success", err)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	repo := newFakeRequestRepo()
	svc := newTestService(repo)

	req := &models.ServiceRequest{
		ClientID:      "client-1",
		ServiceType:   "deep_cleaning",
		Address:       "12 Main St",
		Date:          time.Now().Add(24 * time.Hour),
		DurationHours: 0,
	}
	if err := svc.CreateRequest(context.Background(), req); !errors.Is(err, models.ErrValidation) {
		t.Errorf("create with zero duration = %v, want ErrValidation", err)
	}
}
