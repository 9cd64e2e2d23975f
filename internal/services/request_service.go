package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"servicehub/request-service/internal/config"
	"servicehub/request-service/internal/models"
	"servicehub/request-service/internal/repository"
	"servicehub/request-service/internal/utils"
)

// LifecycleEmitter receives successful transitions for realtime fan-out. The
// realtime gateway registers itself after construction.
type LifecycleEmitter interface {
	StateChanged(ctx context.Context, req *models.ServiceRequest, action string)
}

type ProviderDirectory interface {
	GetActiveProviders(ctx context.Context) ([]utils.Provider, error)
	IsProviderActive(ctx context.Context, providerID string) (bool, error)
}

type RequestService interface {
	CreateRequest(ctx context.Context, req *models.ServiceRequest) error
	UpdateRequest(ctx context.Context, id primitive.ObjectID, callerID string, updated *models.ServiceRequest) (*models.ServiceRequest, error)
	DeleteRequest(ctx context.Context, id primitive.ObjectID, callerID string) error
	GetRequest(ctx context.Context, id primitive.ObjectID, callerID, role string) (*models.ServiceRequest, error)
	GetMyRequests(ctx context.Context, userID string) ([]models.ServiceRequest, error)
	GetAllRequests(ctx context.Context) ([]models.ServiceRequest, error)
	FilterRequests(ctx context.Context, filter map[string]interface{}) ([]models.ServiceRequest, error)

	ListAvailableProviders(ctx context.Context) ([]utils.Provider, error)
	AssignProvider(ctx context.Context, id primitive.ObjectID, callerID, providerID string) (*models.ServiceRequest, error)

	Cancel(ctx context.Context, id primitive.ObjectID, callerID string) (*models.ServiceRequest, error)
	Accept(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error)
	Reject(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error)
	Start(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error)
	Finish(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error)
	AdminOverride(ctx context.Context, id primitive.ObjectID, newStatus models.RequestStatus) (*models.ServiceRequest, error)
	MarkOverdueRequests(ctx context.Context) (int, error)

	SetEmitter(emitter LifecycleEmitter)
}

type requestService struct {
	repo      repository.RequestRepository
	redis     *redis.Client
	providers ProviderDirectory
	cfg       *config.Config
	locks     *requestLocks
	emitter   LifecycleEmitter
}

func NewRequestService(repo repository.RequestRepository, rdb *redis.Client, providers ProviderDirectory, cfg *config.Config) RequestService {
	return &requestService{
		repo:      repo,
		redis:     rdb,
		providers: providers,
		cfg:       cfg,
		locks:     newRequestLocks(),
	}
}

func (s *requestService) SetEmitter(emitter LifecycleEmitter) {
	s.emitter = emitter
}

func (s *requestService) CreateRequest(ctx context.Context, req *models.ServiceRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req.ProviderID = nil
	req.Status = models.StatusPending
	req.AcceptedAt = nil
	req.StartedAt = nil
	req.FinishedAt = nil

	if err := s.repo.Create(ctx, req); err != nil {
		return err
	}
	s.invalidateCaches(ctx, req)

	s.notify(ctx, req.ClientID, "client", "Request created",
		"Your request has been created and is waiting for a provider.", "request_created")
	return nil
}

// UpdateRequest replaces the descriptive fields. Permitted only while Pending.
func (s *requestService) UpdateRequest(ctx context.Context, id primitive.ObjectID, callerID string, updated *models.ServiceRequest) (*models.ServiceRequest, error) {
	if updated.ServiceType == "" || updated.Address == "" || updated.Date.IsZero() {
		return nil, fmt.Errorf("%w: missing required request fields", models.ErrValidation)
	}
	if updated.DurationHours <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", models.ErrValidation)
	}

	req, err := s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.ClientID != callerID {
				return models.ErrForbidden
			}
			if req.Status != models.StatusPending {
				return fmt.Errorf("%w: request can only be edited while pending", models.ErrPreconditionFailed)
			}
			return nil
		},
		func(req *models.ServiceRequest, _ time.Time) {
			req.ServiceType = updated.ServiceType
			req.Description = updated.Description
			req.Address = updated.Address
			req.Date = updated.Date
			req.DurationHours = updated.DurationHours
		})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, req.ClientID, "client", "Request updated",
		"The details of your request have been changed.", "request_updated")
	return req, nil
}

// DeleteRequest removes a request. Only the owner may delete, and only while Pending.
func (s *requestService) DeleteRequest(ctx context.Context, id primitive.ObjectID, callerID string) error {
	unlock := s.locks.Lock(id.Hex())
	defer unlock()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if req.ClientID != callerID {
		return models.ErrForbidden
	}
	if req.Status != models.StatusPending {
		return fmt.Errorf("%w: request can only be deleted while pending", models.ErrPreconditionFailed)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateCaches(ctx, req)

	s.notify(ctx, req.ClientID, "client", "Request deleted",
		"One of your requests has been deleted.", "request_deleted")
	return nil
}

func (s *requestService) GetRequest(ctx context.Context, id primitive.ObjectID, callerID, role string) (*models.ServiceRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != "admin" && role != "manager" && !req.IsParticipant(callerID) {
		return nil, models.ErrForbidden
	}
	return req, nil
}

func (s *requestService) GetMyRequests(ctx context.Context, userID string) ([]models.ServiceRequest, error) {
	cacheKey := fmt.Sprintf("requests_by_user:%s", userID)

	var cached []models.ServiceRequest
	val, err := s.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			return cached, nil
		}
	}

	requests, err := s.repo.GetByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(requests)
	_ = s.redis.Set(ctx, cacheKey, data, 5*time.Minute).Err()

	return requests, nil
}

func (s *requestService) GetAllRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	cacheKey := "all_requests"

	var cached []models.ServiceRequest
	val, err := s.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			return cached, nil
		}
	}

	requests, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(requests)
	_ = s.redis.Set(ctx, cacheKey, data, 5*time.Minute).Err()

	return requests, nil
}

func (s *requestService) FilterRequests(ctx context.Context, filter map[string]interface{}) ([]models.ServiceRequest, error) {
	query := bson.M{}
	for k, v := range filter {
		query[k] = v
	}
	return s.repo.Filter(ctx, query)
}

// ListAvailableProviders returns every provider in an active profile state.
// Verification status is returned but deliberately not filtered on.
func (s *requestService) ListAvailableProviders(ctx context.Context) ([]utils.Provider, error) {
	return s.providers.GetActiveProviders(ctx)
}

// AssignProvider binds a provider to a pending request without advancing the
// state: the provider must still accept before work begins.
func (s *requestService) AssignProvider(ctx context.Context, id primitive.ObjectID, callerID, providerID string) (*models.ServiceRequest, error) {
	active, err := s.providers.IsProviderActive(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: provider is not active", models.ErrValidation)
	}

	req, err := s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.ClientID != callerID {
				return models.ErrForbidden
			}
			if req.Status != models.StatusPending {
				return fmt.Errorf("%w: request is no longer pending", models.ErrPreconditionFailed)
			}
			if req.ProviderID != nil {
				return fmt.Errorf("%w: provider already assigned", models.ErrConflict)
			}
			return nil
		},
		func(req *models.ServiceRequest, _ time.Time) {
			req.ProviderID = &providerID
		})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, providerID, "provider", "New request",
		"A client has picked you for a request. Please accept or decline.", "request_assigned")
	return req, nil
}

// Cancel is the requester's exit while the request is still Pending.
func (s *requestService) Cancel(ctx context.Context, id primitive.ObjectID, callerID string) (*models.ServiceRequest, error) {
	req, err := s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.ClientID != callerID {
				return models.ErrForbidden
			}
			if req.Status != models.StatusPending {
				return fmt.Errorf("%w: only pending requests can be cancelled", models.ErrPreconditionFailed)
			}
			return nil
		},
		func(req *models.ServiceRequest, _ time.Time) {
			req.Status = models.StatusRejected
		})
	if err != nil {
		return nil, err
	}

	s.emitState(ctx, req, "cancel")
	if req.ProviderID != nil {
		s.notify(ctx, *req.ProviderID, "provider", "Request cancelled",
			"The client has cancelled the request.", "request_cancelled")
	}
	return req, nil
}

func (s *requestService) Accept(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error) {
	req, err := s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.Status != models.StatusPending {
				return fmt.Errorf("%w: request is no longer pending", models.ErrPreconditionFailed)
			}
			if req.ProviderID != nil && *req.ProviderID != providerID {
				return models.ErrForbidden
			}
			return nil
		},
		func(req *models.ServiceRequest, now time.Time) {
			if req.ProviderID == nil {
				req.ProviderID = &providerID
			}
			req.Status = models.StatusAccepted
			req.AcceptedAt = &now
		})
	if err != nil {
		return nil, err
	}

	s.emitState(ctx, req, "accept")
	s.notify(ctx, req.ClientID, "client", "Request accepted",
		"A provider has accepted your request.", "request_accepted")
	return req, nil
}

func (s *requestService) Reject(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error) {
	req, err := s.providerTransition(ctx, id, providerID, models.StatusAccepted,
		func(req *models.ServiceRequest, _ time.Time) {
			req.Status = models.StatusRejected
		})
	if err != nil {
		return nil, err
	}

	s.emitState(ctx, req, "reject")
	s.notify(ctx, req.ClientID, "client", "Request declined",
		"The provider has declined your request.", "request_rejected")
	return req, nil
}

func (s *requestService) Start(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error) {
	req, err := s.providerTransition(ctx, id, providerID, models.StatusAccepted,
		func(req *models.ServiceRequest, now time.Time) {
			req.Status = models.StatusInProgress
			req.StartedAt = &now
		})
	if err != nil {
		return nil, err
	}

	s.emitState(ctx, req, "start")
	s.notify(ctx, req.ClientID, "client", "Work started",
		"The provider has started working on your request.", "request_started")
	return req, nil
}

// Finish is accepted from InProgress and OverdueActive: an overdue job is still
// an active job.
func (s *requestService) Finish(ctx context.Context, id primitive.ObjectID, providerID string) (*models.ServiceRequest, error) {
	req, err := s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.ProviderID == nil || *req.ProviderID != providerID {
				return models.ErrForbidden
			}
			if req.Status != models.StatusInProgress && req.Status != models.StatusOverdueActive {
				return fmt.Errorf("%w: request is not in progress", models.ErrPreconditionFailed)
			}
			return nil
		},
		func(req *models.ServiceRequest, now time.Time) {
			req.Status = models.StatusFinalized
			req.FinishedAt = &now
		})
	if err != nil {
		return nil, err
	}

	s.emitState(ctx, req, "finish")
	s.notify(ctx, req.ClientID, "client", "Work finished",
		"The provider has finished. Please rate the work!", "request_finished")
	return req, nil
}

// AdminOverride moves a non-terminal request to an arbitrary status, bypassing
// the normal guard checks. Timestamps are still set at most once.
func (s *requestService) AdminOverride(ctx context.Context, id primitive.ObjectID, newStatus models.RequestStatus) (*models.ServiceRequest, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown status", models.ErrValidation)
	}

	req, err := s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.Status.IsTerminal() {
				return fmt.Errorf("%w: request is already in a terminal state", models.ErrPreconditionFailed)
			}
			return nil
		},
		func(req *models.ServiceRequest, now time.Time) {
			req.Status = newStatus
			switch newStatus {
			case models.StatusAccepted:
				if req.AcceptedAt == nil {
					req.AcceptedAt = &now
				}
			case models.StatusInProgress:
				if req.StartedAt == nil {
					req.StartedAt = &now
				}
			case models.StatusFinalized:
				if req.FinishedAt == nil {
					req.FinishedAt = &now
				}
			}
		})
	if err != nil {
		return nil, err
	}

	s.emitState(ctx, req, "admin_override")
	return req, nil
}

// MarkOverdueRequests flips InProgress requests whose scheduled window has
// passed to OverdueActive. Called from the cron job.
func (s *requestService) MarkOverdueRequests(ctx context.Context) (int, error) {
	requests, err := s.repo.Filter(ctx, bson.M{"status": models.StatusInProgress})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	marked := 0
	for i := range requests {
		if requests[i].ScheduledEnd().After(now) {
			continue
		}
		req, err := s.transition(ctx, requests[i].ID,
			func(req *models.ServiceRequest) error {
				if req.Status != models.StatusInProgress {
					return models.ErrPreconditionFailed
				}
				return nil
			},
			func(req *models.ServiceRequest, _ time.Time) {
				req.Status = models.StatusOverdueActive
			})
		if err != nil {
			continue
		}
		marked++

		s.emitState(ctx, req, "overdue")
		s.notify(ctx, req.ClientID, "client", "Visit running late",
			"The scheduled time for your request has passed and the work is still in progress.", "request_overdue")
		if req.ProviderID != nil {
			s.notify(ctx, *req.ProviderID, "provider", "Job overdue",
				"The scheduled window for your job has passed. Please finish or contact the client.", "request_overdue")
		}
	}
	return marked, nil
}

// transition runs a guarded state mutation under the per-request lock. The guard
// distinguishes a missing record (ErrNotFound from the repository) from a record
// in the wrong state (ErrPreconditionFailed from the check).
func (s *requestService) transition(ctx context.Context, id primitive.ObjectID,
	check func(req *models.ServiceRequest) error,
	apply func(req *models.ServiceRequest, now time.Time)) (*models.ServiceRequest, error) {

	unlock := s.locks.Lock(id.Hex())
	defer unlock()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := check(req); err != nil {
		return nil, err
	}

	apply(req, time.Now())

	if err := s.repo.Update(ctx, req); err != nil {
		return nil, err
	}
	s.invalidateCaches(ctx, req)
	return req, nil
}

// providerTransition covers the common shape: bound provider acting on a single
// required source state.
func (s *requestService) providerTransition(ctx context.Context, id primitive.ObjectID, providerID string,
	from models.RequestStatus, apply func(req *models.ServiceRequest, now time.Time)) (*models.ServiceRequest, error) {

	return s.transition(ctx, id,
		func(req *models.ServiceRequest) error {
			if req.ProviderID == nil || *req.ProviderID != providerID {
				return models.ErrForbidden
			}
			if req.Status != from {
				return fmt.Errorf("%w: request is not %s", models.ErrPreconditionFailed, from)
			}
			return nil
		},
		apply)
}

func (s *requestService) emitState(ctx context.Context, req *models.ServiceRequest, action string) {
	if s.emitter != nil {
		s.emitter.StateChanged(ctx, req, action)
	}
}

func (s *requestService) notify(ctx context.Context, userID, role, title, message, kind string) {
	utils.PublishNotification(ctx, s.redis, utils.NotificationPayload{
		UserID:  userID,
		Role:    role,
		Title:   title,
		Message: message,
		Type:    kind,
	})
}

func (s *requestService) invalidateCaches(ctx context.Context, req *models.ServiceRequest) {
	keys := []string{"all_requests", fmt.Sprintf("requests_by_user:%s", req.ClientID)}
	if req.ProviderID != nil {
		keys = append(keys, fmt.Sprintf("requests_by_user:%s", *req.ProviderID))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		log.Printf("Failed to invalidate cache: %v", err)
	}
}
