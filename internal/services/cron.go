package services

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"servicehub/request-service/internal/models"
	"servicehub/request-service/internal/repository"
	"servicehub/request-service/internal/utils"

	"github.com/redis/go-redis/v9"
)

type CronJobService struct {
	requestService RequestService
	requestRepo    repository.RequestRepository
	redis          *redis.Client
}

func NewCronJobService(requestService RequestService, requestRepo repository.RequestRepository, rdb *redis.Client) *CronJobService {
	return &CronJobService{
		requestService: requestService,
		requestRepo:    requestRepo,
		redis:          rdb,
	}
}

func (s *CronJobService) Start(ctx context.Context) {
	go s.startOverdueJob(ctx)
	go s.startReminderJob(ctx)
}

func (s *CronJobService) startOverdueJob(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	for {
		select {
		case <-ticker.C:
			marked, err := s.requestService.MarkOverdueRequests(ctx)
			if err != nil {
				log.Println("[CRON] Failed to mark overdue requests:", err)
				continue
			}
			if marked > 0 {
				log.Printf("[CRON] Marked %d requests overdue", marked)
			}
		case <-ctx.Done():
			log.Println("[CRON] Stopping overdue job")
			ticker.Stop()
			return
		}
	}
}

func (s *CronJobService) startReminderJob(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	for {
		select {
		case <-ticker.C:
			s.sendReminders(ctx)
		case <-ctx.Done():
			log.Println("[CRON] Stopping reminder job")
			ticker.Stop()
			return
		}
	}
}

func (s *CronJobService) sendReminders(ctx context.Context) {
	from := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	to := from.Add(time.Hour)

	requests, err := s.requestRepo.Filter(ctx, bson.M{
		"date": bson.M{
			"$gte": from,
			"$lt":  to,
		},
		"status": models.StatusAccepted,
	})
	if err != nil {
		log.Println("[CRON] Failed to fetch upcoming requests:", err)
		return
	}

	for _, req := range requests {
		utils.PublishNotification(ctx, s.redis, utils.NotificationPayload{
			UserID:  req.ClientID,
			Role:    "client",
			Title:   "Visit tomorrow",
			Message: "Reminder: your " + req.ServiceType + " visit is scheduled for " + req.Date.Format("15:04") + " tomorrow.",
			Type:    "reminder",
		})
		if req.ProviderID != nil {
			utils.PublishNotification(ctx, s.redis, utils.NotificationPayload{
				UserID:  *req.ProviderID,
				Role:    "provider",
				Title:   "Job tomorrow",
				Message: "Reminder: you have a " + req.ServiceType + " job at " + req.Date.Format("15:04") + " tomorrow.",
				Type:    "reminder",
			})
		}
	}
}
