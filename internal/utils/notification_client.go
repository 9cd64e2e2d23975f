package utils

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const NotificationChannel = "notifications"

type NotificationPayload struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// PublishNotification отправляет уведомление в сервис уведомлений через Redis
func PublishNotification(ctx context.Context, rdb *redis.Client, payload NotificationPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal notification: %v", err)
		return
	}
	if err := rdb.Publish(ctx, NotificationChannel, data).Err(); err != nil {
		log.Printf("Failed to publish notification: %v", err)
	}
}
