package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"servicehub/request-service/internal/models"
	"servicehub/request-service/internal/repository"
	"servicehub/request-service/internal/utils"
)

// SystemSender is the sender id recorded on engine-generated notices.
const SystemSender = "system"

type ChatService interface {
	SendMessage(ctx context.Context, requestID primitive.ObjectID, senderID, text string) (*models.Message, error)
	AddSystemNotice(ctx context.Context, requestID primitive.ObjectID, text string) (*models.Message, error)
	GetHistory(ctx context.Context, requestID primitive.ObjectID, callerID, role string) ([]models.Message, error)
	GetUnread(ctx context.Context, requestID primitive.ObjectID, callerID string) ([]models.Message, error)
	CountUnread(ctx context.Context, requestID primitive.ObjectID, callerID string) (int64, error)
	MarkRead(ctx context.Context, requestID primitive.ObjectID, callerID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID primitive.ObjectID, callerID string) error

	// Participants resolves channel membership for the realtime gateway.
	Participants(ctx context.Context, requestID primitive.ObjectID) (*models.ServiceRequest, error)
}

type chatService struct {
	messages repository.MessageRepository
	requests repository.RequestRepository
	redis    *redis.Client
}

func NewChatService(messages repository.MessageRepository, requests repository.RequestRepository, rdb *redis.Client) ChatService {
	return &chatService{messages: messages, requests: requests, redis: rdb}
}

// SendMessage persists a chat message on behalf of the authenticated sender.
// The sender must be the owning client or the bound provider of the request.
func (s *chatService) SendMessage(ctx context.Context, requestID primitive.ObjectID, senderID, text string) (*models.Message, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParticipant(senderID) {
		return nil, models.ErrForbidden
	}

	msg := &models.Message{
		RequestID: requestID,
		SenderID:  senderID,
		Kind:      models.KindText,
		Text:      text,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	if peer := req.Peer(senderID); peer != "" {
		utils.PublishNotification(ctx, s.redis, utils.NotificationPayload{
			UserID:  peer,
			Title:   "New message",
			Message: msg.Text,
			Type:    "chat_message",
		})
	}
	return msg, nil
}

// AddSystemNotice records an engine-generated event in the request's history.
func (s *chatService) AddSystemNotice(ctx context.Context, requestID primitive.ObjectID, text string) (*models.Message, error) {
	msg := &models.Message{
		RequestID: requestID,
		SenderID:  SystemSender,
		Kind:      models.KindSystem,
		Text:      text,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *chatService) GetHistory(ctx context.Context, requestID primitive.ObjectID, callerID, role string) ([]models.Message, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if role != "admin" && role != "manager" && !req.IsParticipant(callerID) {
		return nil, models.ErrForbidden
	}
	return s.messages.ListByRequest(ctx, requestID)
}

func (s *chatService) GetUnread(ctx context.Context, requestID primitive.ObjectID, callerID string) ([]models.Message, error) {
	if err := s.requireParticipant(ctx, requestID, callerID); err != nil {
		return nil, err
	}
	return s.messages.ListUnread(ctx, requestID, callerID)
}

func (s *chatService) CountUnread(ctx context.Context, requestID primitive.ObjectID, callerID string) (int64, error) {
	if err := s.requireParticipant(ctx, requestID, callerID); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, requestID, callerID)
}

// MarkRead flips the read flag on every message in the request not authored by
// the caller. Returns the number of messages affected; a second call is a no-op.
func (s *chatService) MarkRead(ctx context.Context, requestID primitive.ObjectID, callerID string) (int64, error) {
	if err := s.requireParticipant(ctx, requestID, callerID); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, requestID, callerID)
}

// DeleteMessage removes a message. Only its sender may delete it.
func (s *chatService) DeleteMessage(ctx context.Context, messageID primitive.ObjectID, callerID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != callerID {
		return fmt.Errorf("%w: only the sender can delete a message", models.ErrForbidden)
	}
	return s.messages.Delete(ctx, messageID)
}

func (s *chatService) Participants(ctx context.Context, requestID primitive.ObjectID) (*models.ServiceRequest, error) {
	return s.requests.GetByID(ctx, requestID)
}

func (s *chatService) requireParticipant(ctx context.Context, requestID primitive.ObjectID, callerID string) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if !req.IsParticipant(callerID) {
		return models.ErrForbidden
	}
	return nil
}
