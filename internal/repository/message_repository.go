package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"servicehub/request-service/internal/models"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error)
	ListByRequest(ctx context.Context, requestID primitive.ObjectID) ([]models.Message, error)
	ListUnread(ctx context.Context, requestID primitive.ObjectID, readerID string) ([]models.Message, error)
	CountUnread(ctx context.Context, requestID primitive.ObjectID, readerID string) (int64, error)
	MarkRead(ctx context.Context, requestID primitive.ObjectID, readerID string) (int64, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type messageRepository struct {
	collection *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{collection: db.Collection("messages")}
}

// EnsureMessageIndexes creates the (request, created) and (request, sender, read)
// indexes backing ordered history and unread counting.
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "read", Value: 1}}},
	})
	return err
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = time.Now()
	msg.Read = false
	msg.ReadAt = nil
	_, err := r.collection.InsertOne(ctx, msg)
	return err
}

func (r *messageRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	var msg models.Message
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListByRequest(ctx context.Context, requestID primitive.ObjectID) ([]models.Message, error) {
	return r.find(ctx, bson.M{"request_id": requestID})
}

func (r *messageRepository) ListUnread(ctx context.Context, requestID primitive.ObjectID, readerID string) ([]models.Message, error) {
	return r.find(ctx, unreadFilter(requestID, readerID))
}

func (r *messageRepository) CountUnread(ctx context.Context, requestID primitive.ObjectID, readerID string) (int64, error) {
	return r.collection.CountDocuments(ctx, unreadFilter(requestID, readerID))
}

func (r *messageRepository) MarkRead(ctx context.Context, requestID primitive.ObjectID, readerID string) (int64, error) {
	now := time.Now()
	res, err := r.collection.UpdateMany(ctx, unreadFilter(requestID, readerID), bson.M{
		"$set": bson.M{"read": true, "read_at": now},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *messageRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Persisted creation order is the only ordering clients may rely on.
func (r *messageRepository) find(ctx context.Context, filter bson.M) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var messages []models.Message
	err = cursor.All(ctx, &messages)
	return messages, err
}

func unreadFilter(requestID primitive.ObjectID, readerID string) bson.M {
	return bson.M{
		"request_id": requestID,
		"sender_id":  bson.M{"$ne": readerID},
		"read":       false,
	}
}
