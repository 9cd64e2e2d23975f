package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"servicehub/request-service/internal/models"
)

type RequestRepository interface {
	Create(ctx context.Context, req *models.ServiceRequest) error
	Update(ctx context.Context, req *models.ServiceRequest) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.ServiceRequest, error)
	GetByParticipant(ctx context.Context, userID string) ([]models.ServiceRequest, error)
	GetAll(ctx context.Context) ([]models.ServiceRequest, error)
	Filter(ctx context.Context, filter bson.M) ([]models.ServiceRequest, error)
}

type requestRepository struct {
	collection *mongo.Collection
}

func NewRequestRepository(db *mongo.Database) RequestRepository {
	return &requestRepository{collection: db.Collection("requests")}
}

func (r *requestRepository) Create(ctx context.Context, req *models.ServiceRequest) error {
	req.ID = primitive.NewObjectID()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	_, err := r.collection.InsertOne(ctx, req)
	return err
}

func (r *requestRepository) Update(ctx context.Context, req *models.ServiceRequest) error {
	req.UpdatedAt = time.Now()
	_, err := r.collection.UpdateByID(ctx, req.ID, bson.M{"$set": req})
	return err
}

func (r *requestRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetByParticipant returns requests the user owns as client or serves as provider.
func (r *requestRepository) GetByParticipant(ctx context.Context, userID string) ([]models.ServiceRequest, error) {
	filter := bson.M{"$or": []bson.M{
		{"client_id": userID},
		{"provider_id": userID},
	}}
	return r.Filter(ctx, filter)
}

func (r *requestRepository) GetAll(ctx context.Context) ([]models.ServiceRequest, error) {
	return r.Filter(ctx, bson.M{})
}

func (r *requestRepository) Filter(ctx context.Context, filter bson.M) ([]models.ServiceRequest, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var requests []models.ServiceRequest
	err = cursor.All(ctx, &requests)
	return requests, err
}
