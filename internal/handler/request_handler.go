package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"servicehub/request-service/internal/models"
	"servicehub/request-service/internal/services"
	"servicehub/request-service/internal/utils"
)

type RequestHandler struct {
	service services.RequestService
}

func NewRequestHandler(service services.RequestService) *RequestHandler {
	return &RequestHandler{service: service}
}

type requestPayload struct {
	ServiceType   string    `json:"service_type" validate:"required"`
	Description   string    `json:"description"`
	Address       string    `json:"address" validate:"required"`
	Date          time.Time `json:"date" validate:"required"`
	DurationHours float64   `json:"duration_hours" validate:"gt=0"`
}

func (h *RequestHandler) CreateRequest(c *gin.Context) {
	userID := c.GetString("userID")
	var payload requestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.JoinErrors(err)})
		return
	}

	req := &models.ServiceRequest{
		ClientID:      userID,
		ServiceType:   payload.ServiceType,
		Description:   payload.Description,
		Address:       payload.Address,
		Date:          payload.Date,
		DurationHours: payload.DurationHours,
	}
	if err := h.service.CreateRequest(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *RequestHandler) GetMyRequests(c *gin.Context) {
	userID := c.GetString("userID")
	requests, err := h.service.GetMyRequests(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (h *RequestHandler) GetRequest(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	req, err := h.service.GetRequest(c.Request.Context(), id, c.GetString("userID"), c.GetString("role"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) UpdateRequest(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	var payload requestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := utils.ValidateStruct(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.JoinErrors(err)})
		return
	}

	updated := &models.ServiceRequest{
		ServiceType:   payload.ServiceType,
		Description:   payload.Description,
		Address:       payload.Address,
		Date:          payload.Date,
		DurationHours: payload.DurationHours,
	}
	req, err := h.service.UpdateRequest(c.Request.Context(), id, c.GetString("userID"), updated)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) DeleteRequest(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	if err := h.service.DeleteRequest(c.Request.Context(), id, c.GetString("userID")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request deleted"})
}

func (h *RequestHandler) ListAvailableProviders(c *gin.Context) {
	providers, err := h.service.ListAvailableProviders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, providers)
}

func (h *RequestHandler) AssignProvider(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ProviderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	req, err := h.service.AssignProvider(c.Request.Context(), id, c.GetString("userID"), body.ProviderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) Cancel(c *gin.Context) { h.transition(c, h.service.Cancel) }
func (h *RequestHandler) Accept(c *gin.Context) { h.transition(c, h.service.Accept) }
func (h *RequestHandler) Reject(c *gin.Context) { h.transition(c, h.service.Reject) }
func (h *RequestHandler) Start(c *gin.Context)  { h.transition(c, h.service.Start) }
func (h *RequestHandler) Finish(c *gin.Context) { h.transition(c, h.service.Finish) }

func (h *RequestHandler) transition(c *gin.Context, action func(ctx context.Context, id primitive.ObjectID, callerID string) (*models.ServiceRequest, error)) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	req, err := action(c.Request.Context(), id, c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *RequestHandler) GetAllRequests(c *gin.Context) {
	requests, err := h.service.GetAllRequests(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (h *RequestHandler) FilterRequests(c *gin.Context) {
	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if provider := c.Query("provider_id"); provider != "" {
		filters["provider_id"] = provider
	}
	if client := c.Query("client_id"); client != "" {
		filters["client_id"] = client
	}
	requests, err := h.service.FilterRequests(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (h *RequestHandler) AdminOverride(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	status, err := models.ParseStatus(body.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.service.AdminOverride(c.Request.Context(), id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
