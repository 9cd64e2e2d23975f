package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"servicehub/request-service/internal/config"
	"servicehub/request-service/internal/handler"
	"servicehub/request-service/internal/realtime"
	"servicehub/request-service/internal/repository"
	"servicehub/request-service/internal/services"
	"servicehub/request-service/internal/utils"
)

func main() {
	// 1. Базовый контекст + менеджер завершения
	baseCtx := context.Background()
	ctx, shutdownManager := utils.NewShutdownManager(baseCtx)
	shutdownManager.StartListening()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 2. Инициализация MongoDB
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	db := mongoClient.Database(cfg.MongoDatabase)

	if err := repository.EnsureMessageIndexes(ctx, db); err != nil {
		log.Fatal("Failed to create message indexes:", err)
	}

	shutdownManager.Register(func(ctx context.Context) error {
		log.Println("[SHUTDOWN] Closing MongoDB connection...")
		return mongoClient.Disconnect(ctx)
	})

	// 3. Инициализация Redis
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid Redis URL:", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}

	shutdownManager.Register(func(ctx context.Context) error {
		log.Println("[SHUTDOWN] Closing Redis connection...")
		return rdb.Close()
	})

	// 4. Инициализация сервисов
	requestRepo := repository.NewRequestRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	userClient := utils.NewUserClient(cfg.UserServiceURL)

	requestService := services.NewRequestService(requestRepo, rdb, userClient, cfg)
	chatService := services.NewChatService(messageRepo, requestRepo, rdb)

	hub := realtime.NewHub()
	gateway := realtime.NewGateway(hub, chatService, requestService)
	requestService.SetEmitter(gateway)

	requestHandler := handler.NewRequestHandler(requestService)
	chatHandler := handler.NewChatHandler(chatService)

	origins := strings.Split(cfg.AllowedOrigins, ",")
	allowedOrigins := make(map[string]bool, len(origins))
	for _, origin := range origins {
		allowedOrigins[strings.TrimSpace(origin)] = true
	}
	wsHandler := handler.NewWSHandler(gateway, allowedOrigins)

	// 5. Старт фоновых задач
	cron := services.NewCronJobService(requestService, requestRepo, rdb)
	cron.Start(ctx)

	// 6. Настройка роутера
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	jwtUtil := utils.NewJWTUtil(cfg.JWTSecret)
	router.Use(utils.AuthMiddleware(jwtUtil))

	requests := router.Group("/api/requests")
	{
		requests.POST("/", requestHandler.CreateRequest)
		requests.GET("/mine", requestHandler.GetMyRequests)
		requests.GET("/:id", requestHandler.GetRequest)
		requests.PUT("/:id", requestHandler.UpdateRequest)
		requests.DELETE("/:id", requestHandler.DeleteRequest)
		requests.POST("/:id/assign", requestHandler.AssignProvider)
		requests.POST("/:id/cancel", requestHandler.Cancel)

		providerOnly := requests.Group("/")
		providerOnly.Use(utils.RequireRoles("provider"))
		{
			providerOnly.POST("/:id/accept", requestHandler.Accept)
			providerOnly.POST("/:id/reject", requestHandler.Reject)
			providerOnly.POST("/:id/start", requestHandler.Start)
			providerOnly.POST("/:id/finish", requestHandler.Finish)
		}

		adminOnly := requests.Group("/")
		adminOnly.Use(utils.RequireRoles("manager", "admin"))
		{
			adminOnly.GET("/all", requestHandler.GetAllRequests)
			adminOnly.GET("/filter", requestHandler.FilterRequests)
			adminOnly.PUT("/:id/override", requestHandler.AdminOverride)
		}
	}

	router.GET("/api/providers/available", requestHandler.ListAvailableProviders)

	messages := router.Group("/api/messages")
	{
		messages.GET("/request/:id", chatHandler.GetHistory)
		messages.GET("/request/:id/unread", chatHandler.GetUnread)
		messages.GET("/request/:id/unread-count", chatHandler.GetUnreadCount)
		messages.POST("/request/:id/mark-read", chatHandler.MarkRead)
		messages.DELETE("/:id", chatHandler.DeleteMessage)
	}

	router.GET("/ws", wsHandler.Connect)

	// 7. Запуск сервера
	server := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Println("Request service running on", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	shutdownManager.Register(func(ctx context.Context) error {
		log.Println("[SHUTDOWN] Shutting down HTTP server...")
		return server.Shutdown(ctx)
	})

	select {}
}
