package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"roomchat-service/internal/auth"
	"roomchat-service/internal/bus"
	"roomchat-service/internal/config"
	"roomchat-service/internal/db"
	"roomchat-service/internal/handlers"
	"roomchat-service/internal/middleware"
	"roomchat-service/internal/observability"
	"roomchat-service/internal/rabbitmq"
	"roomchat-service/internal/repositories"
	"roomchat-service/internal/telemetry"
	"roomchat-service/internal/ws"
)

const serviceName = "roomchat-service"

func main() {
	cfg := config.Load()

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("telemetry publisher mode=%s", rabbitmq.PublisherMode(publisher))
	emitter := telemetry.NewSessionEmitter(publisher, "ws_session.rooms", serviceName, cfg.Environment)

	local := bus.NewLocalFabric(bus.Options{
		QueueSize:     cfg.Bus.QueueSize,
		MessageExpiry: cfg.Bus.MessageExpiry,
	})
	var fabric bus.Fabric = local
	if cfg.AMQPURL != "" {
		relay, err := bus.NewRelayFabric(local, cfg.AMQPURL, cfg.AMQPExchange+".broadcasts")
		if err != nil {
			log.Printf("relay fabric unavailable, broadcasts stay process-local: %v", err)
		} else {
			defer relay.Close()
			fabric = relay
		}
	}

	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiresIn)

	roomRepo := repositories.NewRoomRepo(database)
	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	reactionRepo := repositories.NewReactionRepo(database)
	typingRepo := repositories.NewTypingRepo(database)
	presenceRepo := repositories.NewPresenceRepo(database)

	gateway := ws.Gateway{
		Rooms:     roomRepo,
		Users:     userRepo,
		Messages:  messageRepo,
		Reactions: reactionRepo,
		Typing:    typingRepo,
		Presence:  presenceRepo,
	}
	wsHandler := ws.NewHandler(fabric, gateway, authService, emitter, cfg.Session)
	roomHandler := handlers.NewRoomHandler(roomRepo, messageRepo, typingRepo, cfg.HistoryLimit, cfg.TypingTTL)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware(serviceName))

	authRequired := middleware.AuthMiddleware(authService)
	router.GET("/rooms", authRequired, roomHandler.ListRooms)
	router.GET("/rooms/:room_name/messages", authRequired, roomHandler.GetRoomMessages)
	router.GET("/rooms/:room_name/typing", authRequired, roomHandler.GetTypingStatus)
	router.GET("/ws/chat/:room_name/", wsHandler.Handle)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	log.Printf("roomchat service listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
