package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"carexpert/common/auth"
	"carexpert/common/infra/cache"
	"carexpert/common/infra/db"
	"carexpert/common/infra/mq"
	"carexpert/common/infra/object"
	"carexpert/server/chat/api"
	"carexpert/server/chat/repository"
	"carexpert/server/chat/service"
)

type Server struct {
	HTTPServer  *http.Server
	DB          *pgxpool.Pool
	Redis       *redis.Client
	MQConn      *amqp.Connection
	MQPublisher *service.AMQPPublisher
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, minioClient, cfg.MinioBucket); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	var (
		mqConn      *amqp.Connection
		mqPublisher *service.AMQPPublisher
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		mqPublisher, err = service.NewAMQPPublisher(mqConn)
		if err != nil {
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
	}

	tokenSvc := auth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	userSvc := service.NewUserService(repository.NewUserRepository(pool), tokenSvc)
	chatSvc := service.NewChatService(repository.NewChatRepository(pool))
	aiSvc := service.NewAIService(repository.NewAIRepository(pool), cfg.AIEndpoint, cfg.AIAPIKey, time.Duration(cfg.AITimeout)*time.Second)
	fileSvc := service.NewFileService(minioClient, cfg.MinioBucket)
	wsSvc := service.NewRealtimeService(redisClient, chatSvc, mqPublisher)

	h := api.NewHandler(userSvc, chatSvc, aiSvc, fileSvc, wsSvc, tokenSvc)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer:  httpServer,
		DB:          pool,
		Redis:       redisClient,
		MQConn:      mqConn,
		MQPublisher: mqPublisher,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.MQPublisher != nil {
		s.MQPublisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
