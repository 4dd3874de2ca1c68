package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"

	"sn-go/internal/config"
	"sn-go/internal/handlers/apiserver"
	appKafka "sn-go/internal/kafka"
	"sn-go/internal/middleware"
	"sn-go/internal/notify"
	appRedis "sn-go/internal/redis"
	"sn-go/internal/services"
	"sn-go/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("API 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("API 服务器数据库连接成功。")

	if err := storage.AutoMigrateTables(db); err != nil {
		log.Printf("警告：API 服务器数据库表迁移可能失败: %v", err)
	}

	// 3. 初始化 Redis Client
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err = redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	log.Println("成功连接到 Redis")

	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)
	suggestionCache := appRedis.NewRedisSuggestionCache(redisClient)

	// 4. 初始化 Repositories
	userStore := storage.NewGormUserStore(db)
	requestRepo := storage.NewGormFollowRequestRepository(db)
	auditRepo := storage.NewGormAuditRepository(db)
	repairRepo := storage.NewGormRepairRepository(db)
	notificationRepo := storage.NewGormNotificationRepository(db)

	// 5. 初始化 Kafka Producer 与通知事件 Sink
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功 (API Server)。")

	sink := notify.NewKafkaSink(kfkProducer, cfg.Kafka)

	// 6. 初始化 Services
	authService := services.NewAuthService(userStore, cfg)
	userService := services.NewUserService(userStore)
	engine := services.NewRelationshipService(userStore, requestRepo, auditRepo, repairRepo, sink, suggestionCache, "api", cfg.Engine)
	queryService := services.NewRelationshipQueryService(userStore, requestRepo)
	suggestionService := services.NewSuggestionService(userStore, suggestionCache, cfg.Suggestion)

	// 7. 初始化 Handlers
	authHandler := apiserver.NewAuthHandler(authService, tokenBlacklist)
	userHandler := apiserver.NewUserHandler(userService, suggestionService)
	relationshipHandler := apiserver.NewRelationshipHandler(engine, queryService)
	notificationHandler := apiserver.NewNotificationHandler(notificationRepo)

	// 8. 设置 HTTP 路由
	r := mux.NewRouter()

	// 8.1 认证路由
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)

	authMW := middleware.AuthMiddleware(cfg.Auth.JWTSecretKey, tokenBlacklist)

	// 8.2 API 子路由 (需要认证)
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMW)

	apiRouter.HandleFunc("/auth/logout", authHandler.LogoutHandler).Methods(http.MethodPost)

	// 用户路由
	apiRouter.HandleFunc("/users/me", userHandler.GetMeHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me", userHandler.UpdateProfileHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/users/me", userHandler.DeactivateHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/users/search", userHandler.SearchUsersHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/suggestions", userHandler.SuggestUsersHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}", userHandler.GetUserProfileHandler).Methods(http.MethodGet)

	// 关系路由
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/follow", relationshipHandler.FollowHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/follow", relationshipHandler.UnfollowHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/block", relationshipHandler.BlockHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{userID:[0-9]+}/block", relationshipHandler.UnblockHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/relationships/followers", relationshipHandler.ListFollowersHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/relationships/following", relationshipHandler.ListFollowingHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/relationships/blocked", relationshipHandler.ListBlockedHandler).Methods(http.MethodGet)

	// 关注请求路由
	followRequestRouter := apiRouter.PathPrefix("/follow-requests").Subrouter()
	followRequestRouter.HandleFunc("/pending", relationshipHandler.ListPendingRequestsHandler).Methods(http.MethodGet)
	followRequestRouter.HandleFunc("/{userID:[0-9]+}/accept", relationshipHandler.AcceptRequestHandler).Methods(http.MethodPost)
	followRequestRouter.HandleFunc("/{userID:[0-9]+}/reject", relationshipHandler.RejectRequestHandler).Methods(http.MethodPost)
	followRequestRouter.HandleFunc("/{userID:[0-9]+}", relationshipHandler.CancelRequestHandler).Methods(http.MethodDelete)

	// 通知路由
	apiRouter.HandleFunc("/notifications", notificationHandler.ListNotificationsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/notifications/{notificationID:[0-9]+}/read", notificationHandler.MarkNotificationReadHandler).Methods(http.MethodPost)

	// 9. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)

	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		log.Printf("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("API 服务器强制关闭: %v", err)
	}

	log.Println("API 服务器已成功关闭")
}
