package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	redisDriver "github.com/redis/go-redis/v9"

	"sn-go/internal/config"
	appKafka "sn-go/internal/kafka"
	"sn-go/internal/notify"
	"sn-go/internal/reconcile"
	appRedis "sn-go/internal/redis"
	"sn-go/internal/services"
	"sn-go/internal/storage"
)

// reconciler 定期扫描未解决的镜像修复记录，重放双写直到镜像不变量恢复。
func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Reconciler 配置加载成功。")

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Reconciler 数据库连接成功。")

	userStore := storage.NewGormUserStore(db)
	requestRepo := storage.NewGormFollowRequestRepository(db)
	auditRepo := storage.NewGormAuditRepository(db)
	repairRepo := storage.NewGormRepairRepository(db)

	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err = redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	suggestionCache := appRedis.NewRedisSuggestionCache(redisClient)

	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()

	sink := notify.NewKafkaSink(kfkProducer, cfg.Kafka)
	engine := services.NewRelationshipService(userStore, requestRepo, auditRepo, repairRepo, sink, suggestionCache, "reconciler", cfg.Engine)
	repairer := reconcile.NewRepairer(engine, repairRepo, cfg.Reconciler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("镜像修复循环启动，扫描间隔 %s，批大小 %d", cfg.Reconciler.ScanInterval, cfg.Reconciler.BatchSize)
		if err := repairer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("镜像修复循环错误: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，正在停止镜像修复循环...")

	cancel()
	<-done
	log.Println("镜像修复循环已停止。")
}
