package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sn-go/internal/config"
	appKafka "sn-go/internal/kafka"
	kafkahandlers "sn-go/internal/kafka/handlers"
	"sn-go/internal/storage"
)

// notifier 消费关系事件 topic，把事件写入每个用户的站内通知收件箱。
func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Notifier 配置加载成功。")

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Notifier 数据库连接成功。")

	if err := storage.AutoMigrateTables(db); err != nil {
		log.Printf("警告：Notifier 数据库表迁移可能失败: %v", err)
	}

	notificationRepo := storage.NewGormNotificationRepository(db)
	consumerLogic := kafkahandlers.NewNotificationConsumerLogic(notificationRepo)

	consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 消费者: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		topics := []string{cfg.Kafka.NotificationsTopic}
		log.Printf("通知消费者启动，监听 topic: %s, GroupID: %s", cfg.Kafka.NotificationsTopic, cfg.Kafka.NotifierGroup)
		err := consumer.Consume(ctx, topics, cfg.Kafka.NotifierGroup, consumerLogic.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("通知消费者错误: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，正在停止通知消费者...")

	cancel()
	<-done
	log.Println("通知消费者已停止。")
}
