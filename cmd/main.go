package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/collector"
	"github.com/CoolE88/aurora-telemetry-service/internal/config"
	apphttp "github.com/CoolE88/aurora-telemetry-service/internal/http"
	"github.com/CoolE88/aurora-telemetry-service/internal/inverter"
	applogger "github.com/CoolE88/aurora-telemetry-service/internal/logger"
	"github.com/CoolE88/aurora-telemetry-service/internal/protocol"
	"github.com/CoolE88/aurora-telemetry-service/internal/publisher"
	"github.com/CoolE88/aurora-telemetry-service/internal/pvoutput"
	"github.com/CoolE88/aurora-telemetry-service/internal/queue"
	"github.com/CoolE88/aurora-telemetry-service/internal/relay"
	"github.com/CoolE88/aurora-telemetry-service/internal/repository/postgres"
	"github.com/CoolE88/aurora-telemetry-service/internal/service"
	"github.com/CoolE88/aurora-telemetry-service/internal/transport"

	"go.uber.org/zap"
)

func main() {
	// Создаём отменяемый контекст для всего приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // Гарантирует отмену при выходе

	cfg := config.LoadConfig()

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error during logger sync: %v", err)
		}
	}()

	logger.Info("Starting Aurora Telemetry Service", zap.String("version", "1.0.0"))

	// Инициализация хранилища очереди
	var store queue.Store
	switch cfg.QueueStore {
	case "memory":
		store = queue.NewMemoryStore()
		logger.Warn("Using in-memory queue store, records will not survive restarts")
	default:
		pgStore, err := postgres.NewPostgresStore(ctx, cfg.DBConfig, logger)
		if err != nil {
			logger.Error("Failed to connect to database", zap.Error(err))
			return
		}
		store = pgStore
		logger.Info("Database connection established")
	}
	defer func() {
		store.Close()
		logger.Info("Queue store closed")
	}()

	// Восстановление очереди переотправки
	resendQueue, err := queue.NewResendQueue(ctx, store, logger)
	if err != nil {
		logger.Error("Failed to restore resend queue", zap.Error(err))
		return
	}

	// Открытие сеанса связи с инвертором
	session := transport.NewSession(
		transport.SerialDialer(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.Timeout),
		transport.Options{
			Timeout:                cfg.Serial.Timeout,
			QuietPeriod:            cfg.Serial.QuietPeriod,
			ReopenDelay:            cfg.Serial.ReopenDelay,
			MaxConsecutiveFailures: cfg.Serial.MaxConsecutiveFailures,
		},
		logger,
	)
	if err := session.Open(); err != nil {
		// инвертор может спать, сеанс откроется при следующем цикле
		logger.Warn("Serial port not available yet", zap.Error(err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("Failed to close serial session", zap.Error(err))
		}
	}()

	// Таблица запросов цикла опроса
	queries, err := protocol.BuildQueryTable(protocol.DefaultQueryNames)
	if err != nil {
		logger.Error("Failed to build query table", zap.Error(err))
		return
	}

	address := byte(cfg.Serial.Address)
	client := inverter.NewClient(session, address, cfg.Serial.MaxTries, logger)
	assembler := inverter.NewAssembler(client, queries, address, logger)

	// Клиент удалённого сервиса и ретранслятор
	uploader := pvoutput.NewClient(
		cfg.PVOutput.BaseURL,
		cfg.PVOutput.SystemID,
		cfg.PVOutput.APIKey,
		cfg.PVOutput.Timeout,
		logger,
	)
	rel := relay.NewRelay(resendQueue, uploader, relay.Options{
		MaxBatchSize:     cfg.PVOutput.MaxBatchSize,
		RequestInterval:  cfg.PVOutput.RequestInterval,
		MaxRejectRetries: cfg.PVOutput.MaxRejectRetries,
	}, logger)

	// Необязательная публикация в MQTT
	mqttPublisher, err := publisher.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, logger)
	if err != nil {
		logger.Error("Failed to connect to MQTT broker", zap.Error(err))
		return
	}
	defer mqttPublisher.Close()
	mqttPublisher.PublishStatus(true)

	// Диагностический HTTP API
	statusService := service.NewStatusService(resendQueue, client, rel, logger)
	httpServer := apphttp.NewHTTPServer(cfg.RESTPort, statusService, logger)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			return
		}
	}()

	// Цикл опроса
	coll := collector.NewCollector(
		session,
		assembler,
		rel,
		mqttPublisher,
		cfg.Serial.PollInterval,
		cfg.Serial.PollTimeout,
		cfg.Serial.MaxConsecutiveFailures,
		logger,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coll.Start(ctx)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	// Отменяем контекст для всех компонентов (остановит цикл опроса и мониторинг)
	cancel()
	wg.Wait() // Дождаться завершения цикла опроса

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Останавливаем HTTP сервер
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Aurora Telemetry Service stopped")
}
