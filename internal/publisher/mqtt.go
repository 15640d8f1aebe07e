package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTPublisher дублирует собранные записи в локальный брокер для
// домашней автоматизации. Публикация необязательная: потеря
// сообщения ничего не ломает, очередь переотправки сюда не смотрит.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewMQTTPublisher подключается к брокеру. Пустой адрес отключает
// публикацию, возвращается nil-паблишер, безопасный в использовании.
func NewMQTTPublisher(broker, clientID, topic string, logger *zap.Logger) (*MQTTPublisher, error) {
	if broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return &MQTTPublisher{
		client: client,
		topic:  topic,
		logger: logger,
	}, nil
}

// Publish отправляет запись в формате JSON и каждое присутствующее
// поле отдельным retained-сообщением в подтопик
func (p *MQTTPublisher) Publish(record *domain.MeasurementRecord) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Warn("mqtt payload marshal failed", zap.Error(err))
		return
	}
	p.client.Publish(p.topic+"/record", 0, true, payload)

	for name, value := range record.Fields {
		if !value.Present {
			continue
		}
		p.client.Publish(p.topic+"/"+name, 0, true, fmt.Sprint(value.Float))
	}
}

// PublishStatus публикует retained-флаг живости сервиса
func (p *MQTTPublisher) PublishStatus(online bool) {
	if p == nil {
		return
	}
	status := "offline"
	if online {
		status = "online"
	}
	p.client.Publish(p.topic+"/status", 0, true, status).Wait()
}

func (p *MQTTPublisher) Close() {
	if p == nil {
		return
	}
	p.PublishStatus(false)
	p.client.Disconnect(250)
}
