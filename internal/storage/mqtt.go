package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/ahoycrawler/internal/config"
	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 250 // ms
)

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes every row as a JSON object to
// {prefix}/{inverter}/{series}. A row leaves the buffer once the broker
// acknowledged it.
type MQTTSink struct {
	client publisher
	prefix string
	qos    byte
	close  func()
}

// ConnectMQTT connects to the broker configured in cfg.
func ConnectMQTT(cfg config.MQTTConfig, logger *logrus.Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: mqtt broker address cannot be empty", series.ErrStorage)
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: invalid mqtt qos %d", series.ErrStorage, cfg.QoS)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("ahoycrawler-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Error("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("Trying to reconnect to MQTT broker")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: mqtt connect to %s timed out", series.ErrStorage, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: mqtt connect to %s: %v", series.ErrStorage, cfg.Broker, err)
	}

	sink := newMQTTSink(client, cfg.TopicPrefix, byte(cfg.QoS))
	sink.close = func() { client.Disconnect(mqttQuiesce) }
	return sink, nil
}

func newMQTTSink(client publisher, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic rows of a series are published to. Level
// separators and wildcards in the names are replaced by '_'.
func (s *MQTTSink) Topic(inverterName, seriesID string) string {
	return s.prefix + "/" + topicLevel.Replace(inverterName) + "/" + topicLevel.Replace(seriesID)
}

var topicLevel = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func (s *MQTTSink) Flush(_ context.Context, inverterName, seriesID string, ds *series.Dataset) error {
	topic := s.Topic(inverterName, seriesID)
	names := ds.Catalog().Names()

	return ds.DrainEach(func(row series.Row) error {
		payload, err := rowPayload(names, row)
		if err != nil {
			return fmt.Errorf("%w: encode row for %s: %v", series.ErrStorage, topic, err)
		}

		token := s.client.Publish(topic, s.qos, false, payload)
		if !token.WaitTimeout(mqttPublishTimeout) {
			return fmt.Errorf("%w: publish to %s timed out", series.ErrStorage, topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: publish to %s: %v", series.ErrStorage, topic, err)
		}
		return nil
	})
}

// rowPayload encodes row as {"timestamp": ..., field: value|null, ...}.
func rowPayload(names []string, row series.Row) ([]byte, error) {
	obj := make(map[string]interface{}, len(names)+1)
	obj["timestamp"] = row.Timestamp.Format(series.TimestampLayout)
	for i, v := range row.Values {
		if v == nil {
			obj[names[i]] = nil
		} else {
			obj[names[i]] = *v
		}
	}
	return json.Marshal(obj)
}

func (s *MQTTSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

var _ Sink = (*MQTTSink)(nil)
