// Package mqtt pushes bridge events onto a broker so downstream automation
// can react without polling the bridge.
package mqtt

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/joshp123/nibebridge/internal/uplink"
)

// Config describes the broker connection.
type Config struct {
	BrokerURL   string
	Username    string
	Password    string
	TopicPrefix string
	Logger      *zap.Logger
}

// Publisher mirrors poll outcomes to MQTT. Alarm topics are retained so a
// late subscriber still sees the active state.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	log    *zap.Logger
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, fmt.Errorf("broker URL is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "nibebridge"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	if strings.HasPrefix(cfg.BrokerURL, "ssl://") {
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := pahomqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Publisher{client: client, prefix: prefix, log: log}, nil
}

// SystemChanged announces that a poll cycle updated the system's state.
func (p *Publisher) SystemChanged(systemID uplink.SystemID) {
	payload, _ := json.Marshal(map[string]any{
		"system_id":  systemID,
		"changed_at": time.Now().UTC().Format(time.RFC3339),
	})
	p.publish(p.topic(systemID, "changed"), payload, false)
}

// Notify publishes a newly active alarm, retained.
func (p *Publisher) Notify(systemID uplink.SystemID, n uplink.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		p.log.Error("encode alarm", zap.Error(err))
		return
	}
	p.publish(p.topic(systemID, "alarms/"+strconv.Itoa(n.NotificationID)), payload, true)
}

// Dismiss clears a previously retained alarm.
func (p *Publisher) Dismiss(systemID uplink.SystemID, n uplink.Notification) {
	p.publish(p.topic(systemID, "alarms/"+strconv.Itoa(n.NotificationID)), nil, true)
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) topic(systemID uplink.SystemID, suffix string) string {
	return p.prefix + "/systems/" + systemID.Label() + "/" + suffix
}

func (p *Publisher) publish(topic string, payload []byte, retain bool) {
	token := p.client.Publish(topic, 0, retain, payload)
	if token.Wait() && token.Error() != nil {
		publishErrors.Inc()
		p.log.Error("mqtt publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	publishTotal.Inc()
}

func randomClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "nibebridge-" + base64.RawURLEncoding.EncodeToString(nonce)
}
