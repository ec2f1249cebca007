// internal/mqtt/client.go
package mqtt

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pulkita2007/meter-system/internal/broker"
	"github.com/pulkita2007/meter-system/internal/config"
	"github.com/pulkita2007/meter-system/internal/data"
	"github.com/pulkita2007/meter-system/internal/ingest"
)

// readingSchema guards the MQTT ingest path: meters publish unattended,
// so structurally broken payloads are diverted to the DLQ before they
// reach the pipeline.
const readingSchema = `{
	"type": "object",
	"required": ["deviceId", "current", "voltage", "temperature"],
	"properties": {
		"deviceId":    {"type": "string", "minLength": 1},
		"current":     {"type": "number", "minimum": 0},
		"voltage":     {"type": "number", "minimum": 0},
		"temperature": {"type": "number"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("reading.json", readingSchema)

// Bridge subscribes to the meter topic and feeds payloads into the same
// ingest pipeline the HTTP endpoint uses.
type Bridge struct {
	svc    *ingest.Service
	events *broker.Publisher
	logger *log.Logger
	topic  string
}

func NewBridge(svc *ingest.Service, events *broker.Publisher, topic string, logger *log.Logger) *Bridge {
	return &Bridge{svc: svc, events: events, topic: topic, logger: logger}
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	payload := msg.Payload()

	in, err := b.validate(payload)
	if err != nil {
		b.logger.Printf("invalid mqtt payload on %s: %v", msg.Topic(), err)
		if b.events != nil {
			if dlqErr := b.events.PublishInvalid(ctx, msg.Topic(), payload, err); dlqErr != nil {
				b.logger.Printf("dlq publish failed: %v", dlqErr)
			}
		}
		return
	}

	if _, err := b.svc.Ingest(ctx, in); err != nil {
		b.logger.Printf("mqtt ingest failed for %s: %v", in.DeviceID, err)
	}
}

func (b *Bridge) validate(payload []byte) (data.ReadingInput, error) {
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return data.ReadingInput{}, err
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return data.ReadingInput{}, err
	}
	var in data.ReadingInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return data.ReadingInput{}, err
	}
	return in, nil
}

// BuildClient configures the paho client with auto-reconnect and the
// bridge's message handler subscribed on connect.
func (b *Bridge) BuildClient(cfg *config.Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.BrokerURL).
		SetClientID(cfg.MQTT.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		b.logger.Printf("connected to mqtt broker: %s", cfg.MQTT.BrokerURL)
		if token := c.Subscribe(b.topic, byte(cfg.MQTT.QoS), b.handleMessage); token.Wait() && token.Error() != nil {
			b.logger.Printf("mqtt subscribe error: %v", token.Error())
		} else {
			b.logger.Printf("subscribed to topic: %s (QoS %d)", b.topic, cfg.MQTT.QoS)
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		b.logger.Printf("mqtt connection lost: %v", err)
	}

	return mqtt.NewClient(opts)
}

// ConnectWithBackoff retries the initial connect with exponential backoff
// until it succeeds or the context is cancelled.
func (b *Bridge) ConnectWithBackoff(ctx context.Context, client mqtt.Client, start, max time.Duration) {
	backoff := start
	for {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			b.logger.Printf("mqtt connect error: %v; retrying in %s", token.Error(), backoff)
			select {
			case <-time.After(backoff):
				if backoff < max {
					backoff *= 2
				}
			case <-ctx.Done():
				b.logger.Println("context cancelled before mqtt connect")
				return
			}
			continue
		}
		break
	}
}
