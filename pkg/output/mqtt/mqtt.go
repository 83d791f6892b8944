package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "drip"
	DefaultStateTopic = "drip/%s/state"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	stateClassTotal        = "total_increasing"
)

// quantity is one field of the state payload exposed as a discovered sensor.
type quantity struct {
	field       string
	label       string
	unit        string
	deviceClass string
	stateClass  string
}

var quantities = []quantity{
	{"grams", "Weight", "g", "weight", stateClassMeasurement},
	{"temperature_c", "Temperature", "°C", "temperature", stateClassMeasurement},
	{"humidity_pct", "Humidity", "%", "humidity", stateClassMeasurement},
	{"voltage_v", "Voltage", "V", "voltage", stateClassMeasurement},
	{"current_a", "Current", "A", "current", stateClassMeasurement},
	{"power_w", "Power", "W", "power", stateClassMeasurement},
	{"energy_wh", "Energy", "Wh", "energy", stateClassTotal},
	{"frequency_hz", "Frequency", "Hz", "frequency", stateClassMeasurement},
	{"power_factor", "Power factor", "", "power_factor", stateClassMeasurement},
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	retain     bool
}

// NewMQTT connects to the broker and, when a discovery prefix is set,
// announces one Home Assistant sensor per quantity.
func NewMQTT(cfg *config.MQTTConfig) (output.Output, error) {
	c := withDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(c.Server).SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Password != "" {
		opts.SetPassword(c.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := newOutput(client, c)
	if c.DiscoveryPrefix != "" {
		m.announce(c)
	}
	logrus.WithFields(logrus.Fields{"server": c.Server, "topic": m.stateTopic}).Info("mqtt output connected")
	return m, nil
}

func newOutput(client mqtt.Client, c config.MQTTConfig) *MQTTOutput {
	return &MQTTOutput{client: client, stateTopic: stateTopic(c), retain: c.Retain}
}

func (m *MQTTOutput) Publish(records []acquisition.Record) error {
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		token := m.client.Publish(m.stateTopic, 0, m.retain, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Name() string { return "mqtt" }

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func (m *MQTTOutput) announce(c config.MQTTConfig) {
	for _, q := range quantities {
		topic := discoveryTopic(c, q)
		payload := discoveryPayload(c, q, m.stateTopic)
		if err := publishJSON(m.client, topic, true, payload); err != nil {
			logrus.WithError(err).WithField("topic", topic).Warn("mqtt discovery publish failed")
		}
	}
}

func withDefaults(cfg *config.MQTTConfig) config.MQTTConfig {
	var c config.MQTTConfig
	if cfg != nil {
		c = *cfg
	}
	if c.Server == "" {
		c.Server = DefaultServer
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	return c
}

// stateTopic expands a %s in the configured topic with the client id.
func stateTopic(c config.MQTTConfig) string {
	t := c.Topic
	if t == "" {
		t = DefaultStateTopic
	}
	return strings.Replace(t, "%s", c.ClientID, 1)
}

func discoveryTopic(c config.MQTTConfig, q quantity) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", c.DiscoveryPrefix, c.ClientID, q.field)
}

func discoveryPayload(c config.MQTTConfig, q quantity, state string) map[string]interface{} {
	name := c.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("DRIP %s", c.ClientID)
	}
	payload := map[string]interface{}{
		keyName:                fmt.Sprintf("%s %s", name, q.label),
		keyStateTopic:          state,
		keyDeviceClass:         q.deviceClass,
		keyStateClass:          q.stateClass,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", q.field),
		keyJSONAttributesTopic: state,
		keyUniqueID:            fmt.Sprintf("%s_%s", c.ClientID, q.field),
	}
	if q.unit != "" {
		payload[keyUnitOfMeasurement] = q.unit
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
