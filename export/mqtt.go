package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hb9tf/scanner/sdr"
)

const (
	mqttPublishTimeout = 2 * time.Second
	mqttConnectTimeout = 5 * time.Second

	spectrumTopic  = "spectrum"
	detectionTopic = "detections"
)

// Publisher is the part of the paho client the MQTT exporter uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ConnectMQTT connects to the broker at server (host:port).
func ConnectMQTT(server, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", server))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		glog.Warningf("mqtt connection to %s lost, reconnecting: %s", server, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", server)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection to %s failed: %w", server, err)
	}
	glog.Infof("connected to mqtt broker %s as %s", server, clientID)
	return client, nil
}

// SpectrumMessage is the msgpack payload published for every dwell.
type SpectrumMessage struct {
	Identifier  string    `msgpack:"id"`
	Seq         uint64    `msgpack:"seq"`
	FirstSeq    uint64    `msgpack:"first_seq"`
	Tune        uint64    `msgpack:"tune"`
	CenterFreq  uint64    `msgpack:"center_freq"`
	FreqLow     uint64    `msgpack:"freq_low"`
	FreqHigh    uint64    `msgpack:"freq_high"`
	SampleRate  uint64    `msgpack:"sample_rate"`
	Start       int64     `msgpack:"start_ms"`
	End         int64     `msgpack:"end_ms"`
	Frames      int       `msgpack:"frames"`
	Mean        []float64 `msgpack:"mean"`
	Max         []float64 `msgpack:"max"`
	Description string    `msgpack:"description,omitempty"`
}

// DetectionMessage is the JSON payload published for every detection.
type DetectionMessage struct {
	Identifier string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Tune       uint64    `json:"tune"`
	CenterFreq uint64    `json:"center_freq"`
	FreqLow    uint64    `json:"freq_low,omitempty"`
	FreqHigh   uint64    `json:"freq_high,omitempty"`
	Model      string    `json:"model"`
	Kind       string    `json:"kind"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box,omitempty"`
	Time       int64     `json:"time_ms"`
}

// MQTT publishes dwell spectra and detections below Topic.
type MQTT struct {
	Client     Publisher
	Topic      string
	Identifier string
	QoS        byte

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

func (m *MQTT) Write(ctx context.Context, results <-chan sdr.Result) error {
	for res := range results {
		payload, err := msgpack.Marshal(NewSpectrumMessage(m.Identifier, &res))
		if err != nil {
			return fmt.Errorf("unable to encode spectrum: %w", err)
		}
		if err := m.publish(ctx, spectrumTopic, payload); err != nil {
			glog.Warningf("error publishing spectrum of batch %d: %s", res.Seq, err)
		}
	}
	return nil
}

// PublishDetection publishes one inference result as JSON.
func (m *MQTT) PublishDetection(ctx context.Context, d sdr.Detection) error {
	payload, err := json.Marshal(DetectionMessage{
		Identifier: m.Identifier,
		Seq:        d.Seq,
		Tune:       d.Tune,
		CenterFreq: d.CenterFreq,
		FreqLow:    d.FreqLow,
		FreqHigh:   d.FreqHigh,
		Model:      d.Model,
		Kind:       d.Kind,
		Label:      d.Label,
		Confidence: d.Confidence,
		Box:        d.Box,
		Time:       d.Time.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("unable to encode detection: %w", err)
	}
	return m.publish(ctx, detectionTopic, payload)
}

func (m *MQTT) publish(ctx context.Context, sub string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s", m.Topic, sub)
	token := m.Client.Publish(topic, m.QoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		m.count(topic, false)
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		m.count(topic, false)
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	m.count(topic, true)
	return nil
}

func (m *MQTT) count(topic string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.errors++
		return
	}
	if m.published == nil {
		m.published = map[string]uint64{}
	}
	m.published[topic]++
}

// Published returns the number of messages published per topic and the
// number of failed publishes.
func (m *MQTT) Published() (map[string]uint64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return published, m.errors
}

func NewSpectrumMessage(identifier string, r *sdr.Result) SpectrumMessage {
	return SpectrumMessage{
		Identifier:  identifier,
		Seq:         r.Seq,
		FirstSeq:    r.FirstSeq,
		Tune:        r.Tune,
		CenterFreq:  r.CenterFreq,
		FreqLow:     r.FreqLow(),
		FreqHigh:    r.FreqHigh(),
		SampleRate:  r.SampleRate,
		Start:       r.Start.UnixMilli(),
		End:         r.End.UnixMilli(),
		Frames:      r.Frames,
		Mean:        r.Mean,
		Max:         r.Max,
		Description: r.Description,
	}
}
