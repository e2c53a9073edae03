//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/verdantlab/verdant-core/internal/infrastructure/config"
)

// Broker-backed tests. They need a broker on 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func brokerConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Host:      "127.0.0.1",
		Port:      1883,
		ClientID:  clientID,
		QoS:       1,
		Reconnect: config.ReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(brokerConfig("verdant-int-subs"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck

	topics := []string{
		"verdant/int/tracking/a",
		"verdant/int/tracking/b",
		"verdant/int/tracking/c",
	}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if got := client.SubscriptionCount(); got != len(topics)-1 {
		t.Errorf("SubscriptionCount() after unsubscribe = %d, want %d", got, len(topics)-1)
	}
}

func TestIntegration_MeasurementMirrorRoundtrip(t *testing.T) {
	pub, err := Connect(brokerConfig("verdant-int-mirror"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close() //nolint:errcheck

	sub, err := Connect(brokerConfig("verdant-int-follow"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close() //nolint:errcheck

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(Topics{}.AllKitMeasurements(), 1, func(_ string, payload []byte) error {
		once.Do(func() { received <- string(payload) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let the subscription settle

	mirror := NewMeasurementMirror(pub, nil)
	frame := `{"kit":"vk-001","measurement_type":"REDUCED","measurement":{"value":21.5}}`
	mirror.Forward("vk-001", "REDUCED", []byte(frame))

	select {
	case got := <-received:
		if got != frame {
			t.Errorf("mirrored frame = %q, want %q", got, frame)
		}
	case <-time.After(5 * time.Second):
		t.Error("mirrored frame never arrived")
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	client, err := Connect(brokerConfig("verdant-int-health"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() on live connection = %v", err)
	}
}
