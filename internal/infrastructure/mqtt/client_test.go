package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// These tests cover the broker-free paths: argument validation, connection
// state guards, and topic builders. End-to-end broker behaviour is covered
// by integration_test.go (run with -tags=integration against a local broker).

func TestPublish_Validation(t *testing.T) {
	client := &Client{}

	if err := client.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Publish("verdant/test", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos=3) error = %v, want ErrInvalidQoS", err)
	}

	big := make([]byte, maxPayloadSize+1)
	if err := client.Publish("verdant/test", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversized) error = %v, want ErrPublishFailed", err)
	}

	if err := client.Publish("verdant/test", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() on disconnected client error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Subscribe("verdant/test", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos=3) error = %v, want ErrInvalidQoS", err)
	}

	if err := client.Subscribe("verdant/test", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}

	if err := client.Subscribe("verdant/test", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() on disconnected client error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Unsubscribe("verdant/test"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() on disconnected client error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := &Client{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	client := &Client{}

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name     string
		build    func() string
		expected string
	}{
		{
			name: "KitMeasurements",
			build: func() string {
				return Topics{}.KitMeasurements("k-greenhouse-1", "REDUCED")
			},
			expected: "verdant/kits/k-greenhouse-1/measurements/REDUCED",
		},
		{
			name: "KitStatus",
			build: func() string {
				return Topics{}.KitStatus("k-greenhouse-1")
			},
			expected: "verdant/kits/k-greenhouse-1/status",
		},
		{
			name: "SystemStatus",
			build: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "verdant/system/status",
		},
		{
			name: "AllKitMeasurements",
			build: func() string {
				return Topics{}.AllKitMeasurements()
			},
			expected: "verdant/kits/+/measurements/+",
		},
		{
			name: "KitAllMeasurements",
			build: func() string {
				return Topics{}.KitAllMeasurements("k-greenhouse-1")
			},
			expected: "verdant/kits/k-greenhouse-1/measurements/+",
		},
		{
			name: "AllKitStatuses",
			build: func() string {
				return Topics{}.AllKitStatuses()
			},
			expected: "verdant/kits/+/status",
		},
		{
			name: "AllTopics",
			build: func() string {
				return Topics{}.AllTopics()
			},
			expected: "verdant/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(); got != tt.expected {
				t.Errorf("topic = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTopics_SharePrefix(t *testing.T) {
	all := []string{
		Topics{}.KitMeasurements("k", "RAW"),
		Topics{}.KitStatus("k"),
		Topics{}.SystemStatus(),
		Topics{}.AllKitMeasurements(),
		Topics{}.AllKitStatuses(),
	}
	for _, topic := range all {
		if !strings.HasPrefix(topic, TopicPrefix+"/") {
			t.Errorf("topic %q does not share the %q prefix", topic, TopicPrefix)
		}
	}
}
