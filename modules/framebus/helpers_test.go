package framebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateDropRate(t *testing.T) {
	tests := []struct {
		name    string
		sent    uint64
		dropped uint64
		want    float64
	}{
		{"nothing published", 0, 0, 0},
		{"every frame delivered", 120, 0, 0},
		{"every frame dropped", 0, 40, 1},
		{"half dropped", 25, 25, 0.5},
		{"stalled viewer", 3, 97, 0.97},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDropRate(BusStats{TotalSent: tt.sent, TotalDropped: tt.dropped})
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalculateSubscriberDropRate(t *testing.T) {
	stats := BusStats{
		Subscribers: map[string]SubscriberStats{
			"ws-fast":    {Policy: "drop-old", Sent: 300},
			"mjpeg-slow": {Policy: "drop-new", Sent: 30, Dropped: 270},
			"ws-idle":    {Policy: "drop-old"},
		},
	}

	assert.Zero(t, CalculateSubscriberDropRate(stats, "ws-fast"))
	assert.InDelta(t, 0.9, CalculateSubscriberDropRate(stats, "mjpeg-slow"), 1e-9)
	assert.Zero(t, CalculateSubscriberDropRate(stats, "ws-idle"))
	assert.Zero(t, CalculateSubscriberDropRate(stats, "unknown"))
}

func TestDropRateFromLiveBus(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Frame, 1)
	_ = bus.Subscribe("mjpeg-slow", ch)
	for i := uint64(1); i <= 4; i++ {
		bus.Publish(Frame{Seq: i})
	}

	stats := bus.Stats()
	assert.InDelta(t, 0.75, CalculateDropRate(stats), 1e-9)
	assert.InDelta(t, 0.75, CalculateSubscriberDropRate(stats, "mjpeg-slow"), 1e-9)
}
