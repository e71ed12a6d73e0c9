package telemetry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-frameshare/modules/command"
	"github.com/e7canasta/orion-frameshare/modules/framebus"
	"github.com/e7canasta/orion-frameshare/modules/imagedistributor"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
	"github.com/e7canasta/orion-frameshare/modules/lrupool"
	"github.com/e7canasta/orion-frameshare/modules/ringbuffer"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
	"github.com/e7canasta/orion-frameshare/modules/telemetry"
)

func fixedSources() telemetry.Sources {
	return telemetry.Sources{
		Reader: func() sharedreader.Stats {
			return sharedreader.Stats{
				RootAvailable: 3,
				ZSL:           ringbuffer.Stats{Stored: 10, Dropped: 2, Buffered: 4},
				Distributor:   imagedistributor.Stats{ImagesDistributed: 7, StaleRequests: 1},
				Streams: []sharedreader.StreamStats{
					{Admitted: 5, Dropped: 1, Available: 2},
					{Admitted: 1, Available: 1},
				},
			}
		},
		Executor: func() command.Stats { return command.Stats{Succeeded: 4, Failed: 1, Running: 2} },
		Buffers:  func() lrupool.Stats { return lrupool.Stats{Hits: 9, Misses: 3, Size: 4096} },
		Saver:    func() imagesaver.DiskStats { return imagesaver.DiskStats{Saved: 6} },
		Preview: func() framebus.BusStats {
			return framebus.BusStats{TotalSent: 20, Subscribers: map[string]framebus.SubscriberStats{"a": {}}}
		},
	}
}

// values gathers every sample keyed by name plus the first label value.
func values(t *testing.T, c prometheus.Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				key += "/" + labels[0].GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestCollectorReadsSnapshots(t *testing.T) {
	got := values(t, telemetry.NewCollector(fixedSources()))

	assert.Equal(t, 3.0, got["zslcam_reader_root_tickets_available"])
	assert.Equal(t, 10.0, got["zslcam_zsl_images_total/stored"])
	assert.Equal(t, 2.0, got["zslcam_zsl_images_total/dropped"])
	assert.Equal(t, 4.0, got["zslcam_zsl_buffered_images"])
	assert.Equal(t, 7.0, got["zslcam_distributor_images_total/distributed"])
	assert.Equal(t, 1.0, got["zslcam_distributor_stale_requests_total"])
	assert.Equal(t, 6.0, got["zslcam_stream_images_total/admitted"])
	assert.Equal(t, 3.0, got["zslcam_stream_tickets_available"])
	assert.Equal(t, 4.0, got["zslcam_executor_commands_total/succeeded"])
	assert.Equal(t, 2.0, got["zslcam_executor_commands_running"])
	assert.Equal(t, 9.0, got["zslcam_buffer_pool_lookups_total/hit"])
	assert.Equal(t, 4096.0, got["zslcam_buffer_pool_bytes"])
	assert.Equal(t, 6.0, got["zslcam_saver_captures_total/saved"])
	assert.Equal(t, 1.0, got["zslcam_preview_viewers"])

	_, hasSensor := got["zslcam_sensor_frames_total"]
	assert.False(t, hasSensor, "nil sources must be skipped")
}

func TestCollectorReflectsLiveValues(t *testing.T) {
	var saved uint64
	c := telemetry.NewCollector(telemetry.Sources{
		Saver: func() imagesaver.DiskStats { return imagesaver.DiskStats{Saved: saved} },
	})

	assert.Equal(t, 0.0, values(t, c)["zslcam_saver_captures_total/saved"])
	saved = 3
	assert.Equal(t, 3.0, values(t, c)["zslcam_saver_captures_total/saved"])
}

func TestHandlerServesMetrics(t *testing.T) {
	h, err := telemetry.Handler(telemetry.NewCollector(fixedSources()))
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "zslcam_distributor_images_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingWithEndpoint(t *testing.T) {
	shutdown, err := telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}
