// Package telemetry exports component statistics to Prometheus and installs
// the OpenTelemetry tracer provider.
//
// Nothing here keeps its own counters: every scrape reads a fresh Stats()
// snapshot from each registered source.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-frameshare/modules/command"
	"github.com/e7canasta/orion-frameshare/modules/framebus"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
	"github.com/e7canasta/orion-frameshare/modules/lrupool"
	"github.com/e7canasta/orion-frameshare/modules/sensor"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
)

const namespace = "zslcam"

// Sources are the snapshot functions read on every scrape. Nil sources are
// skipped.
type Sources struct {
	Reader   func() sharedreader.Stats
	Executor func() command.Stats
	Buffers  func() lrupool.Stats
	Saver    func() imagesaver.DiskStats
	Sensor   func() sensor.Stats
	Preview  func() framebus.BusStats
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	src Sources

	// sensor
	framesCaptured *prometheus.Desc
	fillErrors     *prometheus.Desc
	fpsReal        *prometheus.Desc

	// shared reader
	rootAvailable *prometheus.Desc
	highAvailable *prometheus.Desc
	highWaiters   *prometheus.Desc
	pending       *prometheus.Desc

	// zsl ring
	zslImages   *prometheus.Desc
	zslBuffered *prometheus.Desc

	// distributor
	distImages    *prometheus.Desc
	staleRequests *prometheus.Desc
	routes        *prometheus.Desc
	inboxPending  *prometheus.Desc

	// streams
	streamImages    *prometheus.Desc
	streamAvailable *prometheus.Desc

	// executor
	commands        *prometheus.Desc
	commandsRunning *prometheus.Desc

	// byte buffer pool
	bufferLookups   *prometheus.Desc
	bufferEvictions *prometheus.Desc
	bufferBytes     *prometheus.Desc

	// disk saver
	captures        *prometheus.Desc
	capturesPending *prometheus.Desc

	// preview bus
	previewFrames *prometheus.Desc
	viewers       *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Sources) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		src: src,

		framesCaptured: desc("sensor", "frames_total", "Frames emitted by the sensor."),
		fillErrors:     desc("sensor", "fill_errors_total", "Frames the sensor failed to fill."),
		fpsReal:        desc("sensor", "fps", "Measured sensor frame rate."),

		rootAvailable: desc("reader", "root_tickets_available", "Free tickets in the root pool."),
		highAvailable: desc("reader", "high_priority_tickets_available", "Tickets reachable by high-priority consumers, including reclaimable ones."),
		highWaiters:   desc("reader", "high_priority_waiters", "High-priority acquisitions in progress."),
		pending:       desc("reader", "pending_requests", "Per-frame request hooks waiting for a capture."),

		zslImages:   desc("zsl", "images_total", "ZSL ring buffer arrivals by outcome.", "outcome"),
		zslBuffered: desc("zsl", "buffered_images", "Images held by the ZSL ring buffer."),

		distImages:    desc("distributor", "images_total", "Images handled by the distributor by outcome.", "outcome"),
		staleRequests: desc("distributor", "stale_requests_total", "Requested timestamps the source never produced."),
		routes:        desc("distributor", "routes", "Live distribution routes."),
		inboxPending:  desc("distributor", "inbox_pending", "Images queued for distribution."),

		streamImages:    desc("stream", "images_total", "Images offered to consumer streams by outcome.", "outcome"),
		streamAvailable: desc("stream", "tickets_available", "Free reserved tickets across consumer streams."),

		commands:        desc("executor", "commands_total", "Camera commands by outcome.", "outcome"),
		commandsRunning: desc("executor", "commands_running", "Camera commands in flight."),

		bufferLookups:   desc("buffer_pool", "lookups_total", "Payload buffer lookups by result.", "result"),
		bufferEvictions: desc("buffer_pool", "evictions_total", "Payload buffers evicted to stay under the byte budget."),
		bufferBytes:     desc("buffer_pool", "bytes", "Bytes held by idle payload buffers."),

		captures:        desc("saver", "captures_total", "Still captures by outcome.", "outcome"),
		capturesPending: desc("saver", "captures_pending", "Still captures being written."),

		previewFrames: desc("preview", "frames_total", "Preview frames by outcome.", "outcome"),
		viewers:       desc("preview", "viewers", "Connected preview subscribers."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.framesCaptured, c.fillErrors, c.fpsReal,
		c.rootAvailable, c.highAvailable, c.highWaiters, c.pending,
		c.zslImages, c.zslBuffered,
		c.distImages, c.staleRequests, c.routes, c.inboxPending,
		c.streamImages, c.streamAvailable,
		c.commands, c.commandsRunning,
		c.bufferLookups, c.bufferEvictions, c.bufferBytes,
		c.captures, c.capturesPending,
		c.previewFrames, c.viewers,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	if c.src.Sensor != nil {
		s := c.src.Sensor()
		counter(c.framesCaptured, s.FrameCount)
		counter(c.fillErrors, s.FillErrors)
		gauge(c.fpsReal, s.FPSReal)
	}

	if c.src.Reader != nil {
		s := c.src.Reader()
		gauge(c.rootAvailable, float64(s.RootAvailable))
		gauge(c.highAvailable, float64(s.HighPriorityAvailable))
		gauge(c.highWaiters, float64(s.HighPriorityWaiters))
		gauge(c.pending, float64(s.PendingRequests))

		counter(c.zslImages, s.ZSL.Stored, "stored")
		counter(c.zslImages, s.ZSL.Dropped, "dropped")
		counter(c.zslImages, s.ZSL.Evicted, "evicted")
		gauge(c.zslBuffered, float64(s.ZSL.Buffered))

		d := s.Distributor
		counter(c.distImages, d.ImagesDistributed, "distributed")
		counter(c.distImages, d.ImagesUnrouted, "unrouted")
		counter(c.distImages, d.ImagesInterrupted, "interrupted")
		counter(c.staleRequests, d.StaleRequests)
		gauge(c.routes, float64(len(d.Routes)))
		gauge(c.inboxPending, float64(d.InboxPending))

		var admitted, dropped uint64
		var available int
		for _, st := range s.Streams {
			admitted += st.Admitted
			dropped += st.Dropped
			available += st.Available
		}
		counter(c.streamImages, admitted, "admitted")
		counter(c.streamImages, dropped, "dropped")
		gauge(c.streamAvailable, float64(available))
	}

	if c.src.Executor != nil {
		s := c.src.Executor()
		counter(c.commands, s.Succeeded, "succeeded")
		counter(c.commands, s.Expected, "expected")
		counter(c.commands, s.Failed, "failed")
		counter(c.commands, s.Rejected, "rejected")
		gauge(c.commandsRunning, float64(s.Running))
	}

	if c.src.Buffers != nil {
		s := c.src.Buffers()
		counter(c.bufferLookups, s.Hits, "hit")
		counter(c.bufferLookups, s.Misses, "miss")
		counter(c.bufferEvictions, s.Evictions)
		gauge(c.bufferBytes, float64(s.Size))
	}

	if c.src.Saver != nil {
		s := c.src.Saver()
		counter(c.captures, s.Saved, "saved")
		counter(c.captures, s.Failed, "failed")
		gauge(c.capturesPending, float64(s.Pending))
	}

	if c.src.Preview != nil {
		s := c.src.Preview()
		counter(c.previewFrames, s.TotalSent, "sent")
		counter(c.previewFrames, s.TotalDropped, "dropped")
		gauge(c.viewers, float64(len(s.Subscribers)))
	}
}

// Handler registers c on a fresh registry, together with the Go runtime
// and process collectors, and returns the scrape handler.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
