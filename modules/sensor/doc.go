/*
Package sensor provides image sources that stand in for a camera driver.

A Source emits frames at a target rate. For every frame it first reports the
capture timestamp to its Sink (OnCaptureStarted), then the image itself
(OnImageAvailable). Timestamps are nanoseconds and strictly increasing per
source, so consumers can use them as a clock.

Two sources are provided:

  - Simulated: synthetic moving-gradient payloads.
  - Replay: fixed-size frames read from a memory-mapped raw recording.

Payload buffers are drawn from an lrupool.ByteBufferPool and return to it when
the image is closed, so a pipeline that holds on to images grows the pool
instead of the heap.

Warm-up:

Warmup observes the running source for a duration and reports FPS and jitter
statistics. A stream is stable when the FPS standard deviation is under 15% of
the mean and the mean jitter is under 20% of the expected frame interval.

	src, _ := sensor.NewSimulated(cfg, sink)
	_ = src.Start(ctx)
	stats, err := src.Warmup(ctx, 2*time.Second)
	if errors.Is(err, sensor.ErrUnstable) {
		log.Printf("unstable: %.1f fps ± %.1f", stats.FPSMean, stats.FPSStdDev)
	}
*/
package sensor
