package sensor

// Simulated emits synthetic frames: a gradient that shifts by one step per
// frame, so consecutive payloads differ.
type Simulated struct {
	*runner
}

var _ Source = (*Simulated)(nil)

// NewSimulated creates a simulated source delivering to sink.
func NewSimulated(cfg Config, sink Sink, opts ...Option) (*Simulated, error) {
	r, err := newRunner("simulated", cfg, sink, gradient, opts)
	if err != nil {
		return nil, err
	}
	return &Simulated{runner: r}, nil
}

func gradient(seq uint64, buf []byte) error {
	shift := byte(seq)
	for i := range buf {
		buf[i] = byte(i) + shift
	}
	return nil
}
