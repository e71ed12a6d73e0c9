package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func frame(seq uint64) Frame {
	return Frame{Data: []byte{byte(seq)}, ContentType: "image/jpeg", Seq: seq, Timestamp: int64(seq) * 1000}
}

// --- Test 1: Subscribe validation ---

func TestSubscribeValidation(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Subscribe("a", nil); !errors.Is(err, ErrNilChannel) {
		t.Fatalf("nil channel: got %v, want ErrNilChannel", err)
	}
	if err := b.Subscribe("a", make(chan Frame, 1)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Subscribe("a", make(chan Frame, 1)); !errors.Is(err, ErrSubscriberExists) {
		t.Fatalf("duplicate: got %v, want ErrSubscriberExists", err)
	}
	if _, err := b.SubscribeDropOld("a"); !errors.Is(err, ErrSubscriberExists) {
		t.Fatalf("duplicate drop-old: got %v, want ErrSubscriberExists", err)
	}
	if got := b.Subscribers(); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
}

// --- Test 2: DropNew never blocks the publisher ---

func TestDropNewDropsWhenFull(t *testing.T) {
	// Scenario: a viewer with a 2-slot channel never reads while 5 frames
	// are published. Expected: 2 sent, 3 dropped, Publish returns promptly.
	b := New()
	defer b.Close()

	ch := make(chan Frame, 2)
	if err := b.Subscribe("slow", ch); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 5; i++ {
			b.Publish(frame(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	stats := b.Stats()
	sub := stats.Subscribers["slow"]
	if sub.Sent != 2 || sub.Dropped != 3 {
		t.Errorf("sent=%d dropped=%d, want 2/3", sub.Sent, sub.Dropped)
	}
	if stats.TotalPublished != 5 {
		t.Errorf("TotalPublished = %d, want 5", stats.TotalPublished)
	}
	if sub.Policy != "drop-new" {
		t.Errorf("Policy = %q", sub.Policy)
	}

	// Oldest frames are kept under DropNew.
	if f := <-ch; f.Seq != 1 {
		t.Errorf("first frame seq = %d, want 1", f.Seq)
	}
}

// --- Test 3: DropOld keeps only the latest frame ---

func TestDropOldKeepsLatest(t *testing.T) {
	b := New()
	defer b.Close()

	rx, err := b.SubscribeDropOld("viewer")
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := rx.TryReceive(); ok {
		t.Fatal("TryReceive returned a frame before any publish")
	}

	for i := uint64(1); i <= 3; i++ {
		b.Publish(frame(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := rx.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Seq != 3 {
		t.Errorf("Receive seq = %d, want 3", f.Seq)
	}

	sub := b.Stats().Subscribers["viewer"]
	if sub.Sent != 3 || sub.Dropped != 2 {
		t.Errorf("sent=%d dropped=%d, want 3/2", sub.Sent, sub.Dropped)
	}

	// Already received: Receive waits, TryReceive still sees it.
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if _, err := rx.Receive(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Receive: got %v, want DeadlineExceeded", err)
	}
	if f, ok := rx.TryReceive(); !ok || f.Seq != 3 {
		t.Errorf("TryReceive = (%d, %v), want (3, true)", f.Seq, ok)
	}
}

// --- Test 4: Receive wakes on publish ---

func TestDropOldReceiveBlocksUntilPublish(t *testing.T) {
	b := New()
	defer b.Close()

	rx, err := b.SubscribeDropOld("viewer")
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan Frame, 1)
	go func() {
		f, err := rx.Receive(context.Background())
		if err == nil {
			got <- f
		}
		close(got)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(frame(7))

	select {
	case f, ok := <-got:
		if !ok || f.Seq != 7 {
			t.Errorf("received (%d, %v), want (7, true)", f.Seq, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up")
	}
}

// --- Test 5: Unsubscribe closes the receiver ---

func TestUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	rx, _ := b.SubscribeDropOld("viewer")
	if err := b.Unsubscribe("viewer"); err != nil {
		t.Fatal(err)
	}
	if err := b.Unsubscribe("viewer"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("second Unsubscribe: got %v", err)
	}
	if _, err := rx.Receive(context.Background()); !errors.Is(err, ErrReceiverClosed) {
		t.Errorf("Receive after unsubscribe: got %v, want ErrReceiverClosed", err)
	}

	// Publishing with no subscribers is fine.
	b.Publish(frame(1))
	if got := b.Stats().TotalPublished; got != 1 {
		t.Errorf("TotalPublished = %d, want 1", got)
	}
}

// --- Test 6: Close ---

func TestClose(t *testing.T) {
	b := New()

	ch := make(chan Frame, 1)
	_ = b.Subscribe("ch", ch)
	rx, _ := b.SubscribeDropOld("viewer")

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	b.Publish(frame(1))
	if got := b.Stats().TotalPublished; got != 0 {
		t.Errorf("publish after close counted: %d", got)
	}
	if len(ch) != 0 {
		t.Error("frame delivered after close")
	}
	if _, err := rx.Receive(context.Background()); !errors.Is(err, ErrReceiverClosed) {
		t.Errorf("Receive after close: got %v", err)
	}
	if err := b.Subscribe("late", make(chan Frame)); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Subscribe after close: got %v", err)
	}
	if err := b.Unsubscribe("ch"); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Unsubscribe after close: got %v", err)
	}
}

// --- Test 7: Concurrent publish and subscribe ---

func TestConcurrentPublish(t *testing.T) {
	// Scenario: 4 publishers and a churn of subscribers. Expected: no race,
	// and every DropNew subscriber ends with sent+dropped equal to the frames
	// it saw.
	b := New()
	defer b.Close()

	ch := make(chan Frame, 8)
	if err := b.Subscribe("steady", ch); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uint64(0); i < 250; i++ {
				b.Publish(frame(i))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			rx, err := b.SubscribeDropOld("churn")
			if err != nil {
				continue
			}
			rx.TryReceive()
			_ = b.Unsubscribe("churn")
		}
	}()
	wg.Wait()

	stats := b.Stats()
	if stats.TotalPublished != 1000 {
		t.Errorf("TotalPublished = %d, want 1000", stats.TotalPublished)
	}
	steady := stats.Subscribers["steady"]
	if steady.Sent+steady.Dropped != 1000 {
		t.Errorf("steady sent+dropped = %d, want 1000", steady.Sent+steady.Dropped)
	}
	if steady.Sent != 8 {
		t.Errorf("steady sent = %d, want 8 (channel capacity)", steady.Sent)
	}
}

func TestDropPolicyString(t *testing.T) {
	if DropNew.String() != "drop-new" || DropOld.String() != "drop-old" || DropPolicy(9).String() != "unknown" {
		t.Error("unexpected DropPolicy strings")
	}
}
