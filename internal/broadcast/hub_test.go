package broadcast

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case p, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return p
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return nil
}

func requireEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case p := <-sub.C():
		t.Fatalf("unexpected frame % x", p)
	default:
	}
}

func TestHub_PublishFansOutInOrder(t *testing.T) {
	h := NewHub(8)
	a, _ := h.Attach("a")
	b, _ := h.Attach("b")

	for i := byte(1); i <= 3; i++ {
		if n := h.Publish([]byte{i}); n != 2 {
			t.Fatalf("delivered=%d want 2", n)
		}
	}
	for _, sub := range []*Subscription{a, b} {
		for i := byte(1); i <= 3; i++ {
			if got := recv(t, sub); !bytes.Equal(got, []byte{i}) {
				t.Fatalf("%s got % x want %02x", sub.Name(), got, i)
			}
		}
	}
}

func TestHub_LateSubscriberSeesNoBacklog(t *testing.T) {
	h := NewHub(8)
	h.Publish([]byte{1})
	late, _ := h.Attach("late")
	requireEmpty(t, late)
	h.Publish([]byte{2})
	if got := recv(t, late); !bytes.Equal(got, []byte{2}) {
		t.Fatalf("got % x want 02", got)
	}
}

func TestHub_DetachStopsDelivery(t *testing.T) {
	h := NewHub(8)
	sub, _ := h.Attach("x")
	h.Detach(sub)
	h.Detach(sub)

	if n := h.Publish([]byte{1}); n != 0 {
		t.Fatalf("delivered=%d want 0", n)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if !errors.Is(sub.Err(), ErrDetached) {
		t.Fatalf("err=%v want %v", sub.Err(), ErrDetached)
	}
}

func TestHub_SlowConsumerDroppedPublisherUnaffected(t *testing.T) {
	h := NewHub(2)
	var dropped []string
	h.OnDrop = func(sub *Subscription) { dropped = append(dropped, sub.Name()) }

	slow, _ := h.Attach("slow")
	fast, _ := h.Attach("fast")

	for i := byte(0); i < 3; i++ {
		h.Publish([]byte{i})
		recv(t, fast)
	}

	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Fatalf("dropped=%v want [slow]", dropped)
	}
	// The two frames queued before the overflow are still readable.
	recv(t, slow)
	recv(t, slow)
	if _, ok := <-slow.C(); ok {
		t.Fatalf("expected slow subscription closed")
	}
	if !errors.Is(slow.Err(), ErrSlowConsumer) {
		t.Fatalf("err=%v want %v", slow.Err(), ErrSlowConsumer)
	}
	if st := h.Stats(); st.Subscribers != 1 || st.Dropped != 1 || st.Published != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestHub_PublishBatchIsContiguous(t *testing.T) {
	h := NewHub(1024)
	sub, _ := h.Attach("x")

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h.PublishBatch([]byte{tag, 1}, []byte{tag, 2}, []byte{tag, 3})
			}
		}(byte(g))
	}
	wg.Wait()

	for i := 0; i < 200; i++ {
		first := recv(t, sub)
		for seq := byte(2); seq <= 3; seq++ {
			p := recv(t, sub)
			if p[0] != first[0] || p[1] != seq {
				t.Fatalf("batch interleaved: first=% x got % x", first, p)
			}
		}
	}
}

func TestHub_BatchNeverSplitOnOverflow(t *testing.T) {
	h := NewHub(2)
	sub, _ := h.Attach("x")
	h.PublishBatch([]byte{1}, []byte{2}, []byte{3})
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected subscription dropped without a partial batch")
	}
}

func TestHub_CloseEndsSubscriptionsAndRejectsAttach(t *testing.T) {
	h := NewHub(4)
	sub, _ := h.Attach("x")
	h.Close()
	h.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if _, err := h.Attach("y"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want %v", err, ErrClosed)
	}
	if n := h.Publish([]byte{1}); n != 0 {
		t.Fatalf("delivered=%d want 0", n)
	}
}

func TestHub_PublishEmptyIsNoop(t *testing.T) {
	h := NewHub(4)
	sub, _ := h.Attach("x")
	h.Publish(nil)
	requireEmpty(t, sub)
}

type failWriter struct{ err error }

func (w failWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestSubscription_StreamCopiesUntilClose(t *testing.T) {
	h := NewHub(8)
	sub, _ := h.Attach("x")
	h.Publish([]byte{1, 2})
	h.Publish([]byte{3})

	flushes := 0
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- sub.Stream(context.Background(), &buf, func() { flushes++ }) }()

	time.Sleep(20 * time.Millisecond)
	h.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Stream did not return after Close")
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("streamed=% x want 01 02 03", buf.Bytes())
	}
	if flushes == 0 {
		t.Fatalf("expected at least one flush")
	}
}

func TestSubscription_StreamWriteError(t *testing.T) {
	h := NewHub(8)
	sub, _ := h.Attach("x")
	h.Publish([]byte{1})
	boom := errors.New("boom")
	if err := sub.Stream(context.Background(), failWriter{err: boom}, nil); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

func TestSubscription_StreamContextCancel(t *testing.T) {
	h := NewHub(8)
	sub, _ := h.Attach("x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sub.Stream(ctx, &bytes.Buffer{}, nil); err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
}

func TestSubscription_StreamReportsSlowDrop(t *testing.T) {
	h := NewHub(1)
	sub, _ := h.Attach("x")
	h.Publish([]byte{1})
	h.Publish([]byte{2})
	var buf bytes.Buffer
	if err := sub.Stream(context.Background(), &buf, nil); !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("err=%v want %v", err, ErrSlowConsumer)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1}) {
		t.Fatalf("streamed=% x want 01", buf.Bytes())
	}
}
