package mqttpub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"piksi-emu/internal/geo"
	"piksi-emu/internal/solution"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []message
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(c.err)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestPublisher_PublishesSolutionJSON(t *testing.T) {
	c := &fakeClient{}
	p := New(c, "piksi/solution", 1)

	sol := solution.Solution{
		At:     time.Date(2016, 9, 28, 12, 0, 0, 0, time.UTC),
		WN:     1916,
		TOWms:  302400000,
		Sender: 0x42,
		ECEF:   geo.ECEF{X: 1, Y: 2, Z: 3},
		LLH:    geo.LLH{Lat: 37.7, Lon: -122.4, Height: 60},
	}
	p.Observe(sol)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if len(c.msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(c.msgs))
	}
	m := c.msgs[0]
	if m.topic != "piksi/solution" || m.qos != 1 {
		t.Fatalf("topic=%q qos=%d", m.topic, m.qos)
	}
	var got map[string]any
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["wn"] != float64(1916) || got["tow_ms"] != float64(302400000) || got["sender"] != float64(0x42) {
		t.Fatalf("payload=%s", m.payload)
	}
	if !c.disconnected {
		t.Fatalf("client not disconnected")
	}
	if st := p.Stats(); st.Published != 1 || st.Failed != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestPublisher_CountsFailures(t *testing.T) {
	c := &fakeClient{err: errors.New("not connected")}
	p := New(c, "t", 0)
	p.Observe(solution.Solution{})
	p.Observe(solution.Solution{})
	_ = p.Close()

	if st := p.Stats(); st.Failed != 2 || st.Published != 0 {
		t.Fatalf("stats=%+v want 2 failed", st)
	}
}

// blockingClient holds every publish until release is closed.
type blockingClient struct {
	fakeClient
	release chan struct{}
}

func (c *blockingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	<-c.release
	return c.fakeClient.Publish(topic, qos, retained, payload)
}

func TestPublisher_ObserveNeverBlocks(t *testing.T) {
	c := &blockingClient{release: make(chan struct{})}
	p := New(c, "t", 0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueLen*4; i++ {
			p.Observe(solution.Solution{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Observe blocked on a slow broker")
	}

	close(c.release)
	_ = p.Close()
	st := p.Stats()
	if st.Dropped == 0 {
		t.Fatalf("expected drops, stats=%+v", st)
	}
	if st.Published+st.Dropped != uint64(queueLen*4) {
		t.Fatalf("published+dropped=%d want %d", st.Published+st.Dropped, queueLen*4)
	}
}
