package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"anttrail/trail"

	"github.com/gorilla/websocket"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		want    int
		wantErr bool
	}{
		{"batch", `{"objects":[{"x":1,"y":2},{"x":-3,"y":4000}]}`, 2, false},
		{"no objects", `{}`, 0, false},
		{"empty list", `{"objects":[]}`, 0, false},
		{"garbage", `not json`, 0, true},
		{"empty", ``, 0, true},
		{"wrong type", `{"objects":{"x":1}}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Decode([]byte(tt.msg))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(b.Objects) != tt.want {
				t.Errorf("Decode() objects = %d, want %d", len(b.Objects), tt.want)
			}
		})
	}

	b, _ := Decode([]byte(`{"objects":[{"x":1,"y":2}]}`))
	if b.Objects[0] != (trail.Detection{X: 1, Y: 2}) {
		t.Errorf("Decode() = %+v", b.Objects[0])
	}
}

func TestNextBackoff(t *testing.T) {
	d := time.Second
	var got []time.Duration
	for i := 0; i < 8; i++ {
		d = nextBackoff(d, 60*time.Second)
		got = append(got, d)
	}
	want := []time.Duration{2, 4, 8, 16, 32, 60, 60, 60}
	for i := range want {
		if got[i] != want[i]*time.Second {
			t.Errorf("step %d = %v, want %v", i, got[i], want[i]*time.Second)
		}
	}
}

// feedServer sends msgs on every connection and then hangs up.
func feedServer(t *testing.T, msgs ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

type collector struct {
	mu      sync.Mutex
	batches []trail.Batch
}

func (c *collector) handle(b trail.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestClientDeliversAndReconnects(t *testing.T) {
	srv := feedServer(t,
		`{"objects":[{"x":1,"y":1}]}`,
		`{"objects":`,
		`{"objects":[{"x":2,"y":2},{"x":3,"y":3}]}`,
	)
	defer srv.Close()

	col := &collector{}
	c := New(Options{URL: wsURL(srv), InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, col.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for col.len() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	if col.len() < 4 {
		t.Fatalf("got %d batches, want at least 4 over two connections", col.len())
	}
	col.mu.Lock()
	first, second := col.batches[0], col.batches[1]
	col.mu.Unlock()
	if len(first.Objects) != 1 || len(second.Objects) != 2 {
		t.Errorf("batches out of order: %+v, %+v", first, second)
	}

	st := c.Stats()
	if st.Connects < 2 || st.ParseErrors < 1 {
		t.Errorf("Stats() = %+v, want reconnects and a parse error", st)
	}
}

func TestClientRetriesDial(t *testing.T) {
	srv := feedServer(t)
	url := wsURL(srv)
	srv.Close()

	c := New(Options{URL: url, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond},
		func(trail.Batch) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	st := c.Stats()
	if st.DialErrors < 2 || st.Connected {
		t.Errorf("Stats() = %+v, want repeated dial errors", st)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestClientHandlerErrorReconnects(t *testing.T) {
	srv := feedServer(t, `{"objects":[{"x":1,"y":1}]}`)
	defer srv.Close()

	var calls int
	var mu sync.Mutex
	c := New(Options{URL: wsURL(srv), InitialBackoff: 5 * time.Millisecond}, func(trail.Batch) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("loop stopped")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	if st := c.Stats(); st.HandlerErrors == 0 || st.Detections != 0 {
		t.Errorf("Stats() = %+v, want handler errors and no delivered detections", st)
	}
}
