package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cellsim.ai/internal/config"
	"cellsim.ai/internal/observerproto"
	"cellsim.ai/internal/sim/session"
)

func newSession(t *testing.T, mode string) *session.Session {
	t.Helper()
	cfg := config.Defaults()
	cfg.Width, cfg.Height = 6, 6
	cfg.Mode = mode
	cfg.PatternText = ".O.\n.O.\n.O.\n"
	cfg.PatternX, cfg.PatternY = 1, 1
	start, err := session.StartFrame(cfg)
	if err != nil {
		t.Fatalf("StartFrame: %v", err)
	}
	s, err := session.New(cfg, start, nil)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestServer(t *testing.T, src Source) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(src, 5*time.Millisecond, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestBootstrapAndRun(t *testing.T) {
	sess := newSession(t, config.ModeSync)
	srv := newTestServer(t, sess)

	resp, err := http.Get(srv.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	boot := decode[observerproto.BootstrapResponse](t, resp)
	if boot.ProtocolVersion != observerproto.Version || boot.Rule != "life" || boot.Width != 6 || boot.HighestGeneration != 0 {
		t.Fatalf("bootstrap = %+v", boot)
	}

	resp, err = http.Post(srv.URL+"/v1/run?n=3", "", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	run := decode[observerproto.RunResponse](t, resp)
	if run.HighestGeneration != 3 {
		t.Fatalf("run = %+v", run)
	}

	for _, q := range []string{"n=", "n=-1", "n=abc", "n=99999999"} {
		resp, err := http.Post(srv.URL+"/v1/run?"+q, "", nil)
		if err != nil {
			t.Fatalf("run %s: %v", q, err)
		}
		e := decode[observerproto.ErrorMsg](t, resp)
		if resp.StatusCode != http.StatusBadRequest || e.Code != observerproto.ErrBadRequest {
			t.Fatalf("run %s: status %d body %+v", q, resp.StatusCode, e)
		}
	}

	resp, err = http.Get(srv.URL + "/v1/run?n=1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /v1/run status = %d", resp.StatusCode)
	}
}

func TestFrameHandler(t *testing.T) {
	sess := newSession(t, config.ModeAsync)
	sess.Run(2)
	srv := newTestServer(t, sess)

	resp, err := http.Get(srv.URL + "/v1/frame?gen=1")
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	f := decode[observerproto.FrameMsg](t, resp)
	if f.Type != observerproto.TypeFrame || f.Generation != 1 || len(f.Cells) != 3 {
		t.Fatalf("frame = %+v", f)
	}
	for _, c := range f.Cells {
		if c.Y != 2 {
			t.Fatalf("generation 1 blinker is horizontal, got %+v", f.Cells)
		}
	}

	resp, err = http.Get(srv.URL + "/v1/frame?gen=9")
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unscheduled generation status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/frame?gen=x")
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad gen status = %d", resp.StatusCode)
	}
}

func TestHandlers_RejectRemote(t *testing.T) {
	s := NewServer(newSession(t, config.ModeSync), 0, nil)
	for _, path := range []string{"/v1/bootstrap", "/v1/frame?gen=0", "/v1/observe"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, from uint64) {
	t.Helper()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, FromGeneration: from}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) (observerproto.BaseMessage, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := observerproto.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base, b
}

func toFrame(m observerproto.FrameMsg) session.Frame {
	f := session.Frame{Generation: m.Generation, Rule: m.Rule, Topology: m.Topology, Width: m.Width, Height: m.Height}
	for _, c := range m.Cells {
		f.Cells = append(f.Cells, session.Cell{X: c.X, Y: c.Y, Code: c.Code})
	}
	return f
}

func toDelta(m observerproto.DeltaMsg) session.Delta {
	d := session.Delta{From: m.From, To: m.To}
	for _, c := range m.Changes {
		d.Changes = append(d.Changes, session.Cell{X: c.X, Y: c.Y, Code: c.Code})
	}
	return d
}

func TestObserve_FrameThenDeltas(t *testing.T) {
	sess := newSession(t, config.ModeAsync)
	srv := newTestServer(t, sess)
	conn := dial(t, srv)
	subscribe(t, conn, 0)

	base, b := read(t, conn)
	if base.Type != observerproto.TypeFrame {
		t.Fatalf("first message = %s", base.Type)
	}
	var fm observerproto.FrameMsg
	if err := json.Unmarshal(b, &fm); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if fm.Generation != 0 || len(fm.Cells) != 3 {
		t.Fatalf("frame = %+v", fm)
	}
	local := toFrame(fm)
	if fm.Digest != local.Digest() {
		t.Fatalf("digest mismatch")
	}

	sess.Run(5)
	for local.Generation < 5 {
		base, b := read(t, conn)
		if base.Type != observerproto.TypeDelta {
			t.Fatalf("expected DELTA, got %s", base.Type)
		}
		var dm observerproto.DeltaMsg
		if err := json.Unmarshal(b, &dm); err != nil {
			t.Fatalf("delta: %v", err)
		}
		if dm.From != local.Generation || dm.To <= dm.From {
			t.Fatalf("delta %d..%d does not continue from %d", dm.From, dm.To, local.Generation)
		}
		local = local.Apply(toDelta(dm))
	}

	want, ok, err := sess.Frame(context.Background(), 5)
	if err != nil || !ok {
		t.Fatalf("frame 5: ok=%v err=%v", ok, err)
	}
	if local.Digest() != want.Digest() {
		t.Fatalf("replayed deltas diverge from generation 5")
	}

	// Re-subscribing restarts with a frame.
	subscribe(t, conn, 2)
	for {
		base, b := read(t, conn)
		if base.Type != observerproto.TypeFrame {
			continue
		}
		var again observerproto.FrameMsg
		if err := json.Unmarshal(b, &again); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if again.Generation != 2 {
			t.Fatalf("resubscribe frame generation = %d", again.Generation)
		}
		break
	}
}

func TestObserve_WaitsForFutureGeneration(t *testing.T) {
	sess := newSession(t, config.ModeSync)
	srv := newTestServer(t, sess)
	conn := dial(t, srv)
	subscribe(t, conn, 3)

	time.Sleep(20 * time.Millisecond)
	sess.Run(4)

	base, b := read(t, conn)
	if base.Type != observerproto.TypeFrame {
		t.Fatalf("first message = %s", base.Type)
	}
	var fm observerproto.FrameMsg
	if err := json.Unmarshal(b, &fm); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if fm.Generation != 3 {
		t.Fatalf("frame generation = %d", fm.Generation)
	}
}

func TestObserve_RejectsBadSubscribe(t *testing.T) {
	srv := newTestServer(t, newSession(t, config.ModeSync))
	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]any{"type": "HELLO", "protocol_version": observerproto.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	base, b := read(t, conn)
	if base.Type != observerproto.TypeError {
		t.Fatalf("expected ERROR, got %s", base.Type)
	}
	var em observerproto.ErrorMsg
	if err := json.Unmarshal(b, &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != observerproto.ErrProtoBadRequest {
		t.Fatalf("code = %q", em.Code)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
