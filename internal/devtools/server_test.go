package devtools

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vango-dev/lx/pkg/lx"
	"github.com/vango-dev/lx/pkg/middleware"
)

type fixture struct {
	reg  *Registry
	pipe *lx.Pipeline
	srv  *Server
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	promReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(middleware.WithRegistry(promReg))
	reg := NewRegistry()
	pipe := lx.NewPipeline(reg.Middleware(), metrics.Middleware())
	srv := NewServer(reg, WithGatherer(promReg), WithEventBuffer(16))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &fixture{reg: reg, pipe: pipe, srv: srv, http: hs}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServerNodes(t *testing.T) {
	f := newFixture(t)
	a := lx.NewCell(1, lx.WithPipeline(f.pipe), lx.WithName("a"))
	d := lx.NewComputed(func() int { return a.Get() * 2 }, lx.WithPipeline(f.pipe))
	d.Get()

	resp, body := f.get(t, "/nodes")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var nodes []NodeView
	require.NoError(t, json.Unmarshal(body, &nodes))
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].Name)
	assert.Equal(t, lx.KindCell, nodes[0].Kind)
	assert.Equal(t, []uint64{a.ID()}, nodes[1].Deps)
}

func TestServerNode(t *testing.T) {
	f := newFixture(t)
	a := lx.NewCell(1, lx.WithPipeline(f.pipe))

	resp, body := f.get(t, "/nodes/"+strconv.FormatUint(a.ID(), 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view NodeView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, a.ID(), view.ID)

	var coded struct {
		Code     string `json:"code"`
		Category string `json:"category"`
	}
	resp, body = f.get(t, "/nodes/999999999")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &coded))
	assert.Equal(t, "E301", coded.Code)
	assert.Equal(t, "devtools", coded.Category)

	resp, body = f.get(t, "/nodes/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &coded))
	assert.Equal(t, "E303", coded.Code)
}

func TestServerGraphDOT(t *testing.T) {
	f := newFixture(t)
	a := lx.NewCell(1, lx.WithPipeline(f.pipe))
	d := lx.NewComputed(func() int { return a.Get() + 1 }, lx.WithPipeline(f.pipe))
	d.Get()

	resp, body := f.get(t, "/graph.dot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := string(body)
	assert.True(t, strings.HasPrefix(out, "digraph lx {"))
	assert.Contains(t, out, "n"+strconv.FormatUint(a.ID(), 10)+" -> n"+strconv.FormatUint(d.ID(), 10)+";")
}

func TestServerMetrics(t *testing.T) {
	f := newFixture(t)
	c := lx.NewCell(1, lx.WithPipeline(f.pipe))
	require.NoError(t, c.Set(2))

	resp, body := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `lx_writes_total{kind="cell"} 1`)
}

func TestServerWithoutGathererHasNoMetrics(t *testing.T) {
	srv := NewServer(NewRegistry())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerEventStream(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/events"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.srv.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	c := lx.NewCell(1, lx.WithPipeline(f.pipe), lx.WithName("live"))
	require.NoError(t, c.Set(2))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var types []EventType
	for len(types) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e Event
		require.NoError(t, json.Unmarshal(data, &e))
		require.NotNil(t, e.Node)
		assert.Equal(t, "live", e.Node.Name)
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{EventRegister, EventWrite}, types)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.reg.SubscriberCount())
}

func TestServerServeShutsDownOnCancel(t *testing.T) {
	srv := NewServer(NewRegistry())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/nodes")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
