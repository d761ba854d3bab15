package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/docuprompt/api/internal/document"
	"github.com/docuprompt/api/internal/handler"
	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/queue"
	"github.com/docuprompt/api/internal/service"
	ws "github.com/docuprompt/api/internal/websocket"
	"github.com/docuprompt/api/internal/worker"
)

const eventTimeout = 5 * time.Second

// scriptedProvider answers based on the last user prompt: "fail" fails,
// "hang" blocks until the job context ends, anything else is echoed.
type scriptedProvider struct{}

func (scriptedProvider) Name() string { return "scripted" }

func (scriptedProvider) Complete(ctx context.Context, messages []model.Message) (string, error) {
	var prompt string
	for _, m := range messages {
		if m.Role == model.RoleUser && len(m.Parts) > 0 {
			prompt = m.Parts[0].Text
		}
	}

	switch prompt {
	case "fail":
		return "", errors.New("upstream unavailable")
	case "hang":
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "echo: " + prompt, nil
}

type testApp struct {
	app  *fiber.App
	addr string
}

// setupApp wires the same components as main.go on top of the in-process
// queue and serves them on a loopback listener.
func setupApp(t *testing.T, taskTimeout time.Duration) *testApp {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	mem := queue.NewMemory(map[queue.Partition]int{
		queue.PartitionInference: 2,
		queue.PartitionRender:    2,
	}, time.Hour, log)

	hub := ws.NewHub(log)
	tasks := service.NewTaskService(mem, hub, taskTimeout, log)
	renders := service.NewRenderService(mem, hub, service.RenderServiceConfig{Timeout: 10 * time.Second}, log)
	gateway := ws.NewGateway(hub, tasks, renders, validator.New(), log)

	mem.Handle(queue.PartitionInference, worker.NewInferenceWorker(scriptedProvider{}, "system", log).ProcessJob)
	mem.Handle(queue.PartitionRender, worker.NewRenderWorker(document.NewRegistry(), t.TempDir(), log).ProcessJob)

	app := handler.NewApp(handler.Deps{
		Queue:    mem,
		Provider: scriptedProvider{},
		Gateway:  gateway,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Run(ctx)
	}()
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		_ = mem.Run(ctx)
	}()
	go func() {
		_ = app.Listener(ln)
	}()

	t.Cleanup(func() {
		_ = app.ShutdownWithTimeout(time.Second)
		tasks.Shutdown()
		renders.Shutdown()
		cancel()
		<-hubDone
		<-queueDone
		_ = mem.Close()
	})

	return &testApp{app: app, addr: ln.Addr().String()}
}

// doRequest performs an HTTP request against the app without a network hop
func doRequest(t *testing.T, app *fiber.App, method, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil), -1)
	require.NoError(t, err)
	return resp
}

// parseJSON parses response body into a map
func parseJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result), "body: %s", body)
	return result
}

// client is one websocket session against the test server
type client struct {
	t         *testing.T
	conn      *websocket.Conn
	sessionID string
}

func (a *testApp) connect(t *testing.T) *client {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+a.addr+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn}
	ev := c.expect("connected")
	c.sessionID, _ = ev["sessionId"].(string)
	require.NotEmpty(t, c.sessionID)
	return c
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *client) next() map[string]any {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(eventTimeout)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var ev map[string]any
	require.NoError(c.t, json.Unmarshal(data, &ev), "frame: %s", data)
	return ev
}

// expect reads the next event and requires it to be of type eventType
func (c *client) expect(eventType string) map[string]any {
	c.t.Helper()
	ev := c.next()
	require.Equal(c.t, eventType, ev["type"], "unexpected event: %v", ev)
	return ev
}

func (c *client) close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

// waitFor polls cond until it holds or the event timeout passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", eventTimeout)
}

func errorCode(ev map[string]any) string {
	if e, ok := ev["error"].(map[string]any); ok {
		code, _ := e["code"].(string)
		return code
	}
	code, _ := ev["code"].(string)
	return code
}
