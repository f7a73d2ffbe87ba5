package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

type failingModule struct{}

func (failingModule) Name() string { return "failing" }

func (failingModule) OnHTTPResponse(r *http.Request, data *ResponseData, config *BuildConfig) (*ResponseData, error) {
	if r.URL.Path == "/broken.js" {
		return nil, errors.New("broken")
	}
	return data, nil
}

func newTestServer(t *testing.T, serve ServeOptions, files map[string]string) (*httptest.Server, *BuildConfig) {
	t.Helper()
	config := newTestBuildConfig(t)
	writeTestFiles(t, config.Cwd, files)

	hot := newTestHotReloadModule(t, AcceptEvery)
	hot.LiveOnly = !serve.Hot
	config.Serve = &serve
	config.Modules = []PipelineModule{
		&ExtensionlessHtml{},
		failingModule{},
		&ServeStaticFiles{Path: "."},
		hot,
	}

	server := httptest.NewServer(NewHTTPHandler(config))
	t.Cleanup(server.Close)
	return server, config
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	response, err := http.Get(url)
	assert.NilError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	assert.NilError(t, err)
	return response, string(body)
}

func TestHTTPServerServesPipeline(t *testing.T) {
	server, _ := newTestServer(t, ServeOptions{Hot: true}, map[string]string{
		"index.html": "<html>\n<body>\n</body>\n</html>\n",
		"about.html": "<html>\n<body>\nabout\n</body>\n</html>\n",
		"app.js":     "import { a } from \"./a.js\";\nconsole.log(a);\n",
		"data.json":  `{"a":1}`,
	})

	response, body := get(t, server.URL+"/")
	assert.Equal(t, response.StatusCode, http.StatusOK)
	assert.Equal(t, response.Header.Get("Content-Type"), "text/html; charset=utf-8")
	assert.Equal(t, response.Header.Get("Cache-Control"), "no-cache")
	assert.Assert(t, strings.Contains(body, listenerScriptTag))

	response, body = get(t, server.URL+"/about")
	assert.Equal(t, response.StatusCode, http.StatusOK)
	assert.Assert(t, strings.Contains(body, "about"))

	response, body = get(t, server.URL+"/app.js")
	assert.Equal(t, response.StatusCode, http.StatusOK)
	assert.Equal(t, response.Header.Get("Content-Type"), "text/javascript; charset=utf-8")
	assert.Assert(t, strings.Contains(body, `modules.get("./a.js")`))

	response, body = get(t, server.URL+"/data.json")
	assert.Equal(t, response.StatusCode, http.StatusOK)
	assert.Equal(t, response.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, body, `{"a":1}`)

	response, _ = get(t, server.URL+"/missing.js")
	assert.Equal(t, response.StatusCode, http.StatusNotFound)

	response, _ = get(t, server.URL+"/broken.js")
	assert.Equal(t, response.StatusCode, http.StatusInternalServerError)

	response, _ = get(t, server.URL+hotModulesPath)
	assert.Equal(t, response.StatusCode, http.StatusOK)

	_, metrics := get(t, server.URL+hotMetricsPath)
	assert.Assert(t, strings.Contains(metrics, `hotserve_http_requests_total{code="200"} 5`))
	assert.Assert(t, strings.Contains(metrics, `hotserve_http_requests_total{code="404"} 1`))
	assert.Assert(t, strings.Contains(metrics, `hotserve_http_requests_total{code="500"} 1`))
}

func TestHTTPServerHeadRequest(t *testing.T) {
	server, _ := newTestServer(t, ServeOptions{Hot: true}, map[string]string{"app.css": "body {}"})

	response, err := http.Head(server.URL + "/app.css")

	assert.NilError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	assert.NilError(t, err)
	assert.Equal(t, response.StatusCode, http.StatusOK)
	assert.Equal(t, len(body), 0)
}

func dialTestSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	address := "ws" + strings.TrimPrefix(server.URL, "http") + hotSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(address, nil)
	assert.NilError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForListeners[T any](t *testing.T, event *EventType[T], count int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if event.ListenerCount() == count {
			return poll.Success()
		}
		return poll.Continue("waiting for %d listeners, got %d", count, event.ListenerCount())
	}, poll.WithTimeout(5*time.Second))
}

func readSocketMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	assert.NilError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, message, err := conn.ReadMessage()
	assert.NilError(t, err)
	return string(message)
}

func TestWebSocketForwardsMessages(t *testing.T) {
	server, config := newTestServer(t, ServeOptions{Hot: true, Live: true}, nil)

	conn := dialTestSocket(t, server)
	waitForListeners(t, config.Events.WebSocketMessage, 1)
	waitForListeners(t, config.Events.LiveReload, 1)

	config.Events.WebSocketMessage.Publish(hotReloadMessagePrefix + "./app.js")
	assert.Equal(t, readSocketMessage(t, conn), "hot reload: ./app.js")

	config.Events.LiveReload.Publish(struct{}{})
	assert.Equal(t, readSocketMessage(t, conn), "live reload")

	assert.NilError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	waitForListeners(t, config.Events.WebSocketMessage, 0)
	waitForListeners(t, config.Events.LiveReload, 0)
}

func TestWebSocketWithoutLiveReload(t *testing.T) {
	server, config := newTestServer(t, ServeOptions{Hot: true}, nil)

	dialTestSocket(t, server)
	waitForListeners(t, config.Events.WebSocketMessage, 1)

	assert.Equal(t, config.Events.LiveReload.ListenerCount(), 0)
}

func TestPushSocketMessageDropsOldest(t *testing.T) {
	writeCh := make(chan string, 2)

	pushSocketMessage(writeCh, "a")
	pushSocketMessage(writeCh, "b")
	pushSocketMessage(writeCh, "c")

	assert.Equal(t, <-writeCh, "b")
	assert.Equal(t, <-writeCh, "c")
}

func TestStartServerShutsDownOnCancel(t *testing.T) {
	config := newTestBuildConfig(t)
	config.Serve = &ServeOptions{Address: "127.0.0.1", Port: 0}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, config) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
