package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketWriteWait = 10 * time.Second
	socketPongWait  = 60 * time.Second
	socketPingEvery = (socketPongWait * 9) / 10

	hotReloadMessagePrefix = "hot reload: "
	liveReloadMessage      = "live reload"
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// WebSocketServer forwards WebSocketMessage events, and live reloads when
// Live is set, to every connected browser.
type WebSocketServer struct {
	Events  *BuildEvents
	Live    bool
	Metrics *Metrics
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := socketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	LogVerbose("WebSocket connection opened")

	if s.Metrics != nil {
		s.Metrics.SocketClients.Inc()
		defer s.Metrics.SocketClients.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(socketPongWait)); err != nil {
		LogError("WebSocket error: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	writeCh := make(chan string, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(socketPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case message := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	unsubscribeMessages := s.Events.WebSocketMessage.Subscribe(func(event *BuildEvent[string]) {
		pushSocketMessage(writeCh, event.Data)
	})
	defer unsubscribeMessages()

	if s.Live {
		unsubscribeLiveReload := s.Events.LiveReload.Subscribe(func(event *BuildEvent[struct{}]) {
			LogVerbose("Sending live reload message to client")
			pushSocketMessage(writeCh, liveReloadMessage)
		})
		defer unsubscribeLiveReload()
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				LogError("WebSocket error: %v", err)
			}
			break
		}
		LogVerbose("WebSocket server message received: %s", message)
	}

	cancel()
	<-writerDone
	LogVerbose("WebSocket connection closed")
}

// pushSocketMessage never blocks the publisher: when the client lags behind,
// the oldest queued message is dropped.
func pushSocketMessage(writeCh chan string, message string) {
	select {
	case writeCh <- message:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- message:
	default:
	}
}
