package channel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// PushFacade is the subset of *push.Controller the WebSocket channel polls
// for a session's EVENTS long-poll loop.
type PushFacade interface {
	GetNextEvent(ctx context.Context, session *model.Session, timeout time.Duration) (map[string]any, error)
}

// wireMessage is the JSON frame a client sends over the socket: a model
// request, or (when Events is true) a request to long-poll that session's
// event queue instead.
type wireMessage struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Token      string            `json:"token,omitempty"`
	Data       map[string]any    `json:"data,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Events     bool              `json:"events,omitempty"`
}

// eventPollTimeout bounds each GetNextEvent call so a connection closing
// mid-poll is noticed promptly rather than after an unbounded block.
const eventPollTimeout = 25 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket is the reference request/response ChannelPlugin: each inbound
// frame decodes into a model.Request, runs through the core controller, and
// the resulting Response (or, for an EVENTS frame, a stream of push events)
// is written back as a JSON frame. Deliberately thin per spec.md §1's
// Non-goal on full channel surfaces — it exists so the Channels Controller
// has a concrete plugin to fork.
type WebSocket struct {
	plugins.Base
	addr   string
	core   CoreFacade
	pusher PushFacade

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewWebSocket returns a channel plugin listening on addr (host:port),
// driving core for model/events requests and pusher for the EVENTS
// long-poll loop.
func NewWebSocket(addr string, core CoreFacade, pusher PushFacade) *WebSocket {
	return &WebSocket{
		Base:   plugins.NewBase(plugins.Manifest{Name: "websocket", Version: "1.0", Identifier: "websocket"}),
		addr:   addr,
		core:   core,
		pusher: pusher,
	}
}

// Run starts the HTTP listener and blocks until Stop is called or ctx is
// done, at which point it shuts the server down gracefully.
func (w *WebSocket) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.serveWS)

	w.mu.Lock()
	w.server = &http.Server{Handler: mux}
	w.ln = ln
	w.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- w.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return w.shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the listener's actual address once Run has started it,
// useful when addr was "host:0" and the kernel picked the port.
func (w *WebSocket) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ln == nil {
		return w.addr
	}
	return w.ln.Addr().String()
}

// Stop requests the listener to shut down; Run returns once it has.
func (w *WebSocket) Stop() {
	_ = w.shutdown()
}

func (w *WebSocket) shutdown() error {
	w.mu.Lock()
	server := w.server
	w.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func (w *WebSocket) serveWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		slog.Error("websocket channel: upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket channel: read", "error", err)
			}
			return
		}

		body := w.handle(ctx, &msg)
		if err := conn.WriteJSON(body); err != nil {
			slog.Warn("websocket channel: write", "error", err)
			return
		}
	}
}

func (w *WebSocket) handle(ctx context.Context, msg *wireMessage) map[string]any {
	if msg.Events {
		return w.handleEvents(ctx, msg)
	}

	req := &model.Request{
		Method:     msg.Method,
		Data:       msg.Data,
		Parameters: msg.Parameters,
		Headers:    msg.Headers,
		Token:      msg.Token,
	}
	return w.core.ExecuteModelRequest(ctx, req, msg.Path).ToDict()
}

func (w *WebSocket) handleEvents(ctx context.Context, msg *wireMessage) map[string]any {
	session, failure := w.core.ExecuteEventsRequest(ctx, &model.Request{Token: msg.Token})
	if failure != nil {
		return failure.ToDict()
	}

	event, err := w.pusher.GetNextEvent(ctx, session, eventPollTimeout)
	if err != nil {
		return map[string]any{"status": "timeout", "error": err.Error()}
	}
	return map[string]any{"event": event}
}

func (w *WebSocket) DidFork() { slog.Info("websocket channel: forked", "addr", w.addr) }
func (w *WebSocket) DidExit() { slog.Info("websocket channel: exiting", "addr", w.addr) }
