package webui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tobert/otlp-timeline/internal/timeline"
	"github.com/tobert/otlp-timeline/internal/viz"
)

// frameInterval drives throttled drag updates; it matches the controller's
// default throttle interval.
const frameInterval = timeline.DefaultThrottleInterval

// clientEvent is a message from the browser. X is a fraction of the detail
// surface width for target "detail" and a pixel offset on the minimap
// surface for target "minimap".
type clientEvent struct {
	Type     string   `json:"type"`
	Target   string   `json:"target,omitempty"`
	X        float64  `json:"x"`
	SpanID   string   `json:"span_id,omitempty"`
	TraceID  string   `json:"trace_id,omitempty"`
	Services []string `json:"services,omitempty"`
}

// serverMessage is a message to the browser.
type serverMessage struct {
	Type    string            `json:"type"` // hello, view, span_click, trace_gone, error
	Session string            `json:"session,omitempty"`
	View    *timeline.View    `json:"view,omitempty"`
	Minimap string            `json:"minimap,omitempty"` // data URL, only when it changed
	Colors  map[string]string `json:"colors,omitempty"`
	SpanID  string            `json:"span_id,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// viewKey captures everything a client renders so unchanged state is not
// resent. Selection and gesture state change without bumping the version.
type viewKey struct {
	version uint64
	state   timeline.DragState
	sel     timeline.Selection
}

// liveSession is one WebSocket viewer. Only the connection's handler
// goroutine touches it.
type liveSession struct {
	id      string
	server  *Server
	sess    *timeline.Session
	traceID string
	follow  bool // track the most recently updated trace

	clicks      []string
	sent        viewKey
	sentMinimap viewKey
	haveSent    bool
	redraws     int
}

func (s *Server) newLiveSession(traceID string) *liveSession {
	ls := &liveSession{
		id:      uuid.New().String(),
		server:  s,
		traceID: traceID,
		follow:  traceID == "",
	}
	ls.sess = timeline.NewSession(timeline.SessionOptions{
		Minimap:     s.minimap,
		OnSpanClick: func(id string) { ls.clicks = append(ls.clicks, id) },
	})
	return ls
}

// handleWebSocket upgrades to WebSocket and runs an interactive timeline
// session for ?trace=<id>, or for the newest trace when no id is given.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	ls := s.newLiveSession(r.URL.Query().Get("trace"))
	defer ls.sess.Close()

	s.metrics.sessionsActive.Inc()
	s.metrics.sessionsTotal.Inc()
	defer s.metrics.sessionsActive.Dec()
	if s.verbose {
		log.Printf("🖥️  webui: session %s opened (trace=%q)", ls.id, ls.traceID)
		defer log.Printf("🖥️  webui: session %s closed", ls.id)
	}

	// Subscribe before the first load so no update is missed.
	notifyCh, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	// Read events from client in a goroutine
	eventCh := make(chan clientEvent, 64)
	go func() {
		defer close(eventCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev clientEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := ls.send(ctx, conn, serverMessage{Type: "hello", Session: ls.id}); err != nil {
		return
	}
	ls.reload(ctx, conn)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case ev, ok := <-eventCh:
			if !ok {
				// Client disconnected
				return
			}
			if err := ls.apply(ev); err != nil {
				if ls.send(ctx, conn, serverMessage{Type: "error", Error: err.Error()}) != nil {
					return
				}
				continue
			}
			s.metrics.events.WithLabelValues(ev.Type).Inc()
			if ev.Type == "load" {
				ls.reload(ctx, conn)
			}

		case <-ticker.C:
			ls.sess.Tick()

		case <-notifyCh:
			ls.reload(ctx, conn)
		}

		if err := ls.flush(ctx, conn); err != nil {
			return
		}
	}
}

// reload swaps in the latest stored version of the session's trace. The
// store hands out the same pointer until the trace changes, so an
// unchanged trace keeps its domain and minimap cache.
func (ls *liveSession) reload(ctx context.Context, conn *websocket.Conn) {
	store := ls.server.store
	if ls.follow {
		if list := store.List(); len(list) > 0 {
			ls.traceID = list[0].TraceID
		}
	}
	if ls.traceID == "" {
		return
	}

	t, ok := store.Load(ls.traceID)
	if !ok {
		if ls.sess.Trace() != nil {
			ls.sess.Load(nil)
			ls.send(ctx, conn, serverMessage{Type: "trace_gone", Error: "trace evicted: " + ls.traceID})
		}
		return
	}
	if t == ls.sess.Trace() {
		return
	}
	ls.sess.Load(t)
	ls.sess.SetColors(viz.ServiceColors(t.Services()))
}

// apply routes one client event to the session.
func (ls *liveSession) apply(ev clientEvent) error {
	sess := ls.sess
	ctrl := sess.Controller()
	cfg := ls.server.minimap

	switch ev.Type {
	case "pointerdown":
		switch ev.Target {
		case "detail":
			ctrl.DetailPointerDown(ev.X)
		case "minimap":
			ctrl.MinimapPointerDown(timeline.TrackFraction(ev.X, cfg))
		default:
			return fmt.Errorf("unknown target %q", ev.Target)
		}
	case "pointermove":
		// Pointer capture keeps a drag on the surface where it began, so
		// the active gesture decides how X is read.
		switch ctrl.State() {
		case timeline.DraggingSelection:
			ctrl.DetailPointerMove(ev.X)
		case timeline.DraggingMinimap:
			ctrl.MinimapPointerMove(timeline.TrackFraction(ev.X, cfg))
		}
	case "pointerup":
		switch ctrl.State() {
		case timeline.DraggingSelection:
			ctrl.DetailPointerUp(ev.X)
		case timeline.DraggingMinimap:
			ctrl.MinimapPointerUp()
		}
	case "pointerleave":
		ctrl.PointerLeave()
	case "click":
		if ev.Target == "minimap" {
			ctrl.MinimapClick(timeline.TrackFraction(ev.X, cfg))
		}
	case "toggle":
		sess.ToggleCollapse(ev.SpanID)
	case "collapse_all":
		sess.CollapseAll()
	case "expand_all":
		sess.ExpandAll()
	case "services":
		sess.SetServices(ev.Services...)
	case "reset":
		sess.Reset()
	case "span_click":
		sess.ClickSpan(ev.SpanID)
	case "load":
		if ev.TraceID == "" {
			ls.follow = true
		} else {
			ls.follow = false
			ls.traceID = ev.TraceID
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// flush sends pending span clicks and, if anything visible changed, a
// fresh view. The minimap image is only re-encoded when the version moved.
func (ls *liveSession) flush(ctx context.Context, conn *websocket.Conn) error {
	for _, id := range ls.clicks {
		if err := ls.send(ctx, conn, serverMessage{Type: "span_click", SpanID: id}); err != nil {
			return err
		}
	}
	ls.clicks = ls.clicks[:0]

	ctrl := ls.sess.Controller()
	sel, _ := ctrl.Selection()
	key := viewKey{version: ls.sess.Version(), state: ctrl.State(), sel: sel}
	if ls.haveSent && key == ls.sent {
		return nil
	}

	view := ls.sess.View()
	msg := serverMessage{Type: "view", View: &view}
	if !ls.haveSent || key.version != ls.sentMinimap.version {
		img, err := ls.minimapDataURL()
		if err != nil {
			log.Printf("webui: session %s: %v", ls.id, err)
		} else {
			msg.Minimap = img
			msg.Colors = hexColors(ls.sess.Colors())
		}
		ls.sentMinimap = key
	}

	if err := ls.send(ctx, conn, msg); err != nil {
		return err
	}
	ls.sent = key
	ls.haveSent = true
	ls.server.metrics.updatesSent.Inc()
	return nil
}

func (ls *liveSession) minimapDataURL() (string, error) {
	img := ls.sess.MinimapImage()
	if n := ls.sess.Minimap().Redraws(); n > ls.redraws {
		ls.server.metrics.minimapRedraws.Add(float64(n - ls.redraws))
		ls.redraws = n
	}

	var buf bytes.Buffer
	if err := timeline.EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (ls *liveSession) send(ctx context.Context, conn *websocket.Conn, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("webui: failed to marshal %s message: %v", msg.Type, err)
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}

func hexColors(m timeline.ColorMap) map[string]string {
	out := make(map[string]string, len(m))
	for name, c := range m {
		out[name] = viz.HexColor(c)
	}
	return out
}
