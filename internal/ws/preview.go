// Package ws serves rendered frames to browser clients over a websocket, so
// the animation can be inspected without hardware. It doubles as the "sim"
// device backend.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/render"
)

// Preview implements device.Surface over a set of websocket clients.
type Preview struct {
	ledCount int
	throttle time.Duration

	mu       sync.Mutex
	staged   render.Frame
	frameID  uint64
	lastEmit time.Time
	clients  map[*websocket.Conn]bool
}

// NewPreview creates a virtual surface with a fixed LED count. Broadcasts are
// throttled to roughly 20 FPS regardless of the render tick.
func NewPreview(ledCount int) *Preview {
	return &Preview{
		ledCount: ledCount,
		throttle: 50 * time.Millisecond,
		clients:  map[*websocket.Conn]bool{},
	}
}

func (p *Preview) Attach(ctx context.Context) (int, error) {
	return p.ledCount, nil
}

func (p *Preview) SetFrame(f render.Frame) error {
	if len(f) != p.ledCount {
		return &device.WriteError{Op: "set", Err: fmt.Errorf("frame length %d, want %d", len(f), p.ledCount)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staged = f.Clone()
	return nil
}

type framePayload struct {
	Frame uint64 `json:"frame"`
	Count int    `json:"count"`
	RGB   string `json:"rgb"` // base64 of 3*count bytes
}

func (p *Preview) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.frameID++
	now := time.Now()
	if now.Sub(p.lastEmit) < p.throttle || len(p.clients) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.lastEmit = now

	rgb := make([]byte, len(p.staged)*3)
	for i, c := range p.staged {
		rgb[i*3+0] = c.R
		rgb[i*3+1] = c.G
		rgb[i*3+2] = c.B
	}
	payload, _ := json.Marshal(framePayload{
		Frame: p.frameID,
		Count: len(p.staged),
		RGB:   base64.StdEncoding.EncodeToString(rgb),
	})
	conns := make([]*websocket.Conn, 0, len(p.clients))
	for c := range p.clients {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			p.drop(c)
		}
	}
	return nil
}

func (p *Preview) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.clients {
		c.Close()
	}
	p.clients = map[*websocket.Conn]bool{}
	return nil
}

func (p *Preview) drop(c *websocket.Conn) {
	c.Close()
	p.mu.Lock()
	delete(p.clients, c)
	p.mu.Unlock()
}

// HandleFrames upgrades an HTTP request and streams frames until the client
// disconnects.
func (p *Preview) HandleFrames(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.clients[conn] = true
	n := len(p.clients)
	p.mu.Unlock()
	log.Info().Int("clients", n).Msg("preview client connected")

	// Reader loop only to detect disconnect; clients never send data we use.
	go func() {
		defer p.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Serve runs a plain HTTP server exposing the frames endpoint at /frames.
func (p *Preview) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", p.HandleFrames)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("preview listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
