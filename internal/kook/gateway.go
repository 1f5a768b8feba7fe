package kook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	log "github.com/sirupsen/logrus"
)

// Gateway signal codes
const (
	signalEvent     = 0
	signalHello     = 1
	signalPing      = 2
	signalPong      = 3
	signalReconnect = 5
)

const (
	pingInterval  = 30 * time.Second
	helloTimeout  = 6 * time.Second
	maxConnectTry = 5
)

// frame is the envelope of every gateway message
type frame struct {
	Signal int             `json:"s"`
	Data   json.RawMessage `json:"d,omitempty"`
	SN     int64           `json:"sn,omitempty"`
}

// eventPayload is the d field of a signal 0 frame for text channels
type eventPayload struct {
	ChannelType string `json:"channel_type"`
	Type        int    `json:"type"`
	TargetID    string `json:"target_id"`
	AuthorID    string `json:"author_id"`
	Content     string `json:"content"`
	MsgID       string `json:"msg_id"`
	Extra       struct {
		Author struct {
			ID             string `json:"id"`
			Username       string `json:"username"`
			Avatar         string `json:"avatar"`
			MobileVerified bool   `json:"mobile_verified"`
			Nickname       string `json:"nickname"`
		} `json:"author"`
	} `json:"extra"`
}

// gateway runs one websocket session against the KOOK gateway, reconnecting
// until its context ends. sn tracks the last processed event sequence and
// resets on a fresh session.
type gateway struct {
	bot      *Bot
	compress bool
	backoff  time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// sn is read by the ping loop while the session goroutine advances it
	sn atomic.Int64
}

func newGateway(b *Bot, compress bool) *gateway {
	return &gateway{bot: b, compress: compress, backoff: time.Second}
}

func (g *gateway) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.conn != nil {
		g.conn.Close()
	}
}

func (g *gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// run connects and reads until close or context end. Repeated connect
// failures mark the bot invalid so callers stop routing messages to it.
func (g *gateway) run(ctx context.Context) {
	failures := 0
	backoff := g.backoff
	for {
		if ctx.Err() != nil || g.isClosed() {
			return
		}

		err := g.session(ctx)
		if ctx.Err() != nil || g.isClosed() {
			return
		}
		if err != nil {
			failures++
			log.WithError(err).WithField("attempt", failures).Warn("kook gateway session ended")
			if failures >= maxConnectTry {
				g.bot.invalid.Store(true)
				log.Error("kook gateway unreachable, bot marked invalid")
				return
			}
		} else {
			// Clean reconnect request from the server
			failures = 0
			backoff = g.backoff
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// session dials the gateway, waits for hello, then reads events and keeps
// the ping loop going. A server reconnect signal returns nil to trigger a
// fresh session with a reset sn.
func (g *gateway) session(ctx context.Context) error {
	wsURL, err := g.bot.gatewayURL(ctx, g.compress)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer conn.Close()

	// hello must arrive promptly or the session is no good
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	f, err := g.readFrame(conn)
	if err != nil {
		return err
	}
	if f.Signal != signalHello {
		return fmt.Errorf("kook gateway: expected hello, got signal %d", f.Signal)
	}
	var hello struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(f.Data, &hello); err != nil || hello.Code != 0 {
		return fmt.Errorf("kook gateway: hello rejected with code %d", hello.Code)
	}
	conn.SetReadDeadline(time.Time{})
	g.sn.Store(0)
	g.bot.invalid.Store(false)
	log.Info("kook gateway connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go g.pingLoop(pingCtx, conn)

	for {
		f, err := g.readFrame(conn)
		if err != nil {
			return err
		}
		switch f.Signal {
		case signalEvent:
			if f.SN > 0 {
				if f.SN <= g.sn.Load() {
					continue // replayed event
				}
				g.sn.Store(f.SN)
			}
			g.handleEvent(ctx, f.Data)
		case signalPong:
			// keepalive acknowledged
		case signalReconnect:
			log.Warn("kook gateway requested reconnect")
			return nil
		}
	}
}

func (g *gateway) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, _ := json.Marshal(frame{Signal: signalPing, SN: g.sn.Load()})
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// readFrame reads one gateway frame, inflating zlib-compressed binary
// frames when compression is on
func (g *gateway) readFrame(conn *websocket.Conn) (*frame, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType == websocket.BinaryMessage {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, err
		}
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (g *gateway) handleEvent(ctx context.Context, data json.RawMessage) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.WithError(err).Debug("undecodable gateway event")
		return
	}
	if p.AuthorID == "" || p.AuthorID == "1" {
		// system messages have author 1
		return
	}

	msg := &Message{
		ChannelType: p.ChannelType,
		Type:        p.Type,
		TargetID:    p.TargetID,
		AuthorID:    p.AuthorID,
		Content:     p.Content,
		MsgID:       p.MsgID,
	}
	msg.Author.ID = p.Extra.Author.ID
	msg.Author.Name = p.Extra.Author.Username
	msg.Author.Avatar = p.Extra.Author.Avatar
	msg.Author.MobileVerified = p.Extra.Author.MobileVerified
	msg.Author.Nickname = p.Extra.Author.Nickname
	if msg.Author.ID == "" {
		msg.Author.ID = p.AuthorID
	}

	g.bot.dispatch(ctx, msg)
}
