package kook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/suite"

	"github.com/meteorlabs/kookbridge/internal/config"
)

type GatewaySuite struct {
	suite.Suite
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

// gatewayScript is the frames the fake gateway plays after hello. Each is
// sent as a zlib-compressed binary frame when compressed is true.
func (s *GatewaySuite) serveGateway(compressed bool, frames []string) (*Bot, func()) {
	up := websocket.Upgrader{}
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)

	mux.HandleFunc("/gateway/index", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/gateway/ws"
		w.Write(envelope(map[string]string{"url": wsURL}))
	})
	mux.HandleFunc("/gateway/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		send := func(payload string) {
			if compressed {
				var buf bytes.Buffer
				zw := zlib.NewWriter(&buf)
				zw.Write([]byte(payload))
				zw.Close()
				conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
			} else {
				conn.WriteMessage(websocket.TextMessage, []byte(payload))
			}
		}
		send(`{"s":1,"d":{"code":0,"session_id":"sid"}}`)
		for _, f := range frames {
			send(f)
		}
		// Keep the socket open; answer pings with pongs
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Signal == signalPing {
				send(`{"s":3}`)
			}
		}
	})

	bot := NewBot(config.KookConfig{BotToken: "secret", Compress: compressed})
	bot.baseURL = srv.URL
	bot.gw = newGateway(bot, compressed)
	return bot, srv.Close
}

func eventFrame(sn int64, content, channelType string) string {
	data, _ := json.Marshal(map[string]any{
		"s": signalEvent,
		"d": map[string]any{
			"channel_type": channelType,
			"type":         MessageTypeText,
			"target_id":    "ch-100",
			"author_id":    "u7",
			"content":      content,
			"msg_id":       "m1",
			"extra": map[string]any{
				"author": map[string]any{"id": "u7", "username": "Carol"},
			},
		},
		"sn": sn,
	})
	return string(data)
}

func (s *GatewaySuite) collect(bot *Bot) (func() []string, func()) {
	var mu sync.Mutex
	var got []string
	bot.RegisterListener(func(_ context.Context, msg *Message) {
		mu.Lock()
		got = append(got, msg.Content)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	bot.Connect(ctx)
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}, cancel
}

func (s *GatewaySuite) waitLen(read func() []string, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(read()) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.FailNowf("timeout", "wanted %d messages, got %v", n, read())
}

func (s *GatewaySuite) TestReceivesEvents() {
	bot, stop := s.serveGateway(false, []string{
		eventFrame(1, "first", "GROUP"),
		eventFrame(2, "second", "PERSON"),
	})
	defer stop()

	read, cancel := s.collect(bot)
	defer cancel()

	s.waitLen(read, 2)
	s.Equal([]string{"first", "second"}, read())
	s.False(bot.IsInvalid())
	s.Equal(int64(2), bot.gw.sn.Load(), "ping frames must report the last processed sequence")
}

func (s *GatewaySuite) TestCompressedFrames() {
	bot, stop := s.serveGateway(true, []string{eventFrame(1, "deflated", "GROUP")})
	defer stop()

	read, cancel := s.collect(bot)
	defer cancel()

	s.waitLen(read, 1)
	s.Equal([]string{"deflated"}, read())
}

func (s *GatewaySuite) TestReplayedSequenceDropped() {
	bot, stop := s.serveGateway(false, []string{
		eventFrame(1, "once", "GROUP"),
		eventFrame(1, "again", "GROUP"),
		eventFrame(2, "twice", "GROUP"),
	})
	defer stop()

	read, cancel := s.collect(bot)
	defer cancel()

	s.waitLen(read, 2)
	time.Sleep(50 * time.Millisecond)
	s.Equal([]string{"once", "twice"}, read())
}

func (s *GatewaySuite) TestSystemAuthorIgnored() {
	sys, _ := json.Marshal(map[string]any{
		"s":  signalEvent,
		"d":  map[string]any{"channel_type": "GROUP", "author_id": "1", "content": "sys"},
		"sn": 1,
	})
	bot, stop := s.serveGateway(false, []string{
		string(sys),
		eventFrame(2, "real", "GROUP"),
	})
	defer stop()

	read, cancel := s.collect(bot)
	defer cancel()

	s.waitLen(read, 1)
	s.Equal([]string{"real"}, read())
}

func (s *GatewaySuite) TestUnreachableGatewayMarksInvalid() {
	bot := NewBot(config.KookConfig{BotToken: "secret"})
	bot.baseURL = "http://127.0.0.1:1"
	bot.gw = newGateway(bot, false)
	bot.gw.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bot.Connect(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !bot.IsInvalid() {
		time.Sleep(50 * time.Millisecond)
	}
	s.True(bot.IsInvalid())
}
