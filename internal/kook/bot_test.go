package kook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meteorlabs/kookbridge/internal/config"
)

type BotSuite struct {
	suite.Suite
}

func TestBotSuite(t *testing.T) {
	suite.Run(t, new(BotSuite))
}

func (s *BotSuite) newBot(handler http.Handler) (*Bot, *httptest.Server) {
	srv := httptest.NewServer(handler)
	bot := NewBot(config.KookConfig{
		BotToken: "secret",
		GuildID:  "g1",
		Channels: map[string]string{"whitelist": "ch-100", "chat": "ch-200"},
	})
	bot.baseURL = srv.URL
	return bot, srv
}

func envelope(data any) []byte {
	raw, _ := json.Marshal(data)
	out, _ := json.Marshal(map[string]any{"code": 0, "message": "ok", "data": json.RawMessage(raw)})
	return out
}

func (s *BotSuite) TestSendText() {
	var got struct {
		TargetID string `json:"target_id"`
		Content  string `json:"content"`
		Type     int    `json:"type"`
		Quote    string `json:"quote"`
	}
	var auth string
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/message/create", r.URL.Path)
		auth = r.Header.Get("Authorization")
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&got))
		w.Write(envelope(map[string]string{"msg_id": "m1"}))
	}))
	defer srv.Close()

	err := bot.SendText(context.Background(), "ch-100", "hello", "q1")
	s.Require().NoError(err)
	s.Equal("Bot secret", auth)
	s.Equal("ch-100", got.TargetID)
	s.Equal("hello", got.Content)
	s.Equal(MessageTypeText, got.Type)
	s.Equal("q1", got.Quote)
}

func (s *BotSuite) TestSendCard() {
	var got struct {
		TargetID string `json:"target_id"`
		Content  string `json:"content"`
		Type     int    `json:"type"`
	}
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/message/create", r.URL.Path)
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&got))
		w.Write(envelope(map[string]string{"msg_id": "m2"}))
	}))
	defer srv.Close()

	err := bot.SendCard(context.Background(), "ch-200", `[{"type":"card"}]`)
	s.Require().NoError(err)
	s.Equal("ch-200", got.TargetID)
	s.Equal(`[{"type":"card"}]`, got.Content)
	s.Equal(MessageTypeCard, got.Type)
}

func (s *BotSuite) TestRolesOf() {
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/user/view", r.URL.Path)
		s.Equal("u7", r.URL.Query().Get("user_id"))
		w.Write(envelope(map[string]any{"id": "u7", "roles": []int64{3, 42}}))
	}))
	defer srv.Close()

	roles, err := bot.RolesOf(context.Background(), "u7")
	s.Require().NoError(err)
	s.Equal([]int64{3, 42}, roles)
}

func (s *BotSuite) TestAPIErrorCodeSurfaces() {
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":40102,"message":"invalid token","data":{}}`))
	}))
	defer srv.Close()

	err := bot.SendText(context.Background(), "ch-100", "hello", "")
	s.Require().Error(err)
	s.Contains(err.Error(), "40102")
	s.Contains(err.Error(), "invalid token")
}

func (s *BotSuite) TestUserView() {
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/user/view", r.URL.Path)
		s.Equal("u7", r.URL.Query().Get("user_id"))
		s.Equal("g1", r.URL.Query().Get("guild_id"))
		w.Write(envelope(map[string]any{
			"id": "u7", "username": "Carol", "avatar": "http://a/x.png",
			"mobile_verified": true, "nickname": "carol-nick",
		}))
	}))
	defer srv.Close()

	u, err := bot.UserView(context.Background(), "u7")
	s.Require().NoError(err)
	s.Equal("u7", u.ID)
	s.Equal("Carol", u.Name)
	s.True(u.MobileVerified)
	s.Equal("carol-nick", u.Nickname)
}

func (s *BotSuite) TestHasAdminRole() {
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guild-role/list":
			w.Write(envelope(map[string]any{
				"items": []map[string]any{
					{"role_id": 11, "name": "member"},
					{"role_id": 42, "name": "op"},
				},
			}))
		case "/user/view":
			roles := []int64{11}
			if r.URL.Query().Get("user_id") == "admin-user" {
				roles = []int64{11, 42}
			}
			w.Write(envelope(map[string]any{"roles": roles}))
		default:
			s.FailNow("unexpected path " + r.URL.Path)
		}
	}))
	defer srv.Close()
	bot.adminRole = "op"

	s.True(bot.HasAdminRole(context.Background(), "admin-user"))
	s.False(bot.HasAdminRole(context.Background(), "plain-user"))
}

func (s *BotSuite) TestAdminRoleLoadRetriesAfterFailure() {
	roleListCalls := 0
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guild-role/list":
			roleListCalls++
			if roleListCalls == 1 {
				w.Write([]byte(`{"code":500,"message":"try again later","data":{}}`))
				return
			}
			w.Write(envelope(map[string]any{
				"items": []map[string]any{{"role_id": 42, "name": "op"}},
			}))
		case "/user/view":
			w.Write(envelope(map[string]any{"roles": []int64{42}}))
		default:
			s.FailNow("unexpected path " + r.URL.Path)
		}
	}))
	defer srv.Close()
	bot.adminRole = "op"

	s.False(bot.HasAdminRole(context.Background(), "admin-user"), "denied while the role list is unavailable")
	s.True(bot.HasAdminRole(context.Background(), "admin-user"), "a transient role-list failure must not stick")
	s.True(bot.HasAdminRole(context.Background(), "admin-user"))
	s.Equal(2, roleListCalls, "the mapping is cached after the first successful fetch")
}

func (s *BotSuite) TestResolveChannel() {
	bot, srv := s.newBot(http.NotFoundHandler())
	defer srv.Close()

	id, ok := bot.ResolveChannel("whitelist")
	s.True(ok)
	s.Equal("ch-100", id)

	_, ok = bot.ResolveChannel("missing")
	s.False(ok)
}

func (s *BotSuite) TestDispatchFansOut() {
	bot, srv := s.newBot(http.NotFoundHandler())
	defer srv.Close()

	var mu sync.Mutex
	var got []string
	bot.RegisterListener(func(_ context.Context, msg *Message) {
		mu.Lock()
		got = append(got, "a:"+msg.Content)
		mu.Unlock()
	})
	bot.RegisterListener(func(_ context.Context, msg *Message) {
		mu.Lock()
		got = append(got, "b:"+msg.Content)
		mu.Unlock()
	})

	bot.dispatch(context.Background(), &Message{Content: "hi"})

	mu.Lock()
	s.ElementsMatch([]string{"a:hi", "b:hi"}, got)
	mu.Unlock()

	bot.UnregisterAllListeners()
	bot.dispatch(context.Background(), &Message{Content: "after"})

	mu.Lock()
	defer mu.Unlock()
	s.Len(got, 2)
}

func (s *BotSuite) TestSendTextToAllSkipsInvalidBot() {
	hits := 0
	bot, srv := s.newBot(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(envelope(map[string]string{}))
	}))
	defer srv.Close()

	bot.invalid.Store(true)
	bot.SendTextToAll([]string{"ch-100", "ch-200"}, "ignored")
	time.Sleep(50 * time.Millisecond)
	s.Equal(0, hits)
}
