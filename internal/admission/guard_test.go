package admission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meteorlabs/kookbridge/internal/config"
	"github.com/meteorlabs/kookbridge/internal/domain"
)

type fakeLinks struct {
	mu     sync.Mutex
	linked map[string]bool
	codes  map[string]string // code -> player
	issued int
	gate   chan struct{} // when set, IsLinked blocks until closed
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{linked: make(map[string]bool), codes: make(map[string]string)}
}

func (f *fakeLinks) IsLinked(_ context.Context, playerName string) bool {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linked[playerName]
}

// holdChecks makes IsLinked block until release is closed
func (f *fakeLinks) holdChecks(release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = release
}

func (f *fakeLinks) BuildVerifyCode(playerName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	code := fmt.Sprintf("CODE%02d", f.issued)
	f.codes[code] = playerName
	return code, nil
}

func (f *fakeLinks) PendingFor(code string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	player, ok := f.codes[code]
	return player, ok
}

func (f *fakeLinks) setLinked(playerName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked[playerName] = true
}

func (f *fakeLinks) issuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

type fakeConsole struct {
	mu     sync.Mutex
	kicks  map[string]string
	tells  map[string][][]string
	titles map[string][]config.TitleConfig
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		kicks:  make(map[string]string),
		tells:  make(map[string][][]string),
		titles: make(map[string][]config.TitleConfig),
	}
}

func (f *fakeConsole) Kick(playerName, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks[playerName] = reason
}

func (f *fakeConsole) Tell(playerName string, lines []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tells[playerName] = append(f.tells[playerName], lines)
}

func (f *fakeConsole) Title(playerName string, t config.TitleConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[playerName] = append(f.titles[playerName], t)
}

func (f *fakeConsole) kickReason(playerName string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.kicks[playerName]
	return r, ok
}

func (f *fakeConsole) tellCount(playerName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tells[playerName])
}

func (f *fakeConsole) titleCount(playerName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles[playerName])
}

type GuardSuite struct {
	suite.Suite

	ctx     context.Context
	links   *fakeLinks
	console *fakeConsole
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.ctx = context.Background()
	s.links = newFakeLinks()
	s.console = newFakeConsole()
}

func (s *GuardSuite) newGuard(cfg config.WhitelistConfig) *Guard {
	msgs := config.MessagesConfig{
		PromptLink:   []string{"Link your account with code {verifyCode} in {channel_name}"},
		KickUnlinked: "Not linked. Code: {verifyCode}",
		PromptTitle:  config.TitleConfig{Title: "Link required", Subtitle: "{verifyCode}"},
	}
	return NewGuard(cfg, msgs, "whitelist", s.links, s.console)
}

func (s *GuardSuite) waitFor(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.FailNow("condition not met in time")
}

func (s *GuardSuite) TestUnlinkedPlayerKickedAtDeadline() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:     true,
		KickEnabled: true,
		KickDelay:   40 * time.Millisecond,
	})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")

	s.waitFor(func() bool { _, ok := s.console.kickReason("Alice"); return ok })
	reason, _ := s.console.kickReason("Alice")
	s.True(strings.Contains(reason, "CODE01"), "kick reason should carry the code, got %q", reason)
	s.GreaterOrEqual(s.console.tellCount("Alice"), 1, "prompt should precede the kick")
	s.GreaterOrEqual(s.console.titleCount("Alice"), 1)
}

func (s *GuardSuite) TestLinkedBeforeDeadlineNotKicked() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:     true,
		KickEnabled: true,
		KickDelay:   60 * time.Millisecond,
	})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 1 })

	// Redemption lands before the deadline
	s.links.setLinked("Alice")

	time.Sleep(120 * time.Millisecond)
	_, kicked := s.console.kickReason("Alice")
	s.False(kicked, "a player who linked in time must not be kicked")
}

func (s *GuardSuite) TestNotifyLinkedCancelsKick() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:     true,
		KickEnabled: true,
		KickDelay:   60 * time.Millisecond,
	})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 1 })

	g.NotifyLinked("Alice")

	time.Sleep(120 * time.Millisecond)
	_, kicked := s.console.kickReason("Alice")
	s.False(kicked)
}

func (s *GuardSuite) TestReminderRepeats() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:          true,
		ReminderEnabled:  true,
		ReminderInterval: 20 * time.Millisecond,
	})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 3 })
}

func (s *GuardSuite) TestLinkedPlayerUntracked() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:     true,
		KickEnabled: true,
		KickDelay:   30 * time.Millisecond,
	})
	defer g.Close()

	s.links.setLinked("Alice")
	g.HandleJoin(s.ctx, "Alice")

	time.Sleep(80 * time.Millisecond)
	s.Equal(0, s.console.tellCount("Alice"))
	_, kicked := s.console.kickReason("Alice")
	s.False(kicked)
}

func (s *GuardSuite) TestMovementRestriction() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:          true,
		RestrictMovement: true,
	})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 1 })

	from := domain.Position{X: 10, Y: 64, Z: 10}
	s.True(g.HandleMove("Alice", from, domain.Position{X: 11, Y: 64, Z: 10}),
		"block-to-block movement should be cancelled")
	s.False(g.HandleMove("Alice", from, from),
		"turning in place should be allowed")
	s.False(g.HandleMove("Bob", from, domain.Position{X: 11, Y: 64, Z: 10}),
		"untracked players move freely")

	g.NotifyLinked("Alice")
	s.False(g.HandleMove("Alice", from, domain.Position{X: 11, Y: 64, Z: 10}))
}

func (s *GuardSuite) TestQuitReleasesTracking() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:          true,
		KickEnabled:      true,
		KickDelay:        40 * time.Millisecond,
		RestrictMovement: true,
	})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 1 })

	g.HandleQuit("Alice")

	time.Sleep(90 * time.Millisecond)
	_, kicked := s.console.kickReason("Alice")
	s.False(kicked, "quit must cancel the pending kick")
	s.False(g.HandleMove("Alice", domain.Position{}, domain.Position{X: 1}))
}

func (s *GuardSuite) TestQuitDuringLinkCheckLeavesNoTracking() {
	g := s.newGuard(config.WhitelistConfig{
		Enabled:          true,
		ReminderEnabled:  true,
		ReminderInterval: 20 * time.Millisecond,
		RestrictMovement: true,
	})
	defer g.Close()

	release := make(chan struct{})
	s.links.holdChecks(release)

	g.HandleJoin(s.ctx, "Alice")
	g.HandleQuit("Alice")
	close(release)

	time.Sleep(90 * time.Millisecond)
	s.Equal(0, s.console.tellCount("Alice"), "no prompts for a player who left mid-check")
	s.False(g.HandleMove("Alice", domain.Position{}, domain.Position{X: 1}))
}

func (s *GuardSuite) TestCodeReusedAcrossRejoin() {
	g := s.newGuard(config.WhitelistConfig{Enabled: true})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 1 })
	g.HandleQuit("Alice")

	g.HandleJoin(s.ctx, "Alice")
	s.waitFor(func() bool { return s.console.tellCount("Alice") >= 2 })
	s.Equal(1, s.links.issuedCount(), "a quick rejoin should reuse the live code")
}

func (s *GuardSuite) TestDisabledGuardIgnoresJoins() {
	g := s.newGuard(config.WhitelistConfig{Enabled: false, KickEnabled: true, KickDelay: 20 * time.Millisecond})
	defer g.Close()

	g.HandleJoin(s.ctx, "Alice")
	time.Sleep(60 * time.Millisecond)
	s.Equal(0, s.console.tellCount("Alice"))
}
