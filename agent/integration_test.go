package agent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty-sync/domain"
	"watchparty-sync/hub"
	"watchparty-sync/protocol"
	ws "watchparty-sync/websocket"
)

func newRelay(t *testing.T) (string, *hub.Hub) {
	t.Helper()

	registry := hub.New()
	handler := protocol.NewHandler(registry)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.NewConn(uuid.New().String(), conn, registry, handler).Start()
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", registry
}

func TestAgent_SyncsThroughRelay(t *testing.T) {
	url, registry := newRelay(t)
	cfg := DefaultConfig()
	cfg.ServerURL = url

	playerA := newFakePlayer(0, true)
	playerB := newFakePlayer(0, true)

	var mu sync.Mutex
	var joinedA []string
	agentA := New(cfg, &fakePage{url: testPage, player: playerA}, WithMembershipHandler(func(m domain.Message) {
		mu.Lock()
		defer mu.Unlock()
		if m.Type == domain.TypeUserJoined {
			joinedA = append(joinedA, m.Username)
		}
	}))
	agentB := New(cfg, &fakePage{url: testPage + "/", player: playerB})
	t.Cleanup(agentA.Stop)
	t.Cleanup(agentB.Stop)

	require.NoError(t, agentA.Start("party", "A"))
	require.Eventually(t, func() bool { return len(registry.Members("party")) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, agentB.Start("party", "B"))
	require.Eventually(t, func() bool { return len(registry.Members("party")) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joinedA) == 1 && joinedA[0] == "B"
	}, 2*time.Second, 10*time.Millisecond)

	playerA.user(domain.TypePause, 20)

	require.Eventually(t, func() bool { return !playerB.isPlaying() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []float64{20}, playerB.getSeeks())

	// B's apply must not bounce back to A.
	assert.Never(t, func() bool { return len(playerA.getSeeks()) > 0 }, 700*time.Millisecond, 20*time.Millisecond)

	agentB.Stop()
	require.Eventually(t, func() bool { return len(registry.Members("party")) == 1 }, 2*time.Second, 10*time.Millisecond)
}
