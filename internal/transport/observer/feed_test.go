package observer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
)

func kindOf(t *testing.T, b []byte) string {
	t.Helper()
	var m protocol.EventMsg
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, protocol.TypeEvent, m.Type)
	return m.Kind
}

func TestFeedFiltersByPlayerAndKind(t *testing.T) {
	f := NewFeed()
	alice := ids.DeriveAddress("alice")
	bob := ids.DeriveAddress("bob")

	_, all := f.Subscribe(Filter{}, 8)
	_, aliceOnly := f.Subscribe(Filter{Player: alice}, 8)
	_, claims := f.Subscribe(Filter{Kinds: []string{protocol.EventPrizeClaimed}}, 8)
	require.Equal(t, 3, f.Subscribers())

	f.FightResolved(engine.FightResolved{Player: bob})
	f.FightResolved(engine.FightResolved{Player: alice})
	f.RootPublished(engine.RootPublished{Epoch: 1})
	f.PrizeClaimed(engine.PrizeClaimed{Account: bob})

	require.Len(t, all, 4)
	require.Len(t, aliceOnly, 2)
	require.Equal(t, protocol.EventFightResolved, kindOf(t, <-aliceOnly))
	require.Equal(t, protocol.EventRootPublished, kindOf(t, <-aliceOnly))
	require.Len(t, claims, 1)
	require.Equal(t, protocol.EventPrizeClaimed, kindOf(t, <-claims))
}

func TestFeedDropsForSlowSubscriber(t *testing.T) {
	f := NewFeed()
	id, out := f.Subscribe(Filter{}, 1)
	f.RootPublished(engine.RootPublished{Epoch: 1})
	f.RootPublished(engine.RootPublished{Epoch: 2})
	require.Equal(t, uint64(1), f.Dropped())

	f.Unsubscribe(id)
	require.Zero(t, f.Subscribers())
	_, open := <-out
	require.True(t, open)
	_, open = <-out
	require.False(t, open)
}

func TestParseSubscribe(t *testing.T) {
	p := ids.DeriveAddress("alice")
	f, ok := parseSubscribe([]byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","player":"` + p.String() + `","kinds":["PRIZE_CLAIMED"]}`))
	require.True(t, ok)
	require.Equal(t, p, f.Player)
	require.Equal(t, []string{protocol.EventPrizeClaimed}, f.Kinds)

	_, ok = parseSubscribe([]byte(`{"type":"HELLO","protocol_version":"1.0"}`))
	require.False(t, ok)
	_, ok = parseSubscribe([]byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","player":"0OIl"}`))
	require.False(t, ok)
	require.True(t, IsLoopbackRemote("127.0.0.1:5555"))
	require.True(t, IsLoopbackRemote("[::1]:80"))
	require.False(t, IsLoopbackRemote("10.0.0.2:80"))
}
