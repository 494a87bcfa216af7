package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
)

// Filter selects events for a subscription. A zero Player matches every
// player; events not tied to a player (root publication) always match.
type Filter struct {
	Player ids.Address
	Kinds  []string
}

type subscription struct {
	player ids.Address
	kinds  map[string]bool
	out    chan []byte
}

func (s *subscription) match(kind string, players []ids.Address) bool {
	if len(s.kinds) > 0 && !s.kinds[kind] {
		return false
	}
	if s.player.IsZero() || len(players) == 0 {
		return true
	}
	for _, p := range players {
		if p == s.player {
			return true
		}
	}
	return false
}

// Feed fans engine events out to websocket sessions as EVENT messages. It is
// an engine.EventSink; slow subscribers lose messages instead of blocking
// the engine.
type Feed struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64

	dropped atomic.Uint64
}

var _ engine.EventSink = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{subs: map[uint64]*subscription{}}
}

// Subscribe registers a filter; the returned channel is closed by Unsubscribe.
func (f *Feed) Subscribe(filter Filter, buf int) (uint64, <-chan []byte) {
	if buf <= 0 {
		buf = 64
	}
	s := &subscription{player: filter.Player, out: make(chan []byte, buf)}
	if len(filter.Kinds) > 0 {
		s.kinds = map[string]bool{}
		for _, k := range filter.Kinds {
			s.kinds[k] = true
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subs[f.nextID] = s
	return f.nextID, s.out
}

func (f *Feed) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(s.out)
	}
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Dropped counts messages lost to full subscriber buffers.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

func (f *Feed) publish(kind string, players []ids.Address, data any) {
	b, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Kind:            kind,
		Data:            data,
	})
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if !s.match(kind, players) {
			continue
		}
		select {
		case s.out <- b:
		default:
			f.dropped.Add(1)
		}
	}
}

func (f *Feed) FightResolved(ev engine.FightResolved) {
	f.publish(protocol.EventFightResolved, []ids.Address{ev.Player}, ev)
}

func (f *Feed) RootPublished(ev engine.RootPublished) {
	f.publish(protocol.EventRootPublished, nil, ev)
}

func (f *Feed) PrizeClaimed(ev engine.PrizeClaimed) {
	f.publish(protocol.EventPrizeClaimed, []ids.Address{ev.Account}, ev)
}
