package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/economy/treasury"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
)

// Server is the loopback-only spectator surface: an HTTP bootstrap and a
// websocket stream of every engine event.
type Server struct {
	engine *engine.Engine
	feed   *Feed
	log    *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, feed *Feed, logger *slog.Logger) *Server {
	return &Server{
		engine: e,
		feed:   feed,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

// Digests reports the catalog and tuning digests the engine runs with.
func Digests(e *engine.Engine) protocol.CatalogDigests {
	cats := e.Catalogs()
	return protocol.CatalogDigests{
		Enemies: cats.Enemies.Digest,
		Classes: cats.Classes.Digest,
		Tuning:  e.Tuning().Digest(),
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		bal := s.engine.GetAllPoolData()
		pools := map[string]string{}
		for _, p := range treasury.AllPools() {
			pools[p.String()] = bal.Get(p).String()
		}
		resp := protocol.ObserverBootstrap{
			ProtocolVersion: protocol.Version,
			CurrentEpoch:    s.engine.CurrentEpoch(),
			Pools:           pools,
			Catalogs:        Digests(s.engine),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		filter, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id, out := s.feed.Subscribe(filter, 1024)
		s.log.Debug("observer subscribed", "id", id, "remote", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		writeErr := make(chan error, 1)
		go pump(ctx, conn, out, writeErr)

		// Reader loop: a new SUBSCRIBE replaces the filter.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			f, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			cancel()
			<-writeErr
			s.feed.Unsubscribe(id)
			id, out = s.feed.Subscribe(f, 1024)
			ctx, cancel = context.WithCancel(r.Context())
			go pump(ctx, conn, out, writeErr)
		}

		s.feed.Unsubscribe(id)
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// pump writes out to conn until ctx ends, out closes or a write fails.
func pump(ctx context.Context, conn *websocket.Conn, out <-chan []byte, done chan<- error) {
	for {
		select {
		case <-ctx.Done():
			done <- ctx.Err()
			return
		case b, ok := <-out:
			if !ok {
				done <- nil
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				done <- err
				return
			}
		}
	}
}

func parseSubscribe(msg []byte) (Filter, bool) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return Filter{}, false
	}
	if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
		return Filter{}, false
	}
	f := Filter{Kinds: sub.Kinds}
	if sub.Player != "" {
		p, err := ids.ParseAddress(sub.Player)
		if err != nil {
			return Filter{}, false
		}
		f.Player = p
	}
	return f, true
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback peer.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
