package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"arenaledger.gg/internal/metrics"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/transport/observer"
)

type Config struct {
	// AdminToken unlocks PUBLISH_ROOT, WITHDRAW and ROLLOVER_EPOCH. Empty
	// disables admin sessions.
	AdminToken string
	// RatePerSec and Burst bound inbound messages per connection.
	RatePerSec float64
	Burst      int
	// OutQueue is the per-session buffer of outbound messages.
	OutQueue int
}

func (c *Config) normalize() {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = 40
	}
	if c.OutQueue <= 0 {
		c.OutQueue = 64
	}
}

type Server struct {
	engine *engine.Engine
	feed   *observer.Feed
	log    *slog.Logger
	cfg    Config

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, feed *observer.Feed, cfg Config, logger *slog.Logger) *Server {
	cfg.normalize()
	return &Server{
		engine: e,
		feed:   feed,
		log:    logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Session is one authenticated connection.
type Session struct {
	ID     string
	Player ids.Address
	Admin  bool
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, ok := s.handshake(conn)
		if !ok {
			return
		}
		metrics.WSSessions.Inc()
		defer metrics.WSSessions.Dec()
		log := s.log.With("session", sess.ID, "player", sess.Player.String())
		log.Info("session opened", "admin", sess.Admin, "remote", r.RemoteAddr)
		defer log.Info("session closed")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		results := make(chan []byte, s.cfg.OutQueue)
		var events <-chan []byte
		if s.feed != nil {
			var subID uint64
			subID, events = s.feed.Subscribe(observer.Filter{Player: sess.Player}, s.cfg.OutQueue)
			defer s.feed.Unsubscribe(subID)
		}

		// Writer goroutine.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-results:
				case ev, ok := <-events:
					if !ok {
						events = nil
						continue
					}
					b = ev
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.Burst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var res protocol.ResultMsg
			if !limiter.Allow() {
				metrics.WSRateLimitedTotal.Inc()
				res = reject("", "", protocol.Errorf(protocol.ErrRateLimit, "slow down"))
			} else {
				var ok bool
				res, ok = s.HandleMessage(ctx, sess, msg)
				if !ok {
					continue
				}
			}
			b, err := json.Marshal(res)
			if err != nil {
				log.Error("marshal result", "op", res.Op, "error", err)
				continue
			}
			select {
			case results <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (Session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return Session{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return Session{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return Session{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return Session{}, false
	}
	player, err := ids.ParseAddress(hello.Player)
	if err != nil || player.IsZero() {
		closeWith(conn, "bad player")
		return Session{}, false
	}

	sess := Session{ID: uuid.NewString(), Player: player}
	if hello.Auth != nil && s.cfg.AdminToken != "" {
		token := strings.TrimSpace(hello.Auth.Token)
		sess.Admin = subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
	}

	tu := s.engine.Tuning()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.ID,
		Player:          player.String(),
		Admin:           sess.Admin,
		Params: protocol.ArenaParams{
			CurrentEpoch:         s.engine.CurrentEpoch(),
			GenesisUnix:          tu.Epoch.GenesisUnix,
			EpochSeconds:         tu.Epoch.DurationSeconds,
			DisputeWindowSeconds: tu.Leaderboard.DisputeWindowSeconds,
			RoundsPerCall:        tu.Combat.RoundsPerCall,
			CreateFee:            tu.CreateFee().String(),
			HealFee:              tu.HealFee().String(),
			ResurrectFee:         tu.ResurrectFee().String(),
		},
		Catalogs: observer.Digests(s.engine),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return Session{}, false
	}
	return sess, true
}

// HandleMessage answers one ACT or QUERY. ok is false for messages that get
// no reply.
func (s *Server) HandleMessage(ctx context.Context, sess Session, msg []byte) (protocol.ResultMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return reject("", "", protocol.Errorf(protocol.ErrBadRequest, "malformed json")), true
	}
	if base.ProtocolVersion != protocol.Version {
		return reject("", "", protocol.Errorf(protocol.ErrBadRequest, "protocol_version %q", base.ProtocolVersion)), true
	}
	switch base.Type {
	case protocol.TypeAct:
		var act protocol.ActMsg
		if err := json.Unmarshal(msg, &act); err != nil {
			return reject("", "", protocol.Errorf(protocol.ErrBadRequest, "malformed ACT: %v", err)), true
		}
		return s.handleAct(ctx, sess, act), true
	case protocol.TypeQuery:
		var q protocol.QueryMsg
		if err := json.Unmarshal(msg, &q); err != nil {
			return reject("", "", protocol.Errorf(protocol.ErrBadRequest, "malformed QUERY: %v", err)), true
		}
		return s.handleQuery(sess, q), true
	default:
		return protocol.ResultMsg{}, false
	}
}

func (s *Server) handleAct(ctx context.Context, sess Session, act protocol.ActMsg) protocol.ResultMsg {
	if engine.IsAdminOp(act.Op) && !sess.Admin {
		return reject(act.ReqID, act.Op, protocol.Errorf(protocol.ErrBadRequest, "%s requires an admin session", act.Op))
	}
	a, err := toAction(act, sess.Player)
	if err != nil {
		return reject(act.ReqID, act.Op, err)
	}
	res := s.engine.Apply(ctx, a)
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           act.ReqID,
		Op:              res.Op,
		OK:              res.OK,
		Code:            res.Code,
		Reason:          res.Reason,
		Data:            res.Data,
	}
}

func reject(reqID, op string, err error) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Op:              op,
		Code:            protocol.CodeOf(err),
		Reason:          protocol.ReasonOf(err),
	}
}

func accept(reqID, op string, data any) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Op:              op,
		OK:              true,
		Data:            data,
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
