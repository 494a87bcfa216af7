package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
	"arenaledger.gg/internal/sim/leaderboard"
)

var actOps = map[string]string{
	"publish":  engine.OpPublishRoot,
	"withdraw": engine.OpWithdraw,
	"rollover": engine.OpRolloverEpoch,
	"claim":    engine.OpClaim,
}

func actCmd(w io.Writer, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	url := fs.String("url", "ws://127.0.0.1:8080/v1/ws", "server ws url")
	token := fs.String("token", "", "admin token (or set ARENA_ADMIN_TOKEN env var)")
	player := fs.String("player", "admin", "base58 account, or a label to derive one from")
	distPath := fs.String("distribution", "", "distribution.json (publish, claim)")
	index := fs.Uint64("index", 0, "distribution index to claim")
	timeout := fs.Duration("timeout", 10*time.Second, "reply timeout")
	_ = fs.Parse(args)

	if *token == "" {
		*token = os.Getenv("ARENA_ADMIN_TOKEN")
	}
	addr, err := ids.ParseAddress(*player)
	if err != nil {
		addr = ids.DeriveAddress(*player)
	}

	act := protocol.ActMsg{Op: actOps[cmd]}
	if cmd == "publish" || cmd == "claim" {
		if *distPath == "" {
			return fmt.Errorf("missing --distribution")
		}
		d, err := leaderboard.ReadDistribution(*distPath)
		if err != nil {
			return err
		}
		if cmd == "publish" {
			act = publishAct(d)
		} else if act, err = claimAct(d, *index); err != nil {
			return err
		}
	}

	res, err := sendAct(*url, addr, *token, act, *timeout)
	if err != nil {
		return err
	}
	printJSON(w, res)
	if !res.OK {
		return fmt.Errorf("%s rejected: %s %s", act.Op, res.Code, res.Reason)
	}
	return nil
}

func publishAct(d leaderboard.Distribution) protocol.ActMsg {
	return protocol.ActMsg{
		Op:     engine.OpPublishRoot,
		Epoch:  d.Epoch,
		Root:   d.Root.String(),
		Amount: d.Total.String(),
	}
}

func claimAct(d leaderboard.Distribution, index uint64) (protocol.ActMsg, error) {
	c, ok := d.Find(index)
	if !ok {
		return protocol.ActMsg{}, fmt.Errorf("distribution has no index %d", index)
	}
	act := protocol.ActMsg{
		Op:      engine.OpClaim,
		Epoch:   c.Epoch,
		Index:   c.Index,
		Account: c.Account.String(),
		Amount:  c.Amount.String(),
	}
	for _, p := range c.Proof {
		act.Proof = append(act.Proof, p.String())
	}
	return act, nil
}

// sendAct opens a session, sends one ACT and waits for its RESULT.
func sendAct(url string, player ids.Address, token string, act protocol.ActMsg, timeout time.Duration) (protocol.ResultMsg, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return protocol.ResultMsg{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Player: player.String()}
	if token != "" {
		hello.Auth = &protocol.HelloAuth{Token: token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		return protocol.ResultMsg{}, fmt.Errorf("send HELLO: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := readType(conn, protocol.TypeWelcome, &welcome); err != nil {
		return protocol.ResultMsg{}, err
	}
	if engine.IsAdminOp(act.Op) && !welcome.Admin {
		return protocol.ResultMsg{}, fmt.Errorf("server did not grant an admin session; check --token")
	}

	act.Type = protocol.TypeAct
	act.ProtocolVersion = protocol.Version
	act.ReqID = "admin-" + welcome.SessionID
	if err := conn.WriteJSON(act); err != nil {
		return protocol.ResultMsg{}, fmt.Errorf("send ACT: %w", err)
	}
	for {
		var res protocol.ResultMsg
		if err := readType(conn, protocol.TypeResult, &res); err != nil {
			return protocol.ResultMsg{}, err
		}
		if res.ReqID == act.ReqID {
			return res, nil
		}
	}
}

// readType reads until a message of type typ arrives, skipping EVENTs.
func readType(conn *websocket.Conn, typ string, out any) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read %s: %w", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.Type == typ {
			return json.Unmarshal(msg, out)
		}
	}
}
