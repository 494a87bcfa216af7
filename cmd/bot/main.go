package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"

	"arenaledger.gg/internal/logger"
	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/engine"
	"arenaledger.gg/internal/sim/ids"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	urlFlag := flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
	nameFlag := flag.String("name", "bot", "label the bot's account is derived from")
	classFlag := flag.Uint8("class", 0, "class id for a new character")
	enemyFlag := flag.Uint16("enemy", 1, "enemy id to fight")
	levelFlag := flag.Uint8("level", 1, "enemy level")
	intervalFlag := flag.Duration("interval", 500*time.Millisecond, "delay between actions")
	flag.Parse()

	log := logger.New(*verboseFlag)
	player := ids.DeriveAddress(*nameFlag)

	conn, _, err := websocket.DefaultDialer.Dial(*urlFlag, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Player:          player.String(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	var (
		params protocol.ArenaParams
		seq    int
	)
	send := func(op string) error {
		seq++
		act := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			ReqID:           fmt.Sprintf("bot-%d", seq),
			Op:              op,
		}
		switch op {
		case engine.OpCreateCharacter:
			act.Class = *classFlag
			act.Fee = params.CreateFee
		case engine.OpFightEnemy:
			act.EnemyID = *enemyFlag
			act.EnemyLevel = *levelFlag
		case engine.OpHeal:
			act.Fee = params.HealFee
		case engine.OpResurrect:
			act.Fee = params.ResurrectFee
		}
		return conn.WriteJSON(act)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			params = w.Params
			log.Info("welcome", "session", w.SessionID, "player", w.Player, "epoch", w.Params.CurrentEpoch)
			if err := send(engine.OpCreateCharacter); err != nil {
				return err
			}

		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil {
				continue
			}
			if !res.OK {
				log.Debug("rejected", "op", res.Op, "code", res.Code, "reason", res.Reason)
			}
			time.Sleep(*intervalFlag)
			if err := send(nextOp(res)); err != nil {
				return err
			}

		case protocol.TypeEvent:
			var ev protocol.EventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Kind == protocol.EventFightResolved {
				var fr engine.FightResolved
				raw, _ := json.Marshal(ev.Data)
				if json.Unmarshal(raw, &fr) == nil {
					log.Info("fight resolved", "outcome", fr.Outcome, "score", fr.FightScore, "rounds", fr.Rounds)
				}
			}
		}
	}
}
