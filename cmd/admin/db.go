package main

import (
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Epoch  uint64
	Player string
	Limit  int
}

func dbCmd(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/arena.sqlite)")
	epoch := fs.Uint64("epoch", 0, "epoch filter (totals, fights, claims)")
	player := fs.String("player", "", "player filter (fights)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "arena.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()
	return runQuery(w, db, q, dbQuery{Epoch: *epoch, Player: *player, Limit: *limit})
}

func runQuery(w io.Writer, db *sql.DB, q string, opts dbQuery) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT seq,path,taken_at,characters,roots,catalog_digest FROM snapshots ORDER BY seq DESC LIMIT ?`, opts.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq           int64  `json:"seq"`
				Path          string `json:"path"`
				TakenAt       string `json:"taken_at"`
				Characters    int    `json:"characters"`
				Roots         int    `json:"roots"`
				CatalogDigest string `json:"catalog_digest"`
			}
			if err := rows.Scan(&r.Seq, &r.Path, &r.TakenAt, &r.Characters, &r.Roots, &r.CatalogDigest); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "totals":
		rows, err := db.Query(`SELECT player,score,fights,kills FROM epoch_scores WHERE epoch=? ORDER BY score DESC, player ASC LIMIT ?`, int64(opts.Epoch), opts.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		rank := 0
		for rows.Next() {
			rank++
			var r struct {
				Rank   int    `json:"rank"`
				Player string `json:"player"`
				Score  int64  `json:"score"`
				Fights int    `json:"fights"`
				Kills  int    `json:"kills"`
			}
			if err := rows.Scan(&r.Player, &r.Score, &r.Fights, &r.Kills); err != nil {
				return err
			}
			r.Rank = rank
			printJSON(w, r)
		}
		return rows.Err()

	case "fights":
		query := `SELECT player,enemy_id,enemy_level,outcome,score,rounds,drop_value,at FROM fights WHERE epoch=?`
		params := []any{int64(opts.Epoch)}
		if opts.Player != "" {
			query += ` AND player=?`
			params = append(params, opts.Player)
		}
		query += ` ORDER BY id DESC LIMIT ?`
		params = append(params, opts.Limit)
		rows, err := db.Query(query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Player     string `json:"player"`
				EnemyID    int    `json:"enemy_id"`
				EnemyLevel int    `json:"enemy_level"`
				Outcome    string `json:"outcome"`
				Score      int64  `json:"score"`
				Rounds     int    `json:"rounds"`
				Drop       string `json:"drop_value"`
				At         string `json:"at"`
			}
			if err := rows.Scan(&r.Player, &r.EnemyID, &r.EnemyLevel, &r.Outcome, &r.Score, &r.Rounds, &r.Drop, &r.At); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "roots":
		rows, err := db.Query(`SELECT epoch,root,total_funded,dispute_window_end,published_at,revisions FROM roots ORDER BY epoch DESC LIMIT ?`, opts.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Epoch            int64  `json:"epoch"`
				Root             string `json:"root"`
				TotalFunded      string `json:"total_funded"`
				DisputeWindowEnd string `json:"dispute_window_end"`
				PublishedAt      string `json:"published_at"`
				Revisions        int    `json:"revisions"`
			}
			if err := rows.Scan(&r.Epoch, &r.Root, &r.TotalFunded, &r.DisputeWindowEnd, &r.PublishedAt, &r.Revisions); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "claims":
		rows, err := db.Query(`SELECT idx,account,amount,at FROM claims WHERE epoch=? ORDER BY idx LIMIT ?`, int64(opts.Epoch), opts.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Index   int64  `json:"index"`
				Account string `json:"account"`
				Amount  string `json:"amount"`
				At      string `json:"at"`
			}
			if err := rows.Scan(&r.Index, &r.Account, &r.Amount, &r.At); err != nil {
				return err
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "stats":
		var r struct {
			Fights     int64  `json:"fights"`
			Players    int64  `json:"players"`
			Roots      int64  `json:"roots"`
			Claims     int64  `json:"claims"`
			Snapshots  int64  `json:"snapshots"`
			CatalogSHA string `json:"catalog_digest"`
		}
		for _, c := range []struct {
			dst   *int64
			query string
		}{
			{&r.Fights, `SELECT COUNT(*) FROM fights`},
			{&r.Players, `SELECT COUNT(DISTINCT player) FROM epoch_scores`},
			{&r.Roots, `SELECT COUNT(*) FROM roots`},
			{&r.Claims, `SELECT COUNT(*) FROM claims`},
			{&r.Snapshots, `SELECT COUNT(*) FROM snapshots`},
		} {
			if err := db.QueryRow(c.query).Scan(c.dst); err != nil {
				return err
			}
		}
		_ = db.QueryRow(`SELECT value FROM meta WHERE key='catalog_digest'`).Scan(&r.CatalogSHA)
		printJSON(w, r)
		return nil

	default:
		return fmt.Errorf("unknown query %q", q)
	}
}
