package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"arenaledger.gg/internal/persistence/snapshot"
	"arenaledger.gg/internal/sim/leaderboard"
)

const usage = `usage: admin <command> [flags]

commands:
  snapshots   list snapshots under <data>/snapshots
  db          query the read-model index (snapshots|totals|fights|roots|claims|stats)
  publish     publish a distribution root over /v1/ws (admin token)
  withdraw    sweep the developer pool to the treasury (admin token)
  rollover    move the next-epoch reserve into the prize pool (admin token)
  claim       claim one distribution entry over /v1/ws
  verify      check every proof of a distribution file offline
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "snapshots":
		err = snapshotsCmd(os.Stdout, args)
	case "db":
		err = dbCmd(os.Stdout, args)
	case "publish", "withdraw", "rollover", "claim":
		err = actCmd(os.Stdout, cmd, args)
	case "verify":
		err = verifyCmd(os.Stdout, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func snapshotsCmd(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		h, err := snapshot.ReadHeader(filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Fprintf(w, "%s\tunreadable: %v\n", e.Name(), err)
			continue
		}
		fmt.Fprintf(w, "%s\tseq=%d\ttaken_at=%s\n", e.Name(), h.Seq, h.TakenAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

func verifyCmd(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	path := fs.String("distribution", "", "distribution.json to check")
	_ = fs.Parse(args)
	if *path == "" {
		return fmt.Errorf("missing --distribution")
	}
	d, err := leaderboard.ReadDistribution(*path)
	if err != nil {
		return err
	}
	return verifyDistribution(w, d)
}

// verifyDistribution recomputes every leaf and checks its proof against the root.
func verifyDistribution(w io.Writer, d leaderboard.Distribution) error {
	bad := 0
	for _, c := range d.Claims {
		leaf, err := c.Entry.Leaf()
		if err != nil {
			return fmt.Errorf("claim %d: %w", c.Index, err)
		}
		if leaf != c.Leaf || !leaderboard.Verify(c.Proof, d.Root, leaf) {
			fmt.Fprintf(w, "claim %d (%s): invalid proof\n", c.Index, c.Account)
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d claims failed verification", bad, len(d.Claims))
	}
	fmt.Fprintf(w, "distribution ok: epoch=%d root=%s claims=%d total=%s\n", d.Epoch, d.Root, len(d.Claims), d.Total)
	return nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(w, string(b))
}
