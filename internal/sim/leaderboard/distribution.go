package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	sdkmath "cosmossdk.io/math"
	"golang.org/x/sync/errgroup"

	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/epoch"
)

// Claim is one entry of a distribution together with its proof.
type Claim struct {
	Entry
	Leaf  Hash   `json:"leaf"`
	Proof []Hash `json:"proof"`
}

// Distribution is the off-engine artifact published alongside a root.
type Distribution struct {
	Epoch  uint64      `json:"epoch"`
	Root   Hash        `json:"root"`
	Total  sdkmath.Int `json:"total"`
	Claims []Claim     `json:"claims"`
}

// Find returns the claim at index.
func (d *Distribution) Find(index uint64) (Claim, bool) {
	for _, c := range d.Claims {
		if c.Index == index {
			return c, true
		}
	}
	return Claim{}, false
}

// Builder turns ranked epoch scores into a Merkle distribution. Place i of
// the ranking receives SplitBP[i] of the pot; players past the table, with a
// zero score or with a zero payout get nothing.
type Builder struct {
	SplitBP []uint32
	// Workers bounds concurrent leaf hashing; <=0 means GOMAXPROCS.
	Workers int
}

func (b Builder) validate() error {
	var sum uint64
	for _, bp := range b.SplitBP {
		sum += uint64(bp)
	}
	if len(b.SplitBP) == 0 {
		return fmt.Errorf("builder: empty prize split")
	}
	if sum > amount.BPS {
		return fmt.Errorf("builder: prize split sums to %d bp (> %d)", sum, amount.BPS)
	}
	return nil
}

func (b Builder) Build(ctx context.Context, ep uint64, scores []epoch.PlayerScore, pot sdkmath.Int) (Distribution, error) {
	if err := b.validate(); err != nil {
		return Distribution{}, err
	}
	pot = amount.OrZero(pot)
	if !pot.IsPositive() {
		return Distribution{}, fmt.Errorf("builder: pot must be positive")
	}
	ranked := append([]epoch.PlayerScore(nil), scores...)
	epoch.Rank(ranked)

	d := Distribution{Epoch: ep, Total: amount.Zero()}
	for i, ps := range ranked {
		if i >= len(b.SplitBP) {
			break
		}
		if ps.Score == 0 {
			continue
		}
		amt := amount.MulBP(pot, b.SplitBP[i])
		if !amt.IsPositive() {
			continue
		}
		d.Claims = append(d.Claims, Claim{Entry: Entry{
			Epoch:   ep,
			Index:   uint64(len(d.Claims)),
			Account: ps.Player,
			Amount:  amt,
		}})
		d.Total = d.Total.Add(amt)
	}
	if len(d.Claims) == 0 {
		return Distribution{}, fmt.Errorf("builder: epoch %d has no eligible players", ep)
	}

	leaves := make([]Hash, len(d.Claims))
	g, gctx := errgroup.WithContext(ctx)
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i := range d.Claims {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			leaf, err := d.Claims[i].Entry.Leaf()
			if err != nil {
				return err
			}
			leaves[i] = leaf
			d.Claims[i].Leaf = leaf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Distribution{}, err
	}

	tree, err := BuildTree(leaves)
	if err != nil {
		return Distribution{}, err
	}
	d.Root = tree.Root()
	for i := range d.Claims {
		p, err := tree.Proof(i)
		if err != nil {
			return Distribution{}, err
		}
		d.Claims[i].Proof = p
	}
	return d, nil
}

func WriteDistribution(path string, d Distribution) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func ReadDistribution(path string) (Distribution, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Distribution{}, err
	}
	var d Distribution
	if err := json.Unmarshal(b, &d); err != nil {
		return Distribution{}, fmt.Errorf("distribution %s: %w", path, err)
	}
	return d, nil
}
