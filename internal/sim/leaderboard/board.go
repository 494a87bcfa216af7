package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/ids"
)

type Phase int

const (
	PhaseUnpublished Phase = iota
	PhaseDisputeWindow
	PhaseClaimable
)

func (p Phase) String() string {
	switch p {
	case PhaseDisputeWindow:
		return "DISPUTE_WINDOW"
	case PhaseClaimable:
		return "CLAIMABLE"
	default:
		return "UNPUBLISHED"
	}
}

// EpochRoot is the exported view of one published epoch.
type EpochRoot struct {
	Epoch            uint64      `json:"epoch"`
	Root             Hash        `json:"root"`
	TotalFunded      sdkmath.Int `json:"total_funded"`
	Reserve          sdkmath.Int `json:"reserve"`
	PublishedAt      time.Time   `json:"published_at"`
	DisputeWindowEnd time.Time   `json:"dispute_window_end"`
	Claimed          []uint64    `json:"claimed,omitempty"`
}

type epochState struct {
	root             Hash
	totalFunded      sdkmath.Int
	reserve          sdkmath.Int
	publishedAt      time.Time
	disputeWindowEnd time.Time
	claimed          map[uint64]uint64 // bitmap: index/64 -> word
	claimCount       int
	inflight         map[uint64]sdkmath.Int
}

func (s *epochState) isClaimed(index uint64) bool {
	return s.claimed[index/64]&(1<<(index%64)) != 0
}

func (s *epochState) markClaimed(index uint64) {
	s.claimed[index/64] |= 1 << (index % 64)
	s.claimCount++
}

func (s *epochState) claimedIndexes() []uint64 {
	var out []uint64
	for w, bits := range s.claimed {
		for b := uint64(0); b < 64; b++ {
			if bits&(1<<b) != 0 {
				out = append(out, w*64+b)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// view reports in-flight claims as still reserved; they either finish or
// roll back.
func (s *epochState) view(epoch uint64) EpochRoot {
	reserve := s.reserve
	for _, amt := range s.inflight {
		reserve = reserve.Add(amt)
	}
	return EpochRoot{
		Epoch:            epoch,
		Root:             s.root,
		TotalFunded:      s.totalFunded,
		Reserve:          reserve,
		PublishedAt:      s.publishedAt,
		DisputeWindowEnd: s.disputeWindowEnd,
		Claimed:          s.claimedIndexes(),
	}
}

// FundFunc moves prize funds into an epoch reserve: refund goes back to the
// prize pool first, then charge is debited. It must be all-or-nothing.
type FundFunc func(refund, charge sdkmath.Int) error

// PayFunc performs the external transfer for a claim.
type PayFunc func(ctx context.Context, account ids.Address, amt sdkmath.Int) error

// Board tracks published roots and claim bitmaps per epoch.
type Board struct {
	mu            sync.Mutex
	disputeWindow time.Duration
	epochs        map[uint64]*epochState
}

func NewBoard(disputeWindow time.Duration) *Board {
	return &Board{disputeWindow: disputeWindow, epochs: map[uint64]*epochState{}}
}

func (b *Board) DisputeWindow() time.Duration { return b.disputeWindow }

func (b *Board) Phase(epoch uint64, now time.Time) Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.epochs[epoch]
	switch {
	case s == nil:
		return PhaseUnpublished
	case now.Before(s.disputeWindowEnd):
		return PhaseDisputeWindow
	default:
		return PhaseClaimable
	}
}

// Publish records root for epoch. A root may be replaced while its dispute
// window is open and nothing has been claimed; the previous funding is
// refunded through fund in the same call.
func (b *Board) Publish(epoch uint64, root Hash, total sdkmath.Int, now time.Time, fund FundFunc) (EpochRoot, error) {
	total = amount.OrZero(total)
	if !total.IsPositive() {
		return EpochRoot{}, protocol.Errorf(protocol.ErrBadAmount, "total funded must be positive")
	}
	if root.IsZero() {
		return EpochRoot{}, protocol.Errorf(protocol.ErrBadRequest, "empty root")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	refund := amount.Zero()
	if prev := b.epochs[epoch]; prev != nil {
		if prev.claimCount > 0 || len(prev.inflight) > 0 {
			return EpochRoot{}, protocol.Errorf(protocol.ErrRootExists, "epoch %d already has claims", epoch)
		}
		if !now.Before(prev.disputeWindowEnd) {
			return EpochRoot{}, protocol.Errorf(protocol.ErrRootExists, "epoch %d dispute window closed", epoch)
		}
		refund = prev.reserve
	}
	if fund != nil {
		if err := fund(refund, total); err != nil {
			return EpochRoot{}, err
		}
	}
	s := &epochState{
		root:             root,
		totalFunded:      total,
		reserve:          total,
		publishedAt:      now,
		disputeWindowEnd: now.Add(b.disputeWindow),
		claimed:          map[uint64]uint64{},
		inflight:         map[uint64]sdkmath.Int{},
	}
	b.epochs[epoch] = s
	return s.view(epoch), nil
}

// Claim verifies e against the epoch root and pays it out. The index is
// marked in flight while pay runs outside the lock; a failed transfer
// restores the reserve and leaves the index claimable.
func (b *Board) Claim(ctx context.Context, e Entry, proof []Hash, now time.Time, pay PayFunc) error {
	e.Amount = amount.OrZero(e.Amount)
	if !e.Amount.IsPositive() {
		return protocol.Errorf(protocol.ErrBadAmount, "claim amount must be positive")
	}
	leaf, err := e.Leaf()
	if err != nil {
		return protocol.Wrap(protocol.ErrBadAmount, err, "claim amount")
	}

	b.mu.Lock()
	s := b.epochs[e.Epoch]
	switch {
	case s == nil:
		b.mu.Unlock()
		return protocol.Errorf(protocol.ErrNoRoot, "epoch %d has no root", e.Epoch)
	case now.Before(s.disputeWindowEnd):
		b.mu.Unlock()
		return protocol.Errorf(protocol.ErrDisputeWindow, "epoch %d claimable at %s", e.Epoch, s.disputeWindowEnd.UTC().Format(time.RFC3339))
	case s.isClaimed(e.Index):
		b.mu.Unlock()
		return protocol.Errorf(protocol.ErrAlreadyClaimed, "epoch %d index %d", e.Epoch, e.Index)
	}
	if _, busy := s.inflight[e.Index]; busy {
		b.mu.Unlock()
		return protocol.Errorf(protocol.ErrClaimInProgress, "epoch %d index %d", e.Epoch, e.Index)
	}
	if !Verify(proof, s.root, leaf) {
		b.mu.Unlock()
		return protocol.Errorf(protocol.ErrInvalidProof, "epoch %d index %d", e.Epoch, e.Index)
	}
	if s.reserve.LT(e.Amount) {
		b.mu.Unlock()
		return protocol.Errorf(protocol.ErrInsufficientPool, "epoch %d reserve %s < %s", e.Epoch, s.reserve, e.Amount)
	}
	s.inflight[e.Index] = e.Amount
	s.reserve = s.reserve.Sub(e.Amount)
	b.mu.Unlock()

	var payErr error
	if pay != nil {
		payErr = pay(ctx, e.Account, e.Amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(s.inflight, e.Index)
	if payErr != nil {
		s.reserve = s.reserve.Add(e.Amount)
		return protocol.Wrap(protocol.ErrTransferFailed, payErr, "claim transfer")
	}
	s.markClaimed(e.Index)
	return nil
}

func (b *Board) IsClaimed(epoch, index uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.epochs[epoch]
	return s != nil && s.isClaimed(index)
}

func (b *Board) Root(epoch uint64) (EpochRoot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.epochs[epoch]
	if s == nil {
		return EpochRoot{}, false
	}
	return s.view(epoch), true
}

// Roots returns every published epoch in ascending order.
func (b *Board) Roots() []EpochRoot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EpochRoot, 0, len(b.epochs))
	for ep, s := range b.epochs {
		out = append(out, s.view(ep))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}

// Restore replaces all epochs with roots, as exported by Roots.
func (b *Board) Restore(roots []EpochRoot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epochs = make(map[uint64]*epochState, len(roots))
	for _, r := range roots {
		s := &epochState{
			root:             r.Root,
			totalFunded:      amount.OrZero(r.TotalFunded),
			reserve:          amount.OrZero(r.Reserve),
			publishedAt:      r.PublishedAt,
			disputeWindowEnd: r.DisputeWindowEnd,
			claimed:          map[uint64]uint64{},
			inflight:         map[uint64]sdkmath.Int{},
		}
		for _, idx := range r.Claimed {
			s.markClaimed(idx)
		}
		b.epochs[r.Epoch] = s
	}
}
