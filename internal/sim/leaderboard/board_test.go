package leaderboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/ids"
)

type fixture struct {
	entries []Entry
	proofs  [][]Hash
	root    Hash
	total   sdkmath.Int
}

func newFixture(t *testing.T, n int) fixture {
	t.Helper()
	es := testEntries(n)
	leaves := leavesOf(t, es)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)
	f := fixture{entries: es, root: tree.Root(), total: amount.Zero()}
	for i := range es {
		p, err := tree.Proof(i)
		require.NoError(t, err)
		f.proofs = append(f.proofs, p)
		f.total = f.total.Add(es[i].Amount)
	}
	return f
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func noopFund(sdkmath.Int, sdkmath.Int) error { return nil }

func TestClaimLifecycle(t *testing.T) {
	f := newFixture(t, 4)
	b := NewBoard(time.Hour)
	ctx := context.Background()

	require.Equal(t, PhaseUnpublished, b.Phase(4, t0))
	err := b.Claim(ctx, f.entries[0], f.proofs[0], t0, nil)
	require.Equal(t, protocol.ErrNoRoot, protocol.CodeOf(err))

	_, err = b.Publish(4, f.root, f.total, t0, noopFund)
	require.NoError(t, err)
	require.Equal(t, PhaseDisputeWindow, b.Phase(4, t0.Add(time.Minute)))

	err = b.Claim(ctx, f.entries[0], f.proofs[0], t0.Add(59*time.Minute), nil)
	require.Equal(t, protocol.ErrDisputeWindow, protocol.CodeOf(err))

	after := t0.Add(time.Hour)
	require.Equal(t, PhaseClaimable, b.Phase(4, after))

	var paid []sdkmath.Int
	pay := func(_ context.Context, acct ids.Address, amt sdkmath.Int) error {
		require.Equal(t, f.entries[0].Account, acct)
		paid = append(paid, amt)
		return nil
	}
	require.NoError(t, b.Claim(ctx, f.entries[0], f.proofs[0], after, pay))
	require.True(t, b.IsClaimed(4, 0))
	require.False(t, b.IsClaimed(4, 1))
	require.Len(t, paid, 1)

	err = b.Claim(ctx, f.entries[0], f.proofs[0], after, pay)
	require.Equal(t, protocol.ErrAlreadyClaimed, protocol.CodeOf(err))
	require.Len(t, paid, 1)

	r, ok := b.Root(4)
	require.True(t, ok)
	require.True(t, r.Reserve.Equal(f.total.Sub(f.entries[0].Amount)))
	require.Equal(t, []uint64{0}, r.Claimed)
}

func TestClaimRejectsForgedEntries(t *testing.T) {
	f := newFixture(t, 3)
	b := NewBoard(0)
	_, err := b.Publish(4, f.root, f.total, t0, noopFund)
	require.NoError(t, err)
	ctx := context.Background()

	inflated := f.entries[1]
	inflated.Amount = inflated.Amount.MulRaw(2)
	err = b.Claim(ctx, inflated, f.proofs[1], t0, nil)
	require.Equal(t, protocol.ErrInvalidProof, protocol.CodeOf(err))

	stolen := f.entries[1]
	stolen.Account = ids.DeriveAddress("thief")
	err = b.Claim(ctx, stolen, f.proofs[1], t0, nil)
	require.Equal(t, protocol.ErrInvalidProof, protocol.CodeOf(err))

	otherEpoch := f.entries[1]
	otherEpoch.Epoch = 5
	err = b.Claim(ctx, otherEpoch, f.proofs[1], t0, nil)
	require.Equal(t, protocol.ErrNoRoot, protocol.CodeOf(err))

	zero := f.entries[1]
	zero.Amount = amount.Zero()
	err = b.Claim(ctx, zero, f.proofs[1], t0, nil)
	require.Equal(t, protocol.ErrBadAmount, protocol.CodeOf(err))

	require.False(t, b.IsClaimed(4, 1))
}

func TestClaimTransferFailureIsRetryable(t *testing.T) {
	f := newFixture(t, 2)
	b := NewBoard(0)
	_, err := b.Publish(4, f.root, f.total, t0, noopFund)
	require.NoError(t, err)
	ctx := context.Background()

	fail := func(context.Context, ids.Address, sdkmath.Int) error { return errors.New("rpc down") }
	err = b.Claim(ctx, f.entries[1], f.proofs[1], t0, fail)
	require.Equal(t, protocol.ErrTransferFailed, protocol.CodeOf(err))
	require.False(t, b.IsClaimed(4, 1))
	r, _ := b.Root(4)
	require.True(t, r.Reserve.Equal(f.total))

	require.NoError(t, b.Claim(ctx, f.entries[1], f.proofs[1], t0, nil))
	require.True(t, b.IsClaimed(4, 1))
}

func TestConcurrentClaimPaysOnce(t *testing.T) {
	f := newFixture(t, 2)
	b := NewBoard(0)
	_, err := b.Publish(4, f.root, f.total, t0, noopFund)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	pay := func(context.Context, ids.Address, sdkmath.Int) error {
		close(entered)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = b.Claim(context.Background(), f.entries[0], f.proofs[0], t0, pay)
	}()
	<-entered
	err = b.Claim(context.Background(), f.entries[0], f.proofs[0], t0, nil)
	require.Equal(t, protocol.ErrClaimInProgress, protocol.CodeOf(err))
	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	err = b.Claim(context.Background(), f.entries[0], f.proofs[0], t0, nil)
	require.Equal(t, protocol.ErrAlreadyClaimed, protocol.CodeOf(err))
}

func TestPublishSupersedeRules(t *testing.T) {
	f := newFixture(t, 2)
	g := newFixture(t, 3)
	b := NewBoard(time.Hour)

	type call struct{ refund, charge sdkmath.Int }
	var calls []call
	fund := func(refund, charge sdkmath.Int) error {
		calls = append(calls, call{refund, charge})
		return nil
	}

	_, err := b.Publish(4, f.root, f.total, t0, fund)
	require.NoError(t, err)
	require.True(t, calls[0].refund.IsZero())
	require.True(t, calls[0].charge.Equal(f.total))

	_, err = b.Publish(4, g.root, g.total, t0.Add(10*time.Minute), fund)
	require.NoError(t, err)
	require.True(t, calls[1].refund.Equal(f.total))
	require.True(t, calls[1].charge.Equal(g.total))
	r, _ := b.Root(4)
	require.Equal(t, g.root, r.Root)
	require.Equal(t, t0.Add(70*time.Minute), r.DisputeWindowEnd)

	_, err = b.Publish(4, f.root, f.total, t0.Add(70*time.Minute), fund)
	require.Equal(t, protocol.ErrRootExists, protocol.CodeOf(err))
	require.Len(t, calls, 2)
}

func TestPublishAfterClaimRejected(t *testing.T) {
	f := newFixture(t, 2)
	b := NewBoard(0)
	_, err := b.Publish(4, f.root, f.total, t0, noopFund)
	require.NoError(t, err)
	require.NoError(t, b.Claim(context.Background(), f.entries[0], f.proofs[0], t0, nil))
	_, err = b.Publish(4, f.root, f.total, t0, noopFund)
	require.Equal(t, protocol.ErrRootExists, protocol.CodeOf(err))
}

func TestPublishFundingFailureLeavesBoardUnchanged(t *testing.T) {
	f := newFixture(t, 2)
	b := NewBoard(time.Hour)
	_, err := b.Publish(4, f.root, f.total, t0, func(sdkmath.Int, sdkmath.Int) error {
		return protocol.Errorf(protocol.ErrInsufficientPool, "empty")
	})
	require.Equal(t, protocol.ErrInsufficientPool, protocol.CodeOf(err))
	_, ok := b.Root(4)
	require.False(t, ok)

	_, err = b.Publish(4, f.root, amount.Zero(), t0, noopFund)
	require.Equal(t, protocol.ErrBadAmount, protocol.CodeOf(err))
	_, err = b.Publish(4, Hash{}, f.total, t0, noopFund)
	require.Equal(t, protocol.ErrBadRequest, protocol.CodeOf(err))
}

func TestRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, 3)
	b := NewBoard(0)
	_, err := b.Publish(4, f.root, f.total, t0, noopFund)
	require.NoError(t, err)
	require.NoError(t, b.Claim(context.Background(), f.entries[2], f.proofs[2], t0, nil))

	c := NewBoard(0)
	c.Restore(b.Roots())
	require.True(t, c.IsClaimed(4, 2))
	err = c.Claim(context.Background(), f.entries[2], f.proofs[2], t0, nil)
	require.Equal(t, protocol.ErrAlreadyClaimed, protocol.CodeOf(err))
	_, err = c.Publish(4, f.root, f.total, t0, noopFund)
	require.Equal(t, protocol.ErrRootExists, protocol.CodeOf(err))
}
