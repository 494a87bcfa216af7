// Package treasury splits incoming fees into the six reward pools and owns
// their balances.
package treasury

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/protocol"
	"arenaledger.gg/internal/sim/amount"
)

type Pool int

const (
	PoolDeveloper Pool = iota
	PoolPrize
	PoolGasRefund
	PoolEquipment
	PoolNextEpoch
	PoolEmergency
)

var poolNames = [...]string{"developer", "prize", "gas_refund", "equipment", "next_epoch", "emergency"}

func (p Pool) String() string {
	if p < 0 || int(p) >= len(poolNames) {
		return fmt.Sprintf("pool(%d)", int(p))
	}
	return poolNames[p]
}

func ParsePool(name string) (Pool, bool) {
	for i, n := range poolNames {
		if n == name {
			return Pool(i), true
		}
	}
	return 0, false
}

// AllPools lists pools in their canonical order.
func AllPools() []Pool {
	return []Pool{PoolDeveloper, PoolPrize, PoolGasRefund, PoolEquipment, PoolNextEpoch, PoolEmergency}
}

// Ratios describe the split. Developer is taken off the top; the other five
// split the remainder and must sum to 10000.
type Ratios struct {
	DeveloperBP uint32 `json:"developer_bp" yaml:"developer_bp"`
	PrizeBP     uint32 `json:"prize_bp" yaml:"prize_bp"`
	GasRefundBP uint32 `json:"gas_refund_bp" yaml:"gas_refund_bp"`
	EquipmentBP uint32 `json:"equipment_bp" yaml:"equipment_bp"`
	NextEpochBP uint32 `json:"next_epoch_bp" yaml:"next_epoch_bp"`
	EmergencyBP uint32 `json:"emergency_bp" yaml:"emergency_bp"`
}

func DefaultRatios() Ratios {
	return Ratios{DeveloperBP: 2000, PrizeBP: 6000, GasRefundBP: 1500, EquipmentBP: 1000, NextEpochBP: 1000, EmergencyBP: 500}
}

func (r Ratios) Validate() error {
	if r.DeveloperBP > amount.BPS {
		return fmt.Errorf("developer_bp %d exceeds 10000", r.DeveloperBP)
	}
	sum := uint64(r.PrizeBP) + uint64(r.GasRefundBP) + uint64(r.EquipmentBP) + uint64(r.NextEpochBP) + uint64(r.EmergencyBP)
	if sum != amount.BPS {
		return fmt.Errorf("pool ratios sum to %d, want 10000", sum)
	}
	return nil
}

// Balances is one value per pool. It doubles as an allocation (pool deltas).
type Balances struct {
	Developer sdkmath.Int `json:"developer"`
	Prize     sdkmath.Int `json:"prize"`
	GasRefund sdkmath.Int `json:"gas_refund"`
	Equipment sdkmath.Int `json:"equipment"`
	NextEpoch sdkmath.Int `json:"next_epoch"`
	Emergency sdkmath.Int `json:"emergency"`
}

func ZeroBalances() Balances {
	z := sdkmath.ZeroInt()
	return Balances{Developer: z, Prize: z, GasRefund: z, Equipment: z, NextEpoch: z, Emergency: z}
}

func (b *Balances) ptr(p Pool) *sdkmath.Int {
	switch p {
	case PoolDeveloper:
		return &b.Developer
	case PoolPrize:
		return &b.Prize
	case PoolGasRefund:
		return &b.GasRefund
	case PoolEquipment:
		return &b.Equipment
	case PoolNextEpoch:
		return &b.NextEpoch
	case PoolEmergency:
		return &b.Emergency
	}
	panic(fmt.Sprintf("unknown pool %d", int(p)))
}

func (b Balances) Get(p Pool) sdkmath.Int { return amount.OrZero(*b.ptr(p)) }

func (b *Balances) Set(p Pool, v sdkmath.Int) { *b.ptr(p) = amount.OrZero(v) }

func (b Balances) Total() sdkmath.Int {
	t := sdkmath.ZeroInt()
	for _, p := range AllPools() {
		t = t.Add(b.Get(p))
	}
	return t
}

func (b Balances) add(o Balances) Balances {
	out := ZeroBalances()
	for _, p := range AllPools() {
		*out.ptr(p) = b.Get(p).Add(o.Get(p))
	}
	return out
}

// Split divides fee by the ratios. The six parts sum exactly to fee; integer
// remainders are assigned to the developer pool.
func Split(fee sdkmath.Int, r Ratios) (Balances, error) {
	if fee.IsNil() || fee.IsNegative() {
		return Balances{}, protocol.Errorf(protocol.ErrBadAmount, "fee must be non-negative")
	}
	if err := r.Validate(); err != nil {
		return Balances{}, protocol.Wrap(protocol.ErrInternal, err, "bad fee ratios")
	}
	out := ZeroBalances()
	rest := fee.Sub(amount.MulBP(fee, r.DeveloperBP))
	out.Prize = amount.MulBP(rest, r.PrizeBP)
	out.GasRefund = amount.MulBP(rest, r.GasRefundBP)
	out.Equipment = amount.MulBP(rest, r.EquipmentBP)
	out.NextEpoch = amount.MulBP(rest, r.NextEpochBP)
	out.Emergency = amount.MulBP(rest, r.EmergencyBP)
	out.Developer = fee.Sub(out.Prize).Sub(out.GasRefund).Sub(out.Equipment).Sub(out.NextEpoch).Sub(out.Emergency)
	return out, nil
}

// Treasury is the single owner of pool balances. Every method applies fully
// or not at all.
type Treasury struct {
	mu       sync.Mutex
	ratios   Ratios
	balances Balances
}

// New returns an empty treasury that splits fees by r.
func New(r Ratios) (*Treasury, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Treasury{ratios: r, balances: ZeroBalances()}, nil
}

func (t *Treasury) Ratios() Ratios { return t.ratios }

// Allocate splits fee and credits every pool.
func (t *Treasury) Allocate(fee sdkmath.Int) (Balances, error) {
	alloc, err := Split(fee, t.ratios)
	if err != nil {
		return Balances{}, err
	}
	t.mu.Lock()
	t.balances = t.balances.add(alloc)
	t.mu.Unlock()
	return alloc, nil
}

func (t *Treasury) Balances() Balances {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances.add(ZeroBalances())
}

func (t *Treasury) Balance(p Pool) sdkmath.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances.Get(p)
}

// Restore replaces all balances, for snapshot import.
func (t *Treasury) Restore(b Balances) {
	t.mu.Lock()
	t.balances = ZeroBalances().add(b)
	t.mu.Unlock()
}

func (t *Treasury) Credit(p Pool, v sdkmath.Int) error {
	if v.IsNil() || v.IsNegative() {
		return protocol.Errorf(protocol.ErrBadAmount, "credit must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	*t.balances.ptr(p) = t.balances.Get(p).Add(v)
	return nil
}

func (t *Treasury) Debit(p Pool, v sdkmath.Int) error {
	if v.IsNil() || v.IsNegative() {
		return protocol.Errorf(protocol.ErrBadAmount, "debit must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.balances.Get(p)
	if cur.LT(v) {
		return protocol.Errorf(protocol.ErrInsufficientPool, "%s pool holds %s, need %s", p, cur, v)
	}
	*t.balances.ptr(p) = cur.Sub(v)
	return nil
}

// Move transfers v between pools in one step.
func (t *Treasury) Move(from, to Pool, v sdkmath.Int) error {
	if v.IsNil() || v.IsNegative() {
		return protocol.Errorf(protocol.ErrBadAmount, "move must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.balances.Get(from)
	if cur.LT(v) {
		return protocol.Errorf(protocol.ErrInsufficientPool, "%s pool holds %s, need %s", from, cur, v)
	}
	*t.balances.ptr(from) = cur.Sub(v)
	*t.balances.ptr(to) = t.balances.Get(to).Add(v)
	return nil
}

// Exchange refunds refund into p and then debits charge from it, atomically.
// Used when a published epoch is re-funded by a superseding root.
func (t *Treasury) Exchange(p Pool, refund, charge sdkmath.Int) error {
	refund, charge = amount.OrZero(refund), amount.OrZero(charge)
	if refund.IsNegative() || charge.IsNegative() {
		return protocol.Errorf(protocol.ErrBadAmount, "amounts must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	avail := t.balances.Get(p).Add(refund)
	if avail.LT(charge) {
		return protocol.Errorf(protocol.ErrInsufficientPool, "%s pool holds %s, need %s", p, avail, charge)
	}
	*t.balances.ptr(p) = avail.Sub(charge)
	return nil
}

// Withdrawal is the result of draining the developer and emergency pools.
type Withdrawal struct {
	Developer sdkmath.Int `json:"developer"`
	Emergency sdkmath.Int `json:"emergency"`
	Total     sdkmath.Int `json:"total"`
}

// Withdraw drains developer+emergency through pay. The prize pool is never
// touched. Both pools are zeroed under the lock and pay runs outside it, so
// fee allocation is never blocked on the transfer. If pay fails, the drained
// amounts are credited back.
func (t *Treasury) Withdraw(pay func(total sdkmath.Int) error) (Withdrawal, error) {
	t.mu.Lock()
	w := Withdrawal{
		Developer: t.balances.Get(PoolDeveloper),
		Emergency: t.balances.Get(PoolEmergency),
	}
	w.Total = w.Developer.Add(w.Emergency)
	if w.Total.IsZero() {
		t.mu.Unlock()
		return w, protocol.Errorf(protocol.ErrInsufficientPool, "nothing to withdraw")
	}
	t.balances.Developer = sdkmath.ZeroInt()
	t.balances.Emergency = sdkmath.ZeroInt()
	t.mu.Unlock()

	if err := pay(w.Total); err != nil {
		t.mu.Lock()
		t.balances.Developer = t.balances.Developer.Add(w.Developer)
		t.balances.Emergency = t.balances.Emergency.Add(w.Emergency)
		t.mu.Unlock()
		return Withdrawal{}, protocol.Wrap(protocol.ErrTransferFailed, err, "treasury withdrawal")
	}
	return w, nil
}
