// Package leaderboard builds and verifies Merkle trees over epoch prize
// allocations and gates prize claims against published roots.
//
// Leaves are Keccak-256 over (u256 epoch, u256 index, 32-byte account,
// u256 amount). Interior nodes hash the two children ordered by value,
// smaller first, so proofs carry no position bits. An unpaired node is
// promoted to the next level unchanged.
package leaderboard

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"golang.org/x/crypto/sha3"

	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/ids"
)

type Hash [32]byte

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return h, fmt.Errorf("hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("hash %q: want 32 bytes, got %d", s, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func keccak(parts ...[]byte) Hash {
	k := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		k.Write(p)
	}
	var h Hash
	copy(h[:], k.Sum(nil))
	return h
}

func u256(v uint64) []byte {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], v)
	return b[:]
}

// Entry is one prize allocation.
type Entry struct {
	Epoch   uint64      `json:"epoch"`
	Index   uint64      `json:"index"`
	Account ids.Address `json:"account"`
	Amount  sdkmath.Int `json:"amount"`
}

func (e Entry) Leaf() (Hash, error) {
	amt, err := amount.Word(e.Amount)
	if err != nil {
		return Hash{}, fmt.Errorf("leaf epoch=%d index=%d: %w", e.Epoch, e.Index, err)
	}
	return keccak(u256(e.Epoch), u256(e.Index), e.Account[:], amt[:]), nil
}

// HashPair combines two siblings, smaller first.
func HashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak(a[:], b[:])
}

// Tree keeps every level so proofs can be read off directly. levels[0] are
// the leaves; the last level holds the root.
type Tree struct {
	levels [][]Hash
}

func BuildTree(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: no leaves")
	}
	level := append([]Hash(nil), leaves...)
	t := &Tree{levels: [][]Hash{level}}
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, HashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

func (t *Tree) Root() Hash { return t.levels[len(t.levels)-1][0] }

func (t *Tree) Len() int { return len(t.levels[0]) }

// Proof returns the sibling path for leaf i, skipping levels where the node
// had no sibling.
func (t *Tree) Proof(i int) ([]Hash, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("merkle: leaf %d out of range [0,%d)", i, t.Len())
	}
	var proof []Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := i ^ 1
		if sib < len(level) {
			proof = append(proof, level[sib])
		}
		i /= 2
	}
	return proof, nil
}

func Verify(proof []Hash, root, leaf Hash) bool {
	h := leaf
	for _, p := range proof {
		h = HashPair(h, p)
	}
	return h == root
}
