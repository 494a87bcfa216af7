package encoding

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Word is a 256-bit packed word stored as little-endian 64-bit limbs
// (limb 0 holds bits 0..63).
type Word [4]uint64

type field struct {
	offset uint
	width  uint
}

func (f field) max() uint64 {
	if f.width >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << f.width) - 1
}

// Core word layout.
var (
	fLevel          = field{0, 8}
	fAlive          = field{8, 1}
	fCurEndurance   = field{16, 16}
	fMaxEndurance   = field{32, 16}
	fCombat         = field{48, 16}
	fDefense        = field{64, 16}
	fLuck           = field{80, 16}
	fCharacterClass = field{128, 8}

	coreFields = []field{fLevel, fAlive, fCurEndurance, fMaxEndurance, fCombat, fDefense, fLuck, fCharacterClass}
)

// Progression word layout.
var (
	fExperience = field{0, 64}
	fKills      = field{64, 32}
	fDeaths     = field{96, 32}
	fLastHealAt = field{128, 64}

	progressionFields = []field{fExperience, fKills, fDeaths, fLastHealAt}
)

// Get reads a field. Fields never straddle a limb boundary.
func (w Word) get(f field) uint64 {
	limb := f.offset / 64
	shift := f.offset % 64
	return (w[limb] >> shift) & f.max()
}

// set writes v saturated to the field's maximum. It reports whether v was clamped.
func (w *Word) set(f field, v uint64) bool {
	clamped := false
	if m := f.max(); v > m {
		v = m
		clamped = true
	}
	limb := f.offset / 64
	shift := f.offset % 64
	w[limb] = (w[limb] &^ (f.max() << shift)) | (v << shift)
	return clamped
}

func usedMask(fields []field) Word {
	var m Word
	for _, f := range fields {
		m.set(f, f.max())
	}
	return m
}

var (
	coreMask        = usedMask(coreFields)
	progressionMask = usedMask(progressionFields)
)

func (w Word) reservedBits(mask Word) bool {
	for i := range w {
		if w[i]&^mask[i] != 0 {
			return true
		}
	}
	return false
}

// Bytes returns the big-endian 32-byte form.
func (w Word) Bytes() [32]byte {
	var out [32]byte
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(out[(3-i)*8:], w[i])
	}
	return out
}

// WordFromBytes is the inverse of Word.Bytes.
func WordFromBytes(b [32]byte) Word {
	var w Word
	for i := 0; i < 4; i++ {
		w[i] = binary.BigEndian.Uint64(b[(3-i)*8:])
	}
	return w
}

func (w Word) String() string {
	b := w.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

func (w Word) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *Word) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(string(b), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("word: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("word: want 32 bytes, got %d", len(raw))
	}
	var arr [32]byte
	copy(arr[:], raw)
	*w = WordFromBytes(arr)
	return nil
}

// CharacterState is the decoded form of a character's two packed words.
type CharacterState struct {
	Level            uint8  `json:"level"`
	IsAlive          bool   `json:"is_alive"`
	CurrentEndurance uint16 `json:"current_endurance"`
	MaxEndurance     uint16 `json:"max_endurance"`
	Combat           uint16 `json:"combat"`
	Defense          uint16 `json:"defense"`
	Luck             uint16 `json:"luck"`
	CharacterClass   uint8  `json:"character_class"`

	Experience uint64 `json:"experience"`
	Kills      uint32 `json:"kills"`
	Deaths     uint32 `json:"deaths"`
	LastHealAt uint64 `json:"last_heal_at"`
}

// Encode packs s into its core and progression words.
func Encode(s CharacterState) (core, progression Word) {
	core.set(fLevel, uint64(s.Level))
	if s.IsAlive {
		core.set(fAlive, 1)
	}
	core.set(fCurEndurance, uint64(s.CurrentEndurance))
	core.set(fMaxEndurance, uint64(s.MaxEndurance))
	core.set(fCombat, uint64(s.Combat))
	core.set(fDefense, uint64(s.Defense))
	core.set(fLuck, uint64(s.Luck))
	core.set(fCharacterClass, uint64(s.CharacterClass))

	progression.set(fExperience, s.Experience)
	progression.set(fKills, uint64(s.Kills))
	progression.set(fDeaths, uint64(s.Deaths))
	progression.set(fLastHealAt, s.LastHealAt)
	return core, progression
}

// Decode unpacks the two words. Words with bits set outside the defined
// fields are rejected, so Decode followed by Encode is bit-identical.
func Decode(core, progression Word) (CharacterState, error) {
	if core.reservedBits(coreMask) {
		return CharacterState{}, fmt.Errorf("core word %s: reserved bits set", core)
	}
	if progression.reservedBits(progressionMask) {
		return CharacterState{}, fmt.Errorf("progression word %s: reserved bits set", progression)
	}
	return CharacterState{
		Level:            uint8(core.get(fLevel)),
		IsAlive:          core.get(fAlive) == 1,
		CurrentEndurance: uint16(core.get(fCurEndurance)),
		MaxEndurance:     uint16(core.get(fMaxEndurance)),
		Combat:           uint16(core.get(fCombat)),
		Defense:          uint16(core.get(fDefense)),
		Luck:             uint16(core.get(fLuck)),
		CharacterClass:   uint8(core.get(fCharacterClass)),

		Experience: progression.get(fExperience),
		Kills:      uint32(progression.get(fKills)),
		Deaths:     uint32(progression.get(fDeaths)),
		LastHealAt: progression.get(fLastHealAt),
	}, nil
}

// Sat8 clamps v to math.MaxUint8.
func Sat8(v uint64) uint8 {
	if v > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}

// Sat16 clamps v to math.MaxUint16.
func Sat16(v uint64) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// Sat32 clamps v to math.MaxUint32.
func Sat32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
