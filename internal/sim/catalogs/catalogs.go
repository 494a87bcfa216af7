// Package catalogs loads the enemy and class definitions from configs/.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	sdkmath "cosmossdk.io/math"

	"arenaledger.gg/internal/sim/amount"
	"arenaledger.gg/internal/sim/combat"
)

type Catalogs struct {
	Enemies EnemyCatalog
	Classes ClassCatalog
}

type EnemyCatalog struct {
	IDs    []uint16
	ByID   map[uint16]EnemyDef
	Digest string
}

type EnemyDef struct {
	ID              uint16 `json:"id"`
	Name            string `json:"name"`
	Combat          uint16 `json:"combat"`
	Defense         uint16 `json:"defense"`
	Luck            uint16 `json:"luck"`
	Health          uint32 `json:"health"`
	XPReward        uint64 `json:"xp_reward"`
	EquipmentDropBP uint32 `json:"equipment_drop_bp"`
	RareDropBP      uint32 `json:"rare_drop_bp"`
	BaseReward      string `json:"base_reward"` // tokens

	baseReward sdkmath.Int
}

func (d EnemyDef) Stats() combat.EnemyStats {
	return combat.EnemyStats{Combat: d.Combat, Defense: d.Defense, Luck: d.Luck, Health: d.Health}
}

func (d EnemyDef) Reward() sdkmath.Int { return amount.OrZero(d.baseReward) }

type ClassCatalog struct {
	IDs    []uint8
	ByID   map[uint8]ClassDef
	Digest string
}

type ClassDef struct {
	ID        uint8              `json:"id"`
	Name      string             `json:"name"`
	Endurance uint16             `json:"endurance"`
	Combat    uint16             `json:"combat"`
	Defense   uint16             `json:"defense"`
	Luck      uint16             `json:"luck"`
	Growth    combat.ClassGrowth `json:"growth"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	raw, err := os.ReadFile(filepath.Join(configDir, "enemies.json"))
	if err != nil {
		return nil, err
	}
	if err := parseEnemies(raw, &c.Enemies); err != nil {
		return nil, err
	}
	raw, err = os.ReadFile(filepath.Join(configDir, "classes.json"))
	if err != nil {
		return nil, err
	}
	if err := parseClasses(raw, &c.Classes); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the built-in catalogs, used when no config dir is given.
func Default() *Catalogs {
	var c Catalogs
	raw, _ := json.Marshal(defaultEnemies)
	if err := parseEnemies(raw, &c.Enemies); err != nil {
		panic(err)
	}
	raw, _ = json.Marshal(defaultClasses)
	if err := parseClasses(raw, &c.Classes); err != nil {
		panic(err)
	}
	return &c
}

func (c *Catalogs) Enemy(id uint16) (EnemyDef, bool) {
	d, ok := c.Enemies.ByID[id]
	return d, ok
}

func (c *Catalogs) Class(id uint8) (ClassDef, bool) {
	d, ok := c.Classes.ByID[id]
	return d, ok
}

// Digest combines both catalog digests; snapshots record it.
func (c *Catalogs) Digest() string {
	return sha256Hex([]byte(c.Enemies.Digest + ":" + c.Classes.Digest))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parseEnemies(raw []byte, out *EnemyCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []EnemyDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("enemies.json: %w", err)
	}
	out.ByID = make(map[uint16]EnemyDef, len(defs))
	for _, d := range defs {
		if d.ID == 0 {
			return fmt.Errorf("enemies.json: id 0 is reserved")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("enemies.json: duplicate id %d", d.ID)
		}
		if d.Health == 0 {
			return fmt.Errorf("enemies.json: enemy %d has no health", d.ID)
		}
		if d.EquipmentDropBP > amount.BPS || d.RareDropBP > amount.BPS {
			return fmt.Errorf("enemies.json: enemy %d drop chance exceeds 10000 bp", d.ID)
		}
		r, err := amount.ParseTokens(d.BaseReward)
		if err != nil {
			return fmt.Errorf("enemies.json: enemy %d base_reward: %w", d.ID, err)
		}
		d.baseReward = r
		out.ByID[d.ID] = d
	}
	out.IDs = make([]uint16, 0, len(out.ByID))
	for id := range out.ByID {
		out.IDs = append(out.IDs, id)
	}
	sort.Slice(out.IDs, func(i, j int) bool { return out.IDs[i] < out.IDs[j] })
	return nil
}

func parseClasses(raw []byte, out *ClassCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []ClassDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("classes.json: %w", err)
	}
	out.ByID = make(map[uint8]ClassDef, len(defs))
	for _, d := range defs {
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("classes.json: duplicate id %d", d.ID)
		}
		if d.Endurance == 0 {
			return fmt.Errorf("classes.json: class %d has no endurance", d.ID)
		}
		out.ByID[d.ID] = d
	}
	if len(out.ByID) == 0 {
		return fmt.Errorf("classes.json: no classes")
	}
	out.IDs = make([]uint8, 0, len(out.ByID))
	for id := range out.ByID {
		out.IDs = append(out.IDs, id)
	}
	sort.Slice(out.IDs, func(i, j int) bool { return out.IDs[i] < out.IDs[j] })
	return nil
}

var defaultEnemies = []EnemyDef{
	{ID: 1, Name: "Sewer Rat", Combat: 8, Defense: 2, Luck: 1, Health: 20, XPReward: 10, EquipmentDropBP: 500, RareDropBP: 100, BaseReward: "0.01"},
	{ID: 2, Name: "Goblin Scout", Combat: 14, Defense: 6, Luck: 4, Health: 45, XPReward: 25, EquipmentDropBP: 800, RareDropBP: 200, BaseReward: "0.05"},
	{ID: 3, Name: "Bandit", Combat: 22, Defense: 12, Luck: 8, Health: 80, XPReward: 60, EquipmentDropBP: 1200, RareDropBP: 300, BaseReward: "0.15"},
	{ID: 4, Name: "Cave Troll", Combat: 38, Defense: 25, Luck: 5, Health: 180, XPReward: 150, EquipmentDropBP: 1800, RareDropBP: 500, BaseReward: "0.5"},
	{ID: 5, Name: "Wyrmling", Combat: 60, Defense: 40, Luck: 20, Health: 320, XPReward: 400, EquipmentDropBP: 2500, RareDropBP: 800, BaseReward: "2"},
}

var defaultClasses = []ClassDef{
	{ID: 0, Name: "Warrior", Endurance: 120, Combat: 16, Defense: 12, Luck: 4, Growth: combat.ClassGrowth{Endurance: 12, Combat: 3, Defense: 2, Luck: 1}},
	{ID: 1, Name: "Rogue", Endurance: 90, Combat: 14, Defense: 8, Luck: 14, Growth: combat.ClassGrowth{Endurance: 8, Combat: 2, Defense: 1, Luck: 3}},
	{ID: 2, Name: "Guardian", Endurance: 150, Combat: 10, Defense: 18, Luck: 3, Growth: combat.ClassGrowth{Endurance: 15, Combat: 1, Defense: 3, Luck: 1}},
	{ID: 3, Name: "Mystic", Endurance: 80, Combat: 20, Defense: 6, Luck: 10, Growth: combat.ClassGrowth{Endurance: 7, Combat: 4, Defense: 1, Luck: 2}},
}
