package catalogs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"arenaledger.gg/internal/sim/amount"
)

func TestLoadRepoConfigsMatchDefault(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	require.NoError(t, err)
	d := Default()

	require.Equal(t, d.Enemies.IDs, c.Enemies.IDs)
	require.Equal(t, d.Classes.IDs, c.Classes.IDs)
	for _, id := range d.Enemies.IDs {
		want, _ := d.Enemy(id)
		got, ok := c.Enemy(id)
		require.True(t, ok)
		require.Equal(t, want.Stats(), got.Stats())
		require.Equal(t, want.XPReward, got.XPReward)
		require.True(t, want.Reward().Equal(got.Reward()))
	}
	for _, id := range d.Classes.IDs {
		want, _ := d.Class(id)
		got, _ := c.Class(id)
		require.Equal(t, want, got)
	}
	require.Len(t, c.Digest(), 64)
}

func TestEnemyReward(t *testing.T) {
	e, ok := Default().Enemy(3)
	require.True(t, ok)
	require.True(t, e.Reward().Equal(amount.MustTokens("0.15")))
	_, ok = Default().Enemy(0)
	require.False(t, ok)
}

func TestDigestTracksContent(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("classes.json", `[{"id":0,"name":"A","endurance":10}]`)
	write("enemies.json", `[{"id":1,"name":"E","health":5,"base_reward":"1"}]`)
	a, err := Load(dir)
	require.NoError(t, err)

	write("enemies.json", `[{"id":1,"name":"E","health":6,"base_reward":"1"}]`)
	b, err := Load(dir)
	require.NoError(t, err)
	require.NotEqual(t, a.Digest(), b.Digest())
	require.Equal(t, a.Classes.Digest, b.Classes.Digest)
}

func TestLoadRejectsBadEnemies(t *testing.T) {
	cases := []string{
		`[{"id":0,"health":5,"base_reward":"1"}]`,
		`[{"id":1,"health":0,"base_reward":"1"}]`,
		`[{"id":1,"health":5,"base_reward":"1"},{"id":1,"health":5,"base_reward":"1"}]`,
		`[{"id":1,"health":5,"base_reward":"-1"}]`,
		`[{"id":1,"health":5,"base_reward":"1","equipment_drop_bp":10001}]`,
		`{`,
	}
	for _, body := range cases {
		var ec EnemyCatalog
		require.Error(t, parseEnemies([]byte(body), &ec), body)
	}
}
