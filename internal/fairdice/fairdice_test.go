package fairdice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollIsVerifiable(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	d.SetClientSeed("alice", "alice-seed")

	roll := d.Roll("alice")
	require.GreaterOrEqual(t, roll.Value, 1)
	require.LessOrEqual(t, roll.Value, 6)

	revealed := d.Reveal()
	got, err := Verify(revealed, roll.ClientSeed, roll.Nonce)
	require.NoError(t, err)
	require.Equal(t, roll.Value, got)
}

func TestNonceMonotonicAcrossPlayers(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	d.SetClientSeed("a", "sa")
	d.SetClientSeed("b", "sb")

	r1 := d.Roll("a")
	r2 := d.Roll("b")
	require.Equal(t, r1.Nonce+1, r2.Nonce)
}

func TestServerSeedHashHidesRawSeed(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	require.NotEqual(t, d.ServerSeedHash(), d.Reveal())
}
