// Package fairdice implements the commit-reveal provably-fair die used
// by the board-game engine (spec §4.2, §8 provably-fair law).
package fairdice

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Roll is one recorded die outcome (spec §3 DiceRoll).
type Roll struct {
	Value          int
	ServerSeedHash string
	ClientSeed     string
	Nonce          uint64
	Proof          string
	Timestamp      time.Time
}

// Dice is a commit-reveal RNG shared by all players in one room. The
// server_seed is generated once at construction and its hash published
// immediately; the raw seed is only exposed via Reveal once the game
// has ended.
type Dice struct {
	mu             sync.Mutex
	serverSeed     []byte
	serverSeedHash string
	nonce          uint64
	clientSeeds    map[string]string
}

// New generates a fresh 32-byte server seed and publishes its hash.
func New() (*Dice, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("fairdice: generate seed: %w", err)
	}
	return NewWithSeed(seed), nil
}

// NewWithSeed builds a Dice around a caller-supplied server seed. Used
// by tests (and by operator tooling that wants to pre-commit a seed
// out of band) that need a reproducible roll sequence; production play
// always goes through New's crypto/rand seed.
func NewWithSeed(seed []byte) *Dice {
	sum := sha256.Sum256(seed)
	return &Dice{
		serverSeed:     seed,
		serverSeedHash: hex.EncodeToString(sum[:]),
		clientSeeds:    make(map[string]string),
	}
}

// ServerSeedHash is the public commitment, safe to send to clients
// before the game starts.
func (d *Dice) ServerSeedHash() string {
	return d.serverSeedHash
}

// SetClientSeed stores a per-player client seed, replacing any earlier
// one. Replacement is not refused after the player's first roll; each
// roll hashes the seed stored at that moment.
func (d *Dice) SetClientSeed(player, seed string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientSeeds[player] = seed
}

func digestValue(serverSeed []byte, clientSeed string, nonce uint64) (string, int) {
	h := sha256.New()
	h.Write(serverSeed)
	h.Write([]byte(clientSeed))
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	digest := hex.EncodeToString(h.Sum(nil))
	n, _ := strconv.ParseUint(digest[:8], 16, 64)
	value := int(n%6) + 1
	return digest[:16], value
}

// Roll advances the shared nonce and derives the next value for player.
// The nonce is global to the Dice instance (not per-player) so that two
// consecutive rolls by different players never reuse a nonce.
func (d *Dice) Roll(player string) Roll {
	d.mu.Lock()
	d.nonce++
	nonce := d.nonce
	clientSeed := d.clientSeeds[player]
	d.mu.Unlock()

	proof, value := digestValue(d.serverSeed, clientSeed, nonce)
	return Roll{
		Value:          value,
		ServerSeedHash: d.serverSeedHash,
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		Proof:          proof,
		Timestamp:      time.Now().UTC(),
	}
}

// Reveal returns the raw server seed after the game has ended, so a
// verifier can reconstruct every roll.
func (d *Dice) Reveal() string {
	return hex.EncodeToString(d.serverSeed)
}

// Verify recomputes a roll's value from the revealed server seed and
// the roll's recorded (client seed, nonce), for independent audit
// (spec §8 provably-fair law, scenario 5).
func Verify(revealedServerSeedHex, clientSeed string, nonce uint64) (int, error) {
	seed, err := hex.DecodeString(revealedServerSeedHex)
	if err != nil {
		return 0, fmt.Errorf("fairdice: decode revealed seed: %w", err)
	}
	_, value := digestValue(seed, clientSeed, nonce)
	return value, nil
}
