// Package ludo implements the server-authoritative board-game engine
// (spec §4.6): a 52-cell ring, four 5-cell home stretches, captures,
// and the roll/move state machine. Named after "LudoEngine" in the
// original Python source.
package ludo

import (
	"fmt"

	"github.com/lkarbiter/core/internal/apperr"
	"github.com/lkarbiter/core/internal/fairdice"
)

// Colour identifies one of the four seats.
type Colour int

const (
	Red Colour = iota
	Blue
	Green
	Yellow
)

func (c Colour) String() string {
	switch c {
	case Red:
		return "red"
	case Blue:
		return "blue"
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	default:
		return "unknown"
	}
}

// startCell maps a colour to its entry cell on the 52-cell ring
// (spec §4.6).
var startCell = map[Colour]int{
	Red:    0,
	Blue:   13,
	Green:  26,
	Yellow: 39,
}

// safeCells is the fixed set of cells no capture can happen on
// (spec §4.6).
var safeCells = map[int]bool{
	0: true, 8: true, 13: true, 21: true,
	26: true, 34: true, 39: true, 47: true,
}

const ringLength = 52

// relPos layout for one piece's private path:
//   -1          piece is at home
//   0..50       on the main ring, (start+relPos) mod 52 is the global cell
//   51..55      in the 5-cell home stretch
//   56          finished (posFinished, reached only by an exact roll)
const (
	posHome     = -1
	stretchBase = 51
	stretchLen  = 5
	posFinished = stretchBase + stretchLen
)

// PieceState is the coarse lifecycle of one piece (spec §4.6).
type PieceState string

const (
	StateHome     PieceState = "home"
	StateActive   PieceState = "active"
	StateSafeZone PieceState = "safe_zone"
	StateFinished PieceState = "finished"
)

// Piece is one of a player's four tokens.
type Piece struct {
	ID      int
	Colour  Colour
	RelPos  int
	State   PieceState
}

func (p *Piece) globalCell() int {
	return (startCell[p.Colour] + p.RelPos) % ringLength
}

func (p *Piece) deriveState() {
	switch {
	case p.RelPos == posHome:
		p.State = StateHome
	case p.RelPos >= stretchBase && p.RelPos < posFinished:
		p.State = StateSafeZone
	case p.RelPos == posFinished:
		p.State = StateFinished
	default:
		p.State = StateActive
	}
}

// Player is one seat at the table.
type Player struct {
	AccountID string
	Colour    Colour
	Pieces    [4]*Piece
	Captures  int
	Connected bool
	FinishRank int // 0 = not yet finished
}

// GamePhase is the board-game FSM state (spec §4.6).
type GamePhase string

const (
	PhaseWaiting   GamePhase = "waiting"
	PhaseRolling   GamePhase = "rolling"
	PhaseMoving    GamePhase = "moving"
	PhaseCompleted GamePhase = "completed"
	PhaseAbandoned GamePhase = "abandoned"
)

// MoveLogEntry records one state transition for replay (spec §4.6:
// "move log is append-only and sufficient to replay the game").
type MoveLogEntry struct {
	Kind      string // "roll" | "move" | "turn_pass" | "forfeit" | "finish"
	Player    string
	PieceID   int
	DieValue  int
	FromPos   int
	ToPos     int
	Captured  bool
	ExtraTurn bool
}

// Game is one board-game instance.
type Game struct {
	MatchID    string
	Dice       *fairdice.Dice
	Players    []*Player
	Phase      GamePhase
	turnIdx    int
	consecutiveSixes int
	lastRoll   int
	nextFinishRank int
	Log        []MoveLogEntry
}

// NewGame seats players in the given order, assigning colours
// red/blue/green/yellow by turn order.
func NewGame(matchID string, dice *fairdice.Dice, accountIDs []string) (*Game, error) {
	if len(accountIDs) < 2 || len(accountIDs) > 4 {
		return nil, fmt.Errorf("ludo: game requires 2-4 players, got %d", len(accountIDs))
	}
	colours := []Colour{Red, Blue, Green, Yellow}
	g := &Game{
		MatchID:        matchID,
		Dice:           dice,
		Phase:          PhaseWaiting,
		nextFinishRank: 1,
	}
	for i, acc := range accountIDs {
		col := colours[i]
		p := &Player{AccountID: acc, Colour: col, Connected: true}
		for pi := 0; pi < 4; pi++ {
			piece := &Piece{ID: pi, Colour: col, RelPos: posHome}
			piece.deriveState()
			p.Pieces[pi] = piece
		}
		g.Players = append(g.Players, p)
	}
	g.Phase = PhaseRolling
	return g, nil
}

func (g *Game) currentPlayer() *Player {
	return g.Players[g.turnIdx]
}

// RollDice executes roll_dice(player): only legal in PhaseRolling, for
// the current player (spec §4.6).
func (g *Game) RollDice(player string) (int, error) {
	if g.Phase != PhaseRolling {
		return 0, apperr.New(apperr.KindInvalidTransition, "roll_dice only valid in rolling phase")
	}
	cur := g.currentPlayer()
	if cur.AccountID != player {
		return 0, apperr.New(apperr.KindInvalidTransition, "not this player's turn")
	}

	roll := g.Dice.Roll(player)
	g.lastRoll = roll.Value
	g.Log = append(g.Log, MoveLogEntry{Kind: "roll", Player: player, DieValue: roll.Value})

	if roll.Value == 6 {
		g.consecutiveSixes++
		if g.consecutiveSixes == 3 {
			g.Log = append(g.Log, MoveLogEntry{Kind: "forfeit", Player: player})
			g.consecutiveSixes = 0
			g.advanceTurn()
			return roll.Value, nil
		}
	} else {
		g.consecutiveSixes = 0
	}

	if !g.hasLegalMove(cur, roll.Value) {
		g.Log = append(g.Log, MoveLogEntry{Kind: "turn_pass", Player: player})
		g.advanceTurn()
		return roll.Value, nil
	}

	g.Phase = PhaseMoving
	return roll.Value, nil
}

func (g *Game) hasLegalMove(p *Player, die int) bool {
	for _, piece := range p.Pieces {
		if g.legalDestination(piece, die) >= 0 || (piece.RelPos == posHome && die == 6) {
			return true
		}
	}
	return false
}

// legalDestination returns the relPos an active/safe piece would land
// on for the given die, or -1 if illegal (overshoot past finish).
func (g *Game) legalDestination(piece *Piece, die int) int {
	if piece.RelPos == posHome || piece.RelPos == posFinished {
		return -1
	}
	dest := piece.RelPos + die
	if dest > posFinished {
		return -1
	}
	return dest
}

// MovePiece executes move_piece(player, piece_id): only legal in
// PhaseMoving (spec §4.6).
func (g *Game) MovePiece(player string, pieceID int) error {
	if g.Phase != PhaseMoving {
		return apperr.New(apperr.KindInvalidTransition, "move_piece only valid in moving phase")
	}
	cur := g.currentPlayer()
	if cur.AccountID != player {
		return apperr.New(apperr.KindInvalidTransition, "not this player's turn")
	}
	if pieceID < 0 || pieceID >= 4 {
		return apperr.New(apperr.KindInvalidTransition, "invalid piece id")
	}
	piece := cur.Pieces[pieceID]
	die := g.lastRoll

	var dest int
	leavingHome := false
	if piece.RelPos == posHome {
		if die != 6 {
			return apperr.New(apperr.KindInvalidTransition, "piece can only leave home on a roll of six")
		}
		dest = 0
		leavingHome = true
	} else {
		dest = g.legalDestination(piece, die)
		if dest < 0 {
			return apperr.New(apperr.KindInvalidTransition, "move overshoots finish, no legal move")
		}
	}

	from := piece.RelPos
	piece.RelPos = dest
	piece.deriveState()

	captured := false
	if !leavingHome && piece.State == StateActive {
		global := piece.globalCell()
		if !safeCells[global] {
			for _, other := range g.Players {
				if other.Colour == piece.Colour {
					continue
				}
				for _, op := range other.Pieces {
					if op.State == StateActive && op.globalCell() == global {
						op.RelPos = posHome
						op.deriveState()
						captured = true
						cur.Captures++
					}
				}
			}
		}
	}

	finished := piece.State == StateFinished
	if finished {
		g.Log = append(g.Log, MoveLogEntry{Kind: "finish", Player: player, PieceID: pieceID, FromPos: from, ToPos: dest})
	}

	extraTurn := die == 6 || captured || finished
	g.Log = append(g.Log, MoveLogEntry{
		Kind: "move", Player: player, PieceID: pieceID,
		DieValue: die, FromPos: from, ToPos: dest,
		Captured: captured, ExtraTurn: extraTurn,
	})

	if g.allFinished(cur) {
		if cur.FinishRank == 0 {
			cur.FinishRank = g.nextFinishRank
			g.nextFinishRank++
		}
		g.Phase = PhaseCompleted
		return nil
	}

	if extraTurn {
		g.Phase = PhaseRolling
		return nil
	}

	g.advanceTurn()
	return nil
}

func (g *Game) allFinished(p *Player) bool {
	for _, piece := range p.Pieces {
		if piece.State != StateFinished {
			return false
		}
	}
	return true
}

func (g *Game) advanceTurn() {
	g.consecutiveSixes = 0
	n := len(g.Players)
	for i := 1; i <= n; i++ {
		idx := (g.turnIdx + i) % n
		if g.Players[idx].FinishRank == 0 {
			g.turnIdx = idx
			g.Phase = PhaseRolling
			return
		}
	}
	g.Phase = PhaseCompleted
}

// Standings returns account IDs ordered by finish rank; players who
// never finished are appended last in seat order (spec §4.6: "remaining
// players are ranked by finish order").
func (g *Game) Standings() []string {
	finished := make([]*Player, 0, len(g.Players))
	unfinished := make([]*Player, 0)
	for _, p := range g.Players {
		if p.FinishRank > 0 {
			finished = append(finished, p)
		} else {
			unfinished = append(unfinished, p)
		}
	}
	for i := 1; i < len(finished); i++ {
		for j := i; j > 0 && finished[j-1].FinishRank > finished[j].FinishRank; j-- {
			finished[j-1], finished[j] = finished[j], finished[j-1]
		}
	}
	out := make([]string, 0, len(g.Players))
	for _, p := range finished {
		out = append(out, p.AccountID)
	}
	for _, p := range unfinished {
		out = append(out, p.AccountID)
	}
	return out
}

// Abandon marks the game unrecoverable (spec §4.6, §4.7 reconnection).
func (g *Game) Abandon() {
	g.Phase = PhaseAbandoned
}
