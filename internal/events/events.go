// Package events defines the realtime wire protocol's discriminated
// event envelope (spec §6) and an AMQP-backed publisher adapting
// ledger.EventPublisher for downstream consumers (analytics, audit).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lkarbiter/core/internal/ledger"
)

// Envelope is the tagged-variant wrapper every wire event travels in:
// {"type": "...", "payload": {...}}. Clients switch on Type before
// decoding Payload into the concrete shape for that event.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an Envelope, marshalling payload to json.RawMessage.
func New(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw, Timestamp: time.Now().UTC()}, nil
}

// Client → server event type names (spec §6).
const (
	TypeJoinMatchmaking   = "join_matchmaking"
	TypeCancelMatchmaking = "cancel_matchmaking"
	TypePlayerReady       = "player_ready"
	TypeConfirmEscrow     = "confirm_escrow"
	TypeGameMove          = "game_move"
	TypeHeartbeat         = "heartbeat"
	TypeSubmitGameResult  = "submit_game_result"
	TypeBoardRollDice     = "board_roll_dice"
	TypeBoardMovePiece    = "board_move_piece"
)

// Server → client event type names (spec §6, non-exhaustive).
const (
	TypeConnected           = "connected"
	TypeMatchmakingQueued   = "matchmaking_queued"
	TypeMatchmakingDenied   = "matchmaking_denied"
	TypeMatchFound          = "match_found"
	TypeMatchLocked         = "match_locked"
	TypeMatchStarted        = "match_started"
	TypePlayerReadyUpdate   = "player_ready_update"
	TypePlayerDisconnected  = "player_disconnected"
	TypeMoveReceived        = "move_received"
	TypeHeartbeatAck        = "heartbeat_ack"
	TypeMatchValidating     = "match_validating"
	TypeMatchCancelled      = "match_cancelled"
	TypeGameOver            = "game_over"
	TypeError               = "error"
)

// JoinMatchmakingPayload is the client→server join_matchmaking payload.
type JoinMatchmakingPayload struct {
	UserID           string         `json:"user_id"`
	GameType         string         `json:"game_type"`
	BetAmount        string         `json:"bet_amount"`
	SecurityProfile  map[string]any `json:"security_profile"`
}

// MatchmakingDeniedPayload is the server→client matchmaking_denied payload.
type MatchmakingDeniedPayload struct {
	Reason            string `json:"reason"`
	Verdict           string `json:"verdict"`
	RetryAfterSeconds int    `json:"retry_after,omitempty"`
}

// MatchFoundPayload is the server→client match_found payload.
type MatchFoundPayload struct {
	MatchID        string   `json:"match_id"`
	SessionID      string   `json:"session_id"`
	ServerSeedHash string   `json:"server_seed_hash"`
	Players        []string `json:"players"`
}

// GameOverPayload is the server→client game_over payload.
type GameOverPayload struct {
	Winner          string `json:"winner"`
	Prize           string `json:"prize"`
	Fee             string `json:"fee"`
	RakeLevel       string `json:"rake_level"`
	RakeRate        string `json:"rake_rate"`
	LedgerEntry     string `json:"ledger_entry"`
	TreasurySummary string `json:"treasury_summary"`
}

// ErrorPayload is the server→client error payload.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Broker publishes settlement/game-over notifications to an AMQP
// exchange, implementing ledger.EventPublisher (spec §4.1 step 4 "emit
// the paired transaction records" downstream consumers subscribe to).
type Broker struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewBroker dials the broker URL and declares a topic exchange.
func NewBroker(url, exchange string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	return &Broker{conn: conn, channel: ch, exchange: exchange}, nil
}

// Close tears down the channel and connection.
func (b *Broker) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// PublishSettlement implements ledger.EventPublisher.
func (b *Broker) PublishSettlement(ctx context.Context, entry *ledger.SettlementEntry) {
	body, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = b.channel.PublishWithContext(ctx, b.exchange, "settlement.committed", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now().UTC(),
	})
}

// PublishGameOver emits a game_over notification for analytics/audit
// consumers, separate from the realtime gateway broadcast.
func (b *Broker) PublishGameOver(ctx context.Context, matchID string, payload GameOverPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.channel.PublishWithContext(ctx, b.exchange, "match."+matchID+".game_over", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now().UTC(),
	})
}
