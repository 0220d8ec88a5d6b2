package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := New(TypeGameOver, GameOverPayload{
		Winner:      "p1",
		Prize:       "18.4000",
		Fee:         "1.6000",
		LedgerEntry: "e1",
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, TypeGameOver, decoded.Type)

	var payload GameOverPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	require.Equal(t, "p1", payload.Winner)
	require.Equal(t, "18.4000", payload.Prize)
}

func TestMatchmakingDeniedPayloadShape(t *testing.T) {
	env, err := New(TypeMatchmakingDenied, MatchmakingDeniedPayload{
		Reason:  "low trust",
		Verdict: "denied_low_trust",
	})
	require.NoError(t, err)
	require.Equal(t, TypeMatchmakingDenied, env.Type)
}
