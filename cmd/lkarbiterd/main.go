package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lkarbiter/core/internal/auth"
	"github.com/lkarbiter/core/internal/config"
	"github.com/lkarbiter/core/internal/db"
	"github.com/lkarbiter/core/internal/events"
	"github.com/lkarbiter/core/internal/gateway"
	"github.com/lkarbiter/core/internal/jitter"
	"github.com/lkarbiter/core/internal/ledger"
	"github.com/lkarbiter/core/internal/lock"
	"github.com/lkarbiter/core/internal/logging"
	"github.com/lkarbiter/core/internal/match"
	"github.com/lkarbiter/core/internal/money"
	"github.com/lkarbiter/core/internal/shield"
	"github.com/lkarbiter/core/internal/store"
	"github.com/lkarbiter/core/internal/telemetry"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil && cfg == nil {
		panic(err)
	}
	cfg.Defaults()

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	if err != nil {
		slog.Warn("config.load_failed", "err", err, "note", "running with defaults")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config.invalid", "err", err)
		os.Exit(1)
	}

	auth.SetSecret(cfg.Security.JWTSecret)

	appURL, err := cfg.Database.AppURL()
	if err != nil {
		slog.Error("db.url", "err", err)
		os.Exit(1)
	}

	ctxPool, cancelPool := context.WithTimeout(context.Background(), 20*time.Second)
	pool, err := db.NewPool(ctxPool, appURL)
	cancelPool()
	if err != nil {
		slog.Error("db.pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	pgStore := store.New(pool)

	var broker *events.Broker
	if cfg.Broker.URL != "" {
		broker, err = events.NewBroker(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			slog.Warn("broker.connect_failed", "err", err, "note", "settlement events will not be published")
			broker = nil
		} else {
			defer broker.Close()
		}
	}

	var publisher ledger.EventPublisher = ledger.NoopPublisher{}
	if broker != nil {
		publisher = broker
	}

	ledgerEngine := ledger.NewEngine(pgStore, publisher)
	// SettleMatch credits the treasury through the same hash-chained
	// appendTx path as any other account, so it must be open in-process
	// before the first settlement (spec §4.1 step 4 "system_fee" entry).
	ledgerEngine.OpenAccount(cfg.Ledger.TreasuryAccountID)

	shieldSvc := shield.New(shield.Config{
		MinTrustScore:       cfg.Shield.MinTrustScore,
		KycBetThreshold:     cfg.Shield.KycBetThreshold,
		RateLimitPerMinute:  cfg.Shield.RateLimitPerMinute,
		ReviewRiskThreshold: cfg.Shield.ReviewRiskThreshold,
	})

	var locks lock.Manager
	if cfg.Redis.LocksOnly {
		locks = lock.NewLocalManager()
	} else {
		locks = lock.NewRedisManager(cfg.Redis.Address)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if _, err := telemetry.NewTracerProvider("lkarbiterd"); err != nil {
		slog.Warn("telemetry.tracer_provider_failed", "err", err)
	}

	// gw is wired into the sink after construction: Manager needs a
	// sink at build time, the sink needs to push through gw, and gw's
	// handler needs the already-built Manager. Breaking the cycle this
	// way avoids a placeholder Manager or a two-pass gateway.
	sink := &roomEventSink{metrics: metrics}

	manager := match.NewManager(match.Config{
		BotsEnabled:      cfg.Matchmaking.BotsEnabled,
		BotMinDelay:      cfg.Matchmaking.BotMinDelay,
		BotMaxJitter:     cfg.Matchmaking.BotMaxJitter,
		QueueTimeout:     cfg.Matchmaking.QueueTimeout,
		EscrowConfirmTTL: cfg.Matchmaking.EscrowConfirmTTL,
		ReconnectGrace:   cfg.Matchmaking.ReconnectGrace,
		RoomLockTTL:      cfg.Matchmaking.RoomLockTTL,
	}, ledgerEngine, shieldSvc, locks, sink)

	jitterCfg := jitter.Config{
		SampleWindow:     cfg.Jitter.SampleWindow,
		SpikeRTTMillis:   cfg.Jitter.SpikeRTTMillis,
		SpikeZScore:      cfg.Jitter.SpikeZScore,
		SpikeWindow:      cfg.Jitter.SpikeWindow,
		SuspiciousSpikes: cfg.Jitter.SuspiciousSpikes,
	}

	gw := gateway.New(logger, dispatch(manager, logger), jitterCfg)
	sink.gw = gw
	gw.SetDisconnectHandler(manager.HandleAccountDisconnect)
	gw.SetReconnectHandler(manager.HandleAccountReconnect)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		accountID, err := auth.ParseToken(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		metrics.ActiveSessions.Inc()
		gw.ServeHTTP(w, r, uuid.NewString(), accountID)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      mux,
		BaseContext:  func(net.Listener) context.Context { return rootCtx },
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // long-lived websocket connections
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http.listening", "addr", srv.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		slog.Info("http.shutting_down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http.failed", "err", err)
			os.Exit(1)
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		slog.Warn("http.shutdown_error", "err", err)
	}

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("http.serve_returned", "err", err)
		}
	case <-time.After(3 * time.Second):
		slog.Warn("http.serve_wait_timeout")
	}

	slog.Info("http.stopped")
}

// roomEventSink adapts match.EventSink to the gateway's delivery
// primitives (ToRoom for room events, ToAccount for player events), counting a handful of
// lifecycle metrics along the way.
type roomEventSink struct {
	gw      *gateway.Gateway
	metrics *telemetry.Metrics
}

func (s *roomEventSink) RoomEvent(ctx context.Context, matchID, eventType string, payload map[string]any) {
	s.bumpMetric(eventType)
	env, err := events.New(eventType, payload)
	if err != nil {
		slog.Error("sink.room_event.marshal", "err", err, "type", eventType)
		return
	}
	s.gw.ToRoom(matchID, env)
}

func (s *roomEventSink) PlayerEvent(ctx context.Context, accountID, eventType string, payload map[string]any) {
	s.bumpMetric(eventType)
	env, err := events.New(eventType, payload)
	if err != nil {
		slog.Error("sink.player_event.marshal", "err", err, "type", eventType)
		return
	}
	s.gw.ToAccount(accountID, env)
}

func (s *roomEventSink) bumpMetric(eventType string) {
	switch eventType {
	case events.TypeMatchStarted:
		s.metrics.MatchesStarted.Inc()
	case events.TypeMatchCancelled:
		s.metrics.MatchesCancelled.Inc()
	case events.TypeGameOver:
		s.metrics.MatchesSettled.Inc()
	}
}

// dispatch translates inbound client envelopes into Manager calls. The
// gateway stays ignorant of match/ludo semantics; this closure is the
// only place that bridges the two.
func dispatch(manager *match.Manager, logger *slog.Logger) gateway.Handler {
	return func(session *gateway.Session, env events.Envelope) {
		ctx := context.Background()
		switch env.Type {
		case events.TypeJoinMatchmaking:
			var p events.JoinMatchmakingPayload
			if err := decode(env, &p); err != nil {
				replyError(session, err)
				return
			}
			bet, err := money.FromString(p.BetAmount)
			if err != nil {
				replyError(session, err)
				return
			}
			profile := shield.PlayerSecurityProfile{AccountID: session.AccountID, TrustScore: 70, KycStatus: shield.KycUnverified}
			room, decision, err := manager.JoinMatchmaking(ctx, session.AccountID, p.GameType, bet, profile)
			if err != nil {
				replyError(session, err)
				return
			}
			if room == nil {
				env, _ := events.New(events.TypeMatchmakingQueued, map[string]string{"status": string(decision.Verdict)})
				session.Deliver(env)
			}

		case events.TypeCancelMatchmaking:
			var p events.JoinMatchmakingPayload
			if err := decode(env, &p); err != nil {
				replyError(session, err)
				return
			}
			bet, err := money.FromString(p.BetAmount)
			if err != nil {
				replyError(session, err)
				return
			}
			manager.CancelMatchmaking(p.GameType, bet, session.AccountID)

		case events.TypePlayerReady:
			var p struct {
				MatchID    string `json:"match_id"`
				ClientSeed string `json:"client_seed"`
			}
			if err := decode(env, &p); err != nil {
				replyError(session, err)
				return
			}
			if err := manager.PlayerReady(ctx, p.MatchID, session.AccountID, p.ClientSeed); err != nil {
				replyError(session, err)
			}

		case events.TypeConfirmEscrow:
			var p struct {
				MatchID string `json:"match_id"`
			}
			if err := decode(env, &p); err != nil {
				replyError(session, err)
				return
			}
			if err := manager.ConfirmEscrow(ctx, p.MatchID, session.AccountID); err != nil {
				replyError(session, err)
			}

		case events.TypeBoardRollDice, events.TypeBoardMovePiece, events.TypeGameMove:
			var p struct {
				MatchID string         `json:"match_id"`
				Move    map[string]any `json:"move"`
			}
			if err := decode(env, &p); err != nil {
				replyError(session, err)
				return
			}
			if _, err := manager.RecordMove(ctx, p.MatchID, session.AccountID, env.Type, p.Move); err != nil {
				replyError(session, err)
			}

		case events.TypeSubmitGameResult:
			var p struct {
				MatchID string `json:"match_id"`
			}
			if err := decode(env, &p); err != nil {
				replyError(session, err)
				return
			}
			if err := manager.SubmitGameResult(ctx, p.MatchID); err != nil {
				replyError(session, err)
			}

		default:
			logger.Warn("dispatch.unknown_event_type", "type", env.Type, "account_id", session.AccountID)
		}
	}
}

func decode(env events.Envelope, dst any) error {
	return json.Unmarshal(env.Payload, dst)
}

func replyError(session *gateway.Session, err error) {
	env, marshalErr := events.New(events.TypeError, events.ErrorPayload{Message: err.Error(), Code: "bad_request"})
	if marshalErr != nil {
		return
	}
	session.Deliver(env)
}
