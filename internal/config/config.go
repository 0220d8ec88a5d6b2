package config

import (
	"errors"
	"net/url"
	"strconv"
	"time"
)

// Config is the single decoded configuration tree for both lkarbiterd
// and lkarbiterctl.
type Config struct {
	BaseURL string `yaml:"base_url"`

	HTTP struct {
		Address string `yaml:"address"`
	} `yaml:"http"`

	Database DatabaseConfig `yaml:"database"`

	Logging struct {
		Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
		Format string `yaml:"format"` // "text" | "json"
	} `yaml:"logging"`

	Security struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"security"`

	Redis struct {
		Address string `yaml:"address"`
		// LocksOnly disables the Redis-backed distributed lock and
		// falls back to the in-process lock table (single-node dev).
		LocksOnly bool `yaml:"locks_only"`
	} `yaml:"redis"`

	Broker struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"broker"`

	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Shield      ShieldConfig      `yaml:"shield"`
	Jitter      JitterConfig      `yaml:"jitter"`
	Ledger      LedgerConfig      `yaml:"ledger"`
}

// DatabaseConfig mirrors the teacher's database section; used for the
// durable-store mirror behind internal/store.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"` // e.g. "disable" | "require"
}

// MatchmakingConfig controls queue pairing and the house-bot fallback.
type MatchmakingConfig struct {
	BotsEnabled      bool          `yaml:"bots_enabled"`
	BotMinDelay      time.Duration `yaml:"bot_min_delay"`
	BotMaxJitter     time.Duration `yaml:"bot_max_jitter"`
	QueueTimeout     time.Duration `yaml:"queue_timeout"`
	EscrowConfirmTTL time.Duration `yaml:"escrow_confirm_ttl"`
	ReconnectGrace   time.Duration `yaml:"reconnect_grace"`
	RoomLockTTL      time.Duration `yaml:"room_lock_ttl"`
}

// ShieldConfig carries the thresholds used by internal/shield.
type ShieldConfig struct {
	MinTrustScore       int `yaml:"min_trust_score"`
	KycBetThreshold     int `yaml:"kyc_bet_threshold"`
	RateLimitPerMinute  int `yaml:"rate_limit_per_minute"`
	ReviewRiskThreshold int `yaml:"review_risk_threshold"`
}

// JitterConfig carries the thresholds used by internal/jitter.
type JitterConfig struct {
	SampleWindow     int           `yaml:"sample_window"`
	SpikeRTTMillis   int           `yaml:"spike_rtt_millis"`
	SpikeZScore      float64       `yaml:"spike_zscore"`
	SpikeWindow      time.Duration `yaml:"spike_window"`
	SuspiciousSpikes int           `yaml:"suspicious_spikes"`
}

// LedgerConfig names the treasury account that cmd/lkarbiterd opens at
// startup and lkarbiterctl's gift all skips. internal/ledger always
// books fees to its own ledger.TreasuryAccountID constant.
type LedgerConfig struct {
	TreasuryAccountID string `yaml:"treasury_account_id"`
}

func (c *Config) Defaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Database.Host == "" {
		c.Database.Host = "db"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "lkarbiter"
	}
	if c.Database.Name == "" {
		c.Database.Name = "lkarbiter"
	}
	if c.Database.Password == "" {
		c.Database.Password = "password"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Security.JWTSecret == "" {
		c.Security.JWTSecret = "change-me"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "lkarbiter.events"
	}

	if c.Matchmaking.BotMinDelay == 0 {
		c.Matchmaking.BotMinDelay = 500 * time.Millisecond
	}
	if c.Matchmaking.BotMaxJitter == 0 {
		c.Matchmaking.BotMaxJitter = 250 * time.Millisecond
	}
	if c.Matchmaking.QueueTimeout == 0 {
		c.Matchmaking.QueueTimeout = 30 * time.Second
	}
	if c.Matchmaking.EscrowConfirmTTL == 0 {
		c.Matchmaking.EscrowConfirmTTL = 10 * time.Second
	}
	if c.Matchmaking.ReconnectGrace == 0 {
		c.Matchmaking.ReconnectGrace = 45 * time.Second
	}
	if c.Matchmaking.RoomLockTTL == 0 {
		c.Matchmaking.RoomLockTTL = 30 * time.Second
	}

	if c.Shield.MinTrustScore == 0 {
		c.Shield.MinTrustScore = 30
	}
	if c.Shield.KycBetThreshold == 0 {
		c.Shield.KycBetThreshold = 100
	}
	if c.Shield.RateLimitPerMinute == 0 {
		c.Shield.RateLimitPerMinute = 10
	}
	if c.Shield.ReviewRiskThreshold == 0 {
		c.Shield.ReviewRiskThreshold = 70
	}

	if c.Jitter.SampleWindow == 0 {
		c.Jitter.SampleWindow = 100
	}
	if c.Jitter.SpikeRTTMillis == 0 {
		c.Jitter.SpikeRTTMillis = 500
	}
	if c.Jitter.SpikeZScore == 0 {
		c.Jitter.SpikeZScore = 2.5
	}
	if c.Jitter.SpikeWindow == 0 {
		c.Jitter.SpikeWindow = 60 * time.Second
	}
	if c.Jitter.SuspiciousSpikes == 0 {
		c.Jitter.SuspiciousSpikes = 3
	}

	if c.Ledger.TreasuryAccountID == "" {
		c.Ledger.TreasuryAccountID = "LK_TREASURY"
	}
}

func (c *Config) Validate() error {
	var errs []string
	// DB must have either URL or (Host, User, Name)
	if c.Database.URL == "" {
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			errs = append(errs, "database.url or database.{host,user,name} must be set")
		}
	}
	if len(errs) > 0 {
		return errors.New(joinErrs(errs))
	}
	return nil
}

func joinErrs(es []string) string {
	if len(es) == 1 {
		return es[0]
	}
	out := es[0]
	for i := 1; i < len(es); i++ {
		out += "; " + es[i]
	}
	return out
}

// AppURL returns a postgres connection URL for the application DB.
func (d *DatabaseConfig) AppURL() (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return "", errors.New("database config incomplete: need host, user, name or set url")
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
