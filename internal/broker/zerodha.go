package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/logging"
	"chart-patterns/internal/models"
	"chart-patterns/pkg/utils"
)

// DefaultMaxRetries bounds retries of a single Kite call.
const DefaultMaxRetries = 3

// kiteClient is the subset of the Kite Connect client used here.
type kiteClient interface {
	GetLoginURL() string
	GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error)
	SetAccessToken(accessToken string)
	GetUserProfile() (kiteconnect.UserProfile, error)
	InvalidateAccessToken() (bool, error)
	GetInstruments() (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

// ZerodhaBroker loads historical candles from Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        kiteClient
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	maxRetries    uint64
	newBackOff    func() backoff.BackOff
	instruments   map[string]models.Instrument
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey     string
	APISecret  string
	UserID     string
	TokenPath  string
	MaxRetries int
}

// DefaultTokenPath returns where the Kite session is persisted.
func DefaultTokenPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "chart-patterns", "session.json")
}

// NewZerodhaBroker creates a broker and reuses a saved session if one has
// not expired.
func NewZerodhaBroker(cfg ZerodhaConfig, logger zerolog.Logger) *ZerodhaBroker {
	return newZerodhaBroker(kiteconnect.New(cfg.APIKey), cfg, logger)
}

func newZerodhaBroker(client kiteClient, cfg ZerodhaConfig, logger zerolog.Logger) *ZerodhaBroker {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		tokenPath = DefaultTokenPath()
	}
	retries := DefaultMaxRetries
	if cfg.MaxRetries > 0 {
		retries = cfg.MaxRetries
	}

	zb := &ZerodhaBroker{
		client:      client,
		apiSecret:   cfg.APISecret,
		userID:      cfg.UserID,
		tokenPath:   tokenPath,
		maxRetries:  uint64(retries),
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		instruments: make(map[string]models.Instrument),
		logger:      logger.With().Str("component", "zerodha").Logger(),
	}

	if err := zb.loadSession(); err != nil && !os.IsNotExist(err) {
		zb.logger.Debug().Err(err).Msg("Saved session not usable")
	}

	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login checks the current session. When a fresh login is needed it returns
// an error carrying the Kite login URL.
func (z *ZerodhaBroker) Login(ctx context.Context) error {
	if z.IsAuthenticated() {
		if _, err := z.client.GetUserProfile(); err == nil {
			return nil
		}
		z.mu.Lock()
		z.authenticated = false
		z.mu.Unlock()
	}

	return apperrors.NewBrokerError("LOGIN_REQUIRED",
		fmt.Sprintf("visit %s, complete login and run `chartpatterns login --token <request_token>`", z.client.GetLoginURL()),
		apperrors.ErrNotAuthenticated)
}

// CompleteLogin exchanges a request token for an access token and persists it.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return apperrors.NewBrokerError("SESSION", "failed to generate session", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	if err := z.saveSession(session.AccessToken, time.Now()); err != nil {
		z.logger.Warn().Err(err).Str("path", z.tokenPath).Msg("Failed to persist session")
	}

	return nil
}

// Logout invalidates the session and removes the persisted token.
func (z *ZerodhaBroker) Logout(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.authenticated {
		if _, err := z.client.InvalidateAccessToken(); err != nil {
			z.logger.Warn().Err(err).Msg("Failed to invalidate token")
		}
	}

	z.accessToken = ""
	z.authenticated = false

	if err := os.Remove(z.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}

	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

// GetLoginURL returns the Kite login URL.
func (z *ZerodhaBroker) GetLoginURL() string {
	return z.client.GetLoginURL()
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	if time.Now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

// sessionExpiry returns 06:00 IST on the day after now, when Kite access
// tokens lapse.
func sessionExpiry(now time.Time) time.Time {
	now = now.In(utils.IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation)
}

func (z *ZerodhaBroker) saveSession(accessToken string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(z.tokenPath), 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   sessionExpiry(now),
	})
	if err != nil {
		return err
	}

	return os.WriteFile(z.tokenPath, data, 0o600)
}

// GetHistorical fetches candles for the request. Ranges wider than Kite
// accepts for the interval are fetched in chunks and stitched together.
func (z *ZerodhaBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "login required before fetching candles", apperrors.ErrNotAuthenticated)
	}

	interval, err := ParseInterval(req.Timeframe)
	if err != nil {
		return nil, err
	}

	exchange := req.Exchange
	if exchange == "" {
		exchange = models.NSE
	}
	token, err := z.GetInstrumentToken(ctx, req.Symbol, exchange)
	if err != nil {
		return nil, err
	}

	var candles []models.Candle
	for _, r := range SplitRange(req.From, req.To, interval.MaxDays) {
		var data []kiteconnect.HistoricalData
		err := z.retry(ctx, "GetHistoricalData", func() error {
			var callErr error
			data, callErr = z.client.GetHistoricalData(int(token), interval.Name, r.From, r.To, false, false)
			return callErr
		})
		if err != nil {
			return nil, apperrors.NewDataError("candles", req.Symbol, "failed to get historical data", err)
		}
		candles = appendCandles(candles, data)
	}

	z.logger.Debug().
		Str("symbol", req.Symbol).
		Str("interval", interval.Name).
		Int("candles", len(candles)).
		Msg("Fetched historical candles")

	return candles, nil
}

// appendCandles converts Kite rows and drops any row not strictly after the
// last one kept, which removes chunk boundary duplicates.
func appendCandles(dst []models.Candle, data []kiteconnect.HistoricalData) []models.Candle {
	for _, d := range data {
		ts := d.Date.Time
		if n := len(dst); n > 0 && !ts.After(dst[n-1].Timestamp) {
			continue
		}
		dst = append(dst, models.Candle{
			Timestamp: ts,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		})
	}
	return dst
}

// GetInstruments fetches all instruments for an exchange and caches their
// tokens.
func (z *ZerodhaBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "login required before listing instruments", apperrors.ErrNotAuthenticated)
	}

	var instruments kiteconnect.Instruments
	err := z.retry(ctx, "GetInstruments", func() error {
		var callErr error
		instruments, callErr = z.client.GetInstruments()
		return callErr
	})
	if err != nil {
		return nil, apperrors.NewBrokerError("INSTRUMENTS", "failed to get instruments", err)
	}

	var result []models.Instrument
	z.mu.Lock()
	defer z.mu.Unlock()
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		mi := models.Instrument{
			Token:     uint32(inst.InstrumentToken),
			Symbol:    inst.Tradingsymbol,
			Name:      inst.Name,
			Exchange:  models.Exchange(inst.Exchange),
			Segment:   inst.Segment,
			InstrType: inst.InstrumentType,
		}
		z.instruments[instrumentKey(mi.Exchange, mi.Symbol)] = mi
		result = append(result, mi)
	}

	return result, nil
}

// GetInstrumentToken resolves a trading symbol to its Kite instrument token.
func (z *ZerodhaBroker) GetInstrumentToken(ctx context.Context, symbol string, exchange models.Exchange) (uint32, error) {
	key := instrumentKey(exchange, symbol)

	z.mu.RLock()
	inst, ok := z.instruments[key]
	z.mu.RUnlock()
	if ok {
		return inst.Token, nil
	}

	if _, err := z.GetInstruments(ctx, exchange); err != nil {
		return 0, err
	}

	z.mu.RLock()
	inst, ok = z.instruments[key]
	z.mu.RUnlock()
	if !ok {
		return 0, apperrors.NewDataError("instrument", symbol, string(exchange), apperrors.ErrSymbolNotFound)
	}

	return inst.Token, nil
}

func instrumentKey(exchange models.Exchange, symbol string) string {
	return fmt.Sprintf("%s:%s", exchange, strings.ToUpper(symbol))
}

// retry runs a Kite call with exponential backoff. Token and input errors
// are returned at once.
func (z *ZerodhaBroker) retry(ctx context.Context, method string, call func() error) error {
	op := func() error {
		start := time.Now()
		err := call()
		logging.LogAPICall(z.logger, method, "kite", time.Since(start), err)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(z.newBackOff(), z.maxRetries), ctx))
}

func retryable(err error) bool {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		switch kerr.ErrorType {
		case kiteconnect.TokenError, kiteconnect.PermissionError, kiteconnect.InputError, kiteconnect.UserError, kiteconnect.TwoFAError:
			return false
		}
	}
	return true
}
