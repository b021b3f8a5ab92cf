package broker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/models"
)

// Property: chunks cover the requested range exactly, in order, and none is
// wider than the interval allows.
func TestProperty_SplitRangeCoversRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	base := time.Date(2020, 1, 1, 9, 15, 0, 0, time.UTC)

	properties.Property("chunks tile the range", prop.ForAll(
		func(spanHours int, maxDays int) bool {
			from := base
			to := base.Add(time.Duration(spanHours) * time.Hour)
			ranges := SplitRange(from, to, maxDays)
			if len(ranges) == 0 {
				return false
			}
			if !ranges[0].From.Equal(from) || !ranges[len(ranges)-1].To.Equal(to) {
				return false
			}
			limit := time.Duration(maxDays) * 24 * time.Hour
			for i, r := range ranges {
				if r.To.Before(r.From) || r.To.Sub(r.From) > limit {
					return false
				}
				if i > 0 && !r.From.Equal(ranges[i-1].To) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 24*5000),
		gen.IntRange(1, 2000),
	))

	properties.TestingRun(t)
}

// Property: every alias resolves to a known interval.
func TestProperty_TimeframeAliasesResolve(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	names := make([]interface{}, 0, len(timeframeAliases)+len(intervals))
	for alias := range timeframeAliases {
		names = append(names, alias)
	}
	for name := range intervals {
		names = append(names, name)
	}

	properties.Property("aliases map to Kite intervals", prop.ForAll(
		func(tf string) bool {
			iv, err := ParseInterval(tf)
			if err != nil {
				return false
			}
			known, ok := intervals[iv.Name]
			return ok && known == iv
		},
		gen.OneConstOf(names...),
	))

	properties.TestingRun(t)
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("")
	require.NoError(t, err)
	assert.Equal(t, "day", iv.Name)

	iv, err = ParseInterval(" 5MIN ")
	require.NoError(t, err)
	assert.Equal(t, Interval{Name: "5minute", MaxDays: 100}, iv)

	_, err = ParseInterval("weekly")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfigInvalid))
}

func TestSplitRange_Empty(t *testing.T) {
	now := time.Now()
	assert.Nil(t, SplitRange(now, now.Add(-time.Hour), 10))
	assert.Len(t, SplitRange(now, now, 10), 1)
}

type fakeKite struct {
	instruments    kiteconnect.Instruments
	history        map[int][]kiteconnect.HistoricalData
	historyErrs    []error
	historyCalls   int
	instrumentHits int
	accessToken    string
}

func (f *fakeKite) GetLoginURL() string { return "https://kite.example/login" }

func (f *fakeKite) GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error) {
	var s kiteconnect.UserSession
	if requestToken == "" {
		return s, kiteconnect.NewError(kiteconnect.TokenError, "invalid request token", nil)
	}
	s.AccessToken = "access-" + requestToken
	return s, nil
}

func (f *fakeKite) SetAccessToken(accessToken string) { f.accessToken = accessToken }

func (f *fakeKite) GetUserProfile() (kiteconnect.UserProfile, error) {
	return kiteconnect.UserProfile{}, nil
}

func (f *fakeKite) InvalidateAccessToken() (bool, error) { return true, nil }

func (f *fakeKite) GetInstruments() (kiteconnect.Instruments, error) {
	f.instrumentHits++
	return f.instruments, nil
}

func (f *fakeKite) GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error) {
	f.historyCalls++
	if len(f.historyErrs) > 0 {
		err := f.historyErrs[0]
		f.historyErrs = f.historyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []kiteconnect.HistoricalData
	for _, d := range f.history[instrumentToken] {
		if !d.Date.Time.Before(fromDate) && !d.Date.Time.After(toDate) {
			out = append(out, d)
		}
	}
	return out, nil
}

func dailyHistory(start time.Time, n int) []kiteconnect.HistoricalData {
	out := make([]kiteconnect.HistoricalData, n)
	for i := range out {
		price := 100 + float64(i)
		out[i] = kiteconnect.HistoricalData{
			Date:   kitemodels.Time{Time: start.AddDate(0, 0, i)},
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000 + i,
		}
	}
	return out
}

func newTestBroker(t *testing.T, client *fakeKite) *ZerodhaBroker {
	t.Helper()
	zb := newZerodhaBroker(client, ZerodhaConfig{
		APISecret: "secret",
		UserID:    "AB1234",
		TokenPath: filepath.Join(t.TempDir(), "session.json"),
	}, zerolog.Nop())
	zb.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return zb
}

func loggedIn(t *testing.T, zb *ZerodhaBroker) {
	t.Helper()
	require.NoError(t, zb.CompleteLogin(context.Background(), "req"))
}

func TestZerodha_RequiresLogin(t *testing.T) {
	zb := newTestBroker(t, &fakeKite{})
	assert.False(t, zb.IsAuthenticated())

	err := zb.Login(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotAuthenticated))
	assert.Contains(t, err.Error(), "https://kite.example/login")

	_, err = zb.GetHistorical(context.Background(), HistoricalRequest{Symbol: "INFY"})
	assert.True(t, errors.Is(err, apperrors.ErrNotAuthenticated))
}

func TestZerodha_SessionPersistence(t *testing.T) {
	client := &fakeKite{}
	zb := newTestBroker(t, client)
	loggedIn(t, zb)
	assert.Equal(t, "access-req", client.accessToken)
	require.NoError(t, zb.Login(context.Background()))

	reloaded := newZerodhaBroker(&fakeKite{}, ZerodhaConfig{TokenPath: zb.tokenPath}, zerolog.Nop())
	assert.True(t, reloaded.IsAuthenticated())

	require.NoError(t, reloaded.Logout(context.Background()))
	assert.False(t, reloaded.IsAuthenticated())
	_, err := os.Stat(zb.tokenPath)
	assert.True(t, os.IsNotExist(err))

	err = zb.CompleteLogin(context.Background(), "")
	var brokerErr *apperrors.BrokerError
	assert.True(t, errors.As(err, &brokerErr))
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2024, 3, 4, 22, 0, 0, 0, time.UTC)
	expiry := sessionExpiry(now)
	assert.Equal(t, 6, expiry.Hour())
	assert.True(t, expiry.After(now))
}

func TestZerodha_GetHistoricalStitchesChunks(t *testing.T) {
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeKite{
		instruments: kiteconnect.Instruments{
			{InstrumentToken: 408065, Tradingsymbol: "INFY", Exchange: "NSE", Segment: "NSE"},
			{InstrumentToken: 1, Tradingsymbol: "INFY", Exchange: "BSE", Segment: "BSE"},
		},
		history: map[int][]kiteconnect.HistoricalData{408065: dailyHistory(start, 2500)},
	}
	zb := newTestBroker(t, client)
	loggedIn(t, zb)

	candles, err := zb.GetHistorical(context.Background(), HistoricalRequest{
		Symbol:    "infy",
		Timeframe: "1d",
		From:      start,
		To:        start.AddDate(0, 0, 2499),
	})
	require.NoError(t, err)
	require.Len(t, candles, 2500)
	assert.Equal(t, 2, client.historyCalls)
	for i := 1; i < len(candles); i++ {
		require.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp))
	}
	assert.Equal(t, int64(1000), candles[0].Volume)

	_, err = zb.GetHistorical(context.Background(), HistoricalRequest{Symbol: "INFY", From: start, To: start.AddDate(0, 0, 5)})
	require.NoError(t, err)
	assert.Equal(t, 1, client.instrumentHits)
}

func TestZerodha_RetriesTransientErrors(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeKite{
		instruments: kiteconnect.Instruments{{InstrumentToken: 7, Tradingsymbol: "TCS", Exchange: "NSE"}},
		history:     map[int][]kiteconnect.HistoricalData{7: dailyHistory(start, 10)},
		historyErrs: []error{
			kiteconnect.NewError(kiteconnect.NetworkError, "timeout", nil),
			kiteconnect.NewError(kiteconnect.GeneralError, "busy", nil),
		},
	}
	zb := newTestBroker(t, client)
	loggedIn(t, zb)

	candles, err := zb.GetHistorical(context.Background(), HistoricalRequest{Symbol: "TCS", From: start, To: start.AddDate(0, 0, 9)})
	require.NoError(t, err)
	assert.Len(t, candles, 10)
	assert.Equal(t, 3, client.historyCalls)
}

func TestZerodha_PermanentErrorsAreNotRetried(t *testing.T) {
	client := &fakeKite{
		instruments: kiteconnect.Instruments{{InstrumentToken: 7, Tradingsymbol: "TCS", Exchange: "NSE"}},
		historyErrs: []error{kiteconnect.NewError(kiteconnect.TokenError, "token expired", nil)},
	}
	zb := newTestBroker(t, client)
	loggedIn(t, zb)

	_, err := zb.GetHistorical(context.Background(), HistoricalRequest{Symbol: "TCS", From: time.Now().AddDate(0, 0, -3), To: time.Now()})
	require.Error(t, err)
	assert.Equal(t, 1, client.historyCalls)
	var dataErr *apperrors.DataError
	assert.True(t, errors.As(err, &dataErr))
}

func TestZerodha_UnknownSymbol(t *testing.T) {
	zb := newTestBroker(t, &fakeKite{})
	loggedIn(t, zb)

	_, err := zb.GetInstrumentToken(context.Background(), "NOPE", models.NSE)
	assert.True(t, errors.Is(err, apperrors.ErrSymbolNotFound))
}
