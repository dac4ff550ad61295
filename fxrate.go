package accounting

// FX rate storage and the ASC 830 lookup rules the consolidation engine
// relies on: period-average rates for income statement translation,
// period-closing rates for balance sheet translation, and historical rates
// for equity line items.

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateType distinguishes how a rate was captured, since the same currency
// pair can have a different rate depending on when and why it was recorded.
type RateType string

const (
	RateSpot           RateType = "SPOT"
	RatePeriodAverage  RateType = "PERIOD_AVERAGE"
	RatePeriodClosing  RateType = "PERIOD_CLOSING"
	RateHistorical     RateType = "HISTORICAL"
)

// ExchangeRate is an effective-dated quote from FromCurrency to ToCurrency.
type ExchangeRate struct {
	ID           string       `json:"id"`
	FromCurrency CurrencyCode `json:"from_currency"`
	ToCurrency   CurrencyCode `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	RateType     RateType     `json:"rate_type"`
	EffectiveAt  time.Time    `json:"effective_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// FxRateStore holds exchange rates and answers the date-aware lookups the
// translation step of consolidation needs.
type FxRateStore struct {
	storage *Storage
}

// NewFxRateStore wires a rate store against the shared bbolt storage.
func NewFxRateStore(storage *Storage) *FxRateStore {
	return &FxRateStore{storage: storage}
}

// CreateRate records a single exchange rate quote.
func (s *FxRateStore) CreateRate(from, to CurrencyCode, rate decimal.Decimal, rateType RateType, effectiveAt time.Time) (*ExchangeRate, error) {
	if from == to {
		return nil, newDomainErr(ErrSameCurrencyRate, fmt.Sprintf("currency %s cannot be exchanged with itself", from))
	}
	if rate.Sign() <= 0 {
		return nil, newDomainErr(ErrValidation, "exchange rate must be positive")
	}

	fx := &ExchangeRate{
		ID:           uuid.New().String(),
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
		RateType:     rateType,
		EffectiveAt:  effectiveAt,
		CreatedAt:    time.Now(),
	}

	if err := s.storage.SaveExchangeRate(fx); err != nil {
		return nil, fmt.Errorf("failed to save exchange rate: %w", err)
	}
	return fx, nil
}

// BulkCreateRates saves a batch atomically: either every rate is recorded
// or none are, so a partial batch failure never leaves a half-loaded
// rate table mid consolidation.
func (s *FxRateStore) BulkCreateRates(rates []*ExchangeRate) error {
	for _, r := range rates {
		if r.FromCurrency == r.ToCurrency {
			return newDomainErr(ErrSameCurrencyRate, fmt.Sprintf("currency %s cannot be exchanged with itself", r.FromCurrency))
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
	}
	return s.storage.SaveExchangeRatesBatch(rates)
}

func (s *FxRateStore) ratesFor(from, to CurrencyCode, rateType RateType) ([]*ExchangeRate, error) {
	all, err := s.storage.GetExchangeRates(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}
	var matched []*ExchangeRate
	for _, r := range all {
		if r.RateType == rateType {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].EffectiveAt.Before(matched[j].EffectiveAt) })
	return matched, nil
}

// GetForDate returns the rate of the given type effective on or before
// asOf, preferring the most recent such rate.
func (s *FxRateStore) GetForDate(from, to CurrencyCode, rateType RateType, asOf time.Time) (*ExchangeRate, error) {
	matched, err := s.ratesFor(from, to, rateType)
	if err != nil {
		return nil, err
	}
	var best *ExchangeRate
	for _, r := range matched {
		if r.EffectiveAt.After(asOf) {
			break
		}
		best = r
	}
	if best == nil {
		return nil, newDomainErr(ErrRateNotFound, fmt.Sprintf("no %s rate %s->%s effective on or before %s", rateType, from, to, asOf.Format("2006-01-02")))
	}
	return best, nil
}

// GetLatest returns the most recently effective rate of the given type,
// regardless of date.
func (s *FxRateStore) GetLatest(from, to CurrencyCode, rateType RateType) (*ExchangeRate, error) {
	matched, err := s.ratesFor(from, to, rateType)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, newDomainErr(ErrRateNotFound, fmt.Sprintf("no %s rate %s->%s on record", rateType, from, to))
	}
	return matched[len(matched)-1], nil
}

// GetClosest returns the rate effective on or before target, preferring the
// most recently effective one; a tie in EffectiveAt breaks toward whichever
// rate was recorded last. A rate effective after target is never considered.
// GetLatest also returns a future-dated rate and does not break EffectiveAt
// ties by CreatedAt, so it agrees with GetClosest(..., time.Now()) only when
// neither a future-dated rate nor such a tie is on record.
func (s *FxRateStore) GetClosest(from, to CurrencyCode, rateType RateType, target time.Time) (*ExchangeRate, error) {
	matched, err := s.ratesFor(from, to, rateType)
	if err != nil {
		return nil, err
	}
	var best *ExchangeRate
	for _, r := range matched {
		if r.EffectiveAt.After(target) {
			continue
		}
		if best == nil || r.EffectiveAt.After(best.EffectiveAt) {
			best = r
			continue
		}
		if r.EffectiveAt.Equal(best.EffectiveAt) && r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, newDomainErr(ErrRateNotFound, fmt.Sprintf("no %s rate %s->%s effective on or before %s", rateType, from, to, target.Format("2006-01-02")))
	}
	return best, nil
}

// GetPeriodAverage returns the RatePeriodAverage rate effective within
// [start, end], used to translate income statement accounts under ASC 830.
// Absent an explicit average rate, it falls back to the unweighted mean of
// every Spot rate recorded within the window.
func (s *FxRateStore) GetPeriodAverage(from, to CurrencyCode, start, end time.Time) (*ExchangeRate, error) {
	if r, err := s.rateInWindow(from, to, RatePeriodAverage, start, end); err == nil {
		return r, nil
	}

	spots, err := s.ratesFor(from, to, RateSpot)
	if err != nil {
		return nil, err
	}
	sum := decimal.Zero
	count := 0
	var latestCreated time.Time
	for _, r := range spots {
		if r.EffectiveAt.Before(start) || r.EffectiveAt.After(end) {
			continue
		}
		sum = sum.Add(r.Rate)
		count++
		if r.CreatedAt.After(latestCreated) {
			latestCreated = r.CreatedAt
		}
	}
	if count == 0 {
		return nil, newDomainErr(ErrRateNotFound, fmt.Sprintf("no %s rate and no spot rates %s->%s within %s..%s", RatePeriodAverage, from, to, start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return &ExchangeRate{
		FromCurrency: from, ToCurrency: to,
		Rate:        sum.Div(decimal.NewFromInt(int64(count))),
		RateType:    RatePeriodAverage,
		EffectiveAt: end,
		CreatedAt:   latestCreated,
	}, nil
}

// GetPeriodClosing returns the RatePeriodClosing rate effective within
// [start, end], used to translate balance sheet asset/liability accounts.
// Absent an explicit closing rate, it falls back to the latest Spot rate
// effective on or before end.
func (s *FxRateStore) GetPeriodClosing(from, to CurrencyCode, start, end time.Time) (*ExchangeRate, error) {
	if r, err := s.rateInWindow(from, to, RatePeriodClosing, start, end); err == nil {
		return r, nil
	}
	spot, err := s.GetForDate(from, to, RateSpot, end)
	if err != nil {
		return nil, newDomainErr(ErrRateNotFound, fmt.Sprintf("no %s rate and no spot fallback %s->%s within %s..%s", RatePeriodClosing, from, to, start.Format("2006-01-02"), end.Format("2006-01-02")))
	}
	return spot, nil
}

func (s *FxRateStore) rateInWindow(from, to CurrencyCode, rateType RateType, start, end time.Time) (*ExchangeRate, error) {
	matched, err := s.ratesFor(from, to, rateType)
	if err != nil {
		return nil, err
	}
	for i := len(matched) - 1; i >= 0; i-- {
		r := matched[i]
		if !r.EffectiveAt.Before(start) && !r.EffectiveAt.After(end) {
			return r, nil
		}
	}
	return nil, newDomainErr(ErrRateNotFound, fmt.Sprintf("no %s rate %s->%s within %s..%s", rateType, from, to, start.Format("2006-01-02"), end.Format("2006-01-02")))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
