package strategy

import (
	"maps"
	"math/rand/v2"
	"slices"

	"stock_bot/internal/domain"
	"stock_bot/internal/window"
)

// DirectionStrategy buys when the last close rose since the previous call
// and sells when it fell. The first observation of a ticker only records it.
type DirectionStrategy struct {
	prev map[string]float64
}

func NewDirectionStrategy() *DirectionStrategy {
	return &DirectionStrategy{prev: make(map[string]float64)}
}

func (s *DirectionStrategy) Name() string        { return "updown" }
func (s *DirectionStrategy) RequiredPeriod() int { return 2 }

func (s *DirectionStrategy) FindSignals(tables map[string]*window.Table) Signals {
	// forget tickers that left the universe
	for t := range s.prev {
		if _, ok := tables[t]; !ok {
			delete(s.prev, t)
		}
	}

	out := make(Signals)
	for ticker, table := range tables {
		if table.Empty() {
			continue
		}
		price := table.Last().Close
		prev, seen := s.prev[ticker]
		s.prev[ticker] = price
		if !seen {
			continue
		}
		switch {
		case price > prev:
			out[ticker] = domain.ActionBuy
		case price < prev:
			out[ticker] = domain.ActionSell
		}
	}
	return out
}

// RandomStrategy flips a coin for every ticker. It is the baseline the other bots are measured against.
type RandomStrategy struct {
	rng *rand.Rand
}

// NewRandomStrategy uses rng, or a randomly seeded generator when nil.
func NewRandomStrategy(rng *rand.Rand) *RandomStrategy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomStrategy{rng: rng}
}

func (s *RandomStrategy) Name() string        { return "random" }
func (s *RandomStrategy) RequiredPeriod() int { return 1 }

func (s *RandomStrategy) FindSignals(tables map[string]*window.Table) Signals {
	out := make(Signals, len(tables))
	// sorted so a seeded generator gives reproducible signals
	for _, ticker := range slices.Sorted(maps.Keys(tables)) {
		table := tables[ticker]
		if table.Empty() {
			continue
		}
		if s.rng.Float64() >= 0.5 {
			out[ticker] = domain.ActionBuy
		} else {
			out[ticker] = domain.ActionSell
		}
	}
	return out
}
