package app

import (
	"context"
	"slices"
	"strings"
)

// StaticUniverse serves a fixed ticker list, typically config.tickers.
type StaticUniverse struct {
	tickers []string
}

// NewStaticUniverse normalizes tickers to upper case, sorted and without duplicates.
func NewStaticUniverse(tickers []string) *StaticUniverse {
	return &StaticUniverse{tickers: normalize(tickers)}
}

func (u *StaticUniverse) Tickers(context.Context) ([]string, error) {
	return slices.Clone(u.tickers), nil
}

func normalize(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// union merges sorted ticker sets.
func union(sets ...[]string) []string {
	var all []string
	for _, s := range sets {
		all = append(all, s...)
	}
	slices.Sort(all)
	return slices.Compact(all)
}
