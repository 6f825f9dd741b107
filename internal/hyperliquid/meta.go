package hyperliquid

import (
	"context"
	"fmt"
)

// Asset is one instrument from the venue's universe metadata.
type Asset struct {
	Name        string `json:"name"`
	SzDecimals  int32  `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// Universe resolves per-instrument sizing constraints. It satisfies
// domain.InstrumentMeta.
type Universe struct {
	assets map[string]Asset
}

// FetchUniverse loads the perpetuals universe once at startup. The
// instrument set changes rarely enough that a process-lifetime copy is
// fine.
func (c *InfoClient) FetchUniverse(ctx context.Context) (*Universe, error) {
	var meta struct {
		Universe []Asset `json:"universe"`
	}
	if err := c.post(ctx, "meta", map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, err
	}
	if len(meta.Universe) == 0 {
		return nil, fmt.Errorf("meta response contained no instruments")
	}

	assets := make(map[string]Asset, len(meta.Universe))
	for _, a := range meta.Universe {
		assets[a.Name] = a
	}
	return &Universe{assets: assets}, nil
}

// NewUniverse builds a universe from a fixed asset list, for tests and
// offline tooling.
func NewUniverse(assets []Asset) *Universe {
	m := make(map[string]Asset, len(assets))
	for _, a := range assets {
		m[a.Name] = a
	}
	return &Universe{assets: m}
}

// SizeDecimals returns the instrument's size precision; unknown symbols
// fall back to whole units, the venue's most conservative increment.
func (u *Universe) SizeDecimals(symbol string) int32 {
	if a, ok := u.assets[symbol]; ok {
		return a.SzDecimals
	}
	return 0
}

// MaxLeverage returns the venue cap for symbol, or 1 when unknown.
func (u *Universe) MaxLeverage(symbol string) int {
	if a, ok := u.assets[symbol]; ok && a.MaxLeverage > 0 {
		return a.MaxLeverage
	}
	return 1
}

// Len returns the number of known instruments.
func (u *Universe) Len() int { return len(u.assets) }

// Has reports whether the symbol exists in the universe.
func (u *Universe) Has(symbol string) bool {
	_, ok := u.assets[symbol]
	return ok
}
