// Package hyperliquid is the exchange boundary: a read client for the
// venue's info API, an order submission sink, and the instrumentation
// decorator every boundary call passes through.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypermirror/hypermirror/internal/domain"
)

// MainnetInfoURL is the public info API endpoint.
const MainnetInfoURL = "https://api.hyperliquid.xyz/info"

// AccountSource reads account state. Implementations may fail, be slow,
// or be rate limited; callers never assume internal retry behavior.
type AccountSource interface {
	FetchAccountState(ctx context.Context, address string) (*domain.AccountSnapshot, error)
}

// OrderSink is the only mutating boundary call.
type OrderSink interface {
	SubmitOrder(ctx context.Context, instr domain.OrderInstruction) (domain.OrderResult, error)
}

// InfoClient talks to the Hyperliquid info API. All info queries are a
// POST of {"type": ...} to a single URL.
type InfoClient struct {
	url   string
	httpc *http.Client
}

// NewInfoClient creates an info client; an empty url uses mainnet.
func NewInfoClient(url string, httpc *http.Client) *InfoClient {
	if url == "" {
		url = MainnetInfoURL
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &InfoClient{url: url, httpc: httpc}
}

func (c *InfoClient) post(ctx context.Context, endpoint string, req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return &APIError{Endpoint: endpoint, Message: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &APIError{Endpoint: endpoint, Message: err.Error(), Temporary: true}
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(endpoint, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// clearinghouseState mirrors the venue's user-state payload; numeric
// fields arrive as strings.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin          string  `json:"coin"`
			Szi           string  `json:"szi"`
			EntryPx       string  `json:"entryPx"`
			LiquidationPx *string `json:"liquidationPx"`
			Leverage      struct {
				Type  string `json:"type"`
				Value int    `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
	Time int64 `json:"time"`
}

// FetchAccountState retrieves the perpetuals state for address and
// converts it into an immutable snapshot. Zero-size positions are
// dropped; shorts arrive as negative szi.
func (c *InfoClient) FetchAccountState(ctx context.Context, address string) (*domain.AccountSnapshot, error) {
	var state clearinghouseState
	req := map[string]string{"type": "clearinghouseState", "user": address}
	if err := c.post(ctx, "user_state", req, &state); err != nil {
		return nil, err
	}

	equity, err := decimal.NewFromString(state.MarginSummary.AccountValue)
	if err != nil {
		return nil, fmt.Errorf("parse account value %q: %w", state.MarginSummary.AccountValue, err)
	}

	ts := time.Now().UTC()
	if state.Time > 0 {
		ts = time.UnixMilli(state.Time).UTC()
	}

	snap := &domain.AccountSnapshot{
		Address:   address,
		Timestamp: ts,
		Positions: make(map[string]domain.Position),
		Equity:    equity,
	}

	for _, ap := range state.AssetPositions {
		p := ap.Position
		if p.Coin == "" {
			continue
		}
		szi, err := decimal.NewFromString(p.Szi)
		if err != nil || szi.IsZero() {
			continue
		}

		side := domain.SideLong
		if szi.IsNegative() {
			side = domain.SideShort
		}
		entry, _ := decimal.NewFromString(p.EntryPx)

		var liq decimal.Decimal
		if p.LiquidationPx != nil {
			liq, _ = decimal.NewFromString(*p.LiquidationPx)
		}

		mode := domain.MarginCross
		if p.Leverage.Type == "isolated" {
			mode = domain.MarginIsolated
		}

		snap.Positions[p.Coin] = domain.Position{
			Side:             side,
			Size:             szi.Abs(),
			EntryPrice:       entry,
			Leverage:         p.Leverage.Value,
			MarginMode:       mode,
			LiquidationPrice: liq,
		}
	}

	return snap, nil
}

// AllMids returns the current mid price per coin.
func (c *InfoClient) AllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := c.post(ctx, "all_mids", map[string]string{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}

	mids := make(map[string]decimal.Decimal, len(raw))
	for coin, px := range raw {
		d, err := decimal.NewFromString(px)
		if err != nil {
			continue
		}
		mids[coin] = d
	}
	return mids, nil
}
