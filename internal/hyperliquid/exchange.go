package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hypermirror/hypermirror/internal/domain"
)

// DefaultSlippage is the tolerance applied to the mid when pricing the
// IOC limit order that emulates a market fill.
var DefaultSlippage = decimal.RequireFromString("0.02")

// MidSource supplies current mid prices for order pricing.
type MidSource interface {
	AllMids(ctx context.Context) (map[string]decimal.Decimal, error)
}

// ExecutionClient submits orders through the execution gateway, which
// owns the wallet key and performs the venue's order signing. The
// engine's contract ends at instruction semantics: size, side, margin
// mode, reduce-only.
type ExecutionClient struct {
	endpoint string
	httpc    *http.Client
	mids     MidSource
	slippage decimal.Decimal
}

// NewExecutionClient creates an order sink posting to endpoint.
func NewExecutionClient(endpoint string, httpc *http.Client, mids MidSource, slippage decimal.Decimal) *ExecutionClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if slippage.IsZero() {
		slippage = DefaultSlippage
	}
	return &ExecutionClient{endpoint: endpoint, httpc: httpc, mids: mids, slippage: slippage}
}

type orderRequest struct {
	Cloid      string `json:"cloid"`
	Coin       string `json:"coin"`
	IsBuy      bool   `json:"is_buy"`
	Size       string `json:"sz"`
	LimitPx    string `json:"limit_px"`
	Tif        string `json:"tif"`
	ReduceOnly bool   `json:"reduce_only"`
	Leverage   int    `json:"leverage,omitempty"`
	MarginMode string `json:"margin_mode,omitempty"`
}

type orderResponse struct {
	Status string `json:"status"`
	OID    string `json:"oid,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SubmitOrder prices the instruction at mid plus slippage tolerance and
// posts it as an immediate-or-cancel limit order. A response-level
// rejection comes back as an unaccepted OrderResult, not an error, so
// the controller can distinguish permanent rejections from transport
// failures.
func (c *ExecutionClient) SubmitOrder(ctx context.Context, instr domain.OrderInstruction) (domain.OrderResult, error) {
	mids, err := c.mids.AllMids(ctx)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("price order for %s: %w", instr.Symbol, err)
	}
	mid, ok := mids[instr.Symbol]
	if !ok || mid.IsZero() {
		return domain.OrderResult{}, &APIError{
			Endpoint: "order",
			Message:  fmt.Sprintf("no mid price for %s", instr.Symbol),
		}
	}

	isBuy := instr.Side == domain.SideLong
	one := decimal.NewFromInt(1)
	var limitPx decimal.Decimal
	if isBuy {
		limitPx = mid.Mul(one.Add(c.slippage))
	} else {
		limitPx = mid.Mul(one.Sub(c.slippage))
	}

	req := orderRequest{
		Cloid:      uuid.NewString(),
		Coin:       instr.Symbol,
		IsBuy:      isBuy,
		Size:       instr.Size.String(),
		LimitPx:    limitPx.Round(6).String(),
		Tif:        "Ioc",
		ReduceOnly: instr.ReduceOnly,
		Leverage:   instr.Leverage,
		MarginMode: string(instr.MarginMode),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return domain.OrderResult{}, &APIError{Endpoint: "order", Message: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OrderResult{}, &APIError{Endpoint: "order", Message: err.Error(), Temporary: true}
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OrderResult{}, classifyStatus("order", resp.StatusCode, string(body))
	}

	var or orderResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return domain.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	if or.Status != "ok" {
		return domain.OrderResult{Accepted: false, Reason: or.Error}, nil
	}
	return domain.OrderResult{Accepted: true, OrderID: or.OID}, nil
}
