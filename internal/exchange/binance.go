package exchange

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"tiller/internal/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// BinanceClient adapts the Binance spot API to the Client capability. Every
// error leaves this file already tagged HARD or SOFT.
type BinanceClient struct {
	api *binance.Client
}

func NewBinanceClient(apiKey, secretKey, baseURL string) *BinanceClient {
	api := binance.NewClient(apiKey, secretKey)
	if strings.TrimSpace(baseURL) != "" {
		api.BaseURL = strings.TrimSpace(baseURL)
	}
	return &BinanceClient{api: api}
}

func (c *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if c == nil || c.api == nil {
		return Order{}, Soft("binance client not initialized", nil)
	}
	symbol := binanceSymbol(req.Asset)
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(req.Side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(req.Amount.String()).
		Price(req.Price.String()).
		NewClientOrderID(req.ClientOrderID)
	resp, err := svc.Do(ctx)
	if err != nil {
		return Order{}, classifyOrderError(err)
	}
	return Order{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Asset:         req.Asset,
		Side:          req.Side,
		Price:         req.Price,
		Amount:        req.Amount,
		Status:        string(resp.Status),
	}, nil
}

func (c *BinanceClient) FindOrderByClientID(ctx context.Context, asset, clientOrderID string) (Order, error) {
	if c == nil || c.api == nil {
		return Order{}, Soft("binance client not initialized", nil)
	}
	resp, err := c.api.NewGetOrderService().
		Symbol(binanceSymbol(asset)).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		// -2013: order does not exist. The only definitive negative.
		if errors.As(err, &apiErr) && apiErr.Code == -2013 {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, Soft("order lookup failed", err)
	}
	price, _ := decimal.NewFromString(resp.Price)
	amount, _ := decimal.NewFromString(resp.OrigQuantity)
	return Order{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Asset:         asset,
		Side:          strings.ToLower(string(resp.Side)),
		Price:         price,
		Amount:        amount,
		Status:        string(resp.Status),
	}, nil
}

// classifyOrderError decides HARD vs SOFT exactly once. An API-level reject
// means the exchange saw and refused the order (HARD); transport failures and
// exchange-internal errors leave the outcome unknown (SOFT).
func classifyOrderError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if softAPICode(apiErr.Code) {
			return Soft(apiErr.Message, err)
		}
		return Hard(apiErr.Code, apiErr.Message, err)
	}
	// Some gateways wrap the reject body in a plain error string; dig the
	// code out before defaulting to SOFT.
	if code := codeFromBody(err.Error()); code != 0 && !softAPICode(code) {
		return Hard(code, err.Error(), err)
	}
	return Soft(err.Error(), err)
}

// softAPICode covers the Binance error codes that do not prove the order was
// rejected: unknown/internal errors, disconnects and timeouts.
func softAPICode(code int64) bool {
	switch code {
	case -1000, -1001, -1003, -1006, -1007, -1016:
		return true
	default:
		return code >= -1999 && code <= -1990 // 5xx band reported as API errors
	}
}

func codeFromBody(body string) int64 {
	idx := strings.IndexByte(body, '{')
	if idx < 0 {
		return 0
	}
	raw := body[idx:]
	if !gjson.Valid(raw) {
		return 0
	}
	code := gjson.Get(raw, "code")
	if !code.Exists() {
		return 0
	}
	return code.Int()
}

func binanceSymbol(asset string) string {
	s := strings.ToUpper(strings.TrimSpace(asset))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}

func binanceSide(side string) binance.SideType {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy", "rebalance":
		return binance.SideTypeBuy
	case "sell", "close":
		return binance.SideTypeSell
	default:
		logger.Warnf("exchange: unknown side %q, defaulting to BUY", side)
		return binance.SideTypeBuy
	}
}
