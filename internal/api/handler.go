package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"marketengine/internal/alert"
	"marketengine/internal/market"
	"marketengine/internal/model"
)

// MarketHandler serves the query and mutation surface of a market.Store.
type MarketHandler struct {
	store  *market.Store
	stream *Stream
}

// NewMarketHandler creates a handler. stream may be nil, in which case /ws
// is not registered.
func NewMarketHandler(store *market.Store, stream *Stream) *MarketHandler {
	return &MarketHandler{store: store, stream: stream}
}

// RegisterRoutes implements Handler.
func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")

	g.GET("/status", h.status)
	g.GET("/overview", h.overview)

	g.GET("/symbols", h.symbols)
	g.GET("/symbols/:symbol", h.symbolData)
	g.GET("/symbols/:symbol/summary", h.summary)
	g.GET("/symbols/:symbol/structure", h.structure)
	g.GET("/symbols/:symbol/alerts", h.symbolAlerts)
	g.GET("/symbols/:symbol/threshold", h.threshold)
	g.PUT("/symbols/:symbol/threshold", h.setThreshold)
	g.POST("/symbols/:symbol/candles", h.addCandle)

	g.GET("/alerts", h.alerts)
	g.POST("/alerts/:id/dismiss", h.dismissAlert)
	g.POST("/alerts/:id/read", h.markAlertRead)

	g.GET("/signals", h.signals)

	if h.stream != nil {
		e.GET("/ws", h.stream.ServeWS)
	}
}

// ─── Requests ───

type thresholdRequest struct {
	Threshold *float64 `json:"threshold" validate:"required,gte=0"`
}

type candleRequest struct {
	Time   time.Time `json:"time" validate:"required"`
	Open   float64   `json:"open" validate:"gt=0"`
	High   float64   `json:"high" validate:"gt=0"`
	Low    float64   `json:"low" validate:"gt=0"`
	Close  float64   `json:"close" validate:"gt=0"`
	Volume float64   `json:"volume" validate:"gte=0"`
}

func (r candleRequest) candle() model.Candle {
	return model.Candle{
		Time:   r.Time,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// ─── Responses ───

type statusResponse struct {
	Connection   model.ConnectionStatus `json:"connection"`
	Symbols      int                    `json:"symbols"`
	ActiveAlerts int                    `json:"active_alerts"`
	Signals      int                    `json:"signals"`
	Clients      int                    `json:"stream_clients"`
}

type thresholdResponse struct {
	Symbol    string  `json:"symbol"`
	Threshold float64 `json:"threshold"`
}

// ─── Handlers ───

func (h *MarketHandler) status(c echo.Context) error {
	resp := statusResponse{
		Connection:   h.store.ConnectionStatus(),
		Symbols:      len(h.store.Symbols()),
		ActiveAlerts: len(h.store.ActiveAlerts()),
		Signals:      len(h.store.Signals()),
	}
	if h.stream != nil {
		resp.Clients = h.stream.Clients()
	}
	return SuccessResponse(c, resp)
}

func (h *MarketHandler) overview(c echo.Context) error {
	return SuccessResponse(c, h.store.MarketOverview())
}

func (h *MarketHandler) symbols(c echo.Context) error {
	return SuccessResponse(c, h.store.Symbols())
}

// symbolData accepts ?limit=N to return only the newest N candles.
func (h *MarketHandler) symbolData(c echo.Context) error {
	data, ok := h.store.SymbolData(c.Param("symbol"))
	if !ok {
		return NotFoundResponse(c, "unknown symbol")
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return BadRequestResponse(c, []ValidationError{{
				Code:    "ERR_GT",
				Field:   "limit",
				Message: "limit must be a positive integer",
			}})
		}
		if n < len(data.Candles) {
			data.Candles = data.Candles[len(data.Candles)-n:]
		}
	}
	return SuccessResponse(c, data)
}

func (h *MarketHandler) summary(c echo.Context) error {
	summary, ok := h.store.TechnicalSummary(c.Param("symbol"))
	if !ok {
		return NotFoundResponse(c, "no indicators for symbol")
	}
	return SuccessResponse(c, summary)
}

func (h *MarketHandler) structure(c echo.Context) error {
	ms, ok := h.store.Structure(c.Param("symbol"))
	if !ok {
		return NotFoundResponse(c, "no structure for symbol")
	}
	return SuccessResponse(c, ms)
}

func (h *MarketHandler) symbolAlerts(c echo.Context) error {
	return SuccessResponse(c, h.store.AlertsBySymbol(c.Param("symbol")))
}

func (h *MarketHandler) threshold(c echo.Context) error {
	symbol := c.Param("symbol")
	return SuccessResponse(c, thresholdResponse{Symbol: symbol, Threshold: h.store.AlertThreshold(symbol)})
}

func (h *MarketHandler) setThreshold(c echo.Context) error {
	var req thresholdRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	symbol := c.Param("symbol")
	if err := h.store.SetAlertThreshold(symbol, *req.Threshold); err != nil {
		return BadRequestResponse(c, []ValidationError{{Code: "ERR_THRESHOLD", Field: "threshold", Message: err.Error()}})
	}
	return SuccessResponse(c, thresholdResponse{Symbol: symbol, Threshold: *req.Threshold})
}

func (h *MarketHandler) addCandle(c echo.Context) error {
	var req candleRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	symbol := c.Param("symbol")
	if err := h.store.AddCandle(symbol, req.candle()); err != nil {
		if errors.Is(err, market.ErrValidation) {
			return BadRequestResponse(c, []ValidationError{{Code: "ERR_CANDLE", Message: err.Error()}})
		}
		return err
	}
	data, _ := h.store.SymbolData(symbol)
	return CreatedResponse(c, data)
}

// alerts accepts ?symbol= to narrow the result to one symbol.
func (h *MarketHandler) alerts(c echo.Context) error {
	if symbol := c.QueryParam("symbol"); symbol != "" {
		return SuccessResponse(c, h.store.AlertsBySymbol(symbol))
	}
	return SuccessResponse(c, h.store.ActiveAlerts())
}

func (h *MarketHandler) dismissAlert(c echo.Context) error {
	return h.alertMutation(c, h.store.DismissAlert)
}

func (h *MarketHandler) markAlertRead(c echo.Context) error {
	return h.alertMutation(c, h.store.MarkAlertAsRead)
}

func (h *MarketHandler) alertMutation(c echo.Context, fn func(id string) error) error {
	id := c.Param("id")
	if err := fn(id); err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			return NotFoundResponse(c, "alert not found")
		}
		return err
	}
	return SuccessResponse(c, map[string]string{"id": id})
}

func (h *MarketHandler) signals(c echo.Context) error {
	all := h.store.Signals()
	symbol := c.QueryParam("symbol")
	if symbol == "" {
		return SuccessResponse(c, all)
	}
	out := make([]model.AlphaSignal, 0, len(all))
	for _, s := range all {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return SuccessResponse(c, out)
}
