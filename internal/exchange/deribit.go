package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"execgateway/internal/metrics"
	"execgateway/internal/models"
	"execgateway/internal/telemetry"
	"execgateway/pkg/ratelimit"
	"execgateway/pkg/retry"
	"execgateway/pkg/utils"
)

const (
	deribitName      = "deribit"
	defaultBaseURL   = "https://test.deribit.com"
	apiPrefix        = "/api/v2/"
	defaultBookDepth = 10

	// Доля времени жизни токена, после которой он обновляется
	tokenLifetimeFraction = 0.9

	// Максимальный размер тела ответа
	maxResponseBytes = 4 << 20

	componentName = "ExecutionGateway"
)

// NoRetries отключает повторы: нулевой MaxRetries означает значение по умолчанию
const NoRetries = -1

// DeribitConfig - настройки шлюза
type DeribitConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	MaxRetries  int           // повторов после первой попытки (default: 3, NoRetries - без повторов)
	BaseBackoff time.Duration // базовая задержка (default: 100ms)

	RateLimit float64 // запросов/сек, 0 = без ограничения
	Burst     float64

	BookDepth int // глубина стакана (default: 10)

	HTTP HTTPClientConfig
}

// Option настраивает DeribitGateway
type Option func(*DeribitGateway)

// WithLatencyRecorder - куда писать латентность вызовов
func WithLatencyRecorder(r LatencyRecorder) Option {
	return func(g *DeribitGateway) { g.latency = r }
}

// WithTelemetry - sink для записей о повторах и отказах
func WithTelemetry(e telemetry.Emitter) Option {
	return func(g *DeribitGateway) { g.telemetry = e }
}

// WithHTTPClient подменяет HTTP клиент
func WithHTTPClient(c *http.Client) Option {
	return func(g *DeribitGateway) { g.client = c }
}

// DeribitGateway - клиент Deribit API v2 (HTTP/JSON-RPC)
//
// Состояние шлюза ограничено кэшем токена и счетчиком id запросов,
// поэтому один экземпляр безопасно разделяется между горутинами.
type DeribitGateway struct {
	baseURL      string
	clientID     string
	clientSecret string
	bookDepth    int

	client    *http.Client
	limiter   *ratelimit.RateLimiter
	retryCfg  retry.Config
	latency   LatencyRecorder
	telemetry telemetry.Emitter

	requestID atomic.Uint64

	// Кэш bearer токена
	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewDeribitGateway создает шлюз
func NewDeribitGateway(cfg DeribitConfig, opts ...Option) *DeribitGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = defaultBookDepth
	}
	if cfg.HTTP.TotalTimeout <= 0 {
		cfg.HTTP = DefaultHTTPClientConfig()
	}

	retryCfg := retry.DefaultConfig()
	switch {
	case cfg.MaxRetries > 0:
		retryCfg.MaxRetries = cfg.MaxRetries
	case cfg.MaxRetries < 0:
		retryCfg.MaxRetries = 0
	}
	if cfg.BaseBackoff > 0 {
		retryCfg.InitialDelay = cfg.BaseBackoff
	}

	g := &DeribitGateway{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		bookDepth:    cfg.BookDepth,
		client:       NewHTTPClient(cfg.HTTP),
		limiter:      ratelimit.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		retryCfg:     retryCfg,
		telemetry:    telemetry.Nop{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Close закрывает idle соединения
func (g *DeribitGateway) Close() {
	g.client.CloseIdleConnections()
}

// ============================================================
// Операции
// ============================================================

// Place отправляет ордер (private/buy или private/sell)
func (g *DeribitGateway) Place(ctx context.Context, req models.OrderRequest) ExecutionResult {
	params := placeParams{
		InstrumentName: req.Symbol,
		Amount:         req.Amount,
		Type:           req.Type.String(),
		Label:          req.ClientOrderID,
	}
	if req.Type == models.OrderTypeLimit {
		price := req.Price
		params.Price = &price
	}

	raw, res := g.callPrivate(ctx, "private/"+req.Side.String(), params)
	if !res.Success {
		return res
	}
	return parseOrderResult(raw, res)
}

// Cancel отменяет ордер (private/cancel)
func (g *DeribitGateway) Cancel(ctx context.Context, exchangeOrderID string) ExecutionResult {
	raw, res := g.callPrivate(ctx, "private/cancel", orderIDParams{OrderID: exchangeOrderID})
	if !res.Success {
		return res
	}

	var order venueOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return failure(res.HTTPStatus, "JSON parse error: %v", err)
	}
	res.ExchangeOrderID = order.OrderID
	if res.ExchangeOrderID == "" {
		res.ExchangeOrderID = exchangeOrderID
	}
	return res
}

// Modify меняет цену и объем (private/edit)
func (g *DeribitGateway) Modify(ctx context.Context, exchangeOrderID string, price, amount float64) ExecutionResult {
	raw, res := g.callPrivate(ctx, "private/edit", editParams{
		OrderID: exchangeOrderID,
		Amount:  amount,
		Price:   price,
	})
	if !res.Success {
		return res
	}
	return parseOrderResult(raw, res)
}

// GetStatus запрашивает состояние ордера (private/get_order_state)
func (g *DeribitGateway) GetStatus(ctx context.Context, exchangeOrderID string) (models.Order, ExecutionResult) {
	raw, res := g.callPrivate(ctx, "private/get_order_state", orderIDParams{OrderID: exchangeOrderID})
	if !res.Success {
		return models.Order{}, res
	}

	var vo venueOrder
	if err := json.Unmarshal(raw, &vo); err != nil {
		return models.Order{}, failure(res.HTTPStatus, "JSON parse error: %v", err)
	}
	order, err := vo.toOrder()
	if err != nil {
		return models.Order{}, failure(res.HTTPStatus, "%v", err)
	}
	res.ExchangeOrderID = order.ExchangeOrderID
	return order, res
}

// GetOrderBook получает стакан (public/get_order_book, GET)
func (g *DeribitGateway) GetOrderBook(ctx context.Context, symbol string) (models.OrderBook, ExecutionResult) {
	query := url.Values{}
	query.Set("instrument_name", symbol)
	query.Set("depth", strconv.Itoa(g.bookDepth))

	raw, res := g.call(ctx, rpcCall{
		method:     "public/get_order_book",
		httpMethod: http.MethodGet,
		query:      query,
	})
	if !res.Success {
		return models.OrderBook{}, res
	}

	var br bookResult
	if err := json.Unmarshal(raw, &br); err != nil {
		return models.OrderBook{}, failure(res.HTTPStatus, "JSON parse error: %v", err)
	}

	book := models.OrderBook{
		Symbol:      symbol,
		Bids:        toLevels(br.Bids),
		Asks:        toLevels(br.Asks),
		TimestampUs: utils.MillisToMicros(br.Timestamp),
	}
	return book, res
}

// ============================================================
// Транспорт
// ============================================================

type rpcCall struct {
	method     string
	httpMethod string
	query      url.Values
	params     interface{}
	token      string
}

// httpResponse - ответ одной успешной (2xx) попытки
type httpResponse struct {
	status int
	body   []byte
}

func (g *DeribitGateway) callPrivate(ctx context.Context, method string, params interface{}) ([]byte, ExecutionResult) {
	token, res := g.accessToken(ctx)
	if !res.Success {
		return nil, res
	}

	raw, res := g.call(ctx, rpcCall{
		method:     method,
		httpMethod: http.MethodPost,
		params:     params,
		token:      token,
	})
	if res.HTTPStatus == http.StatusUnauthorized {
		g.invalidateToken()
	}
	return raw, res
}

// call выполняет запрос через общий retry и разбирает конверт ответа.
// Возвращает сырой result.
func (g *DeribitGateway) call(ctx context.Context, c rpcCall) ([]byte, ExecutionResult) {
	start := time.Now()

	var body []byte
	if c.httpMethod == http.MethodPost {
		var err error
		body, err = json.Marshal(rpcRequest{
			JSONRPC: jsonRPCVersion,
			ID:      g.requestID.Add(1),
			Method:  c.method,
			Params:  c.params,
		})
		if err != nil {
			return nil, failure(0, "failed to encode request: %v", err)
		}
	}

	cfg := g.retryCfg
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		status := statusOf(err)
		metrics.RecordGatewayRetry(c.method)
		utils.Warn("retrying exchange call",
			utils.Method(c.method),
			utils.HTTPStatus(status),
			utils.Attempt(attempt),
			utils.Latency(float64(delay.Microseconds())/1000.0),
			utils.Err(err))
		g.telemetry.Emit(telemetry.LevelWarning, componentName,
			fmt.Sprintf("Retrying %s after status %d (attempt %d, delay %s)", c.method, status, attempt, delay))
	}

	resp, err := retry.DoWithResult(ctx, func() (*httpResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return g.send(ctx, c, body)
	}, cfg)

	elapsed := time.Since(start)
	if err != nil {
		status := statusOf(err)
		g.observe(c.method, status, elapsed)
		res := failure(status, "%v", err)
		utils.Error("exchange call failed",
			utils.Method(c.method),
			utils.HTTPStatus(status),
			utils.Err(err))
		g.telemetry.Emit(telemetry.LevelError, componentName,
			fmt.Sprintf("%s failed: %s", c.method, res.ErrorMessage))
		return nil, res
	}
	g.observe(c.method, resp.status, elapsed)

	var env rpcResponse
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, failure(resp.status, "JSON parse error: %v", err)
	}
	if env.Error != nil {
		exErr := &ExchangeError{
			Exchange: deribitName,
			Code:     strconv.Itoa(env.Error.Code),
			Message:  env.Error.Message,
		}
		return nil, failure(resp.status, "%v", exErr)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, failure(resp.status, "invalid response format")
	}

	return env.Result, ExecutionResult{Success: true, HTTPStatus: resp.status}
}

// send - одна HTTP попытка. Не-2xx возвращается как *retry.StatusError.
func (g *DeribitGateway) send(ctx context.Context, c rpcCall, body []byte) (*httpResponse, error) {
	endpoint := g.baseURL + apiPrefix + c.method
	if len(c.query) > 0 {
		endpoint += "?" + c.query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, c.httpMethod, endpoint, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &retry.StatusError{Code: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &retry.StatusError{Code: 0, Body: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: errorBody(data)}
	}
	return &httpResponse{status: resp.StatusCode, body: data}, nil
}

func (g *DeribitGateway) observe(method string, status int, elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000.0
	metrics.RecordGatewayCall(method, status, ms)
	if g.latency != nil {
		g.latency.RecordLatency(method, elapsed)
	}
}

// ============================================================
// Аутентификация
// ============================================================

// accessToken возвращает кэшированный токен или получает новый.
// Конкурентные вызовы ждут одно обновление под tokenMu.
func (g *DeribitGateway) accessToken(ctx context.Context) (string, ExecutionResult) {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()

	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, ExecutionResult{Success: true}
	}
	if g.clientID == "" || g.clientSecret == "" {
		return "", failure(0, "authentication failed: API credentials are not configured")
	}

	raw, res := g.call(ctx, rpcCall{
		method:     "public/auth",
		httpMethod: http.MethodPost,
		params: authParams{
			GrantType:    "client_credentials",
			ClientID:     g.clientID,
			ClientSecret: g.clientSecret,
		},
	})
	if !res.Success {
		res.ErrorMessage = "authentication failed: " + res.ErrorMessage
		return "", res
	}

	var ar authResult
	if err := json.Unmarshal(raw, &ar); err != nil {
		return "", failure(res.HTTPStatus, "authentication failed: JSON parse error: %v", err)
	}
	if ar.AccessToken == "" {
		return "", failure(res.HTTPStatus, "authentication failed: invalid response format")
	}

	lifetime := time.Duration(float64(ar.ExpiresIn) * tokenLifetimeFraction * float64(time.Second))
	g.token = ar.AccessToken
	g.tokenExpiry = g.now().Add(lifetime)

	utils.Debug("access token refreshed", utils.Exchange(deribitName), utils.Int64("expires_in", ar.ExpiresIn))
	return g.token, res
}

func (g *DeribitGateway) invalidateToken() {
	g.tokenMu.Lock()
	g.token = ""
	g.tokenMu.Unlock()
}

// ============================================================
// Разбор ответов
// ============================================================

func parseOrderResult(raw []byte, res ExecutionResult) ExecutionResult {
	var or orderResult
	if err := json.Unmarshal(raw, &or); err != nil {
		return failure(res.HTTPStatus, "JSON parse error: %v", err)
	}
	if or.Order == nil || or.Order.OrderID == "" {
		return failure(res.HTTPStatus, "invalid response format")
	}
	res.ExchangeOrderID = or.Order.OrderID
	return res
}

func (vo venueOrder) toOrder() (models.Order, error) {
	filled := float64(vo.FilledAmount)
	state, err := MapVenueState(vo.OrderState, filled)
	if err != nil {
		return models.Order{}, err
	}

	side, err := models.ParseSide(vo.Direction)
	if err != nil {
		return models.Order{}, err
	}
	orderType, err := models.ParseOrderType(vo.OrderType)
	if err != nil {
		// stop_limit, take_limit и т.п. считаются лимитными
		orderType = models.OrderTypeLimit
	}

	return models.Order{
		ClientOrderID:   vo.Label,
		ExchangeOrderID: vo.OrderID,
		OrderRequest: models.OrderRequest{
			Symbol:        vo.InstrumentName,
			Side:          side,
			Price:         float64(vo.Price),
			Amount:        float64(vo.Amount),
			Type:          orderType,
			ClientOrderID: vo.Label,
		},
		State:        state,
		FilledAmount: filled,
		CreatedAtUs:  utils.MillisToMicros(vo.CreationTimestamp),
		UpdatedAtUs:  utils.MillisToMicros(vo.LastUpdateTimestamp),
	}, nil
}

func toLevels(raw [][]flexFloat) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: float64(lvl[0]), Amount: float64(lvl[1])})
	}
	return levels
}

// statusOf извлекает HTTP статус из ошибки retry; 0 для транспортных
func statusOf(err error) int {
	var se *retry.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// errorBody достает message из JSON-RPC ошибки, если она есть в теле
func errorBody(data []byte) string {
	var env rpcResponse
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		return (&ExchangeError{
			Exchange: deribitName,
			Code:     strconv.Itoa(env.Error.Code),
			Message:  env.Error.Message,
		}).Error()
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256]
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
