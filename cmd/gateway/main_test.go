package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
	"execgateway/internal/orders"
	"execgateway/internal/service"
	"execgateway/pkg/crypto"
)

// stubGateway - шлюз с настраиваемым результатом размещения
type stubGateway struct {
	placeFail bool
	places    int
}

func (g *stubGateway) Place(context.Context, models.OrderRequest) exchange.ExecutionResult {
	g.places++
	if g.placeFail {
		return exchange.ExecutionResult{HTTPStatus: 400, ErrorMessage: "not_enough_funds"}
	}
	return exchange.ExecutionResult{Success: true, HTTPStatus: 200, ExchangeOrderID: "EX1"}
}

func (g *stubGateway) Cancel(context.Context, string) exchange.ExecutionResult {
	return exchange.ExecutionResult{Success: true, HTTPStatus: 200}
}

func (g *stubGateway) Modify(context.Context, string, float64, float64) exchange.ExecutionResult {
	return exchange.ExecutionResult{Success: true, HTTPStatus: 200}
}

func (g *stubGateway) GetStatus(context.Context, string) (models.Order, exchange.ExecutionResult) {
	return models.Order{State: models.StatePartial, FilledAmount: 0.5}, exchange.ExecutionResult{Success: true, HTTPStatus: 200}
}

func (g *stubGateway) GetOrderBook(_ context.Context, symbol string) (models.OrderBook, exchange.ExecutionResult) {
	return models.OrderBook{
		Symbol: symbol,
		Bids:   []models.PriceLevel{{Price: 50000.5, Amount: 2}},
		Asks:   []models.PriceLevel{{Price: 50001.5, Amount: 1}},
	}, exchange.ExecutionResult{Success: true, HTTPStatus: 200}
}

func newTestApp(gw *stubGateway, input string) (*app, *bytes.Buffer) {
	out := &bytes.Buffer{}
	store := orders.NewStore(nil, nil)
	return &app{
		in:    strings.NewReader(input),
		out:   out,
		store: store,
		svc:   service.NewOrderService(store, gw, nil),
	}, out
}

// ============================================================
// run: команды без конфигурации
// ============================================================

func TestRun_HelpAndUnknown(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if code := run([]string{"help"}, nil, &stdout, &stderr); code != 0 {
		t.Errorf("help: expected 0, got %d", code)
	}
	for _, c := range commands {
		if !strings.Contains(stdout.String(), c.name) {
			t.Errorf("usage не содержит %s", c.name)
		}
	}

	stdout.Reset()
	if code := run([]string{"launch-rocket"}, nil, &stdout, &stderr); code != 1 {
		t.Errorf("unknown: expected 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "launch-rocket"`) {
		t.Errorf("unexpected stderr: %s", stderr.String())
	}

	stderr.Reset()
	if code := run(nil, nil, &stdout, &stderr); code != 1 {
		t.Errorf("no args: expected 1, got %d", code)
	}
}

func TestRun_HashToken(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"hash-token", "--token", "s3cret", "--cost", "4"}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected 0, got %d: %s", code, stderr.String())
	}

	line := strings.TrimSpace(stdout.String())
	hash := strings.TrimPrefix(line, "API_TOKEN_HASH=")
	if hash == line {
		t.Fatalf("unexpected output: %q", line)
	}
	if !crypto.TokenMatches("s3cret", hash) {
		t.Error("хеш не соответствует токену")
	}
}

func TestRun_EncryptSecret(t *testing.T) {
	key, err := crypto.GenerateKeyString()
	if err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"encrypt-secret", "--secret", "api-secret", "--key", key}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected 0, got %d: %s", code, stderr.String())
	}

	enc := strings.TrimPrefix(strings.TrimSpace(stdout.String()), "DERIBIT_SECRET_ENC=")
	plain, err := crypto.DecryptSecret(enc, key)
	if err != nil || plain != "api-secret" {
		t.Errorf("decrypt: %q, %v", plain, err)
	}

	stdout.Reset()
	if code := run([]string{"encrypt-secret"}, nil, &stdout, &stderr); code != 1 {
		t.Error("без --secret ожидался код 1")
	}
}

// ============================================================
// Команды работы с ордерами
// ============================================================

func TestDispatch_OrderLifecycle(t *testing.T) {
	gw := &stubGateway{}
	a, out := newTestApp(gw, "")
	ctx := context.Background()

	err := a.dispatch(ctx, "place-order", []string{
		"--symbol", "BTC-PERPETUAL", "--side", "buy", "--price", "50000", "--amount", "1", "--client-id", "cli-1",
	})
	if err != nil {
		t.Fatalf("place-order: %v", err)
	}
	if !strings.Contains(out.String(), "exchange id EX1") || !strings.Contains(out.String(), "open") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	steps := []struct {
		name string
		args []string
		want string
	}{
		{"get-order", []string{"--order-id", "EX1"}, "cli-1"},
		{"refresh-order", []string{"--order-id", "cli-1"}, "partial"},
		{"modify-order", []string{"--order-id", "cli-1", "--price", "51000"}, "OK modify-order"},
		{"list-orders", []string{"--active"}, "1 order(s)"},
		{"get-orderbook", []string{"--symbol", "BTC-PERPETUAL"}, "spread 1"},
		{"cancel-order", []string{"--order-id", "cli-1"}, "canceled"},
		{"list-orders", []string{"--active"}, "no orders"},
	}

	for _, s := range steps {
		out.Reset()
		if err := a.dispatch(ctx, s.name, s.args); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if !strings.Contains(out.String(), s.want) {
			t.Errorf("%s: expected %q in output:\n%s", s.name, s.want, out.String())
		}
	}
}

func TestDispatch_Errors(t *testing.T) {
	a, _ := newTestApp(&stubGateway{}, "")
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		args    []string
		wantErr string
	}{
		{"missing symbol", "place-order", []string{"--side", "buy"}, "--symbol is required"},
		{"bad side", "place-order", []string{"--symbol", "X", "--side", "hold"}, "--side"},
		{"bad price", "place-order", []string{"--symbol", "X", "--side", "buy", "--price", "abc"}, "invalid number"},
		{"negative amount", "place-order", []string{"--symbol", "X", "--side", "buy", "--amount", "-1"}, "must not be negative"},
		{"missing order id", "cancel-order", nil, "--order-id is required"},
		{"modify without values", "modify-order", []string{"--order-id", "x"}, "--price or --amount is required"},
		{"unknown order", "get-order", []string{"--order-id", "nope"}, "not found"},
		{"unknown command", "explode", nil, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.dispatch(ctx, tt.command, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDispatch_ExchangeFailureIsError(t *testing.T) {
	a, out := newTestApp(&stubGateway{placeFail: true}, "")

	err := a.dispatch(context.Background(), "place-order", []string{
		"--symbol", "BTC-PERPETUAL", "--side", "sell", "--price", "1", "--amount", "1",
	})
	if !errors.Is(err, errExchange) {
		t.Fatalf("expected errExchange, got %v", err)
	}
	if !strings.Contains(out.String(), "FAILED") || !strings.Contains(out.String(), "not_enough_funds") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "rejected") {
		t.Error("ордер должен быть в состоянии rejected")
	}
}

// ============================================================
// Интерактивный режим
// ============================================================

func TestInteractive(t *testing.T) {
	gw := &stubGateway{}
	script := strings.Join([]string{
		"help",
		"",
		"place-order --symbol ETH-PERPETUAL --side sell --price 3000 --amount 2 --client-id i-1",
		"get-order --order-id nope",
		"list-orders",
		"exit",
		"place-order --symbol ETH-PERPETUAL --side sell --price 3000 --amount 2",
	}, "\n")
	a, out := newTestApp(gw, script)

	if err := a.interactive(context.Background()); err != nil {
		t.Fatalf("interactive: %v", err)
	}

	text := out.String()
	for _, want := range []string{"get-orderbook", "i-1", "error:", "1 order(s)"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
	if gw.places != 1 {
		t.Errorf("команды после exit не должны выполняться, places=%d", gw.places)
	}
}

func TestInteractive_EOF(t *testing.T) {
	a, _ := newTestApp(&stubGateway{}, "list-orders")
	if err := a.interactive(context.Background()); err != nil {
		t.Errorf("EOF должен завершать сессию без ошибки: %v", err)
	}
}
