package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"execgateway/internal/exchange"
	"execgateway/internal/models"
	"execgateway/internal/service"
	"execgateway/pkg/crypto"
)

// errExchange - обращение к бирже завершилось неуспешно (результат уже выведен)
var errExchange = errors.New("exchange call failed")

type command struct {
	name    string
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"place-order", "place a new order (--symbol --side --price --amount --type --client-id)", (*app).placeOrder},
		{"cancel-order", "cancel an order (--order-id)", (*app).cancelOrder},
		{"modify-order", "change price and/or amount (--order-id --price --amount)", (*app).modifyOrder},
		{"refresh-order", "sync order state from the exchange (--order-id)", (*app).refreshOrder},
		{"list-orders", "list orders (--active --symbol)", (*app).listOrders},
		{"get-order", "show one order (--order-id)", (*app).getOrder},
		{"get-orderbook", "show order book (--symbol)", (*app).getOrderBook},
	}
}

func findCommand(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

// dispatch выполняет одну команду работы с ордерами
func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	c := findCommand(name)
	if c == nil {
		return fmt.Errorf("unknown command %q", name)
	}
	return c.run(a, ctx, args)
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

// parseNumber разбирает десятичное число флага; пустая строка = 0
func parseNumber(name, value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("--%s: invalid number %q", name, value)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("--%s must not be negative", name)
	}
	return d.InexactFloat64(), nil
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

// ============================================================
// Команды
// ============================================================

func (a *app) placeOrder(ctx context.Context, args []string) error {
	fs := a.flags("place-order")
	symbol := fs.String("symbol", "", "instrument, e.g. BTC-PERPETUAL")
	side := fs.String("side", "", "buy or sell")
	price := fs.String("price", "", "limit price")
	amount := fs.String("amount", "", "order amount")
	orderType := fs.String("type", "limit", "limit or market")
	clientID := fs.String("client-id", "", "client order id (generated if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("symbol", *symbol); err != nil {
		return err
	}

	req := models.OrderRequest{Symbol: *symbol, ClientOrderID: *clientID}
	var err error
	if req.Side, err = models.ParseSide(*side); err != nil {
		return fmt.Errorf("--side: %w", err)
	}
	if req.Type, err = models.ParseOrderType(*orderType); err != nil {
		return fmt.Errorf("--type: %w", err)
	}
	if req.Price, err = parseNumber("price", *price); err != nil {
		return err
	}
	if req.Amount, err = parseNumber("amount", *amount); err != nil {
		return err
	}

	order, res, err := a.svc.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	return a.printResult("place-order", order, res)
}

func (a *app) cancelOrder(ctx context.Context, args []string) error {
	fs := a.flags("cancel-order")
	id := fs.String("order-id", "", "client or exchange order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("order-id", *id); err != nil {
		return err
	}

	order, res, err := a.svc.CancelOrder(ctx, *id)
	if err != nil {
		return err
	}
	return a.printResult("cancel-order", order, res)
}

func (a *app) modifyOrder(ctx context.Context, args []string) error {
	fs := a.flags("modify-order")
	id := fs.String("order-id", "", "client or exchange order id")
	price := fs.String("price", "", "new price (current if empty)")
	amount := fs.String("amount", "", "new amount (current if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("order-id", *id); err != nil {
		return err
	}

	var p service.ModifyParams
	var err error
	if p.Price, err = parseNumber("price", *price); err != nil {
		return err
	}
	if p.Amount, err = parseNumber("amount", *amount); err != nil {
		return err
	}
	if p.Price == 0 && p.Amount == 0 {
		return errors.New("--price or --amount is required")
	}

	order, res, err := a.svc.ModifyOrder(ctx, *id, p)
	if err != nil {
		return err
	}
	return a.printResult("modify-order", order, res)
}

func (a *app) refreshOrder(ctx context.Context, args []string) error {
	fs := a.flags("refresh-order")
	id := fs.String("order-id", "", "client or exchange order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("order-id", *id); err != nil {
		return err
	}

	order, res, err := a.svc.RefreshStatus(ctx, *id)
	if err != nil {
		return err
	}
	return a.printResult("refresh-order", order, res)
}

func (a *app) listOrders(_ context.Context, args []string) error {
	fs := a.flags("list-orders")
	active := fs.Bool("active", false, "only OPEN and PARTIAL orders")
	symbol := fs.String("symbol", "", "filter by instrument")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list := a.svc.ListOrders(service.ListFilter{ActiveOnly: *active, Symbol: *symbol})
	fmt.Fprintln(a.out, renderOrders(list))
	return nil
}

func (a *app) getOrder(_ context.Context, args []string) error {
	fs := a.flags("get-order")
	id := fs.String("order-id", "", "client or exchange order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("order-id", *id); err != nil {
		return err
	}

	order, err := a.svc.GetOrder(*id)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderOrder(order))
	return nil
}

func (a *app) getOrderBook(ctx context.Context, args []string) error {
	fs := a.flags("get-orderbook")
	symbol := fs.String("symbol", "", "instrument, e.g. BTC-PERPETUAL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("symbol", *symbol); err != nil {
		return err
	}

	book, res, err := a.svc.GetOrderBook(ctx, *symbol)
	if err != nil {
		return err
	}
	if !res.Success {
		fmt.Fprintln(a.out, renderResult("get-orderbook", res))
		return errExchange
	}
	fmt.Fprintln(a.out, renderBook(book))
	return nil
}

// printResult выводит результат и снимок; неуспех биржи превращается в errExchange
func (a *app) printResult(op string, order models.Order, res exchange.ExecutionResult) error {
	fmt.Fprintln(a.out, renderResult(op, res))
	fmt.Fprintln(a.out, renderOrder(order))
	if !res.Success {
		return errExchange
	}
	return nil
}

// ============================================================
// Вспомогательные команды (без хранилища)
// ============================================================

func runHashToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(out)
	token := fs.String("token", "", "API token (generated if empty)")
	cost := fs.Int("cost", crypto.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *token == "" {
		generated, err := crypto.GenerateToken()
		if err != nil {
			return err
		}
		*token = generated
		fmt.Fprintf(out, "token: %s\n", generated)
	}

	hash, err := crypto.HashTokenWithCost(*token, *cost)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "API_TOKEN_HASH=%s\n", hash)
	return nil
}

func runEncryptSecret(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encrypt-secret", flag.ContinueOnError)
	fs.SetOutput(out)
	secret := fs.String("secret", "", "API secret to encrypt")
	key := fs.String("key", "", "base64 ENCRYPTION_KEY (generated if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag("secret", *secret); err != nil {
		return err
	}

	if *key == "" {
		generated, err := crypto.GenerateKeyString()
		if err != nil {
			return err
		}
		*key = generated
		fmt.Fprintf(out, "ENCRYPTION_KEY=%s\n", generated)
	}

	enc, err := crypto.EncryptSecret(*secret, *key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "DERIBIT_SECRET_ENC=%s\n", enc)
	return nil
}
