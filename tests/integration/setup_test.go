// Package integration contains integration tests for the execution gateway.
//
// These tests run the whole process in memory: a mock Deribit venue behind
// httptest, the real Deribit gateway, the order store with a persistence sink
// over an on-disk database (sqlite or pebble), the REST API and the WebSocket hub.
//
// Run with: go test ./tests/integration/...
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"execgateway/internal/api"
	"execgateway/internal/exchange"
	"execgateway/internal/orders"
	"execgateway/internal/persistence"
	"execgateway/internal/service"
	"execgateway/internal/websocket"
)

// ============================================================
// Mock venue
// ============================================================

// venueOrder - ордер на стороне mock биржи
type venueOrder struct {
	ID        string  `json:"order_id"`
	State     string  `json:"order_state"`
	Symbol    string  `json:"instrument_name"`
	Direction string  `json:"direction"`
	Type      string  `json:"order_type"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Filled    float64 `json:"filled_amount"`
	Label     string  `json:"label"`
}

// MockVenue эмулирует JSON-RPC API Deribit с состоянием ордеров
type MockVenue struct {
	mu       sync.Mutex
	orders   map[string]*venueOrder
	seq      int
	rejectOn string // direction, для которой размещение отклоняется
	calls    map[string]int
}

func NewMockVenue() *MockVenue {
	return &MockVenue{
		orders: make(map[string]*venueOrder),
		calls:  make(map[string]int),
	}
}

// Fill выставляет исполненный объем ордера на бирже
func (v *MockVenue) Fill(id string, amount float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if o, ok := v.orders[id]; ok {
		o.Filled = amount
		if amount >= o.Amount {
			o.State = "filled"
		}
	}
}

func (v *MockVenue) Calls(method string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[method]
}

func (v *MockVenue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/api/v2/")

	var req struct {
		Params map[string]interface{} `json:"params"`
	}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, -32700, "parse error")
			return
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[method]++

	if strings.HasPrefix(method, "private/") && r.Header.Get("Authorization") != "Bearer it-token" {
		writeError(w, http.StatusUnauthorized, 13009, "unauthorized")
		return
	}

	switch method {
	case "public/auth":
		writeResult(w, map[string]interface{}{"access_token": "it-token", "expires_in": 900})

	case "private/buy", "private/sell":
		direction := strings.TrimPrefix(method, "private/")
		if direction == v.rejectOn {
			writeError(w, http.StatusBadRequest, 10004, "not_enough_funds")
			return
		}
		v.seq++
		o := &venueOrder{
			ID:        fmt.Sprintf("ETH-%d", v.seq),
			State:     "open",
			Symbol:    fmt.Sprint(req.Params["instrument_name"]),
			Direction: direction,
			Type:      fmt.Sprint(req.Params["type"]),
			Amount:    req.Params["amount"].(float64),
		}
		if p, ok := req.Params["price"].(float64); ok {
			o.Price = p
		}
		if l, ok := req.Params["label"].(string); ok {
			o.Label = l
		}
		v.orders[o.ID] = o
		writeResult(w, map[string]interface{}{"order": o, "trades": []interface{}{}})

	case "private/cancel", "private/edit", "private/get_order_state":
		o, ok := v.orders[fmt.Sprint(req.Params["order_id"])]
		if !ok {
			writeError(w, http.StatusBadRequest, 11044, "order_not_found")
			return
		}
		switch method {
		case "private/cancel":
			o.State = "cancelled"
			writeResult(w, o)
		case "private/edit":
			o.Price = req.Params["price"].(float64)
			o.Amount = req.Params["amount"].(float64)
			writeResult(w, map[string]interface{}{"order": o})
		default:
			writeResult(w, o)
		}

	case "public/get_order_book":
		writeResult(w, map[string]interface{}{
			"instrument_name": r.URL.Query().Get("instrument_name"),
			"bids":            [][]float64{{50000.5, 10}, {50000, 3}},
			"asks":            [][]float64{{50001.5, 7}},
			"timestamp":       time.Now().UnixMilli(),
		})

	default:
		http.NotFound(w, r)
	}
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": result})
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1,
		"error": map[string]interface{}{"code": code, "message": message},
	})
}

// ============================================================
// Test server
// ============================================================

// TestServer собирает все компоненты процесса вокруг одного хранилища
type TestServer struct {
	Driver  string
	DSN     string
	DB      persistence.Store
	Sink    *persistence.Sink
	Orders  *orders.Store
	Service *service.OrderService
	Hub     *websocket.Hub
	Venue   *MockVenue
	Server  *httptest.Server

	shutdown sync.Once
}

// SetupTestServer поднимает процесс; venue и хранилище переиспользуются при передаче
func SetupTestServer(t *testing.T, driver, dsn string, venue *MockVenue) *TestServer {
	t.Helper()
	ctx := context.Background()

	db, err := persistence.Open(ctx, driver, dsn)
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	restored, err := db.ListOrders(ctx)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}

	sink, err := persistence.NewSink(db, 1000, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	sink.Start()

	store := orders.NewStore(sink, nil)
	store.Load(restored...)

	venueSrv := httptest.NewServer(venue)
	gw := exchange.NewDeribitGateway(exchange.DeribitConfig{
		BaseURL:      venueSrv.URL,
		ClientID:     "it-client",
		ClientSecret: "it-secret",
		MaxRetries:   1,
		BaseBackoff:  time.Millisecond,
	}, exchange.WithLatencyRecorder(sink))

	svc := service.NewOrderService(store, gw, nil)

	hub := websocket.NewHub()
	hub.SetSnapshot(store.ListAll)
	store.RegisterUpdateListener(hub)
	go hub.Run()

	ts := &TestServer{
		Driver:  driver,
		DSN:     dsn,
		DB:      db,
		Sink:    sink,
		Orders:  store,
		Service: svc,
		Hub:     hub,
		Venue:   venue,
		Server:  httptest.NewServer(api.SetupRoutes(&api.Dependencies{OrderService: svc, Hub: hub})),
	}
	t.Cleanup(func() {
		ts.Shutdown(t)
		gw.Close()
		venueSrv.Close()
	})
	return ts
}

// Shutdown дренирует очередь записи и закрывает хранилище
func (ts *TestServer) Shutdown(t *testing.T) {
	ts.shutdown.Do(func() {
		ts.Server.Close()
		ts.Hub.Stop()
		ts.Sink.Stop()
		if err := ts.DB.Close(); err != nil {
			t.Errorf("close storage: %v", err)
		}
	})
}

// storageTargets - драйверы, проверяемые на реальном диске
func storageTargets(t *testing.T) map[string]string {
	dir := t.TempDir()
	return map[string]string{
		"sqlite": filepath.Join(dir, "gateway.db"),
		"pebble": filepath.Join(dir, "pebble"),
	}
}

// ============================================================
// HTTP helpers
// ============================================================

func doJSON(t *testing.T, ts *TestServer, method, path, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, ts.Server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
