package orders

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"execgateway/internal/models"
	"execgateway/internal/telemetry"
)

// ============================================================
// Test doubles
// ============================================================

type persistSpy struct {
	mu     sync.Mutex
	writes []models.Order
}

func (p *persistSpy) Write(o models.Order) bool {
	p.mu.Lock()
	p.writes = append(p.writes, o)
	p.mu.Unlock()
	return true
}

func (p *persistSpy) snapshot() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Order(nil), p.writes...)
}

type emitterSpy struct {
	mu       sync.Mutex
	messages []string
	levels   []telemetry.Level
}

func (e *emitterSpy) Emit(level telemetry.Level, component, message string) bool {
	e.mu.Lock()
	e.messages = append(e.messages, component+": "+message)
	e.levels = append(e.levels, level)
	e.mu.Unlock()
	return true
}

func btcRequest() models.OrderRequest {
	return models.OrderRequest{
		Symbol: "BTC-PERPETUAL",
		Side:   models.SideBuy,
		Price:  50000,
		Amount: 0.001,
		Type:   models.OrderTypeLimit,
	}
}

// ============================================================
// Create / Get
// ============================================================

func TestCreate_GetMatchesRequest(t *testing.T) {
	tests := []models.OrderRequest{
		btcRequest(),
		{Symbol: "ETH-PERPETUAL", Side: models.SideSell, Amount: 3, Type: models.OrderTypeMarket},
		{Symbol: "BTC-27DEC24", Side: models.SideBuy, Price: 1.5, Amount: 10, Type: models.OrderTypeLimit, ClientOrderID: "my-id"},
	}

	store := NewStore(nil, nil)
	for _, req := range tests {
		id, err := store.Create(req)
		if err != nil {
			t.Fatalf("Create(%+v): %v", req, err)
		}
		if id == "" {
			t.Fatal("пустой id")
		}
		if req.ClientOrderID != "" && id != req.ClientOrderID {
			t.Errorf("id = %s, want caller id %s", id, req.ClientOrderID)
		}

		got, ok := store.Get(id)
		if !ok {
			t.Fatalf("Get(%s) not found", id)
		}
		if got.State != models.StatePending {
			t.Errorf("State = %v, want pending", got.State)
		}
		if got.Symbol != req.Symbol || got.Side != req.Side || got.Price != req.Price ||
			got.Amount != req.Amount || got.Type != req.Type {
			t.Errorf("order %+v does not match request %+v", got, req)
		}
		if got.ClientOrderID != id || got.OrderRequest.ClientOrderID != id {
			t.Errorf("client ids: %s / %s", got.ClientOrderID, got.OrderRequest.ClientOrderID)
		}
		if got.CreatedAtUs == 0 || got.CreatedAtUs != got.UpdatedAtUs {
			t.Errorf("timestamps: created=%d updated=%d", got.CreatedAtUs, got.UpdatedAtUs)
		}
	}
}

func TestCreate_GeneratedIDFormat(t *testing.T) {
	store := NewStore(nil, nil)
	id, err := store.Create(btcRequest())
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "ORDER" || parts[2] != "1" {
		t.Errorf("unexpected id format %q", id)
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	persist := &persistSpy{}
	store := NewStore(persist, nil)

	req := btcRequest()
	req.ClientOrderID = "dup"
	if _, err := store.Create(req); err != nil {
		t.Fatal(err)
	}
	store.Update("dup", UpdateParams{State: models.StateOpen, ExchangeOrderID: "EX1"})
	before, _ := store.Get("dup")
	writes := len(persist.snapshot())

	other := req
	other.Price = 1
	other.Side = models.SideSell
	_, err := store.Create(other)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	after, _ := store.Get("dup")
	if after != before {
		t.Errorf("существующий ордер изменился: %+v -> %+v", before, after)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	if len(persist.snapshot()) != writes {
		t.Error("дубликат не должен писаться в persistence")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := NewStore(nil, nil)
	id, _ := store.Create(btcRequest())

	o, _ := store.Get(id)
	o.State = models.StateFilled
	o.FilledAmount = 42

	again, _ := store.Get(id)
	if again.State != models.StatePending || again.FilledAmount != 0 {
		t.Errorf("изменение копии затронуло хранилище: %+v", again)
	}
}

func TestGet_Unknown(t *testing.T) {
	store := NewStore(nil, nil)
	if _, ok := store.Get("nope"); ok {
		t.Error("Get unknown should return false")
	}
	if _, ok := store.GetByExchangeID("nope"); ok {
		t.Error("GetByExchangeID unknown should return false")
	}
	if store.Update("nope", UpdateParams{State: models.StateOpen}) {
		t.Error("Update unknown should return false")
	}
}

// ============================================================
// Update
// ============================================================

func TestUpdate_FilledAmountRules(t *testing.T) {
	tests := []struct {
		name   string
		fills  []float64
		expect []float64
	}{
		{"increasing", []float64{0.1, 0.2, 0.5}, []float64{0.1, 0.2, 0.5}},
		{"zero is no-op", []float64{0.3, 0, 0.4}, []float64{0.3, 0.3, 0.4}},
		{"negative is no-op", []float64{0.2, -1}, []float64{0.2, 0.2}},
		{"leading zero", []float64{0, 0.1}, []float64{0, 0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(nil, nil)
			id, _ := store.Create(btcRequest())
			for i, f := range tt.fills {
				if !store.Update(id, UpdateParams{State: models.StatePartial, FilledAmount: f}) {
					t.Fatal("update failed")
				}
				o, _ := store.Get(id)
				if o.FilledAmount != tt.expect[i] {
					t.Errorf("step %d: filled = %v, want %v", i, o.FilledAmount, tt.expect[i])
				}
			}
		})
	}
}

func TestUpdate_ExchangeIDFirstWriteWins(t *testing.T) {
	store := NewStore(nil, nil)
	id, _ := store.Create(btcRequest())

	store.Update(id, UpdateParams{State: models.StateOpen, ExchangeOrderID: "EX1"})
	store.Update(id, UpdateParams{State: models.StatePartial, ExchangeOrderID: "EX2"})

	o, _ := store.Get(id)
	if o.ExchangeOrderID != "EX1" {
		t.Errorf("ExchangeOrderID = %s, want EX1", o.ExchangeOrderID)
	}
	if o.State != models.StatePartial {
		t.Errorf("State = %v, want partial", o.State)
	}
	if byEx, ok := store.GetByExchangeID("EX1"); !ok || byEx.ClientOrderID != id {
		t.Errorf("GetByExchangeID(EX1) = %+v, %v", byEx, ok)
	}
	if _, ok := store.GetByExchangeID("EX2"); ok {
		t.Error("EX2 не должен попасть в индекс")
	}
}

func TestUpdate_ExchangeIDBoundToOneOrder(t *testing.T) {
	emitter := &emitterSpy{}
	store := NewStore(nil, emitter)
	a, _ := store.Create(btcRequest())
	b, _ := store.Create(btcRequest())

	store.Update(a, UpdateParams{State: models.StateOpen, ExchangeOrderID: "EX1"})
	store.Update(b, UpdateParams{State: models.StateOpen, ExchangeOrderID: "EX1"})

	var warnings []string
	for i, lvl := range emitter.levels {
		if lvl == telemetry.LevelWarning {
			warnings = append(warnings, emitter.messages[i])
		}
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "EX1") || !strings.Contains(warnings[0], b) {
		t.Errorf("ожидалась одна WARNING запись о конфликте, got %v", warnings)
	}

	ob, _ := store.Get(b)
	if ob.ExchangeOrderID != "" {
		t.Errorf("второй ордер получил чужой exchange id")
	}
	if o, _ := store.GetByExchangeID("EX1"); o.ClientOrderID != a {
		t.Errorf("EX1 -> %s, want %s", o.ClientOrderID, a)
	}
}

func TestUpdate_ErrorMessageSticky(t *testing.T) {
	store := NewStore(nil, nil)
	id, _ := store.Create(btcRequest())

	store.Update(id, UpdateParams{State: models.StateRejected, ErrorMessage: "http 400: bad"})
	store.Update(id, UpdateParams{State: models.StateRejected})

	o, _ := store.Get(id)
	if o.ErrorMessage != "http 400: bad" {
		t.Errorf("ErrorMessage = %q", o.ErrorMessage)
	}
}

func TestUpdate_PermissiveTransitions(t *testing.T) {
	store := NewStore(nil, nil)
	id, _ := store.Create(btcRequest())

	store.Update(id, UpdateParams{State: models.StateFilled, FilledAmount: 0.001})
	if !store.Update(id, UpdateParams{State: models.StatePending}) {
		t.Fatal("store should not validate transitions")
	}
	if o, _ := store.Get(id); o.State != models.StatePending {
		t.Errorf("State = %v", o.State)
	}
}

func TestUpdate_RefreshesTimestamp(t *testing.T) {
	store := NewStore(nil, nil)
	var now int64 = 1000
	store.nowUs = func() int64 { return now }

	id, _ := store.Create(btcRequest())
	now = 2000
	store.Update(id, UpdateParams{State: models.StateOpen})

	o, _ := store.Get(id)
	if o.CreatedAtUs != 1000 || o.UpdatedAtUs != 2000 {
		t.Errorf("created=%d updated=%d", o.CreatedAtUs, o.UpdatedAtUs)
	}
}

// ============================================================
// Listing
// ============================================================

func TestListActive(t *testing.T) {
	store := NewStore(nil, nil)
	states := []models.OrderState{
		models.StatePending, models.StateOpen, models.StatePartial,
		models.StateFilled, models.StateCanceled, models.StateRejected, models.StateOpen,
	}

	want := map[string]bool{}
	for _, st := range states {
		id, _ := store.Create(btcRequest())
		if st != models.StatePending {
			store.Update(id, UpdateParams{State: st})
		}
		if st.IsActive() {
			want[id] = true
		}
	}

	active := store.ListActive()
	if len(active) != len(want) {
		t.Fatalf("ListActive returned %d, want %d", len(active), len(want))
	}
	for _, o := range active {
		if !want[o.ClientOrderID] {
			t.Errorf("unexpected order %s in state %v", o.ClientOrderID, o.State)
		}
	}
	if store.ActiveCount() != len(want) {
		t.Errorf("ActiveCount = %d, want %d", store.ActiveCount(), len(want))
	}
	if len(store.ListAll()) != len(states) {
		t.Errorf("ListAll = %d", len(store.ListAll()))
	}
}

func TestListAll_SortedByCreation(t *testing.T) {
	store := NewStore(nil, nil)
	var now int64 = 100
	store.nowUs = func() int64 { now -= 10; return now }

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := store.Create(btcRequest())
		ids = append(ids, id)
	}

	all := store.ListAll()
	for i := range all {
		if all[i].ClientOrderID != ids[len(ids)-1-i] {
			t.Errorf("position %d: %s", i, all[i].ClientOrderID)
		}
	}
}

func TestMarkForCancel(t *testing.T) {
	store := NewStore(nil, nil)
	pending, _ := store.Create(btcRequest())
	open, _ := store.Create(btcRequest())
	filled, _ := store.Create(btcRequest())
	store.Update(open, UpdateParams{State: models.StateOpen})
	store.Update(filled, UpdateParams{State: models.StateFilled})

	tests := []struct {
		id   string
		want bool
	}{
		{pending, false},
		{open, true},
		{filled, false},
		{"missing", false},
	}
	for _, tt := range tests {
		if got := store.MarkForCancel(tt.id); got != tt.want {
			t.Errorf("MarkForCancel(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}

	if o, _ := store.Get(open); o.State != models.StateOpen {
		t.Error("MarkForCancel не должен менять состояние")
	}
}

// ============================================================
// Collaborators
// ============================================================

func TestListenersCalledInOrder(t *testing.T) {
	store := NewStore(nil, nil)

	var mu sync.Mutex
	var calls []string
	for i := 0; i < 3; i++ {
		n := i
		store.OnUpdate(func(o models.Order) {
			mu.Lock()
			calls = append(calls, fmt.Sprintf("%d:%s", n, o.State))
			mu.Unlock()
		})
	}

	id, _ := store.Create(btcRequest())
	store.Update(id, UpdateParams{State: models.StateOpen})

	want := []string{"0:pending", "1:pending", "2:pending", "0:open", "1:open", "2:open"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestListenerSeesConsistentSnapshot(t *testing.T) {
	store := NewStore(nil, nil)
	var seen []models.Order
	store.RegisterUpdateListener(ListenerFunc(func(o models.Order) { seen = append(seen, o) }))

	id, _ := store.Create(btcRequest())
	store.Update(id, UpdateParams{State: models.StatePartial, ExchangeOrderID: "EX9", FilledAmount: 0.0005})

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	last := seen[1]
	if last.State != models.StatePartial || last.ExchangeOrderID != "EX9" || last.FilledAmount != 0.0005 {
		t.Errorf("snapshot = %+v", last)
	}
}

func TestPersistenceAndTelemetry(t *testing.T) {
	persist := &persistSpy{}
	emitter := &emitterSpy{}
	store := NewStore(persist, emitter)

	id, _ := store.Create(btcRequest())
	store.Update(id, UpdateParams{State: models.StateOpen, ExchangeOrderID: "EX1"})
	store.Update(id, UpdateParams{State: models.StateFilled, FilledAmount: 0.001})

	writes := persist.snapshot()
	if len(writes) != 3 {
		t.Fatalf("writes = %d, want 3", len(writes))
	}
	wantStates := []models.OrderState{models.StatePending, models.StateOpen, models.StateFilled}
	for i, w := range writes {
		if w.State != wantStates[i] || w.ClientOrderID != id {
			t.Errorf("write %d: %+v", i, w)
		}
	}

	if len(emitter.messages) != 3 {
		t.Fatalf("messages = %v", emitter.messages)
	}
	if !strings.HasPrefix(emitter.messages[0], "OrderManager: Created order "+id) {
		t.Errorf("message[0] = %q", emitter.messages[0])
	}
	if !strings.Contains(emitter.messages[2], "FILLED") {
		t.Errorf("message[2] = %q", emitter.messages[2])
	}
}

// ============================================================
// Load
// ============================================================

func TestLoad_RestoresWithoutSideEffects(t *testing.T) {
	persist := &persistSpy{}
	store := NewStore(persist, nil)
	notified := 0
	store.OnUpdate(func(models.Order) { notified++ })

	restored := []models.Order{
		{ClientOrderID: "ORDER_1700000000000_41", ExchangeOrderID: "EX41", State: models.StateOpen,
			OrderRequest: btcRequest(), CreatedAtUs: 1},
		{ClientOrderID: "custom", State: models.StateFilled, OrderRequest: btcRequest(), CreatedAtUs: 2},
		{ClientOrderID: ""},
	}
	if n := store.Load(restored...); n != 2 {
		t.Fatalf("Load = %d, want 2", n)
	}
	if store.Load(restored...) != 0 {
		t.Error("повторная загрузка не должна дублировать ордера")
	}

	if len(persist.snapshot()) != 0 || notified != 0 {
		t.Errorf("Load не должен писать/уведомлять: writes=%d notified=%d", len(persist.snapshot()), notified)
	}
	if o, ok := store.GetByExchangeID("EX41"); !ok || o.ClientOrderID != "ORDER_1700000000000_41" {
		t.Errorf("exchange index not restored: %+v", o)
	}
	if store.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", store.ActiveCount())
	}

	id, _ := store.Create(btcRequest())
	if !strings.HasSuffix(id, "_42") {
		t.Errorf("счетчик не продолжен после восстановления: %s", id)
	}
}

// ============================================================
// Concurrency
// ============================================================

func TestConcurrentCreate(t *testing.T) {
	const goroutines, perGoroutine = 16, 250
	store := NewStore(&persistSpy{}, nil)

	var wg sync.WaitGroup
	ids := make(chan string, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id, err := store.Create(btcRequest())
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[string]bool)
	for id := range ids {
		if unique[id] {
			t.Fatalf("duplicate id %s", id)
		}
		unique[id] = true
	}
	if len(unique) != goroutines*perGoroutine || store.Len() != goroutines*perGoroutine {
		t.Errorf("unique=%d Len=%d, want %d", len(unique), store.Len(), goroutines*perGoroutine)
	}
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	store := NewStore(nil, nil)
	var ids []string
	for i := 0; i < 20; i++ {
		id, _ := store.Create(btcRequest())
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for step := 1; step <= 100; step++ {
				id := ids[(w+step)%len(ids)]
				store.Update(id, UpdateParams{
					State:           models.StatePartial,
					ExchangeOrderID: "EX-" + id,
					FilledAmount:    float64(step),
				})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				store.ListActive()
				store.ListAll()
				store.GetByExchangeID("EX-" + ids[i%len(ids)])
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		o, _ := store.Get(id)
		if o.ExchangeOrderID != "" && o.ExchangeOrderID != "EX-"+id {
			t.Errorf("order %s has foreign exchange id %s", id, o.ExchangeOrderID)
		}
	}
}

// ============================================================
// End-to-end
// ============================================================

func TestEndToEnd_BTCPerpetual(t *testing.T) {
	store := NewStore(&persistSpy{}, &emitterSpy{})

	id, err := store.Create(btcRequest())
	if err != nil || id == "" {
		t.Fatalf("Create: id=%q err=%v", id, err)
	}

	if !store.Update(id, UpdateParams{State: models.StateOpen, ExchangeOrderID: "EX1"}) {
		t.Fatal("update to OPEN failed")
	}
	o, _ := store.Get(id)
	if o.State != models.StateOpen || o.ExchangeOrderID != "EX1" {
		t.Fatalf("after OPEN: %+v", o)
	}

	if !store.Update(id, UpdateParams{State: models.StateFilled, FilledAmount: 0.001}) {
		t.Fatal("update to FILLED failed")
	}
	o, _ = store.Get(id)
	if o.State != models.StateFilled || o.FilledAmount != 0.001 {
		t.Fatalf("after FILLED: %+v", o)
	}
	if o.ExchangeOrderID != "EX1" {
		t.Errorf("exchange id lost: %+v", o)
	}
}
