package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-execution-engine/config"
	"binance-execution-engine/internal/database"
	"binance-execution-engine/internal/events"
	"binance-execution-engine/internal/exchange"
	"binance-execution-engine/internal/lifecycle"
	"binance-execution-engine/internal/risk"
)

// fakeExecStore backs the service with in-memory maps. The idempotency
// semantics mirror the real unique-constraint behavior.
type fakeExecStore struct {
	trades       map[int64]*database.Trade
	executions   map[int64]*database.Execution
	byKey        map[string]int64
	nextTradeID  int64
	nextExecID   int64
	controls     database.EngineControls
	perf         database.PaperPerformance
	contracts    map[string]*database.ContractRequirements
	transitions  []string
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{
		trades:     make(map[int64]*database.Trade),
		executions: make(map[int64]*database.Execution),
		byKey:      make(map[string]int64),
		contracts:  make(map[string]*database.ContractRequirements),
	}
}

func (f *fakeExecStore) CreateTrade(ctx context.Context, trade *database.Trade) error {
	f.nextTradeID++
	trade.ID = f.nextTradeID
	trade.CreatedAt = time.Now()
	copied := *trade
	f.trades[trade.ID] = &copied
	return nil
}

func (f *fakeExecStore) GetTrade(ctx context.Context, id int64) (*database.Trade, error) {
	t, ok := f.trades[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (f *fakeExecStore) UpdateTradeMetrics(ctx context.Context, id int64, avgFillPrice, positionSize, pnl, pnlPct *float64) error {
	t := f.trades[id]
	if avgFillPrice != nil {
		t.AvgFillPrice = avgFillPrice
	}
	if positionSize != nil {
		t.PositionSize = positionSize
	}
	if pnl != nil {
		t.PnL = pnl
	}
	return nil
}

func (f *fakeExecStore) CreateExecutionIdempotent(ctx context.Context, exec *database.Execution) (bool, error) {
	if _, exists := f.byKey[exec.IdempotencyKey]; exists {
		return false, nil
	}
	f.nextExecID++
	exec.ID = f.nextExecID
	exec.CreatedAt = time.Now()
	copied := *exec
	f.executions[exec.ID] = &copied
	f.byKey[exec.IdempotencyKey] = exec.ID
	return true, nil
}

func (f *fakeExecStore) GetExecutionByIdempotencyKey(ctx context.Context, key string) (*database.Execution, error) {
	id, ok := f.byKey[key]
	if !ok {
		return nil, nil
	}
	copied := *f.executions[id]
	return &copied, nil
}

func (f *fakeExecStore) UpdateExecutionFill(ctx context.Context, id int64, filledQty float64, avgPrice *float64, executedAt *time.Time) error {
	e := f.executions[id]
	e.FilledQuantity = filledQty
	e.AveragePrice = avgPrice
	e.ExecutedAt = executedAt
	return nil
}

func (f *fakeExecStore) SetExchangeOrderID(ctx context.Context, id int64, orderID string) error {
	f.executions[id].ExchangeOrderID = &orderID
	return nil
}

func (f *fakeExecStore) SetReconciliationStatus(ctx context.Context, id int64, status database.ReconciliationStatus, reason string) error {
	f.executions[id].ReconciliationStatus = status
	return nil
}

func (f *fakeExecStore) EngineControls(ctx context.Context) (*database.EngineControls, error) {
	copied := f.controls
	return &copied, nil
}

func (f *fakeExecStore) PaperPerformance(ctx context.Context) (*database.PaperPerformance, error) {
	copied := f.perf
	return &copied, nil
}

func (f *fakeExecStore) GetContractRequirements(ctx context.Context, instrument string) (*database.ContractRequirements, error) {
	return f.contracts[instrument], nil
}

// fakeLifecycle validates edges through the real state machine and
// applies them to the store maps
type fakeLifecycle struct {
	store *fakeExecStore
}

func (f *fakeLifecycle) TransitionTrade(ctx context.Context, tradeID int64, from, to database.TradeStatus, reason string, metadata map[string]interface{}) error {
	if err := lifecycle.CanTransitionTrade(from, to); err != nil {
		return err
	}
	f.store.trades[tradeID].Status = to
	f.store.transitions = append(f.store.transitions, "trade:"+string(from)+"->"+string(to)+":"+reason)
	return nil
}

func (f *fakeLifecycle) TransitionExecution(ctx context.Context, executionID int64, from, to database.ExecutionStatus, reason string, metadata map[string]interface{}) error {
	if err := lifecycle.CanTransitionExecution(from, to); err != nil {
		return err
	}
	f.store.executions[executionID].Status = to
	f.store.transitions = append(f.store.transitions, "execution:"+string(from)+"->"+string(to)+":"+reason)
	return nil
}

// fakeRiskEvaluator returns a canned evaluation
type fakeRiskEvaluator struct {
	allowed bool
	reasons []string
}

func (f *fakeRiskEvaluator) Evaluate(ctx context.Context, instrument string, quantity float64, leverage int) (*risk.Evaluation, error) {
	return &risk.Evaluation{
		Allowed:  f.allowed,
		Reasons:  f.reasons,
		Snapshot: &risk.ExposureSnapshot{},
	}, nil
}

func newTestService(store *fakeExecStore, riskEval RiskEvaluator, engineCfg config.EngineConfig) *Service {
	return NewService(store, &fakeLifecycle{store: store}, riskEval,
		exchange.NewPaperAdapter(), nil, events.NewEventBus(), nil,
		engineCfg, config.RiskConfig{MaxTotalExposure: 100000, MaxLeverage: 20, MinLiquidationBufferBps: 50},
		zerolog.Nop())
}

func paperRequest(key string) Request {
	ref := 50000.0
	return Request{
		Instrument:     "BTCUSDT",
		Side:           database.SideLong,
		Quantity:       0.01,
		Mode:           database.ModePaper,
		ReferencePrice: &ref,
		IdempotencyKey: key,
		Actor:          "test",
	}
}

// TestPaperExecutionFills tests the paper happy path end to end
func TestPaperExecutionFills(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	result, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Created {
		t.Error("expected Created true on first request")
	}
	if result.Trade.Status != database.TradeStatusFilled {
		t.Errorf("expected trade filled, got %s", result.Trade.Status)
	}
	if result.Execution.Status != database.ExecutionStatusFilled {
		t.Errorf("expected execution filled, got %s", result.Execution.Status)
	}
	if result.Execution.ExchangeOrderID == nil || *result.Execution.ExchangeOrderID == "" {
		t.Error("paper execution must carry an exchange order id")
	}
	if result.Execution.ReconciliationStatus != database.ReconciliationOK {
		t.Errorf("expected reconciliation ok, got %s", result.Execution.ReconciliationStatus)
	}
	if result.Execution.AveragePrice == nil || *result.Execution.AveragePrice != 50000 {
		t.Errorf("expected fill at reference price, got %v", result.Execution.AveragePrice)
	}
}

// TestIdempotentReplayReturnsSameExecution tests that a repeated key
// resolves to the stored row without mutating anything
func TestIdempotentReplayReturnsSameExecution(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	first, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tradesBefore := len(store.trades)
	transitionsBefore := len(store.transitions)

	second, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if second.Created {
		t.Error("expected Created false on replay")
	}
	if second.Execution.ID != first.Execution.ID {
		t.Errorf("replay resolved to execution %d, want %d", second.Execution.ID, first.Execution.ID)
	}
	if len(store.trades) != tradesBefore {
		t.Error("replay must not create trades")
	}
	if len(store.transitions) != transitionsBefore {
		t.Error("replay must not record transitions")
	}
}

// TestIdempotencyKeyReuseRejected tests that the same key with a
// different request errors without mutation
func TestIdempotencyKeyReuseRejected(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	if _, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tradesBefore := len(store.trades)

	tampered := paperRequest("key-1")
	tampered.Quantity = 0.02
	_, err := svc.ExecuteTrade(context.Background(), tampered)
	if !errors.Is(err, ErrIdempotencyKeyReuse) {
		t.Fatalf("expected ErrIdempotencyKeyReuse, got %v", err)
	}
	if len(store.trades) != tradesBefore {
		t.Error("key reuse must not create trades")
	}
}

// TestCallerClientOrderIDPersisted tests that a caller-supplied client
// order id reaches the trade and execution rows
func TestCallerClientOrderIDPersisted(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	req := paperRequest("key-1")
	req.ClientOrderID = "caller-coid-7"
	result, err := svc.ExecuteTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Trade.ClientOrderID != "caller-coid-7" {
		t.Errorf("expected caller client order id on trade, got %s", result.Trade.ClientOrderID)
	}
	if result.Execution.ClientOrderID != "caller-coid-7" {
		t.Errorf("expected caller client order id on execution, got %s", result.Execution.ClientOrderID)
	}
}

// TestClientOrderIDMismatchRejectsReplay tests that a replayed key with
// a different client order id is a reuse error
func TestClientOrderIDMismatchRejectsReplay(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	req := paperRequest("key-1")
	req.ClientOrderID = "caller-coid-7"
	if _, err := svc.ExecuteTrade(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tampered := paperRequest("key-1")
	tampered.ClientOrderID = "caller-coid-8"
	if _, err := svc.ExecuteTrade(context.Background(), tampered); !errors.Is(err, ErrIdempotencyKeyReuse) {
		t.Fatalf("expected ErrIdempotencyKeyReuse, got %v", err)
	}

	// Same id, or none, replays cleanly
	replay := paperRequest("key-1")
	replay.ClientOrderID = "caller-coid-7"
	if _, err := svc.ExecuteTrade(context.Background(), replay); err != nil {
		t.Errorf("matching client order id must replay: %v", err)
	}
	if _, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1")); err != nil {
		t.Errorf("omitted client order id must replay: %v", err)
	}
}

// TestReplayResolvesWhileKillSwitchArmed tests that a replayed key for
// an already-settled execution returns the stored row even under an
// armed kill switch: the replay reads, it never places
func TestReplayResolvesWhileKillSwitchArmed(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	first, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.controls = database.EngineControls{KillSwitchActive: true, KillSwitchReason: "maintenance"}
	tradesBefore := len(store.trades)

	second, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if err != nil {
		t.Fatalf("replay under kill switch must resolve: %v", err)
	}
	if second.Created || second.Execution.ID != first.Execution.ID {
		t.Errorf("expected replay of execution %d, got %+v", first.Execution.ID, second)
	}
	if len(store.trades) != tradesBefore {
		t.Error("replay must not create trades")
	}
}

// TestKillSwitchBlocksExecution tests the kill switch gate
func TestKillSwitchBlocksExecution(t *testing.T) {
	store := newFakeExecStore()
	store.controls = database.EngineControls{KillSwitchActive: true, KillSwitchReason: "maintenance"}
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	result, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if !errors.Is(err, ErrKillSwitchActive) {
		t.Fatalf("expected ErrKillSwitchActive, got %v", err)
	}
	if result == nil || result.Trade == nil {
		t.Fatal("expected the rejection to persist a trade")
	}
	if result.Trade.Status != database.TradeStatusRejected {
		t.Errorf("expected rejected trade, got %s", result.Trade.Status)
	}
	if len(store.executions) != 0 {
		t.Error("kill switch rejection must not create executions")
	}
}

// TestAllowlistBlocksUnknownInstrument tests the allowlist gate
func TestAllowlistBlocksUnknownInstrument(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{
		InstrumentAllowlist: []string{"ETHUSDT"},
	})

	_, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if !errors.Is(err, ErrInstrumentNotAllowed) {
		t.Fatalf("expected ErrInstrumentNotAllowed, got %v", err)
	}
}

// TestPromotionGateBlocksLive tests that weak paper performance blocks
// live executions but not paper ones
func TestPromotionGateBlocksLive(t *testing.T) {
	store := newFakeExecStore()
	store.perf = database.PaperPerformance{TradeCount: 3, WinRate: 0.3}
	cfg := config.EngineConfig{
		PromotionGateRequired: true,
		MinPaperTrades:        20,
		MinPaperWinRate:       0.5,
	}
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, cfg)

	liveReq := paperRequest("key-live")
	liveReq.Mode = database.ModeLive
	_, err := svc.ExecuteTrade(context.Background(), liveReq)
	if !errors.Is(err, ErrPromotionGateBlocked) {
		t.Fatalf("expected ErrPromotionGateBlocked, got %v", err)
	}

	// Paper path is never gated
	if _, err := svc.ExecuteTrade(context.Background(), paperRequest("key-paper")); err != nil {
		t.Fatalf("paper execution should pass the gate: %v", err)
	}
}

// TestRiskRejectionPersistsTrade tests the risk gate outcome
func TestRiskRejectionPersistsTrade(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{
		allowed: false,
		reasons: []string{risk.ReasonMaxDailyLoss},
	}, config.EngineConfig{})

	result, err := svc.ExecuteTrade(context.Background(), paperRequest("key-1"))
	if !errors.Is(err, risk.ErrRiskRejected) {
		t.Fatalf("expected ErrRiskRejected, got %v", err)
	}
	if result.Trade.Status != database.TradeStatusRejected {
		t.Errorf("expected rejected trade, got %s", result.Trade.Status)
	}
}

// TestQuantizationAppliedToDispatch tests that the stored trade carries
// the step-rounded quantity
func TestQuantizationAppliedToDispatch(t *testing.T) {
	store := newFakeExecStore()
	store.contracts["BTCUSDT"] = &database.ContractRequirements{
		Instrument:   "BTCUSDT",
		QuantityStep: 0.001,
		MinQuantity:  0.001,
	}
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	req := paperRequest("key-1")
	req.Quantity = 0.0079
	result, err := svc.ExecuteTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Trade.Quantity != 0.007 {
		t.Errorf("expected quantized 0.007, got %v", result.Trade.Quantity)
	}
	// The execution keeps the raw requested quantity for replay matching
	if result.Execution.RequestedQuantity != 0.0079 {
		t.Errorf("expected raw 0.0079 on execution, got %v", result.Execution.RequestedQuantity)
	}
}

// TestLiveWithoutAdapterFails tests live dispatch with no credentials
func TestLiveWithoutAdapterFails(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	req := paperRequest("key-1")
	req.Mode = database.ModeLive
	result, err := svc.ExecuteTrade(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, exchange.ErrCredentialsMissing) {
		t.Errorf("expected ErrCredentialsMissing, got %v", err)
	}
	if result.Trade.Status != database.TradeStatusRejected {
		t.Errorf("expected rejected trade, got %s", result.Trade.Status)
	}
	if result.Execution.Status != database.ExecutionStatusFailed {
		t.Errorf("expected failed execution, got %s", result.Execution.Status)
	}
}

// TestInvalidRequestRejected tests the input guards
func TestInvalidRequestRejected(t *testing.T) {
	store := newFakeExecStore()
	svc := newTestService(store, &fakeRiskEvaluator{allowed: true}, config.EngineConfig{})

	bad := paperRequest("")
	if _, err := svc.ExecuteTrade(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing idempotency key: expected ErrInvalidRequest, got %v", err)
	}

	bad = paperRequest("key-1")
	bad.Side = "sideways"
	if _, err := svc.ExecuteTrade(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad side: expected ErrInvalidRequest, got %v", err)
	}

	bad = paperRequest("key-2")
	bad.Quantity = -1
	if _, err := svc.ExecuteTrade(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("negative quantity: expected ErrInvalidRequest, got %v", err)
	}
}
