package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payment-core/internal/model"
	"payment-core/internal/service/chain"
)

// fakeClock 手动推进的时钟，重试退避和批次超时不用真等
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance 推进时钟并同步触发到期的延时任务
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// mockSubmitter 可编程的链上提交器
type mockSubmitter struct {
	mu       sync.Mutex
	calls    []chain.TransferSpec
	failures int // 前 failures 次 Submit 返回错误
	gasUsed  uint64
	gasPrice decimal.Decimal
}

func newMockSubmitter() *mockSubmitter {
	return &mockSubmitter{gasUsed: 21000, gasPrice: decimal.NewFromInt(30)}
}

func (m *mockSubmitter) Submit(ctx context.Context, spec chain.TransferSpec) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, spec)
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("rpc unavailable")
	}
	return &chain.Receipt{
		TxHash:      "0xmock_" + spec.Ref,
		GasUsed:     m.gasUsed,
		BlockNumber: uint64(len(m.calls)),
	}, nil
}

func (m *mockSubmitter) EstimateGas(ctx context.Context, spec chain.TransferSpec) (uint64, error) {
	return m.gasUsed * uint64(len(spec.Transfers)), nil
}

func (m *mockSubmitter) SuggestGasPrice(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gasPrice, nil
}

func (m *mockSubmitter) GetBalance(ctx context.Context, account string, token model.TokenSpec) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *mockSubmitter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSubmitter) setGasPrice(p decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gasPrice = p
}

func eth(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Mul(decimal.New(1, 18)).Floor()
}

func testTokens() map[string]model.TokenSpec {
	return map[string]model.TokenSpec{
		"ETH":  {Symbol: "ETH", Kind: model.KindNative, Decimals: 18},
		"USDC": {Symbol: "USDC", Kind: model.KindERC20, Contract: "0xusdc", Decimals: 6},
	}
}

func paymentReq(id string, amount decimal.Decimal, priority model.Priority) *model.PaymentRequest {
	return &model.PaymentRequest{
		ID:       id,
		From:     "0xfrom",
		To:       "0xto",
		Amount:   amount,
		Token:    "ETH",
		Priority: priority,
	}
}
