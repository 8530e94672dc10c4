package driver

import (
	"context"
	"math/big"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/ton-indexer/ton-event-classifier/blocks"
	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

type fakeRepo struct {
	wallets map[string]interfaces.JettonWallet
}

func (f *fakeRepo) GetJettonWallet(_ context.Context, account string) (*interfaces.JettonWallet, error) {
	if w, ok := f.wallets[account]; ok {
		return &w, nil
	}
	return nil, nil
}

func (f *fakeRepo) GetDedustPool(_ context.Context, _ string) (*interfaces.DedustPool, error) {
	return nil, nil
}

func addrN(b byte) *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = b
	}
	return address.NewAddress(0, 0, data)
}

func raw(a *address.Address) string {
	return models.AccountIdFromAddress(a).String()
}

func msgTo(hash string, src, dst *address.Address, lt uint64, body *cell.Cell) *models.Message {
	m := &models.Message{Hash: hash, Value: 100000000, CreatedLt: lt, BodyBoc: body.ToBOC()}
	if src != nil {
		s := raw(src)
		m.Source = &s
	}
	if dst != nil {
		d := raw(dst)
		m.Destination = &d
	}
	s := body.BeginParse()
	if s.BitsLeft() >= 32 {
		op := uint32(s.MustLoadUInt(32))
		m.Opcode = &op
	}
	return m
}

func jettonTransferBody(amount uint64, destination, response *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(blocks.OpJettonTransfer), 32).
		MustStoreUInt(1, 64).
		MustStoreBigCoins(new(big.Int).SetUint64(amount)).
		MustStoreAddr(destination).
		MustStoreAddr(response).
		MustStoreBoolBit(false). // no custom payload
		MustStoreBigCoins(big.NewInt(0)).
		MustStoreBoolBit(false). // inline forward payload
		EndCell()
}

func internalTransferBody(amount uint64, from *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(blocks.OpJettonInternalTransfer), 32).
		MustStoreUInt(1, 64).
		MustStoreBigCoins(new(big.Int).SetUint64(amount)).
		MustStoreAddr(from).
		EndCell()
}

func notifyBody(amount uint64, sender *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(blocks.OpJettonNotify), 32).
		MustStoreUInt(1, 64).
		MustStoreBigCoins(new(big.Int).SetUint64(amount)).
		MustStoreAddr(sender).
		MustStoreBoolBit(false).
		EndCell()
}

func stonfiSwapBody(amount, minOut uint64, fromUser, tokenWallet *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(blocks.OpStonfiSwap), 32).
		MustStoreUInt(1, 64).
		MustStoreAddr(fromUser).
		MustStoreAddr(tokenWallet).
		MustStoreBigCoins(new(big.Int).SetUint64(amount)).
		MustStoreBigCoins(new(big.Int).SetUint64(minOut)).
		MustStoreBoolBit(false).
		EndCell()
}

func paymentRequestBody(owner *address.Address, exitCode uint32, amount0 uint64, token0 *address.Address, amount1 uint64, token1 *address.Address) *cell.Cell {
	params := cell.BeginCell().
		MustStoreBigCoins(new(big.Int).SetUint64(amount0)).
		MustStoreAddr(token0).
		MustStoreBigCoins(new(big.Int).SetUint64(amount1)).
		MustStoreAddr(token1).
		EndCell()
	return cell.BeginCell().
		MustStoreUInt(uint64(blocks.OpStonfiPaymentRequest), 32).
		MustStoreUInt(1, 64).
		MustStoreAddr(owner).
		MustStoreUInt(uint64(exitCode), 32).
		MustStoreRef(params).
		EndCell()
}

// stonfiTrace builds a full StonFi swap round trip: user wallet transfer to
// the router, swap call to the pool, payment request back and the payout
// transfer to the user.
func stonfiTrace(exitCode uint32, outAmount uint64) (*models.Trace, *fakeRepo) {
	user := addrN(0x01)
	userWallet := addrN(0x02)
	routerWallet := addrN(0x03)
	router := addrN(0x04)
	pool := addrN(0x05)
	routerWalletOut := addrN(0x06)
	userWalletOut := addrN(0x07)
	jettonIn := addrN(0x0a)
	jettonOut := addrN(0x0b)

	m1 := msgTo("m1", user, userWallet, 99, jettonTransferBody(250, router, user))
	m2 := msgTo("m2", userWallet, routerWallet, 101, internalTransferBody(250, user))
	m3 := msgTo("m3", routerWallet, router, 201, notifyBody(250, user))
	m4 := msgTo("m4", router, pool, 301, stonfiSwapBody(250, 90, user, routerWallet))
	m5 := msgTo("m5", pool, router, 401, paymentRequestBody(user, exitCode, outAmount, routerWalletOut, 0, routerWallet))
	m6 := msgTo("m6", router, routerWalletOut, 501, jettonTransferBody(outAmount, user, router))
	m7 := msgTo("m7", routerWalletOut, userWalletOut, 601, internalTransferBody(outAmount, router))

	trace := &models.Trace{
		TraceID: "stonfi-trace",
		State:   "complete",
		Transactions: []*models.Transaction{
			{Hash: "tx1", Account: raw(userWallet), Lt: 100, Now: 10, Descr: "ord", InMsg: m1, OutMsgs: []*models.Message{m2}},
			{Hash: "tx2", Account: raw(routerWallet), Lt: 200, Now: 20, Descr: "ord", InMsg: m2, OutMsgs: []*models.Message{m3}},
			{Hash: "tx3", Account: raw(router), Lt: 300, Now: 30, Descr: "ord", InMsg: m3, OutMsgs: []*models.Message{m4}},
			{Hash: "tx4", Account: raw(pool), Lt: 400, Now: 40, Descr: "ord", InMsg: m4, OutMsgs: []*models.Message{m5}},
			{Hash: "tx5", Account: raw(router), Lt: 500, Now: 50, Descr: "ord", InMsg: m5, OutMsgs: []*models.Message{m6}},
			{Hash: "tx6", Account: raw(routerWalletOut), Lt: 600, Now: 60, Descr: "ord", InMsg: m6, OutMsgs: []*models.Message{m7}},
			{Hash: "tx7", Account: raw(userWalletOut), Lt: 700, Now: 70, Descr: "ord", InMsg: m7},
		},
	}
	repo := &fakeRepo{wallets: map[string]interfaces.JettonWallet{
		raw(userWallet):      {Address: raw(userWallet), Owner: raw(user), Jetton: raw(jettonIn)},
		raw(routerWalletOut): {Address: raw(routerWalletOut), Owner: raw(router), Jetton: raw(jettonOut)},
	}}
	trace.Nodes = int32(len(trace.Transactions))
	return trace, repo
}

func classify(t *testing.T, trace *models.Trace, repo interfaces.Repository) *Result {
	t.Helper()
	env := &blocks.Env{Repo: repo, Pools: interfaces.NewPoolRegistry(nil)}
	res, err := Classify(context.Background(), env, trace, blocks.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestClassifyTickTockShortcut(t *testing.T) {
	trace := &models.Trace{
		TraceID: "tt",
		Transactions: []*models.Transaction{
			{Hash: "tx", Account: raw(addrN(1)), Lt: 1, Descr: "tick_tock"},
		},
	}
	res := classify(t, trace, &fakeRepo{})
	if res.State != StateOk || len(res.Actions) != 0 {
		t.Fatalf("tick-tock trace must be ok with zero actions, got %s/%d", res.State, len(res.Actions))
	}
}

func TestClassifyUnknownFallback(t *testing.T) {
	body := cell.BeginCell().MustStoreUInt(0xdeadbeef, 32).MustStoreUInt(0, 64).EndCell()
	trace := &models.Trace{
		TraceID: "mystery",
		Transactions: []*models.Transaction{
			{Hash: "tx1", Account: raw(addrN(1)), Lt: 100, Now: 10, Descr: "ord",
				InMsg: msgTo("m1", addrN(2), addrN(1), 99, body)},
		},
	}
	res := classify(t, trace, &fakeRepo{})
	if res.State != StateOk {
		t.Fatalf("unexpected state %s", res.State)
	}
	if len(res.Actions) != 1 || res.Actions[0].Type != "unknown" {
		t.Fatalf("expected exactly one unknown action, got %+v", res.Actions)
	}
	a := res.Actions[0]
	if len(a.TxHashes) != 1 || a.TxHashes[0] != "tx1" {
		t.Fatalf("unknown action must cover the whole trace")
	}
	if a.StartLt != 100 || a.EndLt != 100 {
		t.Fatalf("unknown action lt range wrong: %d..%d", a.StartLt, a.EndLt)
	}
}

func TestClassifyStonfiSwapOk(t *testing.T) {
	trace, repo := stonfiTrace(blocks.StonfiSwapOkExitCode, 100)
	res := classify(t, trace, repo)
	if res.State != StateOk {
		t.Fatalf("expected ok, got %s (err %v)", res.State, res.Err)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected one composite swap action, got %d", len(res.Actions))
	}
	a := res.Actions[0]
	if a.Type != "jetton_swap" || !a.Success {
		t.Fatalf("unexpected action %s success=%v", a.Type, a.Success)
	}
	if a.JettonSwapData == nil {
		t.Fatalf("swap action carries no jetton swap payload: %+v", a)
	}
	details := a.JettonSwapData
	if details.Dex != "stonfi" {
		t.Fatalf("unexpected dex %q", details.Dex)
	}
	if got := details.DexIncomingTransfer.Amount.String(); got != "250" {
		t.Fatalf("incoming amount = %s, want 250", got)
	}
	if got := details.DexOutgoingTransfer.Amount.String(); got != "100" {
		t.Fatalf("outgoing amount = %s, want 100", got)
	}
	if details.Sender == nil || details.Sender.String() != raw(addrN(0x01)) {
		t.Fatalf("unexpected sender %v", details.Sender)
	}
	if len(a.TxHashes) != 7 {
		t.Fatalf("swap action must subsume all 7 transactions, got %d", len(a.TxHashes))
	}
}

// A pool can answer one swap with two sender payment requests. The request
// carrying the larger amount is the payout and the smaller one is the
// referral cut, whatever order they arrive in, and the payout amount comes
// from the request rather than the transfer it spawns.
func TestClassifyStonfiSwapCompetingPayouts(t *testing.T) {
	user := addrN(0x01)
	userWallet := addrN(0x02)
	routerWallet := addrN(0x03)
	router := addrN(0x04)
	pool := addrN(0x05)
	routerWalletOut := addrN(0x06)
	userWalletOut := addrN(0x07)
	referral := addrN(0x08)
	refWalletOut := addrN(0x09)
	jettonIn := addrN(0x0a)
	jettonOut := addrN(0x0b)

	m1 := msgTo("m1", user, userWallet, 99, jettonTransferBody(250, router, user))
	m2 := msgTo("m2", userWallet, routerWallet, 101, internalTransferBody(250, user))
	m3 := msgTo("m3", routerWallet, router, 201, notifyBody(250, user))
	m4 := msgTo("m4", router, pool, 301, stonfiSwapBody(250, 90, user, routerWallet))
	// Smaller request first: the rule must still pick 100 as the payout.
	m5a := msgTo("m5a", pool, router, 401, paymentRequestBody(user, blocks.StonfiSwapOkExitCode, 40, routerWalletOut, 0, routerWallet))
	m5b := msgTo("m5b", pool, router, 402, paymentRequestBody(user, blocks.StonfiSwapOkExitCode, 100, routerWalletOut, 0, routerWallet))
	m6a := msgTo("m6a", router, routerWalletOut, 501, jettonTransferBody(40, referral, router))
	m6b := msgTo("m6b", router, routerWalletOut, 551, jettonTransferBody(100, user, router))
	m7a := msgTo("m7a", routerWalletOut, refWalletOut, 601, internalTransferBody(40, router))
	m7b := msgTo("m7b", routerWalletOut, userWalletOut, 651, internalTransferBody(100, router))

	trace := &models.Trace{
		TraceID: "stonfi-competing",
		State:   "complete",
		Transactions: []*models.Transaction{
			{Hash: "tx1", Account: raw(userWallet), Lt: 100, Now: 10, Descr: "ord", InMsg: m1, OutMsgs: []*models.Message{m2}},
			{Hash: "tx2", Account: raw(routerWallet), Lt: 200, Now: 20, Descr: "ord", InMsg: m2, OutMsgs: []*models.Message{m3}},
			{Hash: "tx3", Account: raw(router), Lt: 300, Now: 30, Descr: "ord", InMsg: m3, OutMsgs: []*models.Message{m4}},
			{Hash: "tx4", Account: raw(pool), Lt: 400, Now: 40, Descr: "ord", InMsg: m4, OutMsgs: []*models.Message{m5a, m5b}},
			{Hash: "tx5a", Account: raw(router), Lt: 500, Now: 50, Descr: "ord", InMsg: m5a, OutMsgs: []*models.Message{m6a}},
			{Hash: "tx5b", Account: raw(router), Lt: 550, Now: 55, Descr: "ord", InMsg: m5b, OutMsgs: []*models.Message{m6b}},
			{Hash: "tx6a", Account: raw(routerWalletOut), Lt: 600, Now: 60, Descr: "ord", InMsg: m6a, OutMsgs: []*models.Message{m7a}},
			{Hash: "tx6b", Account: raw(routerWalletOut), Lt: 650, Now: 65, Descr: "ord", InMsg: m6b, OutMsgs: []*models.Message{m7b}},
			{Hash: "tx7a", Account: raw(refWalletOut), Lt: 700, Now: 70, Descr: "ord", InMsg: m7a},
			{Hash: "tx7b", Account: raw(userWalletOut), Lt: 750, Now: 75, Descr: "ord", InMsg: m7b},
		},
	}
	trace.Nodes = int32(len(trace.Transactions))
	repo := &fakeRepo{wallets: map[string]interfaces.JettonWallet{
		raw(userWallet):      {Address: raw(userWallet), Owner: raw(user), Jetton: raw(jettonIn)},
		raw(routerWalletOut): {Address: raw(routerWalletOut), Owner: raw(router), Jetton: raw(jettonOut)},
	}}

	res := classify(t, trace, repo)
	if res.State != StateOk {
		t.Fatalf("expected ok, got %s (err %v)", res.State, res.Err)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected one composite swap action, got %d", len(res.Actions))
	}
	a := res.Actions[0]
	if a.Type != "jetton_swap" || !a.Success {
		t.Fatalf("unexpected action %s success=%v", a.Type, a.Success)
	}
	details := a.JettonSwapData
	if details == nil {
		t.Fatalf("swap action carries no jetton swap payload: %+v", a)
	}
	if got := details.DexOutgoingTransfer.Amount.String(); got != "100" {
		t.Fatalf("payout amount = %s, want the larger request's 100", got)
	}
	if details.Receiver == nil || details.Receiver.String() != raw(user) {
		t.Fatalf("receiver = %v, want the user", details.Receiver)
	}
	if details.ReferralAmount == nil || details.ReferralAmount.String() != "40" {
		t.Fatalf("referral amount = %v, want 40", details.ReferralAmount)
	}
	if details.ReferralAddress == nil || details.ReferralAddress.String() != raw(referral) {
		t.Fatalf("referral address = %v, want %s", details.ReferralAddress, raw(referral))
	}
}

func TestClassifyStonfiSwapNoLiquidity(t *testing.T) {
	trace, repo := stonfiTrace(blocks.StonfiSwapNoLiquidityExit, 250)
	res := classify(t, trace, repo)
	if res.State != StateBroken {
		t.Fatalf("expected broken, got %s", res.State)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected one action, got %d", len(res.Actions))
	}
	a := res.Actions[0]
	if a.Type != "jetton_swap" || a.Success {
		t.Fatalf("rejected swap must persist with success=false, got %s success=%v", a.Type, a.Success)
	}
}

func TestClassifyJettonTransfer(t *testing.T) {
	user := addrN(0x01)
	userWallet := addrN(0x02)
	receiver := addrN(0x03)
	receiverWallet := addrN(0x04)
	jetton := addrN(0x0a)

	m1 := msgTo("m1", user, userWallet, 99, jettonTransferBody(42, receiver, user))
	m2 := msgTo("m2", userWallet, receiverWallet, 101, internalTransferBody(42, user))
	trace := &models.Trace{
		TraceID: "jt",
		Transactions: []*models.Transaction{
			{Hash: "tx1", Account: raw(userWallet), Lt: 100, Now: 10, Descr: "ord", InMsg: m1, OutMsgs: []*models.Message{m2}},
			{Hash: "tx2", Account: raw(receiverWallet), Lt: 200, Now: 20, Descr: "ord", InMsg: m2},
		},
	}
	repo := &fakeRepo{wallets: map[string]interfaces.JettonWallet{
		raw(userWallet): {Address: raw(userWallet), Owner: raw(user), Jetton: raw(jetton)},
	}}
	res := classify(t, trace, repo)
	if res.State != StateOk || len(res.Actions) != 1 {
		t.Fatalf("expected one ok action, got %s/%d", res.State, len(res.Actions))
	}
	a := res.Actions[0]
	if a.Type != "jetton_transfer" || !a.Success {
		t.Fatalf("unexpected action %s success=%v", a.Type, a.Success)
	}
	details := a.JettonTransferData
	if details == nil {
		t.Fatalf("transfer action carries no jetton transfer payload: %+v", a)
	}
	if details.Amount.String() != "42" {
		t.Fatalf("amount = %s, want 42", details.Amount.String())
	}
	if details.Asset.JettonAddress == nil || details.Asset.JettonAddress.String() != raw(jetton) {
		t.Fatalf("asset not resolved from wallet interface: %+v", details.Asset)
	}
	wantAccounts := map[string]bool{
		raw(user): true, raw(userWallet): true, raw(receiver): true, raw(receiverWallet): true,
	}
	if len(a.Accounts) != len(wantAccounts) {
		t.Fatalf("accounts = %v", a.Accounts)
	}
	for _, acc := range a.Accounts {
		if !wantAccounts[acc] {
			t.Fatalf("unexpected account %s", acc)
		}
	}
}

func TestClassifyActionIDsStable(t *testing.T) {
	trace1, repo := stonfiTrace(blocks.StonfiSwapOkExitCode, 100)
	trace2, _ := stonfiTrace(blocks.StonfiSwapOkExitCode, 100)
	res1 := classify(t, trace1, repo)
	res2 := classify(t, trace2, repo)
	if res1.Actions[0].ActionID != res2.Actions[0].ActionID {
		t.Fatalf("reclassification must yield identical action ids")
	}
	if res1.Actions[0].ActionID == "" {
		t.Fatalf("empty action id")
	}
}
