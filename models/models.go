package models

import (
	"time"
)

// Message is one inter-account communication inside a trace. Immutable once
// loaded from the database or an emulated snapshot.
type Message struct {
	Hash        string
	Source      *string
	Destination *string
	Value       uint64
	Opcode      *uint32
	CreatedLt   uint64
	BodyBoc     []byte
}

// Transaction is one executed account step. Immutable once loaded.
type Transaction struct {
	Hash     string
	Account  string
	Lt       uint64
	Now      uint32
	Descr    string // ord, tick_tock, storage, ...
	Aborted  bool
	Emulated bool // true when produced by emulation, not a committed block
	ExitCode int32
	InMsg    *Message
	OutMsgs  []*Message
}

// Trace is the unit of classification: the full causal tree of transactions
// produced by one originating external message.
type Trace struct {
	TraceID             string
	ExternalHash        string
	McSeqnoEnd          *int32
	State               string // pending | complete
	ClassificationState string // unclassified | ok | broken | failed
	Nodes               int32
	Transactions        []*Transaction // ordered by lt
}

// ClassifierTask is one work item from the shared backlog. A task targets
// exactly one of a trace id or a masterchain seqno.
type ClassifierTask struct {
	ID         int64
	McSeqno    *int32
	TraceID    *string
	ClaimedAt  *time.Time
	StartAfter *time.Time
}

// IsTraceTask reports whether the task targets an explicit trace id rather
// than a masterchain seqno group.
func (t *ClassifierTask) IsTraceTask() bool {
	return t.TraceID != nil
}

// ClassifierFailedTrace is a quarantine record. Broken means the trace was
// structurally recognized but semantically invalid; otherwise Error holds the
// failure cause.
type ClassifierFailedTrace struct {
	TraceID string
	Broken  bool
	Error   *string
}

// Action is the persisted output of classification. Exactly one of the
// per-kind *Data fields is set; it is stored as jsonb. The msgpack layout is
// the wire schema emulated-trace readers decode, so the keys must stay
// snake_case and the payloads flat per kind.
type Action struct {
	ActionID          string   `msgpack:"action_id"`
	TraceID           string   `msgpack:"trace_id,omitempty"`
	TraceExternalHash string   `msgpack:"trace_external_hash,omitempty"`
	Type              string   `msgpack:"type"`
	StartLt           uint64   `msgpack:"start_lt"`
	EndLt             uint64   `msgpack:"end_lt"`
	StartUtime        uint32   `msgpack:"start_utime"`
	EndUtime          uint32   `msgpack:"end_utime"`
	Success           bool     `msgpack:"success"`
	TxHashes          []string `msgpack:"tx_hashes"`
	Accounts          []string `msgpack:"accounts"`

	TonTransferData          *TonTransferDetails          `msgpack:"ton_transfer_data,omitempty"`
	JettonTransferData       *JettonTransferDetails       `msgpack:"jetton_transfer_data,omitempty"`
	JettonSwapData           *JettonSwapDetails           `msgpack:"jetton_swap_data,omitempty"`
	DexDepositLiquidityData  *DexDepositLiquidityDetails  `msgpack:"dex_deposit_liquidity_data,omitempty"`
	DexWithdrawLiquidityData *DexWithdrawLiquidityDetails `msgpack:"dex_withdraw_liquidity_data,omitempty"`
	CallContractData         *CallContractDetails         `msgpack:"call_contract_data,omitempty"`
}

// SetDetails stores a typed payload in its per-kind slot.
func (a *Action) SetDetails(d any) {
	switch v := d.(type) {
	case TonTransferDetails:
		a.TonTransferData = &v
	case JettonTransferDetails:
		a.JettonTransferData = &v
	case JettonSwapDetails:
		a.JettonSwapData = &v
	case DexDepositLiquidityDetails:
		a.DexDepositLiquidityData = &v
	case DexWithdrawLiquidityDetails:
		a.DexWithdrawLiquidityData = &v
	case CallContractDetails:
		a.CallContractData = &v
	}
}

// Details returns whichever per-kind payload is set, or nil.
func (a *Action) Details() any {
	switch {
	case a.TonTransferData != nil:
		return a.TonTransferData
	case a.JettonTransferData != nil:
		return a.JettonTransferData
	case a.JettonSwapData != nil:
		return a.JettonSwapData
	case a.DexDepositLiquidityData != nil:
		return a.DexDepositLiquidityData
	case a.DexWithdrawLiquidityData != nil:
		return a.DexWithdrawLiquidityData
	case a.CallContractData != nil:
		return a.CallContractData
	}
	return nil
}

// ActionAccount is a reverse-lookup row linking a participant account to an
// action within a trace.
type ActionAccount struct {
	Account  string
	ActionID string
	TraceID  string
}

// ActionAccounts expands Action.Accounts into rows.
func (a *Action) ActionAccounts() []ActionAccount {
	rows := make([]ActionAccount, 0, len(a.Accounts))
	for _, acc := range a.Accounts {
		rows = append(rows, ActionAccount{Account: acc, ActionID: a.ActionID, TraceID: a.TraceID})
	}
	return rows
}

// BatchResult is the per-batch outcome reported to the stats channel.
type BatchResult struct {
	Ok     bool
	Traces int
	Failed int
	Broken int
}
