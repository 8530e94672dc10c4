package driver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/toncenter/ton-indexer/ton-event-classifier/blocks"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

const (
	StateOk     = "ok"
	StateBroken = "broken"
	StateFailed = "failed"
)

// Result is the outcome of classifying one trace. Err is set only for the
// failed state and holds the cause recorded in the quarantine log.
type Result struct {
	State   string
	Actions []models.Action
	Err     error
}

// Classify runs the rule catalogue against one trace to fixpoint and
// serializes the surviving composite blocks into actions. Rule evaluation
// errors and panics never escape: they downgrade the trace to the failed
// state with a single fallback action, so no trace silently disappears. The
// returned error is non-nil only when ctx is done.
func Classify(ctx context.Context, env *blocks.Env, trace *models.Trace, rules []blocks.Rule) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = failedResult(trace, fmt.Errorf("rule evaluation panic: %v", r))
		}
	}()

	// Housekeeping no-ops need no rule pass at all.
	if len(trace.Transactions) == 1 && trace.Transactions[0].Descr == "tick_tock" {
		return &Result{State: StateOk}, nil
	}

	g, buildErr := blocks.BuildGraph(trace)
	if buildErr != nil {
		return failedResult(trace, buildErr), nil
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		changed := false
	pass:
		for _, rule := range rules {
			for _, b := range g.Active() {
				if !rule.TestSelf(g, b) {
					continue
				}
				claimed := map[blocks.ID]bool{}
				matched, ok := rule.MatchAt(g, b, claimed)
				if !ok {
					continue
				}
				built, buildErr := rule.Build(ctx, env, g, b, matched)
				if buildErr != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					return failedResult(trace, buildErr), nil
				}
				if len(built) > 0 {
					// The candidate pool changed; rescan from the top.
					changed = true
					break pass
				}
			}
		}
		if !changed {
			break
		}
	}

	state := StateOk
	var actions []models.Action
	ordinal := 0
	for _, b := range g.Active() {
		if b.Kind == blocks.KindCall || b.Kind == blocks.KindWrapper {
			continue
		}
		if b.Failed || b.Broken {
			state = StateBroken
		}
		actions = append(actions, serializeBlock(g, trace, b, ordinal))
		ordinal++
	}
	if len(actions) == 0 {
		// Nothing structurally recognized: one catch-all action spanning the
		// whole trace.
		actions = append(actions, unknownAction(trace))
	}
	return &Result{State: state, Actions: actions}, nil
}

func serializeBlock(g *blocks.Graph, trace *models.Trace, b *blocks.Block, ordinal int) models.Action {
	a := models.Action{
		TraceID:    trace.TraceID,
		Type:       b.Kind.String(),
		StartLt:    b.MinLt,
		EndLt:      b.MaxLt,
		StartUtime: b.MinUtime,
		EndUtime:   b.MaxUtime,
		Success:    !b.Failed && !b.Broken,
	}
	a.SetDetails(b.Data)
	a.ActionID = actionID(trace.TraceID, a.Type, ordinal)
	seen := map[string]bool{}
	for _, call := range g.Calls(b) {
		if call == nil || call.Tx == nil || seen[call.Tx.Hash] {
			continue
		}
		seen[call.Tx.Hash] = true
		a.TxHashes = append(a.TxHashes, call.Tx.Hash)
	}
	a.Accounts = detailAccounts(b.Data)
	return a
}

// unknownAction covers every transaction of the trace under one synthetic
// catch-all action.
func unknownAction(trace *models.Trace) models.Action {
	a := models.Action{
		TraceID:  trace.TraceID,
		Type:     "unknown",
		ActionID: actionID(trace.TraceID, "unknown", 0),
		Success:  false,
	}
	accSeen := map[string]bool{}
	for i, tx := range trace.Transactions {
		if i == 0 || tx.Lt < a.StartLt {
			a.StartLt = tx.Lt
		}
		if tx.Lt > a.EndLt {
			a.EndLt = tx.Lt
		}
		if i == 0 || tx.Now < a.StartUtime {
			a.StartUtime = tx.Now
		}
		if tx.Now > a.EndUtime {
			a.EndUtime = tx.Now
		}
		a.TxHashes = append(a.TxHashes, tx.Hash)
		if !accSeen[tx.Account] {
			accSeen[tx.Account] = true
			a.Accounts = append(a.Accounts, tx.Account)
		}
	}
	if len(trace.Transactions) > 0 {
		root := trace.Transactions[0]
		details := models.CallContractDetails{
			Destination: models.AccountIdPtr(root.Account),
		}
		if root.InMsg != nil {
			details.Opcode = root.InMsg.Opcode
			details.Value = models.AmountFromUint64(root.InMsg.Value)
			if root.InMsg.Source != nil {
				details.Source = models.AccountIdPtr(*root.InMsg.Source)
			}
		}
		a.CallContractData = &details
	}
	return a
}

func failedResult(trace *models.Trace, cause error) *Result {
	return &Result{
		State:   StateFailed,
		Actions: []models.Action{unknownAction(trace)},
		Err:     cause,
	}
}

// actionID derives the stable natural key of an action: reclassifying the
// same trace yields byte-identical ids.
func actionID(traceID, kind string, ordinal int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", traceID, kind, ordinal)))
	return base64.StdEncoding.EncodeToString(h[:])
}

// detailAccounts extracts every participant account from a typed payload.
func detailAccounts(details any) []string {
	var accs []*models.AccountId
	switch d := details.(type) {
	case models.JettonTransferDetails:
		accs = []*models.AccountId{d.Sender, d.SenderWallet, d.Receiver, d.ReceiverWallet}
	case models.TonTransferDetails:
		accs = []*models.AccountId{d.Source, d.Destination}
	case models.JettonSwapDetails:
		accs = []*models.AccountId{
			d.Sender, d.Receiver, d.ReferralAddress,
			d.DexIncomingTransfer.Source, d.DexIncomingTransfer.Destination,
			d.DexOutgoingTransfer.Source, d.DexOutgoingTransfer.Destination,
		}
	case models.DexDepositLiquidityDetails:
		accs = []*models.AccountId{d.Sender, d.Pool, d.UserJettonWallet}
	case models.DexWithdrawLiquidityDetails:
		accs = []*models.AccountId{d.Sender, d.Pool}
	case models.CallContractDetails:
		accs = []*models.AccountId{d.Source, d.Destination}
	}
	var out []string
	seen := map[string]bool{}
	for _, a := range accs {
		if a == nil || seen[a.String()] {
			continue
		}
		seen[a.String()] = true
		out = append(out, a.String())
	}
	return out
}
