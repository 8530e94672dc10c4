package blocks

import (
	"context"
	"math/big"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

// StonfiSwapRule rewrites a StonFi v1 round trip into one jetton_swap block:
// an incoming transfer to the router, the router-to-pool swap call, up to two
// pay-to requests back (payout and referral) and their outgoing transfers.
type StonfiSwapRule struct {
	Exp
}

func NewStonfiSwapRule() *StonfiSwapRule {
	r := &StonfiSwapRule{}
	payout := transferBlockMatcher()
	payout.Opt = true
	pay := &ContractMatcher{Opcode: OpStonfiPaymentRequest}
	pay.Child = Labeled("out", payout)
	pay2Out := transferBlockMatcher()
	pay2Out.Opt = true
	pay2 := &ContractMatcher{Opcode: OpStonfiPaymentRequest}
	pay2.Opt = true
	pay2.Child = Labeled("out", pay2Out)
	swap := &ContractMatcher{Opcode: OpStonfiSwap}
	swap.Children = []Matcher{Labeled("payment", pay), Labeled("payment", pay2)}
	r.Child = Labeled("swap", swap)
	return r
}

func (r *StonfiSwapRule) TestSelf(_ *Graph, b *Block) bool {
	return b.Kind == KindJettonTransfer || b.Kind == KindTonTransfer
}

func (r *StonfiSwapRule) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	if !r.TestSelf(g, b) || claimed[b.ID] {
		return nil, false
	}
	claim(claimed, b)
	sub, ok := r.matchAround(g, b, claimed)
	if !ok {
		unclaim(claimed, []*Block{b})
		return nil, false
	}
	return append([]*Block{b}, sub...), true
}

func (r *StonfiSwapRule) Build(_ context.Context, _ *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error) {
	incoming, ok := dexTransferFromBlock(g, anchor)
	if !ok {
		return nil, nil
	}

	type payment struct {
		msg    *StonfiPaymentRequestMsg
		out    *Block
		amount *big.Int
	}
	var toSender, toReferral *payment
	for _, pb := range GetAllLabeled(g, "payment", matched) {
		body, err := pb.Body()
		if err != nil {
			continue
		}
		req, err := ParseStonfiPaymentRequest(body)
		if err != nil {
			continue
		}
		p := &payment{msg: req, amount: req.Amount0Out}
		if p.amount == nil || p.amount.Sign() == 0 {
			p.amount = req.Amount1Out
		}
		for _, out := range GetAllLabeled(g, "out", matched) {
			if out.Prev == pb.ID {
				p.out = out
				break
			}
		}
		switch {
		case StonfiSenderExitCodes[req.ExitCode]:
			if toSender == nil {
				toSender = p
			} else if cmpAmounts(toSender.amount, p.amount) < 0 {
				// Two sender payouts: the larger one is the swap result,
				// the smaller one is the referral cut.
				toReferral = toSender
				toSender = p
			} else {
				toReferral = p
			}
		case req.ExitCode == StonfiSwapOkRefExitCode:
			toReferral = p
		}
	}
	if toSender == nil {
		return nil, nil
	}

	details := models.JettonSwapDetails{
		Dex:                 "stonfi",
		Sender:              incoming.Source,
		DexIncomingTransfer: incoming,
	}
	failed := toSender.msg.ExitCode != StonfiSwapOkExitCode
	if toSender.out != nil {
		outgoing, ok := dexTransferFromBlock(g, toSender.out)
		if !ok {
			return nil, nil
		}
		// The payment request, not the transfer it spawns, is the
		// authoritative source of the payout amount.
		if toSender.amount != nil {
			outgoing.Amount = models.NewAmount(toSender.amount)
		}
		details.DexOutgoingTransfer = outgoing
		details.Receiver = outgoing.Destination
	}
	src, dst := incoming.Asset, details.DexOutgoingTransfer.Asset
	details.SourceAsset = &src
	details.DestinationAsset = &dst
	if toReferral != nil {
		if toReferral.amount != nil {
			amt := models.NewAmount(toReferral.amount)
			details.ReferralAmount = &amt
		}
		if toReferral.out != nil {
			if refOut, ok := dexTransferFromBlock(g, toReferral.out); ok {
				details.ReferralAddress = refOut.Destination
			}
		}
	}

	nb := g.NewComposite(KindJettonSwap, details)
	nb.Failed = failed
	g.Merge(nb, matched)
	return []*Block{nb}, nil
}

// DedustSwapRule rewrites a DeDust swap: the vault-to-pool swap call, a run
// of peer-swap hops across further pools, and the payout chain back through
// the vault. Every executed hop emits an external notification carrying the
// hop's in/out legs.
type DedustSwapRule struct {
	ContractMatcher
}

func NewDedustSwapRule() *DedustSwapRule {
	r := &DedustSwapRule{}
	r.Opcode = OpDedustSwapExternal

	in := NewOrMatcher(
		&BlockTypeMatcher{Kind: KindJettonTransfer},
		&BlockTypeMatcher{Kind: KindTonTransfer},
		&ContractMatcher{Opcode: OpDedustSwap},
	)
	in.Opt = true
	r.Parent = Labeled("in", in)

	peer := &ContractMatcher{Opcode: OpDedustSwapPeer}
	peer.Children = []Matcher{Labeled("notification", optionalContract(OpDedustSwapNotification))}

	payout := transferBlockMatcher()
	payout.Alternatives = append(payout.Alternatives, &ContractMatcher{Opcode: OpDedustPayout})
	payout.Opt = true
	fromPool := &ContractMatcher{Opcode: OpDedustPayoutFromPool}
	fromPool.Child = Labeled("out", payout)

	chain := NewRecursiveMatcher(Labeled("peer", peer), fromPool)
	chain.Opt = true
	r.Children = []Matcher{
		Labeled("notification", optionalContract(OpDedustSwapNotification)),
		chain,
	}
	return r
}

func (r *DedustSwapRule) Build(_ context.Context, _ *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error) {
	var peerSwaps []models.PeerSwap
	for _, nb := range GetAllLabeled(g, "notification", matched) {
		body, err := nb.Body()
		if err != nil {
			continue
		}
		note, err := ParseDedustSwapNotification(body)
		if err != nil {
			continue
		}
		peerSwaps = append(peerSwaps, models.PeerSwap{
			In:  models.SwapLeg{Asset: note.AssetIn, Amount: models.NewAmount(note.AmountIn)},
			Out: models.SwapLeg{Asset: note.AssetOut, Amount: models.NewAmount(note.AmountOut)},
		})
	}

	details := models.JettonSwapDetails{Dex: "dedust", PeerSwaps: peerSwaps}
	if in := GetLabeled(g, "in", matched); in != nil {
		incoming, ok := dexTransferFromBlock(g, in)
		if ok {
			details.DexIncomingTransfer = incoming
			details.Sender = incoming.Source
		}
	}
	if out := GetLabeled(g, "out", matched); out != nil {
		outgoing, ok := dexTransferFromBlock(g, out)
		if ok {
			details.DexOutgoingTransfer = outgoing
			details.Receiver = outgoing.Destination
		}
	}
	if len(peerSwaps) > 0 {
		src := peerSwaps[0].In.Asset
		dst := peerSwaps[len(peerSwaps)-1].Out.Asset
		details.SourceAsset = &src
		details.DestinationAsset = &dst
	}

	nb := g.NewComposite(KindJettonSwap, details)
	// A pool that accepts a swap always notifies; silence means rejection.
	nb.Failed = len(peerSwaps) == 0
	g.Merge(nb, matched)
	return []*Block{nb}, nil
}

// cmpAmounts orders two possibly-nil amounts; nil sorts below any value.
func cmpAmounts(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Cmp(b)
}

// transferBlockMatcher matches either transfer composite kind.
func transferBlockMatcher() *OrMatcher {
	return NewOrMatcher(
		&BlockTypeMatcher{Kind: KindJettonTransfer},
		&BlockTypeMatcher{Kind: KindTonTransfer},
	)
}

// dexTransferFromBlock projects a matched payout or deposit block onto a DEX
// transfer leg.
func dexTransferFromBlock(g *Graph, b *Block) (models.DexTransfer, bool) {
	switch b.Kind {
	case KindJettonTransfer:
		d, ok := b.Data.(models.JettonTransferDetails)
		if !ok {
			return models.DexTransfer{}, false
		}
		return models.DexTransfer{
			Asset:                   d.Asset,
			Amount:                  d.Amount,
			Source:                  d.Sender,
			SourceJettonWallet:      d.SenderWallet,
			Destination:             d.Receiver,
			DestinationJettonWallet: d.ReceiverWallet,
		}, true
	case KindTonTransfer:
		d, ok := b.Data.(models.TonTransferDetails)
		if !ok {
			return models.DexTransfer{}, false
		}
		return models.DexTransfer{
			Asset:       models.TonAsset(),
			Amount:      d.Amount,
			Source:      d.Source,
			Destination: d.Destination,
		}, true
	case KindCall:
		op, ok := b.Opcode()
		if !ok {
			return models.DexTransfer{}, false
		}
		switch op {
		case OpDedustSwap, OpDedustPayout:
			body, err := b.Body()
			if err != nil {
				return models.DexTransfer{}, false
			}
			var amount models.Amount
			if op == OpDedustSwap {
				m, err := ParseDedustSwap(body)
				if err != nil {
					return models.DexTransfer{}, false
				}
				amount = models.NewAmount(m.Amount)
			} else {
				m, err := ParseDedustPayout(body)
				if err != nil {
					return models.DexTransfer{}, false
				}
				amount = models.NewAmount(m.Amount)
			}
			return models.DexTransfer{
				Asset:       models.TonAsset(),
				Amount:      amount,
				Source:      accountId(b.Msg.Source),
				Destination: accountId(b.Msg.Destination),
			}, true
		}
	}
	return models.DexTransfer{}, false
}
