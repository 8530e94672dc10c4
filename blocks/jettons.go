package blocks

import (
	"context"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

// JettonTransferRule rewrites a TEP-74 transfer chain (transfer ->
// internal_transfer -> optional notification and excesses) into one
// jetton_transfer block. Transfers of wrapped-TON jettons collapse into a
// ton_transfer instead.
type JettonTransferRule struct {
	ContractMatcher
}

func NewJettonTransferRule() *JettonTransferRule {
	r := &JettonTransferRule{}
	r.Opcode = OpJettonTransfer
	internal := &ContractMatcher{Opcode: OpJettonInternalTransfer}
	internal.Opt = true
	internal.Children = []Matcher{
		Labeled("notify", optionalContract(OpJettonNotify)),
		Labeled("excesses", optionalContract(OpExcesses)),
	}
	r.Child = Labeled("internal_transfer", internal)
	return r
}

func (r *JettonTransferRule) Build(ctx context.Context, env *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error) {
	body, err := anchor.Body()
	if err != nil {
		return nil, nil
	}
	transfer, err := ParseJettonTransfer(body)
	if err != nil {
		return nil, nil
	}

	senderWallet := accountId(anchor.Msg.Destination)
	sender := accountId(anchor.Msg.Source)
	receiver := models.AccountIdFromAddress(transfer.Destination)

	asset := models.Asset{}
	if senderWallet != nil {
		w, err := env.Repo.GetJettonWallet(ctx, senderWallet.String())
		if err != nil {
			return nil, err
		}
		if w != nil {
			asset = models.JettonAsset(*models.AccountIdPtr(w.Jetton))
			if sender == nil {
				sender = models.AccountIdPtr(w.Owner)
			}
		}
	}

	failed := anchor.Tx != nil && anchor.Tx.Aborted
	var receiverWallet *models.AccountId
	if internal := GetLabeled(g, "internal_transfer", matched); internal != nil {
		receiverWallet = accountId(internal.Msg.Destination)
		if internal.Tx != nil && internal.Tx.Aborted {
			failed = true
		}
	} else {
		failed = true
	}

	// pTon "jetton" transfers are native-coin transfers routed through the
	// wrapper contract.
	if asset.JettonAddress != nil && PTonMasters[asset.JettonAddress.String()] {
		details := models.TonTransferDetails{
			Amount:      models.NewAmount(transfer.Amount),
			Source:      sender,
			Destination: receiver,
		}
		nb := g.NewComposite(KindTonTransfer, details)
		nb.Failed = failed
		g.Merge(nb, matched)
		return []*Block{nb}, nil
	}

	var comment *string
	var payloadOpcode *uint32
	if transfer.ForwardPayload != nil {
		s := transfer.ForwardPayload.BeginParse()
		if s.BitsLeft() >= 32 {
			head, err := s.Copy().LoadUInt(32)
			if err == nil {
				op := uint32(head)
				if op == OpTextComment || op == OpEncryptedComment {
					comment, _ = ParseComment(s)
				} else {
					payloadOpcode = &op
				}
			}
		}
	}

	fwd := models.NewAmount(transfer.ForwardTonAmount)
	details := models.JettonTransferDetails{
		Asset:               asset,
		Amount:              models.NewAmount(transfer.Amount),
		QueryID:             transfer.QueryID,
		Sender:              sender,
		SenderWallet:        senderWallet,
		Receiver:            receiver,
		ReceiverWallet:      receiverWallet,
		ResponseDestination: models.AccountIdFromAddress(transfer.ResponseDestination),
		ForwardAmount:       &fwd,
		Comment:             comment,
		PayloadOpcode:       payloadOpcode,
	}
	nb := g.NewComposite(KindJettonTransfer, details)
	nb.Failed = failed
	g.Merge(nb, matched)
	return []*Block{nb}, nil
}

// TonTransferRule rewrites a plain value-bearing message between two accounts
// into a ton_transfer block. Only comment-or-empty bodies qualify; anything
// with a real opcode stays a contract call.
type TonTransferRule struct {
	Exp
}

func NewTonTransferRule() *TonTransferRule {
	return &TonTransferRule{}
}

func (r *TonTransferRule) TestSelf(_ *Graph, b *Block) bool {
	if b.Kind != KindCall || b.Msg == nil {
		return false
	}
	if b.Msg.Source == nil || b.Msg.Destination == nil {
		return false
	}
	if b.Msg.Value == 0 {
		return false
	}
	if b.Tx != nil && b.Tx.Descr != "ord" {
		return false
	}
	op, ok := b.Opcode()
	return !ok || op == OpTextComment || op == OpEncryptedComment
}

func (r *TonTransferRule) MatchAt(g *Graph, b *Block, claimed map[ID]bool) ([]*Block, bool) {
	if !r.TestSelf(g, b) || claimed[b.ID] {
		return nil, false
	}
	claim(claimed, b)
	return []*Block{b}, true
}

func (r *TonTransferRule) Build(_ context.Context, _ *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error) {
	details := models.TonTransferDetails{
		Amount:      models.AmountFromUint64(anchor.Msg.Value),
		Source:      accountId(anchor.Msg.Source),
		Destination: accountId(anchor.Msg.Destination),
	}
	if op, ok := anchor.Opcode(); ok && (op == OpTextComment || op == OpEncryptedComment) {
		if body, err := anchor.Body(); err == nil {
			details.Comment, details.Encrypted = ParseComment(body)
		}
	}
	nb := g.NewComposite(KindTonTransfer, details)
	nb.Failed = anchor.Tx != nil && anchor.Tx.Aborted
	g.Merge(nb, matched)
	return []*Block{nb}, nil
}

func optionalContract(opcode uint32) *ContractMatcher {
	m := &ContractMatcher{Opcode: opcode}
	m.Opt = true
	return m
}

func accountId(s *string) *models.AccountId {
	if s == nil {
		return nil
	}
	return models.AccountIdPtr(*s)
}
