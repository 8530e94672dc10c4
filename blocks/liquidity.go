package blocks

import (
	"context"

	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
)

// DedustDepositLiquidityRule rewrites a DeDust liquidity deposit: the
// incoming transfer to the vault, the deposit call on the pool, the deposit
// event and the LP token mint back to the depositor.
type DedustDepositLiquidityRule struct {
	ContractMatcher
}

func NewDedustDepositLiquidityRule() *DedustDepositLiquidityRule {
	r := &DedustDepositLiquidityRule{}
	r.Opcode = OpDedustDepositLiquidity
	in := transferBlockMatcher()
	in.Opt = true
	r.Parent = Labeled("in", in)
	lp := &BlockTypeMatcher{Kind: KindJettonTransfer}
	lp.Opt = true
	r.Children = []Matcher{
		Labeled("event", optionalContract(OpDedustDepositEvent)),
		Labeled("lp", lp),
	}
	return r
}

func (r *DedustDepositLiquidityRule) Build(_ context.Context, env *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error) {
	pool := accountId(anchor.Msg.Destination)
	details := models.DexDepositLiquidityDetails{
		Dex:  "dedust",
		Pool: pool,
	}
	if in := GetLabeled(g, "in", matched); in != nil {
		leg, ok := dexTransferFromBlock(g, in)
		if ok {
			details.Sender = leg.Source
			details.UserJettonWallet = leg.SourceJettonWallet
		}
	}
	if details.Sender == nil {
		details.Sender = accountId(anchor.Msg.Source)
	}
	if pool != nil && env.Pools != nil {
		if p := env.Pools.Lookup(pool.String()); p != nil && len(p.Assets) == 2 {
			a1, a2 := poolAssetToAsset(p.Assets[0]), poolAssetToAsset(p.Assets[1])
			details.Asset1, details.Asset2 = &a1, &a2
		}
	}
	if ev := GetLabeled(g, "event", matched); ev != nil {
		if body, err := ev.Body(); err == nil {
			if event, err := ParseDedustDepositEvent(body); err == nil {
				a1 := models.NewAmount(event.Amount0)
				a2 := models.NewAmount(event.Amount1)
				lp := models.NewAmount(event.LpTokensMinted)
				details.Amount1, details.Amount2 = &a1, &a2
				details.LpTokensMinted = &lp
			}
		}
	}

	nb := g.NewComposite(KindDexDepositLiquidity, details)
	nb.Failed = anchor.Tx != nil && anchor.Tx.Aborted
	g.Merge(nb, matched)
	return []*Block{nb}, nil
}

// DedustWithdrawLiquidityRule rewrites an LP token burn sent to a registered
// pool plus the payout chains returning both pool assets to the owner.
// Matching anchors on any jetton burn; burns whose receiver is not a known
// pool are declined at build time.
type DedustWithdrawLiquidityRule struct {
	ContractMatcher
}

func NewDedustWithdrawLiquidityRule() *DedustWithdrawLiquidityRule {
	r := &DedustWithdrawLiquidityRule{}
	r.Opcode = OpJettonBurn
	r.Children = []Matcher{
		Labeled("payout", withdrawPayoutMatcher()),
		Labeled("payout", withdrawPayoutMatcher()),
	}
	return r
}

func withdrawPayoutMatcher() Matcher {
	out := transferBlockMatcher()
	out.Alternatives = append(out.Alternatives, &ContractMatcher{Opcode: OpDedustPayout})
	out.Opt = true
	fromPool := &ContractMatcher{Opcode: OpDedustPayoutFromPool}
	fromPool.Opt = true
	fromPool.Child = Labeled("out", out)
	return fromPool
}

func (r *DedustWithdrawLiquidityRule) Build(_ context.Context, env *Env, g *Graph, anchor *Block, matched []*Block) ([]*Block, error) {
	pool := accountId(anchor.Msg.Destination)
	if pool == nil || env.Pools == nil {
		return nil, nil
	}
	registered := env.Pools.Lookup(pool.String())
	if registered == nil {
		return nil, nil
	}

	body, err := anchor.Body()
	if err != nil {
		return nil, nil
	}
	burn, err := ParseJettonBurn(body)
	if err != nil {
		return nil, nil
	}

	burnt := models.NewAmount(burn.Amount)
	details := models.DexWithdrawLiquidityDetails{
		Dex:           "dedust",
		Sender:        accountId(anchor.Msg.Source),
		Pool:          pool,
		LpTokensBurnt: &burnt,
	}
	if len(registered.Assets) == 2 {
		a1, a2 := poolAssetToAsset(registered.Assets[0]), poolAssetToAsset(registered.Assets[1])
		details.Asset1Out, details.Asset2Out = &a1, &a2
	}
	outs := GetAllLabeled(g, "out", matched)
	if len(outs) > 0 {
		if leg, ok := dexTransferFromBlock(g, outs[0]); ok {
			details.Amount1 = &leg.Amount
		}
	}
	if len(outs) > 1 {
		if leg, ok := dexTransferFromBlock(g, outs[1]); ok {
			details.Amount2 = &leg.Amount
		}
	}

	nb := g.NewComposite(KindDexWithdrawLiquidity, details)
	nb.Failed = anchor.Tx != nil && anchor.Tx.Aborted
	g.Merge(nb, matched)
	return []*Block{nb}, nil
}

func poolAssetToAsset(a interfaces.PoolAsset) models.Asset {
	if a.IsTon {
		return models.TonAsset()
	}
	return models.JettonAsset(*models.AccountIdPtr(a.Address))
}
