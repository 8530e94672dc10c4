package blocks

// DefaultRules is the production rule catalogue. Order matters: transfer
// rules run first so that DEX rules can match over their composites.
func DefaultRules() []Rule {
	return []Rule{
		NewJettonTransferRule(),
		NewTonTransferRule(),
		NewStonfiSwapRule(),
		NewDedustSwapRule(),
		NewDedustDepositLiquidityRule(),
		NewDedustWithdrawLiquidityRule(),
	}
}
