package models

// Typed action payloads. Stored as jsonb in the actions table and encoded
// with msgpack on the emulated response path, hence the dual tags.

type DexTransfer struct {
	Asset                   Asset      `json:"asset" msgpack:"asset"`
	Amount                  Amount     `json:"amount" msgpack:"amount"`
	Source                  *AccountId `json:"source" msgpack:"source"`
	SourceJettonWallet      *AccountId `json:"source_jetton_wallet" msgpack:"source_jetton_wallet"`
	Destination             *AccountId `json:"destination" msgpack:"destination"`
	DestinationJettonWallet *AccountId `json:"destination_jetton_wallet" msgpack:"destination_jetton_wallet"`
}

type SwapLeg struct {
	Asset  Asset  `json:"asset" msgpack:"asset"`
	Amount Amount `json:"amount" msgpack:"amount"`
}

// PeerSwap is one hop of a multi-hop swap.
type PeerSwap struct {
	In  SwapLeg `json:"in" msgpack:"in"`
	Out SwapLeg `json:"out" msgpack:"out"`
}

type JettonSwapDetails struct {
	Dex                 string      `json:"dex" msgpack:"dex"`
	Sender              *AccountId  `json:"sender" msgpack:"sender"`
	Receiver            *AccountId  `json:"receiver,omitempty" msgpack:"receiver"`
	DexIncomingTransfer DexTransfer `json:"dex_incoming_transfer" msgpack:"dex_incoming_transfer"`
	DexOutgoingTransfer DexTransfer `json:"dex_outgoing_transfer" msgpack:"dex_outgoing_transfer"`
	PeerSwaps           []PeerSwap  `json:"peer_swaps" msgpack:"peer_swaps"`
	SourceAsset         *Asset      `json:"source_asset,omitempty" msgpack:"source_asset"`
	DestinationAsset    *Asset      `json:"destination_asset,omitempty" msgpack:"destination_asset"`
	ReferralAmount      *Amount     `json:"referral_amount,omitempty" msgpack:"referral_amount"`
	ReferralAddress     *AccountId  `json:"referral_address,omitempty" msgpack:"referral_address"`
}

type JettonTransferDetails struct {
	Asset               Asset      `json:"asset" msgpack:"asset"`
	Amount              Amount     `json:"amount" msgpack:"amount"`
	QueryID             uint64     `json:"query_id" msgpack:"query_id"`
	Sender              *AccountId `json:"sender" msgpack:"sender"`
	SenderWallet        *AccountId `json:"sender_wallet" msgpack:"sender_wallet"`
	Receiver            *AccountId `json:"receiver" msgpack:"receiver"`
	ReceiverWallet      *AccountId `json:"receiver_wallet" msgpack:"receiver_wallet"`
	ResponseDestination *AccountId `json:"response_destination,omitempty" msgpack:"response_destination"`
	ForwardAmount       *Amount    `json:"forward_amount,omitempty" msgpack:"forward_amount"`
	Comment             *string    `json:"comment,omitempty" msgpack:"comment"`
	PayloadOpcode       *uint32    `json:"payload_opcode,omitempty" msgpack:"payload_opcode"`
}

type TonTransferDetails struct {
	Amount      Amount     `json:"amount" msgpack:"amount"`
	Source      *AccountId `json:"source" msgpack:"source"`
	Destination *AccountId `json:"destination" msgpack:"destination"`
	Comment     *string    `json:"comment,omitempty" msgpack:"comment"`
	Encrypted   bool       `json:"encrypted" msgpack:"encrypted"`
}

type DexDepositLiquidityDetails struct {
	Dex              string     `json:"dex" msgpack:"dex"`
	Sender           *AccountId `json:"sender" msgpack:"sender"`
	Pool             *AccountId `json:"pool" msgpack:"pool"`
	Asset1           *Asset     `json:"asset_1,omitempty" msgpack:"asset_1"`
	Asset2           *Asset     `json:"asset_2,omitempty" msgpack:"asset_2"`
	Amount1          *Amount    `json:"amount_1,omitempty" msgpack:"amount_1"`
	Amount2          *Amount    `json:"amount_2,omitempty" msgpack:"amount_2"`
	UserJettonWallet *AccountId `json:"user_jetton_wallet,omitempty" msgpack:"user_jetton_wallet"`
	LpTokensMinted   *Amount    `json:"lp_tokens_minted,omitempty" msgpack:"lp_tokens_minted"`
}

type DexWithdrawLiquidityDetails struct {
	Dex           string     `json:"dex" msgpack:"dex"`
	Sender        *AccountId `json:"sender" msgpack:"sender"`
	Pool          *AccountId `json:"pool" msgpack:"pool"`
	Asset1Out     *Asset     `json:"asset_1_out,omitempty" msgpack:"asset_1_out"`
	Asset2Out     *Asset     `json:"asset_2_out,omitempty" msgpack:"asset_2_out"`
	Amount1       *Amount    `json:"amount_1,omitempty" msgpack:"amount_1"`
	Amount2       *Amount    `json:"amount_2,omitempty" msgpack:"amount_2"`
	LpTokensBurnt *Amount    `json:"lp_tokens_burnt,omitempty" msgpack:"lp_tokens_burnt"`
}

type CallContractDetails struct {
	Opcode      *uint32    `json:"opcode,omitempty" msgpack:"opcode"`
	Source      *AccountId `json:"source" msgpack:"source"`
	Destination *AccountId `json:"destination" msgpack:"destination"`
	Value       Amount     `json:"value" msgpack:"value"`
}
