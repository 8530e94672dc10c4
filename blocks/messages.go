package blocks

import (
	"fmt"
	"math/big"

	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Message opcodes recognized by the rule catalogue.
const (
	OpTextComment      uint32 = 0x00000000
	OpEncryptedComment uint32 = 0x2167da4b

	OpJettonTransfer         uint32 = 0x0f8a7ea5
	OpJettonInternalTransfer uint32 = 0x178d4519
	OpJettonNotify           uint32 = 0x7362d09c
	OpJettonBurn             uint32 = 0x595f07bc
	OpExcesses               uint32 = 0xd53276db
	OpPTonTransfer           uint32 = 0x01f3835d

	OpStonfiSwap           uint32 = 0x25938561
	OpStonfiPaymentRequest uint32 = 0xf93bb43f

	OpDedustSwap             uint32 = 0xea06185d
	OpDedustSwapExternal     uint32 = 0x61ee542d
	OpDedustSwapPeer         uint32 = 0x72aca8aa
	OpDedustSwapNotification uint32 = 0x9c610de3
	OpDedustPayoutFromPool   uint32 = 0xad4eb6f5
	OpDedustPayout           uint32 = 0x474f86cf

	OpDedustDepositLiquidity uint32 = 0xd55e4686
	OpDedustDepositEvent     uint32 = 0xb544f4a4
)

// StonFi pay-to exit codes.
const (
	StonfiSwapOkExitCode         uint32 = 0xc64370e5
	StonfiSwapOkRefExitCode      uint32 = 0x45078540
	StonfiSwapNoLiquidityExit    uint32 = 0x5ffe1295
	StonfiSwapReserveErrExitCode uint32 = 0x38976e9b
)

// StonfiSenderExitCodes are the pay-to exit codes addressed to the swap
// sender rather than a referral.
var StonfiSenderExitCodes = map[uint32]bool{
	StonfiSwapOkExitCode:         true,
	StonfiSwapNoLiquidityExit:    true,
	StonfiSwapReserveErrExitCode: true,
}

// PTonMasters are the known wrapped-TON jetton masters; a transfer of their
// token is a native-coin transfer in disguise.
var PTonMasters = map[string]bool{
	"0:8CDC1D7640AD5EE326527FC1AD0514F468B30DC84B0173F0E155F451B4E11F7C": true,
	"0:671963027F7F85659AB55B8216716886019DCF1EE67F4FEEDAC9DA8610D34D20": true,
}

type JettonTransferMsg struct {
	QueryID             uint64
	Amount              *big.Int
	Destination         *address.Address
	ResponseDestination *address.Address
	ForwardTonAmount    *big.Int
	ForwardPayload      *cell.Cell
}

// ParseJettonTransfer decodes a TEP-74 transfer body (opcode included).
func ParseJettonTransfer(s *cell.Slice) (*JettonTransferMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, fmt.Errorf("jetton transfer opcode: %w", err)
	}
	m := &JettonTransferMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.Destination, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	if m.ResponseDestination, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	hasCustom, err := s.LoadBoolBit()
	if err != nil {
		return nil, err
	}
	if hasCustom {
		if _, err = s.LoadRef(); err != nil {
			return nil, err
		}
	}
	if m.ForwardTonAmount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	m.ForwardPayload = loadEitherPayload(s)
	return m, nil
}

type JettonInternalTransferMsg struct {
	QueryID uint64
	Amount  *big.Int
	From    *address.Address
}

func ParseJettonInternalTransfer(s *cell.Slice) (*JettonInternalTransferMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &JettonInternalTransferMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.From, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	return m, nil
}

type JettonNotifyMsg struct {
	QueryID        uint64
	Amount         *big.Int
	Sender         *address.Address
	ForwardPayload *cell.Cell
}

func ParseJettonNotify(s *cell.Slice) (*JettonNotifyMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &JettonNotifyMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.Sender, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	m.ForwardPayload = loadEitherPayload(s)
	return m, nil
}

type JettonBurnMsg struct {
	QueryID             uint64
	Amount              *big.Int
	ResponseDestination *address.Address
}

func ParseJettonBurn(s *cell.Slice) (*JettonBurnMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &JettonBurnMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.ResponseDestination, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	return m, nil
}

type StonfiSwapMsg struct {
	QueryID     uint64
	FromUser    *address.Address
	TokenWallet *address.Address // the router's wallet of the incoming jetton
	Amount      *big.Int
	MinOut      *big.Int
	Referral    *address.Address
}

// ParseStonfiSwap decodes the router-to-pool swap call body.
func ParseStonfiSwap(s *cell.Slice) (*StonfiSwapMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &StonfiSwapMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.FromUser, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	if m.TokenWallet, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.MinOut, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	hasRef, err := s.LoadBoolBit()
	if err != nil {
		return nil, err
	}
	if hasRef {
		if m.Referral, err = s.LoadAddr(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type StonfiPaymentRequestMsg struct {
	QueryID    uint64
	Owner      *address.Address
	ExitCode   uint32
	Amount0Out *big.Int
	Token0Out  *address.Address
	Amount1Out *big.Int
	Token1Out  *address.Address
}

// ParseStonfiPaymentRequest decodes the pool-to-router payment request; the
// payout parameters live in a referenced cell.
func ParseStonfiPaymentRequest(s *cell.Slice) (*StonfiPaymentRequestMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &StonfiPaymentRequestMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Owner, err = s.LoadAddr(); err != nil {
		return nil, err
	}
	exit, err := s.LoadUInt(32)
	if err != nil {
		return nil, err
	}
	m.ExitCode = uint32(exit)
	params, err := s.LoadRef()
	if err != nil {
		return nil, err
	}
	if m.Amount0Out, err = params.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.Token0Out, err = params.LoadAddr(); err != nil {
		return nil, err
	}
	if m.Amount1Out, err = params.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.Token1Out, err = params.LoadAddr(); err != nil {
		return nil, err
	}
	return m, nil
}

type DedustSwapMsg struct {
	QueryID uint64
	Amount  *big.Int
	Steps   []string // pool accounts in hop order, raw form
}

// ParseDedustSwap decodes a native-coin swap request including its chained
// swap steps.
func ParseDedustSwap(s *cell.Slice) (*DedustSwapMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &DedustSwapMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.Steps, err = ParseDedustSwapSteps(s); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseDedustSwapSteps walks the chained swap-step structure: pool address,
// direction bit, limit, then an optional ref to the next step.
func ParseDedustSwapSteps(s *cell.Slice) ([]string, error) {
	var steps []string
	for {
		pool, err := s.LoadAddr()
		if err != nil {
			return nil, err
		}
		if acc := models.AccountIdFromAddress(pool); acc != nil {
			steps = append(steps, acc.String())
		}
		if _, err := s.LoadBoolBit(); err != nil {
			return nil, err
		}
		if _, err := s.LoadBigCoins(); err != nil {
			return nil, err
		}
		hasNext, err := s.LoadBoolBit()
		if err != nil {
			return nil, err
		}
		if !hasNext {
			return steps, nil
		}
		next, err := s.LoadRef()
		if err != nil {
			return nil, err
		}
		s = next
	}
}

type DedustSwapNotificationMsg struct {
	AssetIn   models.Asset
	AssetOut  models.Asset
	AmountIn  *big.Int
	AmountOut *big.Int
}

// ParseDedustSwapNotification decodes the external-out swap event emitted by
// a pool after each executed hop.
func ParseDedustSwapNotification(s *cell.Slice) (*DedustSwapNotificationMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &DedustSwapNotificationMsg{}
	var err error
	if m.AssetIn, err = loadDedustAsset(s); err != nil {
		return nil, err
	}
	if m.AssetOut, err = loadDedustAsset(s); err != nil {
		return nil, err
	}
	if m.AmountIn, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.AmountOut, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	return m, nil
}

type DedustPayoutMsg struct {
	QueryID uint64
	Amount  *big.Int
}

func ParseDedustPayout(s *cell.Slice) (*DedustPayoutMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &DedustPayoutMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	return m, nil
}

type DedustDepositEventMsg struct {
	Amount0        *big.Int
	Amount1        *big.Int
	LpTokensMinted *big.Int
}

func ParseDedustDepositEvent(s *cell.Slice) (*DedustDepositEventMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &DedustDepositEventMsg{}
	var err error
	if m.Amount0, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.Amount1, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if m.LpTokensMinted, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	return m, nil
}

type PTonTransferMsg struct {
	QueryID   uint64
	TonAmount *big.Int
}

func ParsePTonTransfer(s *cell.Slice) (*PTonTransferMsg, error) {
	if _, err := s.LoadUInt(32); err != nil {
		return nil, err
	}
	m := &PTonTransferMsg{}
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if m.TonAmount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseComment extracts a text or encrypted comment from a message body.
// Returns nil without error when the body is not a comment.
func ParseComment(s *cell.Slice) (*string, bool) {
	sumType, err := s.LoadUInt(32)
	if err != nil {
		return nil, false
	}
	switch uint32(sumType) {
	case OpTextComment:
		text, err := s.LoadStringSnake()
		if err != nil {
			return nil, false
		}
		return &text, false
	case OpEncryptedComment:
		data, err := s.LoadBinarySnake()
		if err != nil {
			return nil, false
		}
		text := string(data)
		return &text, true
	}
	return nil, false
}

// loadDedustAsset decodes the 4-bit-tagged asset encoding: 0 = native coin,
// 1 = jetton (workchain + account hash).
func loadDedustAsset(s *cell.Slice) (models.Asset, error) {
	tag, err := s.LoadUInt(4)
	if err != nil {
		return models.Asset{}, err
	}
	if tag == 0 {
		return models.TonAsset(), nil
	}
	wc, err := s.LoadInt(8)
	if err != nil {
		return models.Asset{}, err
	}
	hash, err := s.LoadSlice(256)
	if err != nil {
		return models.Asset{}, err
	}
	addr := address.NewAddress(0, byte(wc), hash)
	acc := models.AccountIdFromAddress(addr)
	if acc == nil {
		return models.Asset{}, fmt.Errorf("malformed dedust asset")
	}
	return models.JettonAsset(*acc), nil
}

// loadEitherPayload resolves the TEP-74 "either payload or ^payload" tail.
// Returns nil when the payload is absent or malformed.
func loadEitherPayload(s *cell.Slice) *cell.Cell {
	inRef, err := s.LoadBoolBit()
	if err != nil {
		return nil
	}
	if inRef {
		ref, err := s.LoadRefCell()
		if err != nil {
			return nil
		}
		return ref
	}
	rest, err := s.ToCell()
	if err != nil {
		return nil
	}
	return rest
}
