package models

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/xssnick/tonutils-go/address"
)

// AccountId is an account address in raw form ("wc:HEX", uppercase).
type AccountId string

// AccountIdFromAddress converts a tonutils address to raw form. Returns nil
// for a nil or zero-length address.
func AccountIdFromAddress(addr *address.Address) *AccountId {
	if addr == nil || len(addr.Data()) == 0 {
		return nil
	}
	acc := AccountId(fmt.Sprintf("%d:%s", addr.Workchain(), strings.ToUpper(hex.EncodeToString(addr.Data()))))
	return &acc
}

// AccountIdPtr normalizes a raw-form address string into an AccountId.
func AccountIdPtr(s string) *AccountId {
	acc := AccountId(strings.ToUpper(s))
	return &acc
}

func (a AccountId) String() string { return string(a) }

// Amount is a token amount. Jetton amounts may exceed 64 bits, so the value
// is kept as a big integer and serialized as a decimal string.
type Amount struct {
	value *big.Int
}

func NewAmount(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{value: v}
}

func AmountFromUint64(v uint64) Amount {
	return Amount{value: new(big.Int).SetUint64(v)}
}

func (a Amount) BigInt() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return a.value
}

func (a Amount) String() string { return a.BigInt().String() }

// Cmp compares two amounts like big.Int.Cmp.
func (a Amount) Cmp(b Amount) int { return a.BigInt().Cmp(b.BigInt()) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("malformed amount %q", s)
	}
	a.value = v
	return nil
}

func (a Amount) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(a.String())
}

func (a *Amount) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("malformed amount %q", s)
	}
	a.value = v
	return nil
}

var (
	_ msgpack.CustomEncoder = Amount{}
	_ msgpack.CustomDecoder = (*Amount)(nil)
)

// Asset identifies either the native coin or a jetton by its master address.
type Asset struct {
	IsTon         bool       `json:"is_ton"`
	JettonAddress *AccountId `json:"jetton_address,omitempty"`
}

func TonAsset() Asset { return Asset{IsTon: true} }

func JettonAsset(master AccountId) Asset {
	return Asset{JettonAddress: &master}
}

func (a Asset) String() string {
	if a.IsTon {
		return "ton"
	}
	if a.JettonAddress == nil {
		return "unknown"
	}
	return a.JettonAddress.String()
}
