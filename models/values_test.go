package models

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/xssnick/tonutils-go/address"
)

func TestAccountIdFromAddress(t *testing.T) {
	data := make([]byte, 32)
	data[0] = 0xab
	acc := AccountIdFromAddress(address.NewAddress(0, 0, data))
	if acc == nil {
		t.Fatal("nil account for valid address")
	}
	if got := acc.String(); got[:4] != "0:AB" {
		t.Fatalf("raw form = %s", got)
	}
	if AccountIdFromAddress(nil) != nil {
		t.Fatal("nil address must map to nil account")
	}
	if AccountIdFromAddress(address.NewAddressNone()) != nil {
		t.Fatal("addr_none must map to nil account")
	}
}

func TestAmountCodecs(t *testing.T) {
	// Larger than 64 bits on purpose.
	v, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	a := NewAmount(v)

	js, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(js) != `"123456789012345678901234567890"` {
		t.Fatalf("json = %s", js)
	}
	var fromJSON Amount
	if err := json.Unmarshal(js, &fromJSON); err != nil {
		t.Fatal(err)
	}
	if fromJSON.Cmp(a) != 0 {
		t.Fatalf("json round trip lost value: %s", fromJSON)
	}

	mp, err := msgpack.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var fromMsgpack Amount
	if err := msgpack.Unmarshal(mp, &fromMsgpack); err != nil {
		t.Fatal(err)
	}
	if fromMsgpack.Cmp(a) != 0 {
		t.Fatalf("msgpack round trip lost value: %s", fromMsgpack)
	}

	var zero Amount
	if zero.String() != "0" {
		t.Fatalf("zero value must print as 0, got %s", zero.String())
	}
}

func TestAssetString(t *testing.T) {
	if TonAsset().String() != "ton" {
		t.Fatal("ton asset")
	}
	master := AccountId("0:ABCD")
	if JettonAsset(master).String() != "0:ABCD" {
		t.Fatal("jetton asset")
	}
	if (Asset{}).String() != "unknown" {
		t.Fatal("unknown asset")
	}
}
