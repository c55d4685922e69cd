package event

import (
	"encoding/json"
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// VopType discriminator for virtual operations
type VopType int32

const (
	VopTypeUnknown VopType = iota
	VopTypeFillOrder
	VopTypeLimitOrderCancelled
	VopTypeOrderTolled
	VopTypeSettleCancelled
	VopTypeGlobalSettled
)

func (vt VopType) String() string {
	switch vt {
	case VopTypeFillOrder:
		return "FillOrder"
	case VopTypeLimitOrderCancelled:
		return "LimitOrderCancelled"
	case VopTypeOrderTolled:
		return "OrderTolled"
	case VopTypeSettleCancelled:
		return "SettleCancelled"
	case VopTypeGlobalSettled:
		return "GlobalSettled"
	default:
		return "Unknown"
	}
}

// VirtualOp is a side effect emitted while applying an operation.
type VirtualOp interface {
	VopType() VopType
}

// OrderKind tells which object a fill was applied to.
type OrderKind uint8

const (
	OrderKindLimit OrderKind = iota + 1
	OrderKindCall
	OrderKindSettle
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindLimit:
		return "limit"
	case OrderKindCall:
		return "call"
	case OrderKindSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// FillOrder records one side of a trade. The exchange fee fields are set
// only for limit orders that name a fee receiver; ExchangeFee is taken from
// what the account received after the market fee.
type FillOrder struct {
	Kind                OrderKind         `json:"kind"`
	OrderID             uint64            `json:"order_id"`
	Account             ledger.AccountID  `json:"account"`
	Pays                asset.Amount      `json:"pays"`
	Receives            asset.Amount      `json:"receives"`
	Fee                 asset.Amount      `json:"fee"`
	FillPrice           asset.Price       `json:"fill_price"`
	ExchangeFeeReceiver *ledger.AccountID `json:"exchange_fee_receiver,omitempty"`
	ExchangeFeeRate     uint32            `json:"exchange_fee_rate,omitempty"`
	ExchangeFee         asset.Amount      `json:"exchange_fee"`
}

func (*FillOrder) VopType() VopType { return VopTypeFillOrder }

type LimitOrderCancelled struct {
	OrderID  uint64           `json:"order_id"`
	Seller   ledger.AccountID `json:"seller"`
	Refunded asset.Amount     `json:"refunded"`
	Toll     asset.Amount     `json:"toll"`
}

func (*LimitOrderCancelled) VopType() VopType { return VopTypeLimitOrderCancelled }

type OrderTolled struct {
	OrderID uint64           `json:"order_id"`
	Seller  ledger.AccountID `json:"seller"`
	Toll    asset.Amount     `json:"toll"`
}

func (*OrderTolled) VopType() VopType { return VopTypeOrderTolled }

type SettleCancelled struct {
	SettleID uint64           `json:"settle_id"`
	Owner    ledger.AccountID `json:"owner"`
	Refunded asset.Amount     `json:"refunded"`
}

func (*SettleCancelled) VopType() VopType { return VopTypeSettleCancelled }

type GlobalSettled struct {
	AssetID         asset.ID    `json:"asset_id"`
	SettlementPrice asset.Price `json:"settlement_price"`
	Fund            int64       `json:"fund"`
}

func (*GlobalSettled) VopType() VopType { return VopTypeGlobalSettled }

type taggedVop struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalVops encodes virtual ops as a tagged JSON array.
func MarshalVops(ops []VirtualOp) ([]byte, error) {
	tagged := make([]taggedVop, 0, len(ops))
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", op.VopType(), err)
		}
		tagged = append(tagged, taggedVop{Type: op.VopType().String(), Data: data})
	}
	return json.Marshal(tagged)
}

// UnmarshalVops is the inverse of MarshalVops.
func UnmarshalVops(data []byte) ([]VirtualOp, error) {
	var tagged []taggedVop
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("unmarshal vops: %w", err)
	}
	ops := make([]VirtualOp, 0, len(tagged))
	for _, t := range tagged {
		var op VirtualOp
		switch t.Type {
		case "FillOrder":
			op = &FillOrder{}
		case "LimitOrderCancelled":
			op = &LimitOrderCancelled{}
		case "OrderTolled":
			op = &OrderTolled{}
		case "SettleCancelled":
			op = &SettleCancelled{}
		case "GlobalSettled":
			op = &GlobalSettled{}
		default:
			return nil, fmt.Errorf("unknown virtual op type: %s", t.Type)
		}
		if err := json.Unmarshal(t.Data, op); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", t.Type, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
