package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty operation of type et.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeAssetCreate:
		return &AssetCreate{}, nil
	case EventTypeDeposit:
		return &Deposit{}, nil
	case EventTypeLimitOrderCreate:
		return &LimitOrderCreate{}, nil
	case EventTypeLimitOrderCancel:
		return &LimitOrderCancel{}, nil
	case EventTypeCallOrderUpdate:
		return &CallOrderUpdate{}, nil
	case EventTypePriceFeedPublish:
		return &PriceFeedPublish{}, nil
	case EventTypeAssetSettle:
		return &AssetSettle{}, nil
	case EventTypeAssetGlobalSettle:
		return &AssetGlobalSettle{}, nil
	case EventTypeDeflationStart:
		return &DeflationStart{}, nil
	case EventTypeMaintenance:
		return &Maintenance{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Decode rebuilds an operation from its logged payload.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
