package state

import (
	"fmt"

	"MarginMirror/internal/layout"

	"github.com/gagliardetto/solana-go"
)

// DecodeAny decodes any account owned by the venue program, or a spot venue
// open-orders account, by inspecting its first bytes.
func DecodeAny(addr solana.PublicKey, data []byte) (Entity, error) {
	if IsSpotOpenOrders(data) {
		return entity(DecodeOpenOrders(addr, data))
	}
	if len(data) == 0 {
		return nil, &layout.DecodeError{Entity: "account", Address: addr, Err: layout.ErrShortBuffer}
	}
	switch DataType(data[0]) {
	case DataTypeGroup:
		return entity(DecodeGroup(addr, data))
	case DataTypeAccount:
		return entity(DecodeAccount(addr, data))
	case DataTypeRootBank:
		return entity(DecodeRootBank(addr, data))
	case DataTypeNodeBank:
		return entity(DecodeNodeBank(addr, data))
	case DataTypePerpMarket:
		return entity(DecodePerpMarket(addr, data))
	case DataTypeBids, DataTypeAsks:
		return entity(DecodeBookSide(addr, data))
	case DataTypeCache:
		return entity(DecodeCache(addr, data))
	case DataTypeEventQueue:
		return entity(DecodeEventQueue(addr, data))
	case DataTypeAdvancedOrders:
		return entity(DecodeTriggerOrders(addr, data))
	default:
		return nil, &layout.DecodeError{
			Entity:  "account",
			Address: addr,
			Length:  len(data),
			Err:     fmt.Errorf("%w: data type %d", layout.ErrUnknownDiscriminant, data[0]),
		}
	}
}

// entity keeps a failed decode from returning a non-nil interface around a nil
// pointer.
func entity[T Entity](v T, err error) (Entity, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
