// Package state holds typed views over the venue program's account blobs. Every
// entity decodes from, and encodes back to, its exact on-chain byte span.
package state

import (
	"fmt"
	"slices"

	"MarginMirror/internal/layout"
)

const (
	MaxTokens          = 16
	MaxPairs           = 15
	QuoteIndex         = MaxTokens - 1
	MaxNodeBanks       = 8
	MaxPerpOpenOrders  = 64
	MaxAdvancedOrders  = 32
	MaxBookNodes       = 1024
	FreeOrderSlot      = 255
	metaDataSpan       = 8
)

// DataType is the first byte of every program-owned account.
type DataType uint8

const (
	DataTypeGroup DataType = iota
	DataTypeAccount
	DataTypeRootBank
	DataTypeNodeBank
	DataTypePerpMarket
	DataTypeBids
	DataTypeAsks
	DataTypeCache
	DataTypeEventQueue
	DataTypeAdvancedOrders
)

func (d DataType) Valid() bool { return d <= DataTypeAdvancedOrders }

func (d DataType) String() string {
	switch d {
	case DataTypeGroup:
		return "Group"
	case DataTypeAccount:
		return "Account"
	case DataTypeRootBank:
		return "RootBank"
	case DataTypeNodeBank:
		return "NodeBank"
	case DataTypePerpMarket:
		return "PerpMarket"
	case DataTypeBids:
		return "Bids"
	case DataTypeAsks:
		return "Asks"
	case DataTypeCache:
		return "Cache"
	case DataTypeEventQueue:
		return "EventQueue"
	case DataTypeAdvancedOrders:
		return "AdvancedOrders"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(d))
	}
}

// MetaData is the 8-byte header shared by program-owned accounts.
type MetaData struct {
	DataType      DataType
	Version       uint8
	IsInitialized bool
	Extra         [5]byte
}

// readMeta reads the header and, for initialized accounts, checks the data type
// against the accepted ones.
func readMeta(r *layout.Reader, accept ...DataType) MetaData {
	var m MetaData
	m.DataType = layout.Enum[DataType](r, "DataType")
	m.Version = r.U8()
	m.IsInitialized = r.Bool()
	copy(m.Extra[:], r.Bytes(5))
	if r.Err() == nil && m.IsInitialized && !slices.Contains(accept, m.DataType) {
		r.Fail(fmt.Errorf("%w: data type %s, want %v", ErrWrongDataType, m.DataType, accept))
	}
	return m
}

func writeMeta(w *layout.Writer, m MetaData) {
	w.U8(uint8(m.DataType))
	w.U8(m.Version)
	w.Bool(m.IsInitialized)
	w.Raw(m.Extra[:])
}

// NewMeta returns an initialized header of the given type.
func NewMeta(t DataType) MetaData {
	return MetaData{DataType: t, IsInitialized: true}
}
