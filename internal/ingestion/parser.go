package ingestion

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/state"
)

// accountUpdateJSON is the wire form on mirror.accounts.<address>.
type accountUpdateJSON struct {
	Address string `json:"address"`
	Slot    uint64 `json:"slot"`
	Data    string `json:"data"` // base64
}

// AccountUpdate is a parsed and decoded account update.
type AccountUpdate struct {
	Address solana.PublicKey
	Slot    uint64
	Data    []byte
	Entity  state.Entity
}

// AccountSubject is the subject an update for addr is published on.
func AccountSubject(addr solana.PublicKey) string {
	return accountsPrefix + addr.String()
}

// EncodeAccountUpdate renders a chain notification in wire form.
func EncodeAccountUpdate(u chain.Update) ([]byte, error) {
	return json.Marshal(accountUpdateJSON{
		Address: u.Address.String(),
		Slot:    u.Slot,
		Data:    base64.StdEncoding.EncodeToString(u.Data),
	})
}

// ParseAccountUpdate validates raw and decodes its bytes with state.DecodeAny.
// A decode failure is returned with the parsed update so the caller can still
// account for the address.
func ParseAccountUpdate(raw RawUpdate) (*AccountUpdate, error) {
	var j accountUpdateJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse account update: %w", err)
	}

	addr, err := solana.PublicKeyFromBase58(j.Address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if suffix, ok := strings.CutPrefix(raw.Subject, accountsPrefix); ok && suffix != j.Address {
		return nil, fmt.Errorf("subject %s does not match address %s", raw.Subject, j.Address)
	}

	data, err := base64.StdEncoding.DecodeString(j.Data)
	if err != nil {
		return nil, fmt.Errorf("parse data for %s: %w", addr, err)
	}

	u := &AccountUpdate{Address: addr, Slot: j.Slot, Data: data}
	e, err := state.DecodeAny(addr, data)
	if err != nil {
		return u, err
	}
	u.Entity = e
	return u, nil
}
