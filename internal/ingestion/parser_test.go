package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/ingestion"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

func encodedAccount(t *testing.T) (solana.PublicKey, []byte) {
	t.Helper()
	_, a := testutil.SingleDeposit()
	b, err := a.Encode()
	require.NoError(t, err)
	return a.Address, b
}

func rawUpdate(t *testing.T, addr solana.PublicKey, slot uint64, data []byte) ingestion.RawUpdate {
	t.Helper()
	b, err := ingestion.EncodeAccountUpdate(chain.Update{Address: addr, Slot: slot, Data: data})
	require.NoError(t, err)
	return ingestion.RawUpdate{
		Subject:   ingestion.AccountSubject(addr),
		Data:      b,
		Timestamp: time.Now(),
	}
}

// =============================================================================
// Parsing
// =============================================================================

func TestParseAccountUpdate(t *testing.T) {
	addr, data := encodedAccount(t)

	u, err := ingestion.ParseAccountUpdate(rawUpdate(t, addr, 77, data))
	require.NoError(t, err)
	assert.Equal(t, addr, u.Address)
	assert.Equal(t, uint64(77), u.Slot)
	assert.Equal(t, data, u.Data)

	acct, ok := u.Entity.(*state.Account)
	require.True(t, ok, "expected *state.Account, got %T", u.Entity)
	assert.Equal(t, addr, acct.Address)
}

func TestParseAccountUpdate_SubjectMismatch(t *testing.T) {
	addr, data := encodedAccount(t)
	raw := rawUpdate(t, addr, 1, data)
	raw.Subject = ingestion.AccountSubject(testutil.Key(9))

	_, err := ingestion.ParseAccountUpdate(raw)
	assert.Error(t, err)
}

func TestParseAccountUpdate_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":    `{`,
		"bad address": `{"address":"0OIl","slot":1,"data":""}`,
		"bad base64":  `{"address":"11111111111111111111111111111111","slot":1,"data":"%%%"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			u, err := ingestion.ParseAccountUpdate(ingestion.RawUpdate{Subject: "mirror.accounts.x", Data: []byte(body)})
			assert.Error(t, err)
			assert.Nil(t, u)
		})
	}
}

func TestParseAccountUpdate_UndecodableBytes(t *testing.T) {
	addr := testutil.Key(8)
	u, err := ingestion.ParseAccountUpdate(rawUpdate(t, addr, 3, []byte{0xEE, 1, 2}))
	require.Error(t, err)
	require.NotNil(t, u)
	assert.Equal(t, addr, u.Address)
	assert.Nil(t, u.Entity)
}

// =============================================================================
// Overlay
// =============================================================================

func TestOverlay_ServesNewestSlot(t *testing.T) {
	addr, data := encodedAccount(t)
	next := testutil.NewMemFetcher()
	next.PutRaw(addr, []byte("rpc"))
	o := ingestion.NewOverlay(next, 0, zerolog.Nop(), nil)

	assert.True(t, o.Apply(&ingestion.AccountUpdate{Address: addr, Slot: 10, Data: data}))
	assert.False(t, o.Apply(&ingestion.AccountUpdate{Address: addr, Slot: 9, Data: []byte("old")}))
	assert.False(t, o.Apply(&ingestion.AccountUpdate{Address: addr, Slot: 10, Data: []byte("same")}))

	got, err := o.AccountData(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 0, next.Calls)
}

func TestOverlay_MultipleFallsThroughForMisses(t *testing.T) {
	a, b, c := testutil.Key(20), testutil.Key(21), testutil.Key(22)
	next := testutil.NewMemFetcher()
	next.PutRaw(b, []byte("b-rpc"))
	o := ingestion.NewOverlay(next, 0, zerolog.Nop(), nil)
	o.Apply(&ingestion.AccountUpdate{Address: a, Slot: 1, Data: []byte("a-ws")})
	o.Apply(&ingestion.AccountUpdate{Address: c, Slot: 1, Data: []byte("c-ws")})

	got, err := o.MultipleAccountData(context.Background(), []solana.PublicKey{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a-ws"), []byte("b-rpc"), []byte("c-ws")}, got)
	assert.Equal(t, 1, next.Calls)
}

func TestOverlay_ExpiredEntryFallsThrough(t *testing.T) {
	addr := testutil.Key(23)
	next := testutil.NewMemFetcher()
	next.PutRaw(addr, []byte("rpc"))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := ingestion.NewOverlay(next, time.Minute, zerolog.Nop(), nil).WithClock(func() time.Time { return now })
	o.Apply(&ingestion.AccountUpdate{Address: addr, Slot: 1, Data: []byte("ws")})

	got, _ := o.AccountData(context.Background(), addr)
	assert.Equal(t, []byte("ws"), got)

	now = now.Add(2 * time.Minute)
	got, _ = o.AccountData(context.Background(), addr)
	assert.Equal(t, []byte("rpc"), got)
}

func TestOverlay_RunAcksEverything(t *testing.T) {
	addr, data := encodedAccount(t)
	o := ingestion.NewOverlay(testutil.NewMemFetcher(), 0, zerolog.Nop(), nil)

	in := make(chan ingestion.RawUpdate, 3)
	acks := 0
	good := rawUpdate(t, addr, 5, data)
	good.AckFunc = func() { acks++ }
	bad := ingestion.RawUpdate{Subject: "mirror.accounts.x", Data: []byte("{"), AckFunc: func() { acks++ }}
	undecodable := rawUpdate(t, testutil.Key(30), 5, []byte{0xEE})
	undecodable.AckFunc = func() { acks++ }
	in <- good
	in <- bad
	in <- undecodable
	close(in)

	require.NoError(t, o.Run(context.Background(), in))
	assert.Equal(t, 3, acks)
	assert.Equal(t, 1, o.Len())
}

// =============================================================================
// Relay
// =============================================================================

type capturePublisher struct {
	subjects []string
	bodies   [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	return &jetstream.PubAck{Stream: ingestion.AccountsStream}, nil
}

func TestRelay_ForwardsInWireForm(t *testing.T) {
	addr, data := encodedAccount(t)
	pub := &capturePublisher{}
	r := ingestion.NewRelay(pub, zerolog.Nop())

	in := make(chan chain.Update, 1)
	in <- chain.Update{Address: addr, Slot: 12, Data: data}
	close(in)
	require.NoError(t, r.Run(context.Background(), in))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "mirror.accounts."+addr.String(), pub.subjects[0])

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.bodies[0], &wire))
	assert.Equal(t, addr.String(), wire["address"])
	assert.Equal(t, float64(12), wire["slot"])

	u, err := ingestion.ParseAccountUpdate(ingestion.RawUpdate{Subject: pub.subjects[0], Data: pub.bodies[0]})
	require.NoError(t, err)
	assert.Equal(t, data, u.Data)
}
