package liquidation

import (
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"MarginMirror/internal/state"
)

// LiquidationState tracks an account through one liquidation episode.
type LiquidationState int32

const (
	LiquidationStateHealthy LiquidationState = iota
	LiquidationStateLiquidatable
	LiquidationStateInLiquidation
	LiquidationStateBankrupt
	LiquidationStateClosed
)

func (ls LiquidationState) String() string {
	switch ls {
	case LiquidationStateHealthy:
		return "Healthy"
	case LiquidationStateLiquidatable:
		return "Liquidatable"
	case LiquidationStateInLiquidation:
		return "InLiquidation"
	case LiquidationStateBankrupt:
		return "Bankrupt"
	case LiquidationStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

func (ls LiquidationState) MarshalText() ([]byte, error) {
	return []byte(ls.String()), nil
}

var validTransitions = map[LiquidationState][]LiquidationState{
	LiquidationStateHealthy: {
		LiquidationStateLiquidatable,
	},
	LiquidationStateLiquidatable: {
		LiquidationStateHealthy,
		LiquidationStateInLiquidation,
	},
	LiquidationStateInLiquidation: {
		LiquidationStateHealthy,
		LiquidationStateBankrupt,
		LiquidationStateClosed,
	},
	LiquidationStateBankrupt: {
		LiquidationStateHealthy, // insurance covered the shortfall
		LiquidationStateClosed,
	},
}

// CanTransitionTo validates a single step.
func (ls LiquidationState) CanTransitionTo(next LiquidationState) bool {
	for _, allowed := range validTransitions[ls] {
		if next == allowed {
			return true
		}
	}
	return false
}

// pathTo returns the shortest chain of valid steps from ls to target, not
// including ls. Scans see snapshots seconds apart, so an account may skip
// states between two observations.
func (ls LiquidationState) pathTo(target LiquidationState) ([]LiquidationState, bool) {
	if ls == target {
		return nil, true
	}
	prev := map[LiquidationState]LiquidationState{ls: ls}
	queue := []LiquidationState{ls}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range validTransitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == target {
				var path []LiquidationState
				for s := target; s != ls; s = prev[s] {
					path = append([]LiquidationState{s}, path...)
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

// Transition is one recorded state change.
type Transition struct {
	LiquidationID uuid.UUID        `json:"liquidation_id"`
	Account       solana.PublicKey `json:"account"`
	From          LiquidationState `json:"from"`
	To            LiquidationState `json:"to"`
	At            time.Time        `json:"at"`
}

// ActiveLiquidation is the tracker's record of an account off the healthy path.
type ActiveLiquidation struct {
	LiquidationID uuid.UUID
	Account       solana.PublicKey
	State         LiquidationState
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// TransitionError reports an observation no chain of valid steps can reach.
type TransitionError struct {
	Account  solana.PublicKey
	From, To LiquidationState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("account %s: invalid liquidation transition %s -> %s", e.Account, e.From, e.To)
}

// Tracker follows liquidation episodes across scans. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.Mutex
	active map[solana.PublicKey]*ActiveLiquidation
	newID  func() uuid.UUID
}

func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[solana.PublicKey]*ActiveLiquidation),
		newID:  uuid.New,
	}
}

// observedState maps the account's flags and the engine's verdict onto a state.
func observedState(a *state.Account, liquidatable bool, prior LiquidationState) LiquidationState {
	switch {
	case a.IsEmpty() && (prior == LiquidationStateInLiquidation || prior == LiquidationStateBankrupt):
		return LiquidationStateClosed
	case a.IsBankrupt:
		return LiquidationStateBankrupt
	case a.BeingLiquidated:
		return LiquidationStateInLiquidation
	case liquidatable:
		return LiquidationStateLiquidatable
	default:
		return LiquidationStateHealthy
	}
}

// Observe records the account's latest state and returns the steps taken to
// reach it. A new liquidation ID is issued when an account leaves Healthy;
// the record is dropped once the account is Healthy or Closed again.
func (t *Tracker) Observe(a *state.Account, liquidatable bool, now time.Time) ([]Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.active[a.Address]
	prior := LiquidationStateHealthy
	if ok {
		prior = rec.State
	}
	target := observedState(a, liquidatable, prior)
	path, reachable := prior.pathTo(target)
	if !reachable {
		return nil, &TransitionError{Account: a.Address, From: prior, To: target}
	}
	if len(path) == 0 {
		return nil, nil
	}
	if !ok {
		rec = &ActiveLiquidation{Account: a.Address, State: prior}
	}

	transitions := make([]Transition, 0, len(path))
	for _, next := range path {
		if rec.State == LiquidationStateHealthy {
			rec.LiquidationID = t.newID()
			rec.StartedAt = now
		}
		transitions = append(transitions, Transition{
			LiquidationID: rec.LiquidationID,
			Account:       a.Address,
			From:          rec.State,
			To:            next,
			At:            now,
		})
		rec.State = next
		rec.UpdatedAt = now
	}

	if rec.State == LiquidationStateHealthy || rec.State == LiquidationStateClosed {
		delete(t.active, a.Address)
	} else {
		t.active[a.Address] = rec
	}
	return transitions, nil
}

// Get returns a copy of the account's active record.
func (t *Tracker) Get(addr solana.PublicKey) (ActiveLiquidation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.active[addr]
	if !ok {
		return ActiveLiquidation{}, false
	}
	return *rec, true
}

// Active returns copies of every active record.
func (t *Tracker) Active() []ActiveLiquidation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveLiquidation, 0, len(t.active))
	for _, rec := range t.active {
		out = append(out, *rec)
	}
	return out
}

// Restore seeds the tracker with records loaded from storage. Records in a
// terminal state are ignored; existing entries for the same account are
// replaced.
func (t *Tracker) Restore(records []ActiveLiquidation) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range records {
		if r.State == LiquidationStateHealthy || r.State == LiquidationStateClosed {
			continue
		}
		rec := r
		t.active[r.Account] = &rec
		n++
	}
	return n
}
