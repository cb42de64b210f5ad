package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

func (l *Ledger) onlyCoordinatorOrOwner(caller common.Address) error {
	if caller != l.wallet.Coordinator && caller != l.wallet.Owner {
		return fmt.Errorf("%w: %s may not release reservations", core.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// ReleaseExpired removes expired records from the head of the list and
// stops at the first live one. It returns the number of records removed.
func (l *Ledger) ReleaseExpired(caller common.Address) (int, error) {
	if err := l.onlyCoordinatorOrOwner(caller); err != nil {
		return 0, err
	}
	return l.releaseHead()
}

// ReleaseExpiredFullTraverse removes every expired record wherever it sits
// in the list, relinking around each removed record. Records stranded behind
// a longer-lived one after a TTL decrease are only reachable this way.
func (l *Ledger) ReleaseExpiredFullTraverse(caller common.Address) (int, error) {
	if err := l.onlyCoordinatorOrOwner(caller); err != nil {
		return 0, err
	}
	w := l.wallet
	var prev *core.Reservation
	removed := 0
	for cur := w.Head; cur != 0; {
		rec, err := l.record(cur)
		if err != nil {
			return removed, fmt.Errorf("load reservation %d: %w", cur, err)
		}
		next := rec.Next
		if !rec.Expired(l.env.Now) {
			prev = rec
			cur = next
			continue
		}
		if err := l.reap(rec); err != nil {
			return removed, err
		}
		if prev == nil {
			w.Head = next
		} else {
			prev.Next = next
			if err := l.env.State.SetReservation(prev); err != nil {
				return removed, err
			}
		}
		if w.Tail == cur {
			if prev == nil {
				w.Tail = 0
			} else {
				w.Tail = prev.GameID
			}
		}
		removed++
		cur = next
	}
	if removed > 0 {
		if err := l.save(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// releaseHead is the head-pruning reap run before every balance-sensitive
// operation.
func (l *Ledger) releaseHead() (int, error) {
	w := l.wallet
	removed := 0
	for w.Head != 0 {
		rec, err := l.record(w.Head)
		if err != nil {
			return removed, fmt.Errorf("load reservation %d: %w", w.Head, err)
		}
		if !rec.Expired(l.env.Now) {
			break
		}
		if err := l.reap(rec); err != nil {
			return removed, err
		}
		w.Head = rec.Next
		removed++
	}
	if w.Head == 0 {
		w.Tail = 0
	}
	if removed > 0 {
		if err := l.save(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// reap physically removes rec, releasing its lock if it is still active.
func (l *Ledger) reap(rec *core.Reservation) error {
	wasActive := rec.Active
	if wasActive {
		if err := l.unlock(rec.IsToken, rec.Amount); err != nil {
			return err
		}
	}
	if err := l.env.State.DeleteReservation(rec.Wallet, rec.GameID); err != nil {
		return err
	}
	l.emit(events.EventReservationReleased, map[string]any{
		"game_id":    rec.GameID,
		"amount":     rec.Amount.Dec(),
		"is_token":   rec.IsToken,
		"was_active": wasActive,
	})
	return nil
}
