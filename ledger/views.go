package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/core"
)

// TotalReserved returns the raw running totals. They may still include
// records that have expired but have not been reaped.
func (l *Ledger) TotalReserved() (native, token *uint256.Int) {
	return new(uint256.Int).Set(l.wallet.Locked0), new(uint256.Int).Set(l.wallet.Locked1)
}

// CalculateTotalReserved returns the totals minus every active record in the
// expired prefix of the list, the same records a head-pruning reap would drop.
func (l *Ledger) CalculateTotalReserved() (native, token *uint256.Int, err error) {
	native, token = l.TotalReserved()
	for cur := l.wallet.Head; cur != 0; {
		rec, err := l.record(cur)
		if err != nil {
			return nil, nil, fmt.Errorf("load reservation %d: %w", cur, err)
		}
		if !rec.Expired(l.env.Now) {
			break
		}
		if rec.Active {
			total := native
			if rec.IsToken {
				total = token
			}
			if total.Lt(rec.Amount) {
				return nil, nil, fmt.Errorf("%w: game %d", core.ErrInsufficientReserved, rec.GameID)
			}
			total.Sub(total, rec.Amount)
		}
		cur = rec.Next
	}
	return native, token, nil
}

// ReservationDetails returns the record of gameID. Inactive and expired
// records are reported as not found, exactly like unknown ids.
func (l *Ledger) ReservationDetails(gameID uint64) (*core.Reservation, bool, error) {
	rec, err := l.record(gameID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !rec.Active || rec.Expired(l.env.Now) {
		return nil, false, nil
	}
	return rec, true, nil
}

// AllGames lists the game ids still in the list after skipping the expired
// prefix, in insertion order.
func (l *Ledger) AllGames() ([]uint64, error) {
	ids := []uint64{}
	live := false
	for cur := l.wallet.Head; cur != 0; {
		rec, err := l.record(cur)
		if err != nil {
			return nil, fmt.Errorf("load reservation %d: %w", cur, err)
		}
		if live || !rec.Expired(l.env.Now) {
			live = true
			ids = append(ids, rec.GameID)
		}
		cur = rec.Next
	}
	return ids, nil
}

// CurrentNonce is the nonce the next reservation or upgrade must carry.
func (l *Ledger) CurrentNonce() uint64 { return l.wallet.Nonce }

// ApprovalRequired reports whether reservations need an owner signature.
func (l *Ledger) ApprovalRequired() bool { return l.wallet.ApprovalRequired }
