package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/asset"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

func (l *Ledger) checkSettlement(caller common.Address, s *core.Settlement) error {
	if err := l.onlyCoordinator(caller); err != nil {
		return err
	}
	if s.Coordinator != l.wallet.Coordinator {
		return fmt.Errorf("%w: settlement targets coordinator %s", core.ErrAddressMismatch, s.Coordinator.Hex())
	}
	return nil
}

// SettleForWinner releases the winner's own lock. No funds move: the wallet
// keeps what it holds and the amount becomes withdrawable again.
func (l *Ledger) SettleForWinner(caller common.Address, s *core.Settlement) error {
	if err := l.checkSettlement(caller, s); err != nil {
		return err
	}
	rec, err := l.activeRecord(s.GameID)
	if err != nil {
		return err
	}
	if err := l.deactivate(rec); err != nil {
		return err
	}
	if err := l.save(); err != nil {
		return err
	}
	l.emit(events.EventReservationWon, map[string]any{
		"game_id": s.GameID,
		"amount":  rec.Amount.Dec(),
		"loser":   s.Loser.Hex(),
	})
	return nil
}

// SettleForLoser releases the loser's lock and pays the locked amount to the
// winner, minus the fee which goes to the record's fee recipient. A lapsed
// reservation can no longer be collected.
func (l *Ledger) SettleForLoser(caller common.Address, s *core.Settlement) error {
	if err := l.checkSettlement(caller, s); err != nil {
		return err
	}
	rec, err := l.activeRecord(s.GameID)
	if err != nil {
		return err
	}
	if rec.Expired(l.env.Now) {
		return fmt.Errorf("%w: game %d expired at %d", core.ErrReservationExpired, s.GameID, rec.Expiration)
	}
	if s.Winner != rec.Counterparty {
		return fmt.Errorf("%w: winner %s, counter-party %s", core.ErrAddressMismatch, s.Winner.Hex(), rec.Counterparty.Hex())
	}

	if _, err := l.releaseHead(); err != nil {
		return err
	}
	// Reload: reaping may have rewritten list state around the record.
	if rec, err = l.activeRecord(s.GameID); err != nil {
		return err
	}

	// Bookkeeping first, transfers last.
	if err := l.deactivate(rec); err != nil {
		return err
	}
	if err := l.save(); err != nil {
		return err
	}

	funds, err := asset.For(l.env.State, l.wallet, rec.IsToken)
	if err != nil {
		return err
	}
	payout, fee := SplitFee(rec.Amount, rec.FeeBasisPoints)
	if err := funds.Transfer(l.wallet.Address, s.Winner, payout); err != nil {
		return fmt.Errorf("pay winner: %w", err)
	}
	if !fee.IsZero() {
		if err := funds.Transfer(l.wallet.Address, rec.FeeRecipient, fee); err != nil {
			return fmt.Errorf("pay fee: %w", err)
		}
	}

	l.emit(events.EventReservationLost, map[string]any{
		"game_id":       s.GameID,
		"amount":        rec.Amount.Dec(),
		"winner":        s.Winner.Hex(),
		"payout":        payout.Dec(),
		"fee":           fee.Dec(),
		"fee_recipient": rec.FeeRecipient.Hex(),
		"is_token":      rec.IsToken,
	})
	return nil
}

// Cancel releases the lock of gameID without moving funds.
func (l *Ledger) Cancel(caller common.Address, gameID uint64) error {
	if err := l.onlyCoordinator(caller); err != nil {
		return err
	}
	rec, err := l.activeRecord(gameID)
	if err != nil {
		return err
	}
	if err := l.deactivate(rec); err != nil {
		return err
	}
	if err := l.save(); err != nil {
		return err
	}
	l.emit(events.EventReservationCancelled, map[string]any{
		"game_id": gameID,
		"amount":  rec.Amount.Dec(),
	})
	return nil
}
