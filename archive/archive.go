// Package archive keeps an append-only SQL audit trail of reservation
// lifecycle events for off-engine queries. The engine state remains the
// source of truth; the archive is fed from committed events only.
package archive

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tolelom/tolescrow/events"
)

// Status values recorded for a reservation event.
const (
	StatusCreated   = "created"
	StatusWon       = "won"
	StatusLost      = "lost"
	StatusCancelled = "cancelled"
	StatusReleased  = "released"
)

var statusByEvent = map[events.EventType]string{
	events.EventReservationCreated:   StatusCreated,
	events.EventReservationWon:       StatusWon,
	events.EventReservationLost:      StatusLost,
	events.EventReservationCancelled: StatusCancelled,
	events.EventReservationReleased:  StatusReleased,
}

// Record is one lifecycle row.
type Record struct {
	ID           string `gorm:"primaryKey;size:36"`
	Wallet       string `gorm:"size:42;index:idx_wallet_game"`
	GameID       uint64 `gorm:"index:idx_wallet_game"`
	Status       string `gorm:"size:16;index"`
	Amount       string
	IsToken      bool
	Counterparty string `gorm:"size:42"`
	Winner       string `gorm:"size:42"`
	Payout       string
	Fee          string
	InstrID      string `gorm:"size:64"`
	Height       int64  `gorm:"index"`
	CreatedAt    time.Time
}

// Archive writes lifecycle rows to a SQL database.
type Archive struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (or creates) the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Archive, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db, log: slog.Default().With("component", "archive")}, nil
}

// Attach subscribes the archive to every reservation event.
func (a *Archive) Attach(emitter *events.Emitter) {
	for typ := range statusByEvent {
		emitter.Subscribe(typ, a.onEvent)
	}
}

func (a *Archive) onEvent(ev events.Event) {
	if err := a.Record(ev); err != nil {
		a.log.Error("archive event", "type", string(ev.Type), "instr", ev.TxID, "err", err)
	}
}

// Record stores ev if it is a reservation event.
func (a *Archive) Record(ev events.Event) error {
	status, ok := statusByEvent[ev.Type]
	if !ok {
		return nil
	}
	str := func(k string) string {
		v, _ := ev.Data[k].(string)
		return v
	}
	gameID, _ := ev.Data["game_id"].(uint64)
	isToken, _ := ev.Data["is_token"].(bool)
	rec := &Record{
		ID:           uuid.NewString(),
		Wallet:       strings.ToLower(str("wallet")),
		GameID:       gameID,
		Status:       status,
		Amount:       str("amount"),
		IsToken:      isToken,
		Counterparty: strings.ToLower(str("counterparty")),
		Winner:       strings.ToLower(str("winner")),
		Payout:       str("payout"),
		Fee:          str("fee"),
		InstrID:      ev.TxID,
		Height:       ev.Height,
	}
	return a.db.Create(rec).Error
}

// History returns every row of gameID in wallet, oldest first.
func (a *Archive) History(wallet string, gameID uint64) ([]Record, error) {
	var out []Record
	err := a.db.Where("wallet = ? AND game_id = ?", strings.ToLower(wallet), gameID).
		Order("height asc, created_at asc").
		Find(&out).Error
	return out, err
}

// ByStatus returns up to limit rows with status, newest first.
func (a *Archive) ByStatus(status string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Record
	err := a.db.Where("status = ?", status).
		Order("height desc, created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
