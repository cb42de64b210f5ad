package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount      = registerPrefix("acct:")
	prefixWallet       = registerPrefix("wallet:")
	prefixReservation  = registerPrefix("resv:")
	prefixToken        = registerPrefix("token:")
	prefixTokenBalance = registerPrefix("tbal:")
	prefixRelay        = registerPrefix("relay:")
)

var keyRelayConfig = prefixRelay + "config"

func addrKey(prefix string, a common.Address) string {
	return prefix + strings.ToLower(a.Hex())
}

func reservationKey(wallet common.Address, gameID uint64) string {
	return fmt.Sprintf("%s%s:%020d", prefixReservation, strings.ToLower(wallet.Hex()), gameID)
}

func tokenBalanceKey(token, holder common.Address) string {
	return prefixTokenBalance + strings.ToLower(token.Hex()) + ":" + strings.ToLower(holder.Hex())
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(addr common.Address) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(addrKey(prefixAccount, addr), &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: addr, Balance: new(uint256.Int)}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(addrKey(prefixAccount, acc.Address), acc)
}

// ---- Wallet ----

func (s *StateDB) GetWallet(addr common.Address) (*core.Wallet, error) {
	var w core.Wallet
	if err := s.getJSON(addrKey(prefixWallet, addr), &w); err != nil {
		return nil, err
	}
	return w.Normalize(), nil
}

func (s *StateDB) SetWallet(w *core.Wallet) error {
	return s.setJSON(addrKey(prefixWallet, w.Address), w)
}

// ---- Reservation ----

func (s *StateDB) GetReservation(wallet common.Address, gameID uint64) (*core.Reservation, error) {
	var r core.Reservation
	if err := s.getJSON(reservationKey(wallet, gameID), &r); err != nil {
		return nil, err
	}
	if r.Amount == nil {
		r.Amount = new(uint256.Int)
	}
	return &r, nil
}

func (s *StateDB) SetReservation(r *core.Reservation) error {
	return s.setJSON(reservationKey(r.Wallet, r.GameID), r)
}

func (s *StateDB) DeleteReservation(wallet common.Address, gameID uint64) error {
	s.del(reservationKey(wallet, gameID))
	return nil
}

// ---- Token ----

func (s *StateDB) GetToken(addr common.Address) (*core.Token, error) {
	var t core.Token
	if err := s.getJSON(addrKey(prefixToken, addr), &t); err != nil {
		return nil, err
	}
	if t.Supply == nil {
		t.Supply = new(uint256.Int)
	}
	return &t, nil
}

func (s *StateDB) SetToken(t *core.Token) error {
	return s.setJSON(addrKey(prefixToken, t.Address), t)
}

func (s *StateDB) GetTokenBalance(token, holder common.Address) (*uint256.Int, error) {
	bal := new(uint256.Int)
	err := s.getJSON(tokenBalanceKey(token, holder), bal)
	if errors.Is(err, core.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func (s *StateDB) SetTokenBalance(token, holder common.Address, amount *uint256.Int) error {
	return s.setJSON(tokenBalanceKey(token, holder), amount)
}

// ---- Relay ----

func (s *StateDB) GetRelayConfig() (*core.RelayConfig, error) {
	var cfg core.RelayConfig
	if err := s.getJSON(keyRelayConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *StateDB) SetRelayConfig(cfg *core.RelayConfig) error {
	return s.setJSON(keyRelayConfig, cfg)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it along with every later one.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete state: every
// persisted entry under a known prefix merged with the write buffer, sorted
// by key and length-prefix encoded. It does not flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB and then
// clears it. Call ComputeRoot() before signing the batch, then Commit() after
// the batch is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

// Discard drops every uncommitted write.
func (s *StateDB) Discard() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
}
