package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Authorization.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrBadSignature     = errors.New("bad owner signature")
	ErrUnauthorized     = errors.New("unauthorized caller")
)

// Replay and ordering.
var ErrInvalidNonce = errors.New("invalid nonce")

// Resources.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientReserved = errors.New("insufficient reserved balance")
)

// Identity.
var (
	ErrInvalidWallet   = errors.New("invalid wallet")
	ErrZeroAddress     = errors.New("zero address")
	ErrAddressMismatch = errors.New("address mismatch")
	ErrInvalidFactory  = errors.New("invalid factory")
)

// Lifecycle.
var (
	ErrGameExists         = errors.New("game already exists")
	ErrGameNotFound       = errors.New("game not found")
	ErrReservationExpired = errors.New("reservation expired")
	ErrAlreadyInitialized = errors.New("already initialized")
)

// Input validation.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidFeeBasisPoints = errors.New("invalid fee basis points")
	ErrInvalidGameID         = errors.New("invalid game id")
	ErrExpiredInPast         = errors.New("expiration in the past")
	ErrTokenDisabled         = errors.New("token not enabled")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrBadSignature, "BadSignature"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidNonce, "InvalidNonce"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInsufficientReserved, "InsufficientReserved"},
	{ErrInvalidWallet, "InvalidWallet"},
	{ErrZeroAddress, "ZeroAddress"},
	{ErrAddressMismatch, "AddressMismatch"},
	{ErrInvalidFactory, "InvalidFactory"},
	{ErrGameExists, "GameExists"},
	{ErrGameNotFound, "GameNotFound"},
	{ErrReservationExpired, "ReservationExpired"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidFeeBasisPoints, "InvalidFeeBasisPoints"},
	{ErrInvalidGameID, "InvalidGameId"},
	{ErrExpiredInPast, "ExpiredInPast"},
	{ErrTokenDisabled, "TokenDisabled"},
	{ErrNotFound, "NotFound"},
}

// ErrorKind returns the categorical name of err, or "Internal" when err does
// not wrap any of the package's sentinel errors.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
