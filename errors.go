package edgeguard

import "errors"

var (
	// ErrKeyNotFound is returned when retrieving a secret id that was never
	// stored or has been deleted. Callers should treat it as a configuration
	// error, not a transient condition.
	ErrKeyNotFound = errors.New("edgeguard: key not found")

	// ErrSecretTooLarge is returned by StoreKey when the plaintext exceeds
	// MaxSecretSize.
	ErrSecretTooLarge = errors.New("edgeguard: secret exceeds maximum size")

	// ErrRateExceeded marks a soft rejection: the client may retry after
	// backing off.
	ErrRateExceeded = errors.New("edgeguard: rate exceeded")

	// ErrBanned marks a hard rejection that clears only on ban expiry or an
	// administrative unban.
	ErrBanned = errors.New("edgeguard: client banned")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("edgeguard: invalid config")
)
