// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", err).
var (
	// Packet decoding errors
	ErrPacketTooShort = errors.New("mpswitch: packet too short")

	// Match-action table errors
	ErrTableNotFound = errors.New("mpswitch: table not found")
	ErrRuleNotFound  = errors.New("mpswitch: rule not found")
	ErrInvalidRule   = errors.New("mpswitch: invalid rule")
	ErrKeyWidth      = errors.New("mpswitch: key exceeds table width")
	ErrUnknownAction = errors.New("mpswitch: unknown action")
	ErrUnknownHash   = errors.New("mpswitch: unknown hash function")
	ErrUnknownMode   = errors.New("mpswitch: unknown forwarding mode")

	// Register errors
	ErrRegisterSize = errors.New("mpswitch: register size must be a power of two")

	// Switch runtime errors
	ErrSwitchStopped = errors.New("mpswitch: switch stopped")
	ErrUnknownPort   = errors.New("mpswitch: unknown ingress port")
	ErrQueueFull     = errors.New("mpswitch: ingress queue full")

	// Configuration errors
	ErrConfigInvalid = errors.New("mpswitch: invalid configuration")
)
