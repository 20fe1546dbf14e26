package crihca

import "errors"

var (
	// ErrFormat reports a frame or header that cannot be parsed.
	ErrFormat = errors.New("crihca: invalid data")

	// ErrConfig reports stream parameters rejected at setup.
	ErrConfig = errors.New("crihca: invalid configuration")

	// ErrBitrateTooLow is returned when a frame cannot fit its budget even
	// after every band has been dropped.
	ErrBitrateTooLow = errors.New("crihca: bitrate is set too low")

	// ErrSequencing reports a call the encoder state does not allow.
	ErrSequencing = errors.New("crihca: call out of sequence")

	ErrKeyNotFound = errors.New("crihca: no matching key")
	ErrChecksum    = errors.New("crihca: checksum mismatch")
)
