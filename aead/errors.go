package aead

import "errors"

// ErrDecryptionFailed is returned by Codec.Open when the authentication tag
// doesn't verify, whether because the key is wrong or the block was
// corrupted or tampered with in transit.
var ErrDecryptionFailed = errors.New("aead: decryption failed")
