package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer holds one value sealed in a memguard enclave.
//
// memguard has no way to destroy an enclave directly; Destroy drops the
// reference and the ciphertext is collected with it.
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewSecureBuffer seals data. memguard wipes data in the process, so callers
// must not reuse it. Empty data yields a buffer that opens empty.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	return &SecureBuffer{enclave: memguard.NewEnclave(data)}, nil
}

// SealString seals a copy of s.
func SealString(s string) *SecureBuffer {
	buf, _ := NewSecureBuffer([]byte(s))
	return buf
}

// Open decrypts into a locked buffer. The caller must Destroy the result.
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return s.enclave.Open()
}

// Reveal returns the plaintext as a string and wipes the intermediate
// locked buffer.
func (s *SecureBuffer) Reveal() (string, error) {
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Destroy drops the enclave. Later Opens return an empty buffer. Safe to call
// more than once.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}
