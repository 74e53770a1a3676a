// Package securememory keeps secrets in memguard enclaves so key material
// never sits in plain heap memory or gets swapped out. The cryptography
// pipeline parks its master secret here.
package securememory

import (
	"github.com/awnumar/memguard"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HandsomeChen0407/cjdb/errors"
)

type CJSecureMemory struct {
	Owner   *CJSecureMemoryManager
	Key     string
	enclave *memguard.Enclave
}

// Use opens the enclave, hands the plaintext to f and wipes it again when
// f returns. The slice is only valid inside f.
func (s *CJSecureMemory) Use(f func(data []byte) error) error {
	buffer, err := s.enclave.Open()
	if err != nil {
		return errors.Wrapf(err, "SECURE_MEMORY_OPEN_FAILED:%s", s.Key)
	}
	defer buffer.Destroy()
	return f(buffer.Bytes())
}

type CJSecureMemoryManager struct {
	entries *xsync.MapOf[string, *CJSecureMemory]
}

var Manager = CJSecureMemoryManager{
	entries: xsync.NewMapOf[string, *CJSecureMemory](),
}

// Store seals value into an enclave under key, replacing any previous
// entry. memguard wipes the passed slice.
func (m *CJSecureMemoryManager) Store(key string, value []byte) *CJSecureMemory {
	s := &CJSecureMemory{
		Owner:   m,
		Key:     key,
		enclave: memguard.NewEnclave(value),
	}
	m.entries.Store(key, s)
	return s
}

func (m *CJSecureMemoryManager) Get(key string) (*CJSecureMemory, error) {
	s, ok := m.entries.Load(key)
	if !ok {
		return nil, errors.Errorf("SECURE_MEMORY_NOT_FOUND:%s", key)
	}
	return s, nil
}

func (m *CJSecureMemoryManager) Destroy(key string) {
	m.entries.Delete(key)
}

// DestroyAll drops every entry and wipes all memguard sessions. Call on
// shutdown.
func (m *CJSecureMemoryManager) DestroyAll() {
	m.entries.Clear()
	memguard.Purge()
}
