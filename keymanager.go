package edgeguard

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/log"
	"golang.org/x/crypto/chacha20poly1305"
)

// MaxSecretSize caps stored plaintext length.
const MaxSecretSize = 64 * 1024

// encryptedSecret holds one secret wrapped under the current master key. The
// Poly1305 authentication tag is embedded in the ciphertext, AEAD-standard.
type encryptedSecret struct {
	ciphertext []byte
	nonce      []byte
}

// KeyManagerStats reports monotonic operation counters and the live entry
// count.
type KeyManagerStats struct {
	Encryptions int64 `json:"encryptions"`
	Decryptions int64 `json:"decryptions"`
	Rotations   int64 `json:"rotations"`
	StoredKeys  int   `json:"storedKeys"`
}

// MemorySafeKeyManager stores secrets encrypted under a rotating in-process
// master key (ChaCha20-Poly1305). Plaintext never leaves the manager except
// transiently to a caller, and UseKeyOnce wipes the decrypted buffer before
// returning. Rotation re-wraps every stored secret under the new key before
// the old key is discarded, so rotation is transparent to callers.
type MemorySafeKeyManager struct {
	mu          sync.Mutex
	aead        aeadCipher
	masterKey   []byte
	secrets     *boundedMap
	encryptions int64
	decryptions int64
	rotations   int64

	clock  Clock
	logger *log.Logger

	rotateTicker Ticker
	stopOnce     sync.Once
	stopCh       chan struct{}
	done         chan struct{}
}

// aeadCipher narrows cipher.AEAD to what the manager uses.
type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

func newMasterKey() ([]byte, aeadCipher, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return key, aead, nil
}

// NewMemorySafeKeyManager creates a manager holding at most maxKeys secrets,
// rotating the master key every rotationInterval. A non-positive interval
// disables scheduled rotation; RotateMemoryKey stays available on demand.
func NewMemorySafeKeyManager(maxKeys int, rotationInterval time.Duration, clock Clock, logger *log.Logger) (*MemorySafeKeyManager, error) {
	if maxKeys <= 0 {
		return nil, fmt.Errorf("%w: maxKeys = %d", ErrInvalidConfig, maxKeys)
	}
	if clock == nil {
		clock = systemClock{}
	}
	key, aead, err := newMasterKey()
	if err != nil {
		return nil, err
	}
	m := &MemorySafeKeyManager{
		aead:      aead,
		masterKey: key,
		secrets:   newBoundedMap(maxKeys),
		clock:     clock,
		logger:    orDefaultLogger(logger),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if rotationInterval > 0 {
		m.rotateTicker = clock.NewTicker(rotationInterval)
		go m.rotateLoop()
	} else {
		close(m.done)
	}
	return m, nil
}

func (m *MemorySafeKeyManager) rotateLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.rotateTicker.C():
			if err := m.RotateMemoryKey(); err != nil {
				m.logger.Error().Err(err).Msg("scheduled key rotation failed")
			}
		}
	}
}

// StoreKey encrypts plaintext under the current master key and stores it,
// overwriting any prior value for the same id.
func (m *MemorySafeKeyManager) StoreKey(id string, plaintext []byte) error {
	if len(plaintext) > MaxSecretSize {
		return ErrSecretTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, err := m.sealLocked(id, plaintext)
	if err != nil {
		return err
	}
	m.secrets.Set(id, secret)
	m.encryptions++
	return nil
}

// sealLocked encrypts plaintext with the id bound as additional data, so a
// ciphertext cannot be replayed under a different identifier.
func (m *MemorySafeKeyManager) sealLocked(id string, plaintext []byte) (*encryptedSecret, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return &encryptedSecret{
		ciphertext: m.aead.Seal(nil, nonce, plaintext, []byte(id)),
		nonce:      nonce,
	}, nil
}

func (m *MemorySafeKeyManager) openLocked(id string, secret *encryptedSecret) ([]byte, error) {
	plaintext, err := m.aead.Open(nil, secret.nonce, secret.ciphertext, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret %q: %w", id, err)
	}
	m.decryptions++
	return plaintext, nil
}

// RetrieveKey decrypts and returns the plaintext for id. The caller owns the
// returned buffer and its lifetime.
func (m *MemorySafeKeyManager) RetrieveKey(id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.secrets.Get(id)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return m.openLocked(id, value.(*encryptedSecret))
}

// UseKeyOnce decrypts the secret, hands the plaintext to fn, and zero-fills
// the buffer before returning, so the decrypted form does not linger. fn's
// return value passes through unaffected by the wipe.
func (m *MemorySafeKeyManager) UseKeyOnce(id string, fn func(plaintext []byte) error) error {
	m.mu.Lock()
	value, ok := m.secrets.Get(id)
	if !ok {
		m.mu.Unlock()
		return ErrKeyNotFound
	}
	plaintext, err := m.openLocked(id, value.(*encryptedSecret))
	m.mu.Unlock()
	if err != nil {
		return err
	}
	defer zeroBytes(plaintext)
	return fn(plaintext)
}

// RotateMemoryKey generates a new master key and re-wraps every stored secret
// under it before the old key is discarded. Existing ids keep decrypting to
// their original plaintext afterwards.
func (m *MemorySafeKeyManager) RotateMemoryKey() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newKey, newAEAD, err := newMasterKey()
	if err != nil {
		return err
	}

	type rewrapped struct {
		id     string
		secret *encryptedSecret
	}
	updates := make([]rewrapped, 0, m.secrets.Len())

	var rewrapErr error
	m.secrets.Range(func(id string, value any) bool {
		plaintext, err := m.openLocked(id, value.(*encryptedSecret))
		if err != nil {
			rewrapErr = err
			return false
		}
		nonce := make([]byte, newAEAD.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			zeroBytes(plaintext)
			rewrapErr = fmt.Errorf("failed to generate nonce: %w", err)
			return false
		}
		updates = append(updates, rewrapped{
			id: id,
			secret: &encryptedSecret{
				ciphertext: newAEAD.Seal(nil, nonce, plaintext, []byte(id)),
				nonce:      nonce,
			},
		})
		zeroBytes(plaintext)
		m.encryptions++
		return true
	})
	if rewrapErr != nil {
		// Leave the old key in place; nothing was replaced yet.
		zeroBytes(newKey)
		return rewrapErr
	}

	for _, u := range updates {
		m.secrets.Set(u.id, u.secret)
	}
	zeroBytes(m.masterKey)
	m.masterKey = newKey
	m.aead = newAEAD
	m.rotations++
	m.logger.Info().Int("rewrapped", len(updates)).Msg("memory master key rotated")
	return nil
}

// DeleteKey removes the entry for id and reports whether it existed.
func (m *MemorySafeKeyManager) DeleteKey(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets.Delete(id)
}

// Stats returns the operation counters and live entry count.
func (m *MemorySafeKeyManager) Stats() KeyManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return KeyManagerStats{
		Encryptions: m.encryptions,
		Decryptions: m.decryptions,
		Rotations:   m.rotations,
		StoredKeys:  m.secrets.Len(),
	}
}

// Stop halts scheduled rotation. Idempotent.
func (m *MemorySafeKeyManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.rotateTicker != nil {
			m.rotateTicker.Stop()
		}
		<-m.done
	})
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
