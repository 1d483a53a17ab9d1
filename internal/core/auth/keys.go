package auth

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core/cache"
	"github.com/dcrodman/mcos/internal/core/data"
	"github.com/dcrodman/mcos/internal/core/encryption"
)

const keyCacheTTL = 10 * time.Minute

// KeyStore persists the session key a customer negotiated on the login server
// so that the lobby and transaction servers can key their own connections
// with it.
type KeyStore struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db, cache: cache.New()}
}

// Save records key as the customer's current session key.
func (s *KeyStore) Save(customerID, connID uint32, key []byte) error {
	record := &data.SessionKey{
		CustomerID:   customerID,
		Key:          hex.EncodeToString(key),
		ConnectionID: connID,
	}
	if err := saveSessionKey(s.db, record); err != nil {
		return fmt.Errorf("saving session key for customer %d: %w", customerID, err)
	}
	s.cache.Put(cacheKey(customerID), append([]byte{}, key...), keyCacheTTL)
	return nil
}

// Load returns the customer's current session key.
func (s *KeyStore) Load(customerID uint32) ([]byte, error) {
	if v, ok := s.cache.Get(cacheKey(customerID)); ok {
		return append([]byte{}, v.([]byte)...), nil
	}

	record, err := findSessionKey(s.db, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: finding session key: %v", ErrUnknown, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w %d", ErrNoSessionKey, customerID)
	}

	key, err := hex.DecodeString(record.Key)
	if err != nil {
		return nil, fmt.Errorf("stored key for customer %d: %w", customerID, encryption.ErrDecryptionFailure)
	}
	s.cache.Put(cacheKey(customerID), key, keyCacheTTL)
	return append([]byte{}, key...), nil
}

// Establish keys connID with the customer's stored session key.
func (s *KeyStore) Establish(sessions *encryption.Manager, connID, customerID uint32) (*encryption.Session, error) {
	key, err := s.Load(customerID)
	if err != nil {
		return nil, err
	}
	return sessions.Establish(connID, customerID, key)
}

// Forget drops any cached copy of the customer's key.
func (s *KeyStore) Forget(customerID uint32) {
	s.cache.Delete(cacheKey(customerID))
}

func cacheKey(customerID uint32) string {
	return strconv.FormatUint(uint64(customerID), 10)
}
