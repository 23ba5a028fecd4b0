package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	codeKeyPrefix   = "otp:"
	codeLength      = 6
	maxCodeAttempts = 5
)

// pendingCode is what redis holds for an outstanding one-time-code challenge.
type pendingCode struct {
	Phone    string `json:"phone"`
	Hash     string `json:"hash"`
	Attempts int    `json:"attempts"`
}

// codeStore keeps outstanding challenges in redis, keyed by verification id, expiring after ttl.
type codeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func hashCode(verificationID, code string) string {
	sum := sha256.Sum256([]byte(verificationID + ":" + code))
	return hex.EncodeToString(sum[:])
}

func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}

func (s *codeStore) put(ctx context.Context, verificationID, phone, code string) error {
	raw, err := json.Marshal(pendingCode{Phone: phone, Hash: hashCode(verificationID, code)})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, codeKeyPrefix+verificationID, raw, s.ttl).Err()
}

// drop removes a challenge; a missing one is not an error.
func (s *codeStore) drop(ctx context.Context, verificationID string) error {
	return s.rdb.Del(ctx, codeKeyPrefix+verificationID).Err()
}

// check compares code against the challenge. A match consumes the challenge; a miss counts an
// attempt and drops the challenge once the attempts are exhausted.
func (s *codeStore) check(ctx context.Context, verificationID, code string) (string, error) {
	key := codeKeyPrefix + verificationID
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeExpired
	}
	if err != nil {
		return "", fmt.Errorf("load code challenge: %w", err)
	}
	var pc pendingCode
	if err := json.Unmarshal(raw, &pc); err != nil {
		return "", fmt.Errorf("decode code challenge: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(pc.Hash), []byte(hashCode(verificationID, code))) == 1 {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return "", fmt.Errorf("consume code challenge: %w", err)
		}
		return pc.Phone, nil
	}

	pc.Attempts++
	if pc.Attempts >= maxCodeAttempts {
		s.rdb.Del(ctx, key)
		return "", ErrInvalidCode
	}
	updated, err := json.Marshal(pc)
	if err != nil {
		return "", err
	}
	// KeepTTL leaves the original expiry in place.
	if err := s.rdb.Set(ctx, key, updated, redis.KeepTTL).Err(); err != nil {
		return "", fmt.Errorf("record code attempt: %w", err)
	}
	return "", ErrInvalidCode
}
