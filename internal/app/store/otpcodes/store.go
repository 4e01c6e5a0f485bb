// internal/app/store/otpcodes/store.go
package otpcodes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

const (
	// CodeLength is the length of the one-time code (6 digits).
	CodeLength = 6
	// DefaultExpiry is how long a code stays valid.
	DefaultExpiry = 10 * time.Minute
	// BcryptCost for hashing codes.
	BcryptCost = 10
	// MaxVerifyAttempts caps failed verification attempts per code.
	MaxVerifyAttempts = 5
)

var (
	// ErrInvalidOrExpired covers wrong code, expired code, and no active
	// code alike. Callers get one generic failure so nothing leaks about
	// which condition fired.
	ErrInvalidOrExpired = errors.New("code incorrect ou expiré")
	// ErrTooManyAttempts is returned once the attempt cap is hit.
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

// Code is a pending one-time code bound to (signer email, document).
type Code struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Email      string             `bson:"email"`
	DocumentID primitive.ObjectID `bson:"document_id"`
	CodeHash   string             `bson:"code_hash"` // bcrypt hash of the numeric code
	ExpiresAt  time.Time          `bson:"expires_at"`
	CreatedAt  time.Time          `bson:"created_at"`
	Attempts   int                `bson:"attempts"`
}

// Store manages one-time signing codes. One active code per
// (email, document): issuing a new code invalidates the prior one, and
// verification consumes the code with a guarded delete so a double-submit
// race can redeem it at most once.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

// New creates a Store with the given code validity window.
// If expiry is 0 or negative, DefaultExpiry is used.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{c: db.Collection("otp_codes"), expiry: expiry}
}

// Expiry returns the configured code validity window.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// EnsureIndexes creates the TTL and lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_otp_expires_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}, {Key: "document_id", Value: 1}},
			Options: options.Index().SetName("idx_otp_email_document"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Issue generates a fresh code for (email, document), invalidating any
// prior unconsumed one, and returns the plain code for delivery.
func (s *Store) Issue(ctx context.Context, email string, documentID primitive.ObjectID) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	// A new send invalidates the prior unconsumed code.
	if _, err := s.c.DeleteMany(ctx, bson.M{"email": email, "document_id": documentID}); err != nil {
		return "", fmt.Errorf("invalidate prior code: %w", err)
	}

	now := time.Now().UTC()
	rec := Code{
		ID:         primitive.NewObjectID(),
		Email:      email,
		DocumentID: documentID,
		CodeHash:   string(hash),
		ExpiresAt:  now.Add(s.expiry),
		CreatedAt:  now,
	}
	if _, err := s.c.InsertOne(ctx, rec); err != nil {
		return "", fmt.Errorf("insert code: %w", err)
	}
	return code, nil
}

// Verify consumes the active code matching the submitted value. Codes are
// keyed per (email, document), so one address can hold several live codes
// at once (a parent with two conventions, or a login code alongside a
// signing code); every unexpired candidate is tried and only the matching
// record is consumed. On success the record is deleted; the guarded delete
// means at most one of two racing submissions wins. Wrong and expired
// codes return the same generic failure.
func (s *Store) Verify(ctx context.Context, email, code string) (*Code, error) {
	cur, err := s.c.Find(ctx, bson.M{
		"email":      email,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	})
	if err != nil {
		return nil, err
	}
	var recs []Code
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrInvalidOrExpired
	}

	capped := 0
	for i := range recs {
		rec := &recs[i]
		if rec.Attempts >= MaxVerifyAttempts {
			capped++
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
			continue
		}
		// Single use: the delete is the consumption. DeletedCount 0 means
		// a concurrent submission got here first.
		res, err := s.c.DeleteOne(ctx, bson.M{"_id": rec.ID})
		if err != nil {
			return nil, fmt.Errorf("consume code: %w", err)
		}
		if res.DeletedCount == 0 {
			return nil, ErrInvalidOrExpired
		}
		return rec, nil
	}
	if capped == len(recs) {
		return nil, ErrTooManyAttempts
	}

	// A miss burns the budget of every live candidate: a submitted value
	// cannot tell which record it targeted, and brute force must not probe
	// one document's code for free against another's.
	ids := make([]primitive.ObjectID, 0, len(recs))
	for _, rec := range recs {
		if rec.Attempts < MaxVerifyAttempts {
			ids = append(ids, rec.ID)
		}
	}
	_, _ = s.c.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$inc": bson.M{"attempts": 1}})
	return nil, ErrInvalidOrExpired
}

// generateCode returns a random numeric code of CodeLength digits.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}
