// internal/app/store/missionorders/store.go
package missionorders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/parcoursign/parcoursign/internal/domain/models"
)

var (
	// ErrNotFound is returned when no mission order exists for the id.
	ErrNotFound = errors.New("mission order not found")
	// ErrAlreadySigned is returned when signing a terminal order.
	ErrAlreadySigned = errors.New("mission order already signed")
)

// Store manages mission order documents.
type Store struct {
	c *mongo.Collection
}

// New creates a Store over the mission_orders collection.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("mission_orders")}
}

// EnsureIndexes creates lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "convention_id", Value: 1}},
			Options: options.Index().SetName("idx_missionorders_convention"),
		},
		{
			Keys:    bson.D{{Key: "teacher_email", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_missionorders_teacher"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create opens a PENDING mission order when a tracking teacher is assigned.
func (s *Store) Create(ctx context.Context, conventionID primitive.ObjectID, teacherName, teacherEmail string) (*models.MissionOrder, error) {
	now := time.Now().UTC()
	mo := models.MissionOrder{
		ID:           primitive.NewObjectID(),
		ConventionID: conventionID,
		TeacherName:  teacherName,
		TeacherEmail: teacherEmail,
		Status:       models.MissionOrderPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.c.InsertOne(ctx, mo); err != nil {
		return nil, fmt.Errorf("insert mission order: %w", err)
	}
	return &mo, nil
}

// Get loads one mission order by id.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (*models.MissionOrder, error) {
	var mo models.MissionOrder
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&mo)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &mo, nil
}

// ListByTeacher returns a teacher's mission orders, newest first.
func (s *Store) ListByTeacher(ctx context.Context, teacherEmail string) ([]models.MissionOrder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{"teacher_email": teacherEmail}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.MissionOrder
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sign writes the signature and moves the order to its terminal state.
// The status filter makes signing idempotent-safe: a second attempt
// matches nothing and reports ErrAlreadySigned.
func (s *Store) Sign(ctx context.Context, id primitive.ObjectID, image, hash string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.MissionOrderPending},
		bson.M{"$set": bson.M{
			"status":     models.MissionOrderSigned,
			"image":      image,
			"hash":       hash,
			"signed_at":  time.Now().UTC(),
			"updated_at": time.Now().UTC(),
		}})
	if err != nil {
		return fmt.Errorf("sign mission order: %w", err)
	}
	if res.MatchedCount == 0 {
		n, countErr := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && n == 0 {
			return ErrNotFound
		}
		return ErrAlreadySigned
	}
	return nil
}
