// internal/app/store/conventions/store.go
package conventions

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
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

var (
	// ErrNotFound is returned when no convention exists for the id.
	ErrNotFound = errors.New("convention not found")
	// ErrConflict is returned when a guarded write matched no document:
	// the role key was already populated or the status moved underneath us.
	ErrConflict = errors.New("convention changed concurrently or role already signed")
)

// Store manages convention documents. All writes are per-field merges
// ($set / $push) against the live document, never whole-document replaces,
// so two roles signing concurrently touch only their own keys.
type Store struct {
	c *mongo.Collection
}

// New creates a Store over the conventions collection.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("conventions")}
}

// EnsureIndexes creates the indexes list queries depend on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_conventions_status"),
		},
		{
			Keys:    bson.D{{Key: "teacher.email", Value: 1}},
			Options: options.Index().SetName("idx_conventions_teacher_email"),
		},
		{
			Keys:    bson.D{{Key: "student.email", Value: 1}},
			Options: options.Index().SetName("idx_conventions_student_email"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Insert stores a newly submitted convention and returns its id.
func (s *Store) Insert(ctx context.Context, conv *models.Convention) (primitive.ObjectID, error) {
	now := time.Now().UTC()
	if conv.ID.IsZero() {
		conv.ID = primitive.NewObjectID()
	}
	if conv.Status == "" {
		conv.Status = string(workflow.StatusSubmitted)
	}
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, conv); err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert convention: %w", err)
	}
	return conv.ID, nil
}

// Get loads one convention by id.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (*models.Convention, error) {
	var conv models.Convention
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status       string
	TeacherEmail string
	StudentEmail string
	Limit        int64
}

// List returns conventions matching the filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.Convention, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.TeacherEmail != "" {
		query["teacher.email"] = filter.TeacherEmail
	}
	if filter.StudentEmail != "" {
		query["student.email"] = filter.StudentEmail
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(limit)

	cur, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Convention
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFields merges the given fields into the document. Keys use dot
// notation for nested paths (e.g. "activities", "attestation.days_present").
// Signature and audit fields are rejected; those go through the dedicated
// guarded writes below.
func (s *Store) UpdateFields(ctx context.Context, id primitive.ObjectID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		if k == "signatures" || k == "audit_logs" || k == "status" {
			return fmt.Errorf("field %q must use a guarded write", k)
		}
		set[k] = v
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update convention fields: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAudit pushes one entry onto the document's audit trail. The trail
// is append-only: there is deliberately no update or delete counterpart.
func (s *Store) AppendAudit(ctx context.Context, id primitive.ObjectID, entry models.AuditEntry) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"audit_logs": entry},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplySignature writes one role's signature, the resulting status, and the
// matching audit entry in a single atomic update. The filter requires the
// role key to be absent and the status to still be the one the transition
// was computed from, so a concurrent signer or a double-submit falls out as
// ErrConflict instead of a second application.
func (s *Store) ApplySignature(ctx context.Context, id primitive.ObjectID, role workflow.Role,
	sig models.Signature, fromStatus, toStatus workflow.Status, entry models.AuditEntry) error {

	key := "signatures." + role.SignatureKey()
	filter := bson.M{
		"_id":    id,
		"status": string(fromStatus),
		key:      bson.M{"$exists": false},
	}
	update := bson.M{
		"$set": bson.M{
			key:          sig,
			"status":     string(toStatus),
			"updated_at": time.Now().UTC(),
		},
		"$push": bson.M{"audit_logs": entry},
	}

	res, err := s.c.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("apply signature: %w", err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing document from a lost guard.
		n, countErr := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// SetStatus moves the document to a new status and appends the audit entry
// for the action (rejection, resubmission). The filter pins the current
// status so racing transitions cannot interleave.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID,
	fromStatus, toStatus workflow.Status, entry models.AuditEntry) error {

	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(fromStatus)},
		bson.M{
			"$set":  bson.M{"status": string(toStatus), "updated_at": time.Now().UTC()},
			"$push": bson.M{"audit_logs": entry},
		})
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if res.MatchedCount == 0 {
		n, countErr := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// ClearSignatures removes the whole signature map. Only the resubmission
// path uses it, and only when the configured policy clears signatures on a
// new cycle. The audit trail is untouched.
func (s *Store) ClearSignatures(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$unset": bson.M{"signatures": ""},
		"$set":   bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("clear signatures: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailInvalid records that a role's stored contact email bounced.
func (s *Store) MarkEmailInvalid(ctx context.Context, id primitive.ObjectID, roleKey string) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"invalid_emails": roleKey},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("mark email invalid: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CorrectEmail replaces a bounced party email. The filter requires the role
// key to be present in invalid_emails, so the correction-only mutation is
// gated exactly as specified and never touches signature state.
func (s *Store) CorrectEmail(ctx context.Context, id primitive.ObjectID, role workflow.Role, email string, entry models.AuditEntry) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "invalid_emails": role.SignatureKey()},
		bson.M{
			"$set":  bson.M{string(role) + ".email": email, "updated_at": time.Now().UTC()},
			"$pull": bson.M{"invalid_emails": role.SignatureKey()},
			"$push": bson.M{"audit_logs": entry},
		})
	if err != nil {
		return fmt.Errorf("correct email: %w", err)
	}
	if res.MatchedCount == 0 {
		n, countErr := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// SignAttestation writes the attestation signature atomically. The filter
// requires attestation.signed to be false, making the signed state terminal.
func (s *Store) SignAttestation(ctx context.Context, id primitive.ObjectID, att models.Attestation, entry models.AuditEntry) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "attestation.signed": false},
		bson.M{
			"$set":  bson.M{"attestation": att, "updated_at": time.Now().UTC()},
			"$push": bson.M{"audit_logs": entry},
		})
	if err != nil {
		return fmt.Errorf("sign attestation: %w", err)
	}
	if res.MatchedCount == 0 {
		n, countErr := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if countErr == nil && n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// SetVerification freezes a fingerprint on the document.
func (s *Store) SetVerification(ctx context.Context, id primitive.ObjectID, fields map[string]string) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		set["verification."+k] = v
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("set verification: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
