package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

// MemRepo is an in-memory convention repository with the same guarded-write
// semantics as the Mongo store: ErrNotFound for missing documents and
// ErrConflict for a filter that matched nothing. Coordinator tests run
// against it without a database.
type MemRepo struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*models.Convention
}

// NewMemRepo creates an empty repository.
func NewMemRepo() *MemRepo {
	return &MemRepo{docs: make(map[primitive.ObjectID]*models.Convention)}
}

// Put seeds a document, assigning an id when missing.
func (m *MemRepo) Put(c *models.Convention) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	m.docs[c.ID] = cloneConvention(c)
	return c.ID
}

func (m *MemRepo) Get(_ context.Context, id primitive.ObjectID) (*models.Convention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, conventions.ErrNotFound
	}
	return cloneConvention(doc), nil
}

func (m *MemRepo) UpdateFields(_ context.Context, id primitive.ObjectID, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	for k, v := range fields {
		s, _ := v.(string)
		switch k {
		case "activities":
			doc.Activities = s
		case "competences":
			doc.Competences = s
		case "attestation.activities":
			doc.Attestation.Activities = s
		case "attestation.competences":
			doc.Attestation.Competences = s
		default:
			return fmt.Errorf("memrepo: unsupported field %q", k)
		}
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemRepo) AppendAudit(_ context.Context, id primitive.ObjectID, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	doc.AuditLogs = append(doc.AuditLogs, entry)
	return nil
}

func (m *MemRepo) ApplySignature(_ context.Context, id primitive.ObjectID, role workflow.Role,
	sig models.Signature, fromStatus, toStatus workflow.Status, entry models.AuditEntry) error {

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	key := role.SignatureKey()
	if doc.Status != string(fromStatus) {
		return conventions.ErrConflict
	}
	if _, signed := doc.Signatures[key]; signed {
		return conventions.ErrConflict
	}
	if doc.Signatures == nil {
		doc.Signatures = make(map[string]models.Signature)
	}
	doc.Signatures[key] = sig
	doc.Status = string(toStatus)
	doc.AuditLogs = append(doc.AuditLogs, entry)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemRepo) SetStatus(_ context.Context, id primitive.ObjectID,
	fromStatus, toStatus workflow.Status, entry models.AuditEntry) error {

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	if doc.Status != string(fromStatus) {
		return conventions.ErrConflict
	}
	doc.Status = string(toStatus)
	doc.AuditLogs = append(doc.AuditLogs, entry)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemRepo) ClearSignatures(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	doc.Signatures = nil
	return nil
}

func (m *MemRepo) SignAttestation(_ context.Context, id primitive.ObjectID, att models.Attestation, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	if doc.Attestation.Signed {
		return conventions.ErrConflict
	}
	doc.Attestation = att
	doc.AuditLogs = append(doc.AuditLogs, entry)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemRepo) SetVerification(_ context.Context, id primitive.ObjectID, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "fingerprint":
			doc.Verification.Fingerprint = v
		case "attestation_fingerprint":
			doc.Verification.AttestationFingerprint = v
		default:
			return fmt.Errorf("memrepo: unsupported verification field %q", k)
		}
	}
	return nil
}

func cloneConvention(c *models.Convention) *models.Convention {
	out := *c
	if c.Signatures != nil {
		out.Signatures = make(map[string]models.Signature, len(c.Signatures))
		for k, v := range c.Signatures {
			out.Signatures[k] = v
		}
	}
	out.AuditLogs = append([]models.AuditEntry(nil), c.AuditLogs...)
	out.InvalidEmails = append([]string(nil), c.InvalidEmails...)
	return &out
}

// Insert mirrors the Mongo store's submit path.
func (m *MemRepo) Insert(_ context.Context, c *models.Convention) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Status == "" {
		c.Status = string(workflow.StatusSubmitted)
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.docs[c.ID] = cloneConvention(c)
	return c.ID, nil
}

// List applies the store's filter semantics over the in-memory set.
func (m *MemRepo) List(_ context.Context, filter conventions.ListFilter) ([]models.Convention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Convention
	for _, doc := range m.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.TeacherEmail != "" && doc.Teacher.Email != filter.TeacherEmail {
			continue
		}
		if filter.StudentEmail != "" && doc.Student.Email != filter.StudentEmail {
			continue
		}
		out = append(out, *cloneConvention(doc))
	}
	return out, nil
}

func (m *MemRepo) MarkEmailInvalid(_ context.Context, id primitive.ObjectID, roleKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	for _, k := range doc.InvalidEmails {
		if k == roleKey {
			return nil
		}
	}
	doc.InvalidEmails = append(doc.InvalidEmails, roleKey)
	return nil
}

func (m *MemRepo) CorrectEmail(_ context.Context, id primitive.ObjectID, role workflow.Role, email string, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return conventions.ErrNotFound
	}
	idx := -1
	for i, k := range doc.InvalidEmails {
		if k == role.SignatureKey() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return conventions.ErrConflict
	}
	switch role {
	case workflow.RoleStudent:
		doc.Student.Email = email
	case workflow.RoleParent:
		doc.Parent.Email = email
	case workflow.RoleTeacher:
		doc.Teacher.Email = email
	case workflow.RoleCompany:
		doc.Company.Email = email
	case workflow.RoleTutor:
		doc.Tutor.Email = email
	case workflow.RoleHead:
		doc.Head.Email = email
	}
	doc.InvalidEmails = append(doc.InvalidEmails[:idx], doc.InvalidEmails[idx+1:]...)
	doc.AuditLogs = append(doc.AuditLogs, entry)
	return nil
}
