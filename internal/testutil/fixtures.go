package testutil

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

// Canonical test party emails, matching the fixture conventions below.
const (
	StudentEmail = "eleve@lycee-test.fr"
	ParentEmail  = "parent@example.fr"
	TeacherEmail = "referent@lycee-test.fr"
	CompanyEmail = "contact@entreprise-test.fr"
	TutorEmail   = "tuteur@entreprise-test.fr"
	HeadEmail    = "direction@lycee-test.fr"
)

// TestImage is a minimal data-URL stand-in for a canvas capture.
const TestImage = "data:image/png;base64,iVBORw0KGgo="

// NewConvention builds a freshly submitted adult-student convention with
// every party populated.
func NewConvention() *models.Convention {
	now := time.Now().UTC()
	return &models.Convention{
		ID:        primitive.NewObjectID(),
		Student:   models.Party{Name: "Jeanne Martin", Email: StudentEmail},
		Parent:    models.Party{Name: "Marie Martin", Email: ParentEmail},
		Teacher:   models.Party{Name: "Paul Referent", Email: TeacherEmail, Function: "Professeur référent"},
		Company:   models.Party{Name: "Entreprise Test SARL", Email: CompanyEmail, Function: "Gérant"},
		Tutor:     models.Party{Name: "Luc Tuteur", Email: TutorEmail, Function: "Tuteur"},
		Head:      models.Party{Name: "Mme Proviseure", Email: HeadEmail, Function: "Cheffe d'établissement"},
		StartDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC),
		Status:    string(workflow.StatusSubmitted),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMinorConvention is NewConvention with est_mineur set, so the legal
// representative branch applies.
func NewMinorConvention() *models.Convention {
	c := NewConvention()
	c.EstMineur = true
	return c
}

// SignRole stamps a signature key directly on the fixture, bypassing the
// coordinator. Use it to place a document mid-workflow.
func SignRole(c *models.Convention, role workflow.Role) {
	if c.Signatures == nil {
		c.Signatures = make(map[string]models.Signature)
	}
	c.Signatures[role.SignatureKey()] = models.Signature{Image: TestImage, At: time.Now().UTC()}
}

// AtStatus moves the fixture to a status and stamps the signature keys a
// document in that state would carry.
func AtStatus(c *models.Convention, status workflow.Status) *models.Convention {
	c.Status = string(status)
	switch status {
	case workflow.StatusSignedParent:
		SignRole(c, workflow.RoleParent)
	case workflow.StatusValidatedTeacher:
		if c.EstMineur {
			SignRole(c, workflow.RoleParent)
		}
		SignRole(c, workflow.RoleTeacher)
	case workflow.StatusSignedCompany:
		AtStatus(c, workflow.StatusValidatedTeacher)
		c.Status = string(status)
		SignRole(c, workflow.RoleCompany)
	case workflow.StatusSignedTutor:
		AtStatus(c, workflow.StatusSignedCompany)
		c.Status = string(status)
		SignRole(c, workflow.RoleTutor)
	case workflow.StatusValidatedHead:
		AtStatus(c, workflow.StatusSignedTutor)
		c.Status = string(status)
		SignRole(c, workflow.RoleHead)
	}
	return c
}
