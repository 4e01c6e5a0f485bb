package missionorders_test

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parcoursign/parcoursign/internal/app/store/missionorders"
	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/testutil"
)

func TestCreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := missionorders.New(db)
	ctx := testutil.TestContext(t)

	convID := primitive.NewObjectID()
	mo, err := store.Create(ctx, convID, "Paul Referent", testutil.TeacherEmail)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if mo.Status != models.MissionOrderPending {
		t.Errorf("status = %q", mo.Status)
	}

	got, err := store.Get(ctx, mo.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConventionID != convID || got.TeacherEmail != testutil.TeacherEmail {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := missionorders.New(db)

	_, err := store.Get(testutil.TestContext(t), primitive.NewObjectID())
	if !errors.Is(err, missionorders.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListByTeacher(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := missionorders.New(db)
	ctx := testutil.TestContext(t)

	for i := 0; i < 2; i++ {
		if _, err := store.Create(ctx, primitive.NewObjectID(), "Paul Referent", testutil.TeacherEmail); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := store.Create(ctx, primitive.NewObjectID(), "Autre Prof", "autre@lycee-test.fr"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	orders, err := store.ListByTeacher(ctx, testutil.TeacherEmail)
	if err != nil {
		t.Fatalf("ListByTeacher: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("got %d orders, want 2", len(orders))
	}
}

func TestSign_TerminalState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := missionorders.New(db)
	ctx := testutil.TestContext(t)

	mo, err := store.Create(ctx, primitive.NewObjectID(), "Paul Referent", testutil.TeacherEmail)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Sign(ctx, mo.ID, testutil.TestImage, "deadbeef"); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, _ := store.Get(ctx, mo.ID)
	if got.Status != models.MissionOrderSigned {
		t.Errorf("status = %q", got.Status)
	}
	if got.Hash != "deadbeef" || got.Image != testutil.TestImage {
		t.Error("signature fields not persisted")
	}
	if got.SignedAt.IsZero() {
		t.Error("signed_at not stamped")
	}

	err = store.Sign(ctx, mo.ID, testutil.TestImage, "deadbeef")
	if !errors.Is(err, missionorders.ErrAlreadySigned) {
		t.Errorf("second signing: expected ErrAlreadySigned, got %v", err)
	}

	err = store.Sign(ctx, primitive.NewObjectID(), testutil.TestImage, "deadbeef")
	if !errors.Is(err, missionorders.ErrNotFound) {
		t.Errorf("missing order: expected ErrNotFound, got %v", err)
	}
}
