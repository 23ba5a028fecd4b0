package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gardian_admin/internal/models"
)

func TestReportKeyFromUploadPath(t *testing.T) {
	owner := &firestore.DocumentRef{ID: "citizen-1"}
	uploads := &firestore.CollectionRef{ID: uploadsCollection, Parent: owner}
	ref := &firestore.DocumentRef{ID: "report-9", Parent: uploads}

	id, uid := reportKey(ref)
	assert.Equal(t, "report-9", id)
	assert.Equal(t, "citizen-1", uid)

	// a top-level document has no owner
	id, uid = reportKey(&firestore.DocumentRef{ID: "orphan", Parent: &firestore.CollectionRef{ID: uploadsCollection}})
	assert.Equal(t, "orphan", id)
	assert.Empty(t, uid)

	id, uid = reportKey(nil)
	assert.Empty(t, id)
	assert.Empty(t, uid)
}

func TestUserFieldsOmitUnsetMergeFields(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	fields := userFields(&models.User{
		ID: "u1", Email: "ana@city.gov", FirstName: "Ana", LastName: "Reyes",
		Phone: "+639171234567", Status: models.StatusActive, Role: models.RoleAdmin, CreatedAt: created,
	})
	assert.Equal(t, map[string]interface{}{
		"email":     "ana@city.gov",
		"firstName": "Ana",
		"lastName":  "Reyes",
		"phone":     "+639171234567",
		"status":    models.StatusActive,
		"role":      models.RoleAdmin,
		"createdAt": created,
	}, fields)
	assert.NotContains(t, fields, "id")

	orig := "u0"
	fields = userFields(&models.User{ID: "u1", Barangay: "San Roque", OriginalUID: &orig})
	assert.Equal(t, "San Roque", fields["barangay"])
	assert.Equal(t, "u0", fields["originalUid"])
}

func TestMapFirestoreError(t *testing.T) {
	assert.ErrorIs(t, mapFirestoreError(status.Error(codes.NotFound, "no doc")), ErrNotFound)
	assert.ErrorIs(t, mapFirestoreError(status.Error(codes.AlreadyExists, "dup")), ErrConflict)

	other := status.Error(codes.Unavailable, "down")
	assert.Equal(t, other, mapFirestoreError(other))
}

func TestSnapshotError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, snapshotError(ctx, errors.New("stream broke")), context.Canceled)

	live := context.Background()
	assert.ErrorIs(t, snapshotError(live, iterator.Done), context.Canceled)
	assert.ErrorIs(t, snapshotError(live, status.Error(codes.Canceled, "closed")), context.Canceled)

	broken := status.Error(codes.Internal, "boom")
	assert.Equal(t, broken, snapshotError(live, broken))
}
