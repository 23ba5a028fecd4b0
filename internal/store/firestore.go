package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gardian_admin/internal/models"
)

// Collection and sub-collection names of the document layout.
const (
	usersCollection      = "users"
	uploadsCollection    = "uploads"
	identitiesCollection = "identities"
)

// Firestore implements Backend on a Cloud Firestore database laid out as
// users/{uid} and users/{uid}/uploads/{reportId}.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps an opened client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func mapFirestoreError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrConflict
	}
	return err
}

func decodeUser(doc *firestore.DocumentSnapshot) (models.User, error) {
	var u models.User
	if err := doc.DataTo(&u); err != nil {
		return u, fmt.Errorf("decode users/%s: %w", doc.Ref.ID, err)
	}
	u.ID = doc.Ref.ID
	return u, nil
}

// decodeReport reads an uploads document; the owner id comes from the document path.
func decodeReport(doc *firestore.DocumentSnapshot) (models.Report, error) {
	var r models.Report
	if err := doc.DataTo(&r); err != nil {
		return r, fmt.Errorf("decode %s: %w", doc.Ref.Path, err)
	}
	r.ID, r.UserID = reportKey(doc.Ref)
	return r, nil
}

// reportKey reads the report id and its owner's id from users/{uid}/uploads/{reportId}.
func reportKey(ref *firestore.DocumentRef) (id, owner string) {
	if ref == nil {
		return "", ""
	}
	if ref.Parent != nil && ref.Parent.Parent != nil {
		owner = ref.Parent.Parent.ID
	}
	return ref.ID, owner
}

func (f *Firestore) GetUser(ctx context.Context, id string) (*models.User, error) {
	doc, err := f.client.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	u, err := decodeUser(doc)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (f *Firestore) usersByRole(role string) firestore.Query {
	return f.client.Collection(usersCollection).Where("role", "==", role)
}

func (f *Firestore) decodeUsers(docs []*firestore.DocumentSnapshot) []models.User {
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		u, err := decodeUser(doc)
		if err != nil {
			logrus.WithError(err).Warn("skipping undecodable user document")
			continue
		}
		users = append(users, u)
	}
	return users
}

func (f *Firestore) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	docs, err := f.usersByRole(role).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return f.decodeUsers(docs), nil
}

func (f *Firestore) WatchUsersByRole(ctx context.Context, role string, fn func([]models.User)) error {
	it := f.usersByRole(role).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			return snapshotError(ctx, err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		fn(f.decodeUsers(docs))
	}
}

func userFields(u *models.User) map[string]interface{} {
	fields := map[string]interface{}{
		"email":     u.Email,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"phone":     u.Phone,
		"status":    u.Status,
		"role":      u.Role,
		"createdAt": u.CreatedAt,
	}
	if u.Barangay != "" {
		fields["barangay"] = u.Barangay
	}
	if u.OriginalUID != nil {
		fields["originalUid"] = *u.OriginalUID
	}
	return fields
}

func (f *Firestore) PutUser(ctx context.Context, u *models.User) error {
	_, err := f.client.Collection(usersCollection).Doc(u.ID).Set(ctx, userFields(u), firestore.MergeAll)
	return mapFirestoreError(err)
}

func (f *Firestore) UpdateUser(ctx context.Context, id string, patch models.UserPatch) error {
	var updates []firestore.Update
	add := func(path string, v *string) {
		if v != nil {
			updates = append(updates, firestore.Update{Path: path, Value: *v})
		}
	}
	add("email", patch.Email)
	add("firstName", patch.FirstName)
	add("lastName", patch.LastName)
	add("phone", patch.Phone)
	add("status", patch.Status)
	if len(updates) == 0 {
		return nil
	}
	_, err := f.client.Collection(usersCollection).Doc(id).Update(ctx, updates)
	return mapFirestoreError(err)
}

func (f *Firestore) DeleteUser(ctx context.Context, id string) error {
	_, err := f.client.Collection(usersCollection).Doc(id).Delete(ctx, firestore.Exists)
	return mapFirestoreError(err)
}

func (f *Firestore) decodeReports(docs []*firestore.DocumentSnapshot) []models.Report {
	reports := make([]models.Report, 0, len(docs))
	for _, doc := range docs {
		r, err := decodeReport(doc)
		if err != nil {
			logrus.WithError(err).Warn("skipping undecodable report document")
			continue
		}
		reports = append(reports, r)
	}
	return reports
}

func (f *Firestore) ListReports(ctx context.Context) ([]models.Report, error) {
	docs, err := f.client.CollectionGroup(uploadsCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return f.decodeReports(docs), nil
}

func (f *Firestore) reportRef(userID, id string) *firestore.DocumentRef {
	return f.client.Collection(usersCollection).Doc(userID).Collection(uploadsCollection).Doc(id)
}

func (f *Firestore) GetReport(ctx context.Context, userID, id string) (*models.Report, error) {
	doc, err := f.reportRef(userID, id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	r, err := decodeReport(doc)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (f *Firestore) UpdateReportStatus(ctx context.Context, userID, id string, upd models.StatusUpdate) error {
	updates := []firestore.Update{{Path: "status", Value: upd.Status}}
	if upd.ResolvedImage != nil {
		updates = append(updates, firestore.Update{Path: "resolvedImage", Value: *upd.ResolvedImage})
	}
	if upd.StampResolvedAt {
		updates = append(updates, firestore.Update{Path: "resolvedAt", Value: firestore.ServerTimestamp})
	}
	_, err := f.reportRef(userID, id).Update(ctx, updates)
	return mapFirestoreError(err)
}

func (f *Firestore) WatchReports(ctx context.Context, fn func([]models.Report)) error {
	it := f.client.CollectionGroup(uploadsCollection).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			return snapshotError(ctx, err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		fn(f.decodeReports(docs))
	}
}

func snapshotError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	return err
}

func decodeIdentity(doc *firestore.DocumentSnapshot) (*models.Identity, error) {
	var ident models.Identity
	if err := doc.DataTo(&ident); err != nil {
		return nil, fmt.Errorf("decode identities/%s: %w", doc.Ref.ID, err)
	}
	ident.ID = doc.Ref.ID
	return &ident, nil
}

func (f *Firestore) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	doc, err := f.client.Collection(identitiesCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	return decodeIdentity(doc)
}

func (f *Firestore) findIdentity(ctx context.Context, field, value string) (*models.Identity, error) {
	docs, err := f.client.Collection(identitiesCollection).
		Where(field, "==", value).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return decodeIdentity(docs[0])
}

func (f *Firestore) FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return f.findIdentity(ctx, "email", strings.ToLower(email))
}

func (f *Firestore) FindIdentityByPhone(ctx context.Context, phone string) (*models.Identity, error) {
	return f.findIdentity(ctx, "phone", phone)
}

func (f *Firestore) CreateIdentity(ctx context.Context, ident *models.Identity) error {
	stored := *ident
	stored.Email = strings.ToLower(stored.Email)
	_, err := f.client.Collection(identitiesCollection).Doc(ident.ID).Create(ctx, stored)
	return mapFirestoreError(err)
}

func (f *Firestore) SaveIdentity(ctx context.Context, ident *models.Identity) error {
	stored := *ident
	stored.Email = strings.ToLower(stored.Email)
	_, err := f.client.Collection(identitiesCollection).Doc(ident.ID).Set(ctx, stored)
	return mapFirestoreError(err)
}
