package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gardian_admin/internal/models"
)

// Notification channels raised by the triggers installed in config.InitDB.
const (
	ReportChangesChannel = "report_changes"
	UserChangesChannel   = "user_changes"
)

// Postgres implements Backend on gorm. Watches use a dedicated lib/pq listener connection
// opened from dsn.
type Postgres struct {
	db  *gorm.DB
	dsn string
}

// NewPostgres wraps an opened gorm handle.
func NewPostgres(db *gorm.DB, dsn string) *Postgres {
	return &Postgres{db: db, dsn: dsn}
}

func mapGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, mapGormError(err)
	}
	return &u, nil
}

func (p *Postgres) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	var users []models.User
	if err := p.db.WithContext(ctx).Where("role = ?", role).Order("created_at desc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (p *Postgres) PutUser(ctx context.Context, u *models.User) error {
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(userUpsertColumns(u)),
	}).Create(u).Error
	return mapGormError(err)
}

// userUpsertColumns lists the columns an upsert overwrites. An empty barangay or a missing
// original uid keeps the stored value, as a merge does on the other backends.
func userUpsertColumns(u *models.User) []string {
	cols := []string{"email", "first_name", "last_name", "phone", "status", "role", "created_at"}
	if u.Barangay != "" {
		cols = append(cols, "barangay")
	}
	if u.OriginalUID != nil {
		cols = append(cols, "original_uid")
	}
	return cols
}

func (p *Postgres) UpdateUser(ctx context.Context, id string, patch models.UserPatch) error {
	fields := map[string]interface{}{}
	if patch.Email != nil {
		fields["email"] = *patch.Email
	}
	if patch.FirstName != nil {
		fields["first_name"] = *patch.FirstName
	}
	if patch.LastName != nil {
		fields["last_name"] = *patch.LastName
	}
	if patch.Phone != nil {
		fields["phone"] = *patch.Phone
	}
	if patch.Status != nil {
		fields["status"] = *patch.Status
	}
	if len(fields) == 0 {
		return nil
	}
	res := p.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return mapGormError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteUser(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Where("id = ?", id).Delete(&models.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListReports(ctx context.Context) ([]models.Report, error) {
	var reports []models.Report
	if err := p.db.WithContext(ctx).Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

func (p *Postgres) GetReport(ctx context.Context, userID, id string) (*models.Report, error) {
	var r models.Report
	if err := p.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&r).Error; err != nil {
		return nil, mapGormError(err)
	}
	return &r, nil
}

func (p *Postgres) UpdateReportStatus(ctx context.Context, userID, id string, upd models.StatusUpdate) error {
	fields := map[string]interface{}{"status": upd.Status}
	if upd.ResolvedImage != nil {
		fields["resolved_image"] = *upd.ResolvedImage
	}
	if upd.StampResolvedAt {
		fields["resolved_at"] = gorm.Expr("NOW()")
	}
	res := p.db.WithContext(ctx).Model(&models.Report{}).
		Where("user_id = ? AND id = ?", userID, id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) WatchReports(ctx context.Context, fn func([]models.Report)) error {
	return p.watch(ctx, ReportChangesChannel, func() error {
		reports, err := p.ListReports(ctx)
		if err != nil {
			return err
		}
		fn(reports)
		return nil
	})
}

func (p *Postgres) WatchUsersByRole(ctx context.Context, role string, fn func([]models.User)) error {
	return p.watch(ctx, UserChangesChannel, func() error {
		users, err := p.ListUsersByRole(ctx, role)
		if err != nil {
			return err
		}
		fn(users)
		return nil
	})
}

// watch runs reload once, then again after every notification on channel. A nil notification
// means the listener reconnected and events may have been missed, so it also reloads.
func (p *Postgres) watch(ctx context.Context, channel string, reload func() error) error {
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).WithField("channel", channel).Warn("postgres listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	if err := reload(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			drainNotifications(listener.Notify)
			if n != nil {
				logrus.WithFields(logrus.Fields{"channel": n.Channel, "key": n.Extra}).Debug("change notification")
			}
			if err := reload(); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		case <-time.After(90 * time.Second):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).WithField("channel", channel).Warn("postgres listener ping failed")
			}
		}
	}
}

// drainNotifications folds a burst of notifications into one reload.
func drainNotifications(ch <-chan *pq.Notification) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (p *Postgres) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	var ident models.Identity
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&ident).Error; err != nil {
		return nil, mapGormError(err)
	}
	return &ident, nil
}

func (p *Postgres) FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var ident models.Identity
	err := p.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&ident).Error
	if err != nil {
		return nil, mapGormError(err)
	}
	return &ident, nil
}

func (p *Postgres) FindIdentityByPhone(ctx context.Context, phone string) (*models.Identity, error) {
	var ident models.Identity
	err := p.db.WithContext(ctx).Where("phone = ?", phone).First(&ident).Error
	if err != nil {
		return nil, mapGormError(err)
	}
	return &ident, nil
}

func (p *Postgres) CreateIdentity(ctx context.Context, ident *models.Identity) error {
	return mapGormError(p.db.WithContext(ctx).Create(ident).Error)
}

func (p *Postgres) SaveIdentity(ctx context.Context, ident *models.Identity) error {
	return mapGormError(p.db.WithContext(ctx).Save(ident).Error)
}
