package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UsageRecord 用户在某个成员上累计的用量
type UsageRecord struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UserID      string    `gorm:"size:255;not null;uniqueIndex:idx_usage_user_member" json:"user"`
	MemberID    string    `gorm:"size:255;not null;uniqueIndex:idx_usage_user_member" json:"member"`
	Consumption float64   `gorm:"not null;default:0" json:"consumption"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// Store persists usage records.
type Store struct {
	db *gorm.DB
}

// NewStore 创建用量存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the schema through gorm. Production deployments use
// the versioned migrations instead.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&UsageRecord{})
}

// Add accrues delta to every (user, member) pair in one transaction.
func (s *Store) Add(ctx context.Context, deltas map[Key]float64) error {
	if len(deltas) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, delta := range deltas {
			var rec UsageRecord
			err := tx.Where("user_id = ? AND member_id = ?", key.User, key.Member).First(&rec).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				rec = UsageRecord{UserID: key.User, MemberID: key.Member, Consumption: delta}
				if err := tx.Create(&rec).Error; err != nil {
					return fmt.Errorf("create usage record: %w", err)
				}
			case err != nil:
				return fmt.Errorf("load usage record: %w", err)
			default:
				if err := tx.Model(&rec).
					Update("consumption", gorm.Expr("consumption + ?", delta)).Error; err != nil {
					return fmt.Errorf("update usage record: %w", err)
				}
			}
		}
		return nil
	})
}

// ByUser returns the records of user ordered by member.
func (s *Store) ByUser(ctx context.Context, user string) ([]UsageRecord, error) {
	var recs []UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", user).
		Order("member_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list usage by user: %w", err)
	}
	return recs, nil
}

// MemberTotals sums consumption per member.
func (s *Store) MemberTotals(ctx context.Context) (map[string]float64, error) {
	var rows []struct {
		MemberID string
		Total    float64
	}
	err := s.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("member_id, SUM(consumption) AS total").
		Group("member_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum usage by member: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.MemberID] = row.Total
	}
	return out, nil
}

// UserTotals sums consumption per user.
func (s *Store) UserTotals(ctx context.Context) (map[string]float64, error) {
	var rows []struct {
		UserID string
		Total  float64
	}
	err := s.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("user_id, SUM(consumption) AS total").
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum usage by user: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.UserID] = row.Total
	}
	return out, nil
}
