package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/chatterhq/chatter/internal/domain"
)

type roomRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Policy    string
	OwnerID   string
	CreatedAt time.Time
	Locked    bool
}

func (roomRow) TableName() string { return "rooms" }

type membershipRow struct {
	RoomID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey"`
	Role   string
}

func (membershipRow) TableName() string { return "memberships" }

type invitationRow struct {
	RoomID    string `gorm:"primaryKey"`
	InviteeID string `gorm:"primaryKey"`
	InviterID string
	Status    string
	CreatedAt time.Time
}

func (invitationRow) TableName() string { return "invitations" }

type banRow struct {
	RoomID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey"`
}

func (banRow) TableName() string { return "bans" }

type messageRow struct {
	RoomID     string `gorm:"primaryKey;index:idx_room_seq"`
	Seq        uint64 `gorm:"primaryKey;index:idx_room_seq"`
	SenderID   string
	SenderName string
	At         time.Time
	Body       string
}

func (messageRow) TableName() string { return "messages" }

// Gorm is the durable repository used outside tests. One instance is
// shared by the membership store and the async message writer.
type Gorm struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at dsn and migrates the
// schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(dsn string) (*Gorm, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&roomRow{}, &membershipRow{}, &invitationRow{}, &banRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

// InsertRoom refuses to overwrite an existing row, so a random id
// collision surfaces as ErrRoomExists and the store retries with a
// fresh id.
func (g *Gorm) InsertRoom(ctx context.Context, room *domain.Room) error {
	row := newRoomRow(room)
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRoomExists
	}
	return nil
}

func (g *Gorm) SaveRoom(ctx context.Context, room *domain.Room) error {
	row := newRoomRow(room)
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func newRoomRow(room *domain.Room) roomRow {
	return roomRow{
		ID:        string(room.ID),
		Name:      string(room.Name),
		Policy:    string(room.Policy),
		OwnerID:   string(room.OwnerID),
		CreatedAt: room.CreatedAt,
		Locked:    room.Locked,
	}
}

func (g *Gorm) Room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var row roomRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Room{
		ID:        domain.RoomID(row.ID),
		Name:      domain.RoomName(row.Name),
		Policy:    domain.Policy(row.Policy),
		OwnerID:   domain.UserID(row.OwnerID),
		CreatedAt: row.CreatedAt,
		Locked:    row.Locked,
	}, nil
}

func (g *Gorm) SaveMembership(ctx context.Context, m domain.Membership) error {
	row := membershipRow{RoomID: string(m.RoomID), UserID: string(m.UserID), Role: string(m.Role)}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (g *Gorm) DeleteMembership(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return g.db.WithContext(ctx).
		Delete(&membershipRow{}, "room_id = ? AND user_id = ?", string(roomID), string(userID)).Error
}

func (g *Gorm) Memberships(ctx context.Context, roomID domain.RoomID) ([]domain.Membership, error) {
	var rows []membershipRow
	if err := g.db.WithContext(ctx).Find(&rows, "room_id = ?", string(roomID)).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Membership, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Membership{
			RoomID: domain.RoomID(r.RoomID),
			UserID: domain.UserID(r.UserID),
			Role:   domain.Role(r.Role),
		})
	}
	return out, nil
}

func (g *Gorm) SaveInvitation(ctx context.Context, inv domain.Invitation) error {
	row := invitationRow{
		RoomID:    string(inv.RoomID),
		InviteeID: string(inv.InviteeID),
		InviterID: string(inv.InviterID),
		Status:    string(inv.Status),
		CreatedAt: inv.CreatedAt,
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (g *Gorm) Invitations(ctx context.Context, roomID domain.RoomID) ([]domain.Invitation, error) {
	var rows []invitationRow
	if err := g.db.WithContext(ctx).Find(&rows, "room_id = ?", string(roomID)).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Invitation, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Invitation{
			RoomID:    domain.RoomID(r.RoomID),
			InviteeID: domain.UserID(r.InviteeID),
			InviterID: domain.UserID(r.InviterID),
			Status:    domain.InviteStatus(r.Status),
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (g *Gorm) SaveBan(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	row := banRow{RoomID: string(roomID), UserID: string(userID)}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (g *Gorm) Bans(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	var rows []banRow
	if err := g.db.WithContext(ctx).Find(&rows, "room_id = ?", string(roomID)).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UserID, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.UserID(r.UserID))
	}
	return out, nil
}

func (g *Gorm) SaveMessage(ctx context.Context, msg domain.Message) error {
	row := messageRow{
		RoomID:     string(msg.RoomID),
		Seq:        msg.Seq,
		SenderID:   string(msg.SenderID),
		SenderName: msg.SenderName,
		At:         msg.At,
		Body:       msg.Body,
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// LastSequence returns the highest persisted sequence for a room, zero
// when the room has no messages.
func (g *Gorm) LastSequence(ctx context.Context, roomID domain.RoomID) (uint64, error) {
	var last *uint64
	err := g.db.WithContext(ctx).Model(&messageRow{}).
		Where("room_id = ?", string(roomID)).
		Select("MAX(seq)").Scan(&last).Error
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return *last, nil
}
