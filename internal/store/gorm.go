package store

import (
	"errors"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 建立到 Postgres 的连接，带简单重试以等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 自动迁移 relay 涉及的全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.Message{},
		&models.BlockRelation{},
		&models.ChatCutoff{},
		&models.RefreshToken{},
	)
}

// Gorm 是 Store 的持久化实现，所有写路径落在 Postgres 上。
type Gorm struct {
	db *gorm.DB
}

func NewGorm(gdb *gorm.DB) *Gorm { return &Gorm{db: gdb} }

func (s *Gorm) CreateUser(u *models.User) error {
	return s.db.Create(u).Error
}

func (s *Gorm) UserByID(id uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *Gorm) UserByUsername(username string) (*models.User, error) {
	var u models.User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *Gorm) SearchUsers(q string, limit int) ([]models.User, error) {
	var users []models.User
	err := s.db.Where("username LIKE ?", q+"%").Order("username").Limit(limit).Find(&users).Error
	return users, err
}

func (s *Gorm) SetOnline(userID uint, online bool, at time.Time) error {
	return s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": online, "last_seen": at}).Error
}

func (s *Gorm) GetOrCreateChat(a, b uint) (*models.Chat, error) {
	lo, hi := pairKey(a, b)
	var chat models.Chat
	err := s.db.Where("user_a_id = ? AND user_b_id = ?", lo, hi).
		FirstOrCreate(&chat, models.Chat{UserAID: lo, UserBID: hi}).Error
	if err != nil {
		// 并发首次接触会撞 (user_a_id, user_b_id) 唯一索引，重查一次即可
		if err2 := s.db.Where("user_a_id = ? AND user_b_id = ?", lo, hi).First(&chat).Error; err2 == nil {
			return &chat, nil
		}
		return nil, err
	}
	return &chat, nil
}

func (s *Gorm) ChatByID(id uint) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.First(&chat, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &chat, nil
}

func (s *Gorm) ChatsForUser(userID uint) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.Model(&models.Chat{}).
		Joins("LEFT JOIN chat_cutoffs cc ON cc.chat_id = chats.id AND cc.user_id = ?", userID).
		Where("chats.user_a_id = ? OR chats.user_b_id = ?", userID, userID).
		Where("cc.id IS NULL OR chats.last_message_at > cc.deleted_at").
		Order("chats.last_message_at DESC").
		Find(&chats).Error
	return chats, err
}

func (s *Gorm) CreateMessage(m *models.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.First(&chat, m.ChatID).Error; err != nil {
			return wrapNotFound(err)
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		// last_message_at 单调不减：两个发送方并发写同一会话时，事务内早先读到的
		// 快照不可靠，必须让数据库自己比较
		updates := map[string]interface{}{
			"last_message_id": m.ID,
			"last_message_at": gorm.Expr("GREATEST(last_message_at, ?)", m.CreatedAt),
		}
		if m.ReceiverID == chat.UserAID {
			updates["unread_a"] = gorm.Expr("unread_a + 1")
		} else {
			updates["unread_b"] = gorm.Expr("unread_b + 1")
		}
		return tx.Model(&models.Chat{}).Where("id = ?", chat.ID).Updates(updates).Error
	})
}

func (s *Gorm) MessagesForChat(chatID, userID uint, limit int, beforeID uint) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Where("chat_id = ? AND expires_at > ?", chatID, time.Now())
	cut, ok, err := s.CutoffFor(userID, chatID)
	if err != nil {
		return nil, err
	}
	if ok {
		q = q.Where("created_at > ?", cut)
	}
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Gorm) MarkRead(chatID, userID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.First(&chat, chatID).Error; err != nil {
			return wrapNotFound(err)
		}
		col := "unread_b"
		if userID == chat.UserAID {
			col = "unread_a"
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Update(col, 0).Error; err != nil {
			return err
		}
		return tx.Model(&models.Message{}).
			Where("chat_id = ? AND receiver_id = ? AND is_read = ?", chatID, userID, false).
			Update("is_read", true).Error
	})
}

func (s *Gorm) DeleteExpired(now time.Time) (int64, error) {
	res := s.db.Where("expires_at <= ?", now).Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func (s *Gorm) SetCutoff(userID, chatID uint, at time.Time) error {
	// 墓碑只向前推，更早的时间戳不生效
	res := s.db.Model(&models.ChatCutoff{}).
		Where("user_id = ? AND chat_id = ? AND deleted_at < ?", userID, chatID, at).
		Update("deleted_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// 没有行被更新：要么墓碑不存在，要么已有更晚的墓碑
	err := s.db.Create(&models.ChatCutoff{UserID: userID, ChatID: chatID, DeletedAt: at}).Error
	if err != nil {
		var cc models.ChatCutoff
		if err2 := s.db.Where("user_id = ? AND chat_id = ?", userID, chatID).First(&cc).Error; err2 == nil {
			return nil
		}
	}
	return err
}

func (s *Gorm) CutoffFor(userID, chatID uint) (time.Time, bool, error) {
	var cc models.ChatCutoff
	err := s.db.Where("user_id = ? AND chat_id = ?", userID, chatID).First(&cc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return cc.DeletedAt, true, nil
}

func (s *Gorm) SetBlock(blockerID, blockedID uint) error {
	var rel models.BlockRelation
	return s.db.Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		FirstOrCreate(&rel, models.BlockRelation{BlockerID: blockerID, BlockedID: blockedID}).Error
}

func (s *Gorm) IsBlocked(blockerID, blockedID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.BlockRelation{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).Count(&count).Error
	return count > 0, err
}

func (s *Gorm) SaveRefreshToken(userID uint, token string, expiresAt time.Time) error {
	return s.db.Create(&models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}).Error
}

func (s *Gorm) RotateRefreshToken(oldToken, newToken string, expiresAt time.Time) (uint, error) {
	var userID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rt models.RefreshToken
		err := tx.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", oldToken, time.Now()).First(&rt).Error
		if err != nil {
			return wrapNotFound(err)
		}
		now := time.Now()
		if err := tx.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked_at", &now).Error; err != nil {
			return err
		}
		userID = rt.UserID
		return tx.Create(&models.RefreshToken{UserID: rt.UserID, Token: newToken, ExpiresAt: expiresAt}).Error
	})
	return userID, err
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
