package model

import (
	"time"
)

// Novel 小说表（最小字段集，只服务于购买流程的归属判断）
type Novel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	PosterID  int64     `gorm:"index;not null" json:"poster_id"` // 发布者，发布者阅读自己的章节不需要购买
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Novel) TableName() string {
	return "novel"
}

// Chapter 章节表
// is_locked=true 的章节需要购买后才能阅读，price_xu 默认 10
type Chapter struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	NovelID   int64     `gorm:"index;not null" json:"novel_id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	ChapterNo int       `gorm:"not null;default:0" json:"chapter_no"`
	PriceXu   int64     `gorm:"not null;default:10" json:"price_xu"` // 购买价格（硬币）
	IsLocked  bool      `gorm:"not null;default:false" json:"is_locked"`
	WordCount int       `gorm:"not null;default:0" json:"word_count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Chapter) TableName() string {
	return "chapter"
}
