package repository

import (
	"context"
	"errors"

	"novelpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrChapterNotFound = errors.New("章节不存在")
	ErrNovelNotFound   = errors.New("小说不存在")
)

type ChapterRepository struct {
	db *gorm.DB
}

func NewChapterRepository(db *gorm.DB) *ChapterRepository {
	return &ChapterRepository{db: db}
}

func (r *ChapterRepository) GetByID(ctx context.Context, chapterID int64) (*model.Chapter, error) {
	var chapter model.Chapter
	err := r.db.WithContext(ctx).Where("id = ?", chapterID).First(&chapter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChapterNotFound
		}
		return nil, err
	}
	return &chapter, nil
}

// GetWithNovel 章节连同所属小说一起取出，购买前要用小说的发布者做归属判断
func (r *ChapterRepository) GetWithNovel(ctx context.Context, chapterID int64) (*model.Chapter, *model.Novel, error) {
	chapter, err := r.GetByID(ctx, chapterID)
	if err != nil {
		return nil, nil, err
	}

	var novel model.Novel
	err = r.db.WithContext(ctx).Where("id = ?", chapter.NovelID).First(&novel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNovelNotFound
		}
		return nil, nil, err
	}

	return chapter, &novel, nil
}

func (r *ChapterRepository) ListByNovelID(ctx context.Context, novelID int64, page, pageSize int) ([]*model.Chapter, int64, error) {
	var chapters []*model.Chapter
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Chapter{}).Where("novel_id = ?", novelID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("chapter_no ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&chapters).Error

	return chapters, total, err
}
