package artifact

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/morphly-app/morphly/internal/cad"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateVersion(ctx context.Context, d *Document) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// GetLatest returns the current version of the logical document, or nil when
// it does not exist.
func (r *Repo) GetLatest(ctx context.Context, docID string) (*Document, error) {
	var d Document
	err := r.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("created_at DESC, row_id DESC").
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// ListVersions returns all versions of the logical document, oldest first.
func (r *Repo) ListVersions(ctx context.Context, docID string) ([]Document, error) {
	var docs []Document
	err := r.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("created_at ASC, row_id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// SetArtifactURLs writes all three derived URLs in one update so a version is
// never persisted partially rendered.
func (r *Repo) SetArtifactURLs(ctx context.Context, rowID uint64, res *cad.Result) error {
	return r.db.WithContext(ctx).Model(&Document{}).
		Where("row_id = ?", rowID).
		Updates(map[string]any{
			"stl_url": res.StlURL,
			"stp_url": res.StpURL,
			"svg_url": res.SvgURL,
		}).Error
}
