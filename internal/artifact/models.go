package artifact

import "time"

// Document is one version of a generated artifact. Versions are append-only:
// edits insert a new row under the same logical DocID, never mutate an old
// one. The current version is the most recently created row.
type Document struct {
	RowID     uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	DocID     string    `gorm:"type:varchar(36);index;not null" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);index;not null" json:"chat_id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Content   string    `gorm:"type:text" json:"content"`
	Kind      string    `gorm:"type:varchar(16);not null;default:code" json:"kind"`
	StlURL    *string   `gorm:"type:varchar(1024)" json:"stl_url"`
	StpURL    *string   `gorm:"type:varchar(1024)" json:"stp_url"`
	SvgURL    *string   `gorm:"type:varchar(1024)" json:"svg_url"`
	CreatedAt time.Time `json:"created_at"`
}

func (Document) TableName() string { return "documents" }

// Rendered reports whether the version has its derived artifacts. URLs are
// either all present or all absent; partial sets are never persisted.
func (d *Document) Rendered() bool {
	return d.StlURL != nil && d.StpURL != nil && d.SvgURL != nil
}

const KindCode = "code"
