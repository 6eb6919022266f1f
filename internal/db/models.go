package db

// LineCountRow maps dedup.line_counts.
type LineCountRow struct {
	RunID    string `gorm:"column:run_id;type:text;primaryKey"`
	LineHash []byte `gorm:"column:line_hash;type:bytea;primaryKey"`
	Count    int64  `gorm:"column:count;type:bigint;not null;default:0"`
}

func (LineCountRow) TableName() string { return "dedup.line_counts" }

// SignatureRow maps dedup.signatures.
type SignatureRow struct {
	RunID     string `gorm:"column:run_id;type:text;primaryKey"`
	DocID     string `gorm:"column:doc_id;type:text;primaryKey"`
	Signature []byte `gorm:"column:signature;type:bytea;not null"`
}

func (SignatureRow) TableName() string { return "dedup.signatures" }

// BandMemberRow maps dedup.band_members.
type BandMemberRow struct {
	RunID     string `gorm:"column:run_id;type:text;primaryKey"`
	BandIndex int    `gorm:"column:band_index;type:integer;primaryKey"`
	BandValue []byte `gorm:"column:band_value;type:bytea;primaryKey"`
	DocID     string `gorm:"column:doc_id;type:text;primaryKey"`
}

func (BandMemberRow) TableName() string { return "dedup.band_members" }

func autoMigrateModels() []any {
	return []any{
		&LineCountRow{},
		&SignatureRow{},
		&BandMemberRow{},
	}
}
