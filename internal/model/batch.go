package model

// Upload is the payload of a CSV upload: a table name, its columns, and
// rows of string cells aligned to the column order.
type Upload struct {
	CsvName string     `json:"csvName" validate:"required,sqlident"`
	Fields  FieldMap   `json:"fields" validate:"required,min=1"`
	Rows    [][]string `json:"rows" validate:"required"`
	// IsFirstBatch is honoured on the direct path; absent means true.
	IsFirstBatch *bool `json:"isFirstBatch,omitempty"`
}

// FirstBatch resolves the optional flag.
func (u *Upload) FirstBatch() bool {
	return u.IsFirstBatch == nil || *u.IsFirstBatch
}

// Batch is one slice of an upload as carried over the queue.
type Batch struct {
	CsvName         string     `json:"csvName"`
	Fields          FieldMap   `json:"fields"`
	Rows            [][]string `json:"rows"`
	BatchNumber     int        `json:"batchNumber"`
	TotalBatches    int        `json:"totalBatches,omitempty"`
	IsFirstBatch    bool       `json:"isFirstBatch"`
	NotificationKey string     `json:"notificationKey,omitempty"`
}

// BatchFromUpload wraps a direct upload as a single batch.
func BatchFromUpload(u *Upload) *Batch {
	return &Batch{
		CsvName:      u.CsvName,
		Fields:       u.Fields,
		Rows:         u.Rows,
		BatchNumber:  1,
		TotalBatches: 1,
		IsFirstBatch: u.FirstBatch(),
	}
}
