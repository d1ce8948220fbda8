package domain

// Defaults substituted by the cleaner for missing values.
const (
	DefaultTitle  = "Untitled"
	DefaultBoard  = "Unknown"
	DefaultAuthor = "Unknown"
)

// Pin represents one harvested listing item as it moves through the pipeline.
type Pin struct {
	// Title is the display text of the pin.
	Title string `json:"title" db:"title"`

	// Description is optional free text.
	Description string `json:"description" db:"description"`

	// ImageURL is the media URL with its size query string stripped.
	ImageURL string `json:"image_url" db:"image_url"`

	// PinLink is the canonical permalink and the business key at every stage.
	PinLink string `json:"pin_link" db:"pin_link"`

	BoardName string `json:"board_name" db:"board_name"`
	Author    string `json:"author" db:"author"`

	// SaveCount is never negative.
	SaveCount int `json:"save_count" db:"save_count"`

	// ScrapedAt is the ISO-8601 collection timestamp.
	ScrapedAt string `json:"scraped_at" db:"scraped_at"`

	// LoadedAt is assigned per load batch and is empty before the load stage.
	LoadedAt string `json:"loaded_at,omitempty" db:"loaded_at"`
}

// Sample is a trimmed row used for smoke inspection after a load.
type Sample struct {
	Title     string `json:"title" db:"title"`
	Author    string `json:"author" db:"author"`
	SaveCount int    `json:"save_count" db:"save_count"`
}

// Stats summarises the contents of the store.
type Stats struct {
	TotalRecords      int      `json:"total_records"`
	RecordsWithImages int      `json:"records_with_images"`
	AverageSaveCount  float64  `json:"average_save_count"`
	SampleRecords     []Sample `json:"sample_records"`
}
