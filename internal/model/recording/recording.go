package recording

import "time"

// Recording describes a finished upload available for download.
type Recording struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
