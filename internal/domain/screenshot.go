package domain

import "time"

// Screenshot is a subject record referenced by take_screenshot Requests.
// Payload holds whatever the Hypervisor Adapter produced: UTF-8 decoded
// text when Store=db, or an opaque blob/url string when Store=hcp.
type Screenshot struct {
	ID         int64            `json:"id"`
	Machine    int64            `json:"machine"`
	Status     ScreenshotStatus `json:"status"`
	Store      ScreenshotStore  `json:"store"`
	Payload    string           `json:"payload,omitempty" redact:"truncate"`
	CreatedAt  time.Time        `json:"created_at"`
	ModifiedAt time.Time        `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (s *Screenshot) DocumentType() string { return "screenshot" }

// GetID implements store.Entity.
func (s *Screenshot) GetID() int64 { return s.ID }

// SetID implements store.Entity.
func (s *Screenshot) SetID(id int64) { s.ID = id }
