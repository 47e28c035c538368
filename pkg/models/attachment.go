package models

// Item types reserved by the runtime. Repos of these types skip connector normalization.
const (
	ItemTypeExternalDomainMetadata = "external_domain_metadata"
	ItemTypeAttachments            = "attachments"
	ItemTypeSsorAttachment         = "ssor_attachment"
)

// IsReservedItemType reports whether the item type is owned by the runtime.
func IsReservedItemType(itemType string) bool {
	switch itemType {
	case ItemTypeExternalDomainMetadata, ItemTypeAttachments, ItemTypeSsorAttachment:
		return true
	}
	return false
}

// Artifact is an uploaded batch of records referenced by terminal events.
type Artifact struct {
	ID        string `json:"id"`
	ItemType  string `json:"item_type"`
	ItemCount int    `json:"item_count"`
}

// NormalizedAttachment is an attachment described by the connector.
type NormalizedAttachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	ParentID string `json:"parent_id"`
	AuthorID string `json:"author_id,omitempty"`
	Inline   *bool  `json:"inline,omitempty"`
}

// ExternalRef wraps an external system id.
type ExternalRef struct {
	External string `json:"external"`
}

// SsorAttachmentID links the uploaded artifact to the external attachment.
type SsorAttachmentID struct {
	DevRev   string `json:"devrev"`
	External string `json:"external"`
}

// SsorAttachment records an attachment that was streamed to the platform.
type SsorAttachment struct {
	ID       SsorAttachmentID `json:"id"`
	ParentID ExternalRef      `json:"parent_id"`
	ActorID  *ExternalRef     `json:"actor_id,omitempty"`
	Inline   *bool            `json:"inline,omitempty"`
}

// ExternalSystemAttachment is an attachment record of a loading transformer file.
type ExternalSystemAttachment struct {
	ReferenceID       string `json:"reference_id"`
	ParentType        string `json:"parent_type"`
	ParentReferenceID string `json:"parent_reference_id"`
	FileName          string `json:"file_name"`
	FileType          string `json:"file_type"`
	FileSize          int64  `json:"file_size"`
	URL               string `json:"url"`
	ValidUntil        string `json:"valid_until"`
	CreatedByID       string `json:"created_by_id"`
	CreatedDate       string `json:"created_date"`
	ModifiedByID      string `json:"modified_by_id"`
	ModifiedDate      string `json:"modified_date"`
	ParentID          string `json:"parent_id,omitempty"`
	GrandParentID     string `json:"grand_parent_id,omitempty"`
}
