package domain

// SearchStrategy selects how a search term reaches the provider.
type SearchStrategy string

const (
	// SearchFilter builds an escaped OData $filter over subject and sender.
	SearchFilter SearchStrategy = "filter"
	// SearchNative uses the provider's own search parameter.
	SearchNative SearchStrategy = "native"
)

// ParseSearchStrategy defaults to SearchFilter.
func ParseSearchStrategy(s string) SearchStrategy {
	if SearchStrategy(s) == SearchNative {
		return SearchNative
	}
	return SearchFilter
}

// Folder names accepted by the listing endpoint.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderDrafts  = "drafts"
	FolderArchive = "archive"
	FolderJunk    = "junk"
	FolderDeleted = "deleted"
)

// PageRequest is what a caller asks for when listing a mailbox page.
type PageRequest struct {
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	Search   string         `json:"search,omitempty"`
	Folder   string         `json:"folder,omitempty"`
	Strategy SearchStrategy `json:"strategy,omitempty"`

	// Analyze attaches per-message analysis; Threads adds thread analysis.
	Analyze bool `json:"analyze"`
	Threads bool `json:"threads"`
}

// Pagination is derived from the provider's total count.
type Pagination struct {
	Page        int   `json:"page"`
	PageSize    int   `json:"pageSize"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	HasMore     bool  `json:"hasMore"`
	HasPrevious bool  `json:"hasPrevious"`
}

// EmailPage is one listed page with its conversations.
type EmailPage struct {
	Emails        []*EmailMessage `json:"emails"`
	Conversations []*Conversation `json:"conversations"`
	Pagination    Pagination      `json:"pagination"`
}
