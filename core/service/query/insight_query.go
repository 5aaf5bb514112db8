// Package query turns page requests into provider listing queries and
// derives pagination metadata from the provider's total count.
package query

import (
	"fmt"
	"strings"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

const orderByNewest = "receivedDateTime desc"

// Builder holds the provider limits a query is clamped to.
type Builder struct {
	MaxPageSize     int
	DefaultPageSize int
	Strategy        domain.SearchStrategy
}

// NewBuilder creates a builder; non-positive sizes take the package defaults.
func NewBuilder(maxPageSize int, strategy domain.SearchStrategy) *Builder {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	def := DefaultPageSize
	if def > maxPageSize {
		def = maxPageSize
	}
	if strategy == "" {
		strategy = domain.SearchFilter
	}
	return &Builder{MaxPageSize: maxPageSize, DefaultPageSize: def, Strategy: strategy}
}

// Plan is a normalised page window plus the provider query that fetches it.
type Plan struct {
	Page     int
	PageSize int
	Query    *out.ProviderQuery
}

// BuildQuery builds a query with the default limits.
func BuildQuery(req domain.PageRequest) Plan {
	return NewBuilder(MaxPageSize, domain.SearchFilter).Build(req)
}

// Build normalises the page window and encodes the search term.
// A strategy on the request overrides the builder's default.
func (b *Builder) Build(req domain.PageRequest) Plan {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = b.DefaultPageSize
	}
	if pageSize > b.MaxPageSize {
		pageSize = b.MaxPageSize
	}

	q := &out.ProviderQuery{
		Folder:  normalizeFolder(req.Folder),
		Top:     pageSize,
		Skip:    (page - 1) * pageSize,
		OrderBy: orderByNewest,
		Select:  out.MessageFields,
	}

	term := strings.TrimSpace(req.Search)
	if term != "" {
		q.Term = term
		strategy := b.Strategy
		if req.Strategy != "" {
			strategy = req.Strategy
		}
		switch strategy {
		case domain.SearchNative:
			q.Search = NativeSearch(term)
			// Graph rejects $orderby combined with $search.
			q.OrderBy = ""
		default:
			q.Filter = SubjectSenderFilter(term)
		}
	}

	return Plan{Page: page, PageSize: pageSize, Query: q}
}

// EscapeODataString doubles single quotes for use inside an OData string literal.
func EscapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// SubjectSenderFilter matches term against subject, sender address and sender name.
func SubjectSenderFilter(term string) string {
	t := EscapeODataString(term)
	return fmt.Sprintf(
		"contains(subject,'%s') or contains(from/emailAddress/address,'%s') or contains(from/emailAddress/name,'%s')",
		t, t, t,
	)
}

// NativeSearch quotes term for the provider's $search parameter.
func NativeSearch(term string) string {
	t := strings.ReplaceAll(term, `\`, `\\`)
	t = strings.ReplaceAll(t, `"`, `\"`)
	return `"` + t + `"`
}

func normalizeFolder(folder string) string {
	switch f := strings.ToLower(strings.TrimSpace(folder)); f {
	case domain.FolderInbox, domain.FolderSent, domain.FolderDrafts,
		domain.FolderArchive, domain.FolderJunk, domain.FolderDeleted:
		return f
	case "trash":
		return domain.FolderDeleted
	case "spam":
		return domain.FolderJunk
	default:
		return domain.FolderInbox
	}
}

// DerivePagination computes page counts from the provider's total.
func DerivePagination(totalCount int64, page, pageSize int) domain.Pagination {
	p := domain.Pagination{
		Page:        page,
		PageSize:    pageSize,
		TotalCount:  totalCount,
		HasPrevious: page > 1,
	}
	if pageSize > 0 && totalCount > 0 {
		p.TotalPages = int((totalCount + int64(pageSize) - 1) / int64(pageSize))
	}
	p.HasMore = page < p.TotalPages
	return p
}
