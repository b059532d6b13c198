package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/bytedance/sonic"
)

type SortField string

const (
	SortByID      SortField = "id"
	SortByCreated SortField = "created"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Criteria selects and orders documents. All query terms must match.
type Criteria struct {
	Query    string
	Filters  map[string]string
	Sort     SortField
	Desc     bool
	Page     int
	PageSize int
}

// Page is one page of results. Page numbers start at 1.
type Page[T Document] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

func (c Criteria) normalized() Criteria {
	if c.Page < 1 {
		c.Page = 1
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.Sort == "" {
		c.Sort = SortByID
	}
	return c
}

func (r *Redis) SearchSubmissions(ctx context.Context, c Criteria) (Page[SubmissionDocument], error) {
	return query[SubmissionDocument](ctx, r, SubmissionsIndex, c)
}

func (r *Redis) SearchQuotes(ctx context.Context, c Criteria) (Page[QuoteDocument], error) {
	return query[QuoteDocument](ctx, r, QuotesIndex, c)
}

func (r *Redis) SearchQuoteMessages(ctx context.Context, c Criteria) (Page[QuoteMessageDocument], error) {
	return query[QuoteMessageDocument](ctx, r, QuoteMessagesIndex, c)
}

func (r *Redis) SearchNotifications(ctx context.Context, c Criteria) (Page[NotificationDocument], error) {
	return query[NotificationDocument](ctx, r, NotificationsIndex, c)
}

// query loads every document of the index and filters, sorts and pages in
// process. It is a linear scan over the hash, suited to the data volumes of
// a single marketplace, not a full-text engine.
func query[T Document](ctx context.Context, r *Redis, index string, c Criteria) (Page[T], error) {
	c = c.normalized()
	raw, err := r.all(ctx, index)
	if err != nil {
		return Page[T]{}, err
	}
	terms := tokenize(c.Query)
	matched := make([]T, 0, len(raw))
	for _, s := range raw {
		var doc T
		if err := sonic.ConfigStd.UnmarshalFromString(s, &doc); err != nil {
			return Page[T]{}, fmt.Errorf("decode %s document: %w", index, err)
		}
		if matches(doc, terms, c.Filters) {
			matched = append(matched, doc)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		less := a.DocumentID() < b.DocumentID()
		if c.Sort == SortByCreated && !a.CreatedAt().Equal(b.CreatedAt()) {
			less = a.CreatedAt().Before(b.CreatedAt())
		}
		if c.Desc {
			return !less
		}
		return less
	})

	page := Page[T]{Total: len(matched), Page: c.Page, PageSize: c.PageSize, Items: []T{}}
	start := (c.Page - 1) * c.PageSize
	if start >= len(matched) {
		return page, nil
	}
	end := min(start+c.PageSize, len(matched))
	page.Items = matched[start:end]
	return page, nil
}

func matches(doc Document, terms []string, filters map[string]string) bool {
	if len(filters) > 0 {
		kw := doc.Keywords()
		for k, v := range filters {
			if v == "" {
				continue
			}
			if !strings.EqualFold(kw[k], v) {
				return false
			}
		}
	}
	if len(terms) == 0 {
		return true
	}
	tokens := tokenize(doc.SearchText())
	for _, term := range terms {
		found := false
		for _, tok := range tokens {
			if strings.HasPrefix(tok, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
