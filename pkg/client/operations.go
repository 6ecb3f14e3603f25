package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/scholarly-go/semantic-scholar-client/pkg/pagination"
)

// Default and maximum page sizes for the listing operations, matching the
// upstream API limits.
const (
	defaultPageLimit = 100
	maxPageLimit     = 1000

	defaultRecommendations = 10
	maxRecommendations     = 100

	maxBatchIDs = 500
)

// SearchQuery holds the parameters of a paper search.
type SearchQuery struct {
	// Query is the full-text search string. Required.
	Query string

	// Offset and Limit page through the result set. Limit defaults to
	// defaultPageLimit and is capped at maxPageLimit.
	Offset int
	Limit  int

	// Year filters by publication year or range (e.g., "2020", "2018-2022").
	Year string

	// FieldsOfStudy restricts results to the given disciplines.
	FieldsOfStudy []string

	// Fields selects which paper attributes the response includes.
	Fields []string
}

// SearchPapers searches for papers matching q.
func (c *Client) SearchPapers(ctx context.Context, q SearchQuery) (json.RawMessage, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "search query must not be empty"}
	}
	limit, err := normalizeLimit(q.Limit, defaultPageLimit, maxPageLimit)
	if err != nil {
		return nil, err
	}
	if q.Offset < 0 {
		return nil, &APIError{Kind: KindValidation, Message: "offset must not be negative"}
	}

	query := url.Values{}
	query.Set("query", q.Query)
	query.Set("offset", strconv.Itoa(q.Offset))
	query.Set("limit", strconv.Itoa(limit))
	params := map[string]string{
		"query":  q.Query,
		"offset": strconv.Itoa(q.Offset),
		"limit":  strconv.Itoa(limit),
	}
	if q.Year != "" {
		query.Set("year", q.Year)
		params["year"] = q.Year
	}
	if len(q.FieldsOfStudy) > 0 {
		fos := strings.Join(q.FieldsOfStudy, ",")
		query.Set("fieldsOfStudy", fos)
		params["fieldsOfStudy"] = fos
	}
	if len(q.Fields) > 0 {
		fields := strings.Join(q.Fields, ",")
		query.Set("fields", fields)
		params["fields"] = fields
	}

	return c.Execute(ctx, Request{
		Operation: "searchPapers",
		Method:    http.MethodGet,
		Path:      "/graph/v1/paper/search",
		Params:    params,
		Query:     query,
		Cacheable: true,
	})
}

// GetPaperOptions controls optional enrichment of a paper lookup.
type GetPaperOptions struct {
	// Fields selects which paper attributes the response includes.
	Fields []string

	// IncludeCitations and IncludeReferences attach the first page of the
	// paper's citation and reference lists. Enriched lookups bypass the
	// response cache because the merged document has no stable identity.
	IncludeCitations  bool
	IncludeReferences bool
}

// GetPaper fetches a single paper by its Semantic Scholar ID, DOI, or
// ArXiv ID.
func (c *Client) GetPaper(ctx context.Context, paperID string, opts GetPaperOptions) (json.RawMessage, error) {
	if strings.TrimSpace(paperID) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "paper ID must not be empty"}
	}

	query := url.Values{}
	params := map[string]string{"id": paperID}
	if len(opts.Fields) > 0 {
		fields := strings.Join(opts.Fields, ",")
		query.Set("fields", fields)
		params["fields"] = fields
	}

	paper, err := c.Execute(ctx, Request{
		Operation: "getPaper",
		Method:    http.MethodGet,
		Path:      "/graph/v1/paper/" + url.PathEscape(paperID),
		Params:    params,
		Query:     query,
		Cacheable: !opts.IncludeCitations && !opts.IncludeReferences,
	})
	if err != nil {
		return nil, err
	}
	if !opts.IncludeCitations && !opts.IncludeReferences {
		return paper, nil
	}

	// Merge the expansions into the paper document. Each expansion is its
	// own upstream call subject to the same resilience pipeline.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(paper, &doc); err != nil {
		return nil, &APIError{Kind: KindInternal, Message: "decode paper document", Err: err}
	}
	if opts.IncludeCitations {
		citations, err := c.GetPaperCitations(ctx, paperID, 0, defaultPageLimit)
		if err != nil {
			return nil, err
		}
		doc["citations"] = citations
	}
	if opts.IncludeReferences {
		references, err := c.GetPaperReferences(ctx, paperID, 0, defaultPageLimit)
		if err != nil {
			return nil, err
		}
		doc["references"] = references
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, &APIError{Kind: KindInternal, Message: "encode enriched paper", Err: err}
	}
	return merged, nil
}

// GetPaperCitations lists papers that cite the given paper.
func (c *Client) GetPaperCitations(ctx context.Context, paperID string, offset, limit int) (json.RawMessage, error) {
	return c.paperRelation(ctx, "getPaperCitations", "citations", paperID, offset, limit)
}

// GetPaperReferences lists papers the given paper cites.
func (c *Client) GetPaperReferences(ctx context.Context, paperID string, offset, limit int) (json.RawMessage, error) {
	return c.paperRelation(ctx, "getPaperReferences", "references", paperID, offset, limit)
}

func (c *Client) paperRelation(ctx context.Context, operation, relation, paperID string, offset, limit int) (json.RawMessage, error) {
	if strings.TrimSpace(paperID) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "paper ID must not be empty"}
	}
	limit, err := normalizeLimit(limit, defaultPageLimit, maxPageLimit)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, &APIError{Kind: KindValidation, Message: "offset must not be negative"}
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	return c.Execute(ctx, Request{
		Operation: operation,
		Method:    http.MethodGet,
		Path:      "/graph/v1/paper/" + url.PathEscape(paperID) + "/" + relation,
		Params: map[string]string{
			"id":     paperID,
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		},
		Query:     query,
		Cacheable: true,
	})
}

// GetAuthor fetches a single author by their Semantic Scholar ID.
func (c *Client) GetAuthor(ctx context.Context, authorID string, fields []string) (json.RawMessage, error) {
	if strings.TrimSpace(authorID) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "author ID must not be empty"}
	}

	query := url.Values{}
	params := map[string]string{"id": authorID}
	if len(fields) > 0 {
		joined := strings.Join(fields, ",")
		query.Set("fields", joined)
		params["fields"] = joined
	}

	return c.Execute(ctx, Request{
		Operation: "getAuthor",
		Method:    http.MethodGet,
		Path:      "/graph/v1/author/" + url.PathEscape(authorID),
		Params:    params,
		Query:     query,
		Cacheable: true,
	})
}

// GetAuthorPapers lists the papers written by the given author.
func (c *Client) GetAuthorPapers(ctx context.Context, authorID string, offset, limit int) (json.RawMessage, error) {
	if strings.TrimSpace(authorID) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "author ID must not be empty"}
	}
	limit, err := normalizeLimit(limit, defaultPageLimit, maxPageLimit)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, &APIError{Kind: KindValidation, Message: "offset must not be negative"}
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	return c.Execute(ctx, Request{
		Operation: "getAuthorPapers",
		Method:    http.MethodGet,
		Path:      "/graph/v1/author/" + url.PathEscape(authorID) + "/papers",
		Params: map[string]string{
			"id":     authorID,
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		},
		Query:     query,
		Cacheable: true,
	})
}

// SearchAuthors searches for authors by name.
func (c *Client) SearchAuthors(ctx context.Context, name string, offset, limit int) (json.RawMessage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "author search query must not be empty"}
	}
	limit, err := normalizeLimit(limit, defaultPageLimit, maxPageLimit)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, &APIError{Kind: KindValidation, Message: "offset must not be negative"}
	}

	query := url.Values{}
	query.Set("query", name)
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	return c.Execute(ctx, Request{
		Operation: "searchAuthors",
		Method:    http.MethodGet,
		Path:      "/graph/v1/author/search",
		Params: map[string]string{
			"query":  name,
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		},
		Query:     query,
		Cacheable: true,
	})
}

// GetRecommendations lists papers recommended based on the given paper.
// Limit defaults to defaultRecommendations and is capped at
// maxRecommendations.
func (c *Client) GetRecommendations(ctx context.Context, paperID string, limit int) (json.RawMessage, error) {
	if strings.TrimSpace(paperID) == "" {
		return nil, &APIError{Kind: KindValidation, Message: "paper ID must not be empty"}
	}
	limit, err := normalizeLimit(limit, defaultRecommendations, maxRecommendations)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	return c.Execute(ctx, Request{
		Operation: "getRecommendations",
		Method:    http.MethodGet,
		Path:      "/recommendations/v1/papers/forpaper/" + url.PathEscape(paperID),
		Params: map[string]string{
			"id":    paperID,
			"limit": strconv.Itoa(limit),
		},
		Query:     query,
		Cacheable: true,
	})
}

// BatchGetPapers fetches up to maxBatchIDs papers in one call. Batch
// responses are never cached; the ID set has no stable single-entity key.
func (c *Client) BatchGetPapers(ctx context.Context, paperIDs []string, fields []string) (json.RawMessage, error) {
	if len(paperIDs) == 0 {
		return nil, &APIError{Kind: KindValidation, Message: "paper ID list must not be empty"}
	}
	if len(paperIDs) > maxBatchIDs {
		return nil, &APIError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("batch size %d exceeds maximum of %d", len(paperIDs), maxBatchIDs),
		}
	}

	body, err := json.Marshal(map[string][]string{"ids": paperIDs})
	if err != nil {
		return nil, &APIError{Kind: KindInternal, Message: "encode batch request", Err: err}
	}

	query := url.Values{}
	if len(fields) > 0 {
		query.Set("fields", strings.Join(fields, ","))
	}

	return c.Execute(ctx, Request{
		Operation: "batchGetPapers",
		Method:    http.MethodPost,
		Path:      "/graph/v1/paper/batch",
		Query:     query,
		Body:      body,
		Cacheable: false,
	})
}

// SearchPager adapts a paper search to the pagination worker pool, so all
// pages of a result set can be fetched with pagination.NewBatchFetcher.
// Each page reports the result set's total record count from the response
// envelope.
func (c *Client) SearchPager(q SearchQuery) pagination.PageFetcher {
	return pagination.PageFetcherFunc(func(ctx context.Context, offset, limit int) ([]byte, int, error) {
		page := q
		page.Offset = offset
		page.Limit = limit

		payload, err := c.SearchPapers(ctx, page)
		if err != nil {
			return nil, 0, err
		}

		var envelope struct {
			Total int `json:"total"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, 0, &APIError{Kind: KindInternal, Message: "decode search envelope", Err: err}
		}
		return payload, envelope.Total, nil
	})
}

// normalizeLimit applies the default when limit is zero and validates the
// upper bound.
func normalizeLimit(limit, def, max int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 0 || limit > max {
		return 0, &APIError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("limit must be between 1 and %d", max),
		}
	}
	return limit, nil
}
