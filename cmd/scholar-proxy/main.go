package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/scholarly-go/semantic-scholar-client/pkg/cache"
	"github.com/scholarly-go/semantic-scholar-client/pkg/client"
	"github.com/scholarly-go/semantic-scholar-client/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	port := getEnv("PORT", "8080")

	cfg := client.DefaultConfig()
	cfg.APIKey = os.Getenv("SEMANTIC_SCHOLAR_API_KEY")
	if rps := os.Getenv("REQUESTS_PER_SECOND"); rps != "" {
		if parsed, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RequestsPerSecond = parsed
		}
	}

	// Optional shared cache backend. Without REDIS_URL the in-process
	// LRU cache is used.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		cfg.Store = cache.NewRedisStore(redisClient, logging.NewLogger("redis-cache"))
		logger.Info().Str("addr", redisURL).Msg("Using Redis cache backend")
	}

	scholarClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create client")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(scholarClient))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/papers/search", searchPapersHandler(scholarClient))
	mux.HandleFunc("GET /v1/papers/{id}", getPaperHandler(scholarClient))
	mux.HandleFunc("GET /v1/papers/{id}/citations", paperRelationHandler(scholarClient, "citations"))
	mux.HandleFunc("GET /v1/papers/{id}/references", paperRelationHandler(scholarClient, "references"))
	mux.HandleFunc("GET /v1/papers/{id}/recommendations", recommendationsHandler(scholarClient))
	mux.HandleFunc("POST /v1/papers/batch", batchHandler(scholarClient))
	mux.HandleFunc("GET /v1/authors/search", searchAuthorsHandler(scholarClient))
	mux.HandleFunc("GET /v1/authors/{id}", getAuthorHandler(scholarClient))
	mux.HandleFunc("GET /v1/authors/{id}/papers", authorPapersHandler(scholarClient))

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Bool("api_key", cfg.APIKey != "").
		Msg("Starting scholar proxy server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.HealthCheck())
	}
}

func searchPapersHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offset, limit, ok := pageParams(w, q)
		if !ok {
			return
		}

		payload, err := c.SearchPapers(r.Context(), client.SearchQuery{
			Query:         q.Get("query"),
			Offset:        offset,
			Limit:         limit,
			Year:          q.Get("year"),
			FieldsOfStudy: splitParam(q.Get("fieldsOfStudy")),
			Fields:        splitParam(q.Get("fields")),
		})
		writeResult(w, payload, err)
	}
}

func getPaperHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		payload, err := c.GetPaper(r.Context(), r.PathValue("id"), client.GetPaperOptions{
			Fields:            splitParam(q.Get("fields")),
			IncludeCitations:  q.Get("includeCitations") == "true",
			IncludeReferences: q.Get("includeReferences") == "true",
		})
		writeResult(w, payload, err)
	}
}

func paperRelationHandler(c *client.Client, relation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit, ok := pageParams(w, r.URL.Query())
		if !ok {
			return
		}

		var payload json.RawMessage
		var err error
		if relation == "citations" {
			payload, err = c.GetPaperCitations(r.Context(), r.PathValue("id"), offset, limit)
		} else {
			payload, err = c.GetPaperReferences(r.Context(), r.PathValue("id"), offset, limit)
		}
		writeResult(w, payload, err)
	}
}

func recommendationsHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := intParam(w, r.URL.Query(), "limit")
		if !ok {
			return
		}
		payload, err := c.GetRecommendations(r.Context(), r.PathValue("id"), limit)
		writeResult(w, payload, err)
	}
}

func batchHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs    []string `json:"ids"`
			Fields []string `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, &client.APIError{
				Kind:    client.KindValidation,
				Message: "invalid JSON body",
			})
			return
		}
		payload, err := c.BatchGetPapers(r.Context(), body.IDs, body.Fields)
		writeResult(w, payload, err)
	}
}

func searchAuthorsHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offset, limit, ok := pageParams(w, q)
		if !ok {
			return
		}
		payload, err := c.SearchAuthors(r.Context(), q.Get("query"), offset, limit)
		writeResult(w, payload, err)
	}
}

func getAuthorHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := c.GetAuthor(r.Context(), r.PathValue("id"), splitParam(r.URL.Query().Get("fields")))
		writeResult(w, payload, err)
	}
}

func authorPapersHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit, ok := pageParams(w, r.URL.Query())
		if !ok {
			return
		}
		payload, err := c.GetAuthorPapers(r.Context(), r.PathValue("id"), offset, limit)
		writeResult(w, payload, err)
	}
}

// writeResult writes the raw upstream payload, or maps a classified error
// to an HTTP response.
func writeResult(w http.ResponseWriter, payload json.RawMessage, err error) {
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			writeError(w, apiErr)
			return
		}
		writeError(w, &client.APIError{Kind: client.KindInternal, Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

type errorBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// writeError maps an error kind to a stable HTTP status and error code.
func writeError(w http.ResponseWriter, apiErr *client.APIError) {
	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case client.KindValidation:
		status = http.StatusBadRequest
	case client.KindNotFound:
		status = http.StatusNotFound
	case client.KindRateLimited:
		status = http.StatusTooManyRequests
	case client.KindServiceUnavailable, client.KindCircuitOpen:
		status = http.StatusServiceUnavailable
	case client.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	body := errorBody{
		Code:    string(apiErr.Kind),
		Message: apiErr.Message,
	}
	if apiErr.RetryAfter > 0 {
		seconds := int(apiErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		body.RetryAfterSeconds = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pageParams parses optional offset and limit query parameters, writing a
// validation error on malformed input.
func pageParams(w http.ResponseWriter, q map[string][]string) (offset, limit int, ok bool) {
	values := func(key string) string {
		if vs := q[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"offset", &offset}, {"limit", &limit}} {
		raw := values(p.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, &client.APIError{
				Kind:    client.KindValidation,
				Message: p.name + " must be an integer",
			})
			return 0, 0, false
		}
		*p.dst = parsed
	}
	return offset, limit, true
}

func intParam(w http.ResponseWriter, q map[string][]string, name string) (int, bool) {
	vs := q[name]
	if len(vs) == 0 || vs[0] == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(vs[0])
	if err != nil {
		writeError(w, &client.APIError{
			Kind:    client.KindValidation,
			Message: name + " must be an integer",
		})
		return 0, false
	}
	return parsed, true
}

func splitParam(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
