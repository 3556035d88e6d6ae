// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
)

// GetAndValidateURLParam extracts and decodes a URL parameter. The decoded
// value must be non-empty and free of whitespace.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}
	return decoded, nil
}

// ParseQuery reads the since and until query parameters into a sync query.
// The query is validated by the cycle that runs it.
func ParseQuery(r *http.Request) pkgsync.Query {
	values := r.URL.Query()
	return pkgsync.Query{
		Since: strings.TrimSpace(values.Get("since")),
		Until: strings.TrimSpace(values.Get("until")),
	}
}
