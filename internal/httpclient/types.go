package httpclient

import "fmt"

// HTTPError is returned for responses outside the 2xx range
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// NewHTTPError creates an HTTPError
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// HTTPStatusCode returns the response status code
func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsClientError reports whether the server rejected the request (4xx)
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
