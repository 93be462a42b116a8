// Package response holds the transport-neutral HTTP response produced by the
// authorization and token endpoints. Hosting layers copy it onto their own
// response writer; Write does so for net/http.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/giantswarm/oauth2-engine/oautherr"
)

// Response is an HTTP-like response: status, headers and body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// New creates an empty response with the given status
func New(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// JSON encodes v as an application/json response. Responses carrying
// credentials must not be cached, so no-store is always set.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	r := New(status)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Cache-Control", "no-store")
	r.Header.Set("Pragma", "no-cache")
	r.Body = body
	return r, nil
}

// Redirect builds a 302 Found response to location
func Redirect(location string) *Response {
	r := New(http.StatusFound)
	r.Header.Set("Location", location)
	r.Header.Set("Cache-Control", "no-store")
	return r
}

// HTML builds a text/html response
func HTML(status int, body []byte) *Response {
	r := New(status)
	r.Header.Set("Content-Type", "text/html; charset=utf-8")
	r.Header.Set("Cache-Control", "no-store")
	r.Header.Set("Pragma", "no-cache")
	r.Body = body
	return r
}

// Error renders err as a JSON OAuth error body with its status code.
// Errors that are not OAuth errors become a generic server_error.
func Error(err error) *Response {
	oe := oautherr.From(err)
	status := oe.Status
	if status == 0 {
		status = http.StatusBadRequest
	}

	body, _ := json.Marshal(oe.Parameters())
	r := New(status)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Cache-Control", "no-store")
	r.Header.Set("Pragma", "no-cache")
	r.Body = body
	return r
}

// Write copies the response onto w. Its headers replace headers of the same
// name already set on w.
func (r *Response) Write(w http.ResponseWriter) {
	for k, values := range r.Header {
		w.Header()[k] = append([]string(nil), values...)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}
