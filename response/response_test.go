package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-engine/oautherr"
)

func TestJSON(t *testing.T) {
	r, err := JSON(http.StatusOK, map[string]any{"access_token": "abc"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, r.Status)
	assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", r.Header.Get("Pragma"))
	assert.JSONEq(t, `{"access_token":"abc"}`, string(r.Body))
}

func TestError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "oauth error",
			err:        oautherr.InvalidClient("Client authentication failed."),
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"invalid_client","error_description":"Client authentication failed."}`,
		},
		{
			name:       "internal error is not leaked",
			err:        errors.New("dial tcp 10.0.0.1:6379: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"server_error","error_description":"An internal server error occurred."}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Error(tt.err)
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.JSONEq(t, tt.wantBody, string(r.Body))
		})
	}
}

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()
	Redirect("https://client.example.com/cb?code=x").Write(w)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://client.example.com/cb?code=x", w.Header().Get("Location"))
	assert.Empty(t, w.Body.String())
}
