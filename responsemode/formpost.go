package responsemode

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"sort"

	"github.com/giantswarm/oauth2-engine/authorization"
	"github.com/giantswarm/oauth2-engine/response"
)

const formPostHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Submit This Form</title>
</head>
<body>
<form method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{- end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
<script nonce="{{.Nonce}}">document.forms[0].submit();</script>
</body>
</html>
`

var defaultFormPostTemplate = template.Must(template.New("form_post").Parse(formPostHTML))

type formField struct {
	Name  string
	Value string
}

type formPostData struct {
	Action template.URL
	Fields []formField
	Nonce  string
}

// FormPost renders an auto-submitting HTML form posting the parameters to
// the redirect URI.
type FormPost struct {
	tmpl *template.Template
}

// NewFormPost returns the form_post mode with the built-in page
func NewFormPost() *FormPost {
	return &FormPost{tmpl: defaultFormPostTemplate}
}

// NewFormPostWithTemplate uses tmpl, which receives Action, Fields and Nonce.
func NewFormPostWithTemplate(tmpl *template.Template) *FormPost {
	return &FormPost{tmpl: tmpl}
}

// Name implements authorization.ResponseMode
func (*FormPost) Name() string { return authorization.ResponseModeFormPost }

// BuildResponse implements authorization.ResponseMode
func (f *FormPost) BuildResponse(redirectURI string, params map[string]string, headers http.Header) (*response.Response, error) {
	nonce, err := scriptNonce()
	if err != nil {
		return nil, err
	}

	data := formPostData{
		// Custom schemes are legitimate redirect URIs for native clients and
		// were validated against the client registration.
		Action: template.URL(redirectURI), //nolint:gosec // validated redirect URI
		Nonce:  nonce,
	}
	for k, v := range params {
		data.Fields = append(data.Fields, formField{Name: k, Value: v})
	}
	sort.Slice(data.Fields, func(i, j int) bool { return data.Fields[i].Name < data.Fields[j].Name })

	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render form_post response: %w", err)
	}

	resp := response.HTML(http.StatusOK, buf.Bytes())
	for k, vs := range headers {
		for _, v := range vs {
			resp.Header.Add(k, v)
		}
	}
	resp.Header.Set("Content-Security-Policy", fmt.Sprintf("default-src 'none'; script-src 'nonce-%s'; form-action %s", nonce, formAction(redirectURI)))
	return resp, nil
}

func scriptNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate script nonce: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// formAction renders the redirect URI as a CSP source expression.
func formAction(redirectURI string) string {
	for _, c := range redirectURI {
		if c == ';' || c == ',' || c == ' ' || c == '\'' {
			return "*"
		}
	}
	return redirectURI
}
