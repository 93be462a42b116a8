package rulechain

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/text/language"

	"github.com/giantswarm/oauth2-engine/databag"
	"github.com/giantswarm/oauth2-engine/oautherr"
	"github.com/giantswarm/oauth2-engine/storage"
)

// Human readable client metadata (RFC 7591 section 2)
const (
	ParamClientURI = "client_uri"
	ParamLogoURI   = "logo_uri"
	ParamTOSURI    = "tos_uri"
	ParamPolicyURI = "policy_uri"
	ParamContacts  = "contacts"
)

// CommonParametersRule accepts the descriptive client metadata, including
// language-tagged variants such as "client_name#fr-CA" (RFC 7591 section 2.2).
// Tags are canonicalized so that "client_name#FR" is stored as "client_name#fr".
type CommonParametersRule struct{}

var (
	textParameters = []string{storage.ParamClientName}
	uriParameters  = []string{ParamClientURI, ParamLogoURI, ParamTOSURI, ParamPolicyURI}
)

// Handle implements Rule
func (CommonParametersRule) Handle(ctx context.Context, command, validated databag.DataBag, ownerID string, next Next) (databag.DataBag, error) {
	for _, original := range command.Keys() {
		base, tag, tagged := strings.Cut(original, "#")
		isText := slices.Contains(textParameters, base)
		isURI := slices.Contains(uriParameters, base)
		if !isText && !isURI {
			continue
		}

		key := base
		if tagged {
			parsed, err := language.Parse(tag)
			if err != nil {
				return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The language tag of the parameter %q is invalid.", original))
			}
			key = base + "#" + parsed.String()
		}

		raw, _ := command.Get(original)
		value, isString := raw.(string)
		if !isString || value == "" {
			return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The parameter %q must be a string.", base))
		}
		if isURI {
			if err := checkURI(value); err != nil {
				return databag.DataBag{}, oautherr.InvalidClientMetadata(fmt.Sprintf("The parameter %q must be an absolute http or https URL.", base))
			}
		}
		validated = validated.With(key, value)
	}

	if command.Has(ParamContacts) {
		contacts := command.GetStrings(ParamContacts)
		for _, c := range contacts {
			if !strings.Contains(c, "@") {
				return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"contacts\" must be a list of e-mail addresses.")
			}
		}
		validated = validated.With(ParamContacts, contacts)
	}

	applicationType := command.GetString(storage.ParamApplicationType)
	switch applicationType {
	case "":
		applicationType = storage.DefaultApplicationType
	case "web", "native":
	default:
		return databag.DataBag{}, oautherr.InvalidClientMetadata("The parameter \"application_type\" must be \"web\" or \"native\".")
	}
	validated = validated.With(storage.ParamApplicationType, applicationType)

	return next(ctx, command, validated, ownerID)
}

func checkURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("not an http(s) URL: %s", raw)
	}
	return nil
}
