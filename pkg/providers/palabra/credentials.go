package palabra

import (
	"context"
	"net/http"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// ValidateCredentials lists live sessions, which requires nothing but a
// valid client credential pair. An empty host means the production API.
func ValidateCredentials(ctx context.Context, host, clientID, clientSecret string, client *http.Client) error {
	if clientID == "" || clientSecret == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "palabra: client credential pair is required")
	}
	if host == "" {
		host = defaultAPIHost
	}
	rest := &restClient{host: host, clientID: clientID, clientSecret: clientSecret, http: client}
	_, err := rest.listSessions(ctx)
	return err
}
