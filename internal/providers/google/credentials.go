// Package google adapts Google Cloud Speech-to-Text and Text-to-Speech to the
// pipeline ports.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"parley/internal/domain"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Credentials selects how the adapters authenticate. APIKey wins over
// CredentialsFile; with neither, application default credentials are used.
type Credentials struct {
	CredentialsFile string
	APIKey          string
	Endpoint        string
}

// ClientOptions resolves credentials into API client options. Missing
// credentials are reported as Unsupported so startup can fail early.
func ClientOptions(ctx context.Context, creds Credentials) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(creds.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	switch {
	case strings.TrimSpace(creds.APIKey) != "":
		return append(opts, option.WithAPIKey(strings.TrimSpace(creds.APIKey))), nil
	case strings.TrimSpace(creds.CredentialsFile) != "":
		data, err := os.ReadFile(creds.CredentialsFile)
		if err != nil {
			return nil, domain.NewError(domain.KindUnsupported, "google credentials", fmt.Errorf("failed to read credentials file: %w", err))
		}
		resolved, err := googleoauth.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, domain.NewError(domain.KindUnsupported, "google credentials", fmt.Errorf("invalid credentials file: %w", err))
		}
		return append(opts, option.WithCredentials(resolved)), nil
	default:
		resolved, err := googleoauth.FindDefaultCredentials(ctx, cloudPlatformScope)
		if err != nil {
			return nil, domain.NewError(domain.KindUnsupported, "google credentials", err)
		}
		return append(opts, option.WithCredentials(resolved)), nil
	}
}
