package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/connwatch/connwatch/internal/model"
)

const githubAPIURL = "https://api.github.com"

var errMissingBaseURL = errors.New("connection has no base URL configured")

// httpStatusError carries a non-2xx response status for classification.
type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.status, e.url)
}

// apiProbe issues a bounded GET against an HTTP endpoint with the decrypted
// token attached. Success criterion is any 2xx response.
type apiProbe struct {
	prefix string
	client *http.Client

	// endpoint resolves the URL to hit; authorize sets the auth header.
	endpoint  func(conn *model.Connection) (string, error)
	authorize func(req *http.Request, creds Credentials)
	inspect   func(body []byte, metadata map[string]string)
}

func (p *apiProbe) Probe(ctx context.Context, conn *model.Connection, creds Credentials) (string, map[string]string, error) {
	url, err := p.endpoint(conn)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Accept", "application/json")
	p.authorize(req, creds)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, &httpStatusError{status: resp.StatusCode, url: url}
	}

	metadata := map[string]string{
		"status": fmt.Sprintf("%d", resp.StatusCode),
	}
	if p.inspect != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err == nil {
			p.inspect(body, metadata)
		}
	}

	return fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url), metadata, nil
}

func (p *apiProbe) Classify(err error) Failure {
	if errors.Is(err, errMissingBaseURL) {
		return Failure{
			Class:   model.FailureInvalidConf,
			Code:    p.prefix + "-config",
			Message: "Connection definition is incomplete — base URL is required",
		}
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		code := fmt.Sprintf("%s-%d", p.prefix, statusErr.status)
		switch statusErr.status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return Failure{model.FailureUnauthorized, code, "Request rejected — check API token"}
		case http.StatusNotFound:
			return Failure{model.FailureNotFound, code, "Endpoint not found — check the URL"}
		case http.StatusTooManyRequests:
			return Failure{model.FailureRateLimited, code, "Rate limited by the remote API"}
		}
		return Failure{model.FailureUnknown, code, "Remote API returned an unexpected status"}
	}

	if failure, ok := classifyNetwork(p.prefix, err); ok {
		return failure
	}
	return unknownFailure(p.prefix)
}

// newRESTProbe checks a plain REST endpoint with an optional bearer token.
func newRESTProbe(timeout time.Duration) *apiProbe {
	return &apiProbe{
		prefix: "restapi",
		client: &http.Client{Timeout: timeout},
		endpoint: func(conn *model.Connection) (string, error) {
			if conn.BaseURL == "" {
				return "", errMissingBaseURL
			}
			return conn.BaseURL, nil
		},
		authorize: func(req *http.Request, creds Credentials) {
			if creds.APIToken != "" {
				req.Header.Set("Authorization", "Bearer "+creds.APIToken)
			}
		},
	}
}

// newGitHubProbe checks a GitHub API token with the authenticated
// "who am I" endpoint.
func newGitHubProbe(timeout time.Duration) *apiProbe {
	return &apiProbe{
		prefix: "github",
		client: &http.Client{Timeout: timeout},
		endpoint: func(conn *model.Connection) (string, error) {
			base := conn.BaseURL
			if base == "" {
				base = githubAPIURL
			}
			return strings.TrimSuffix(base, "/") + "/user", nil
		},
		authorize: func(req *http.Request, creds Credentials) {
			if creds.APIToken != "" {
				req.Header.Set("Authorization", "token "+creds.APIToken)
			}
		},
		inspect: func(body []byte, metadata map[string]string) {
			var user struct {
				Login string `json:"login"`
			}
			if err := json.Unmarshal(body, &user); err == nil && user.Login != "" {
				metadata["login"] = user.Login
			}
		},
	}
}
