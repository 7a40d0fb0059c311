package cli

import (
	"fmt"
	"net/url"
	"strings"
)

// validateServerURL checks a cube server base URL. The REST client appends
// /v1/... itself, so a path, query or fragment would be silently mangled.
func validateServerURL(server string) error {
	raw := strings.TrimSpace(server)
	if raw == "" {
		return fmt.Errorf("cube server URL is empty: pass --server or set CUBEOPT_SERVER_URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("cube server URL %q: %w", raw, err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("cube server URL %q: scheme must be http or https", raw)
	case u.Host == "":
		return fmt.Errorf("cube server URL %q: missing host", raw)
	case strings.Trim(u.Path, "/") != "":
		return fmt.Errorf("cube server URL %q: must not include a path (got %s)", raw, u.Path)
	case u.RawQuery != "" || u.Fragment != "":
		return fmt.Errorf("cube server URL %q: must not include a query or fragment", raw)
	}
	return nil
}
