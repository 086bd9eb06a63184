package httpsig

import (
	"fmt"
	"net/http"
	"strings"
)

// requestTarget renders the pseudo-header draft-cavage calls
// "(request-target)" and RFC 9421 calls "@request-target": the lower-cased
// method and the request path plus query.
func requestTarget(req *http.Request) string {
	return fmt.Sprintf("%s %s", strings.ToLower(req.Method), req.URL.RequestURI())
}

// componentValue resolves one signed component's value from the request.
// name is already lower-cased. Pseudo-components begin with "(" (cavage)
// or "@" (rfc9421); everything else is a header name.
func componentValue(req *http.Request, name string) (string, error) {
	switch name {
	case "(request-target)", "@request-target":
		return requestTarget(req), nil
	case "(created)", "(expires)":
		// These are signature metadata parameters under draft-cavage and
		// are substituted by the caller before signing-string assembly;
		// reaching here means the caller forgot to do so.
		return "", fmt.Errorf("httpsig: %s must be resolved by the caller, not componentValue", name)
	default:
		if name == "host" && req.Header.Get("Host") == "" && req.Host != "" {
			return req.Host, nil
		}
		values := req.Header.Values(http.CanonicalHeaderKey(name))
		if len(values) == 0 {
			return "", fmt.Errorf("httpsig: missing header %q required by signature", name)
		}
		return strings.Join(values, ", "), nil
	}
}

// buildSigningString assembles the newline-joined "name: value" string both
// signing and verification sign/check, in covered's order.
func buildSigningString(req *http.Request, covered []string) (string, error) {
	lines := make([]string, 0, len(covered))
	for _, name := range covered {
		value, err := componentValue(req, strings.ToLower(name))
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToLower(name), value))
	}
	return strings.Join(lines, "\n"), nil
}

// defaultCoveredComponents is the component set this package signs when the
// caller does not specify one explicitly: enough to bind the method, path,
// host, date, and body together, matching common ActivityPub deployments.
var defaultCoveredComponents = []string{"(request-target)", "host", "date", "digest"}
