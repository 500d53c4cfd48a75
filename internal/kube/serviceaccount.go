package kube

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Mounted service account files.
const (
	NamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	TokenFile     = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

// DiscoverNamespace returns the namespace to watch. An explicit override wins,
// then the mounted service account namespace.
func DiscoverNamespace(path, override string) (string, error) {
	if ns := strings.TrimSpace(override); ns != "" {
		return ns, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- fixed service account path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("namespace not configured and %s not mounted", path)
		}
		return "", fmt.Errorf("read namespace: %w", err)
	}
	ns := strings.TrimSpace(string(data))
	if ns == "" {
		return "", fmt.Errorf("namespace file %s is empty", path)
	}
	return ns, nil
}

// ReadToken returns the service account bearer token, falling back to the
// token of the client config when the file is not mounted.
func ReadToken(path string, c *Client) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- fixed service account path
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read token: %w", err)
	}
	if c != nil && c.RestConfig != nil {
		if c.RestConfig.BearerToken != "" {
			return c.RestConfig.BearerToken, nil
		}
		if c.RestConfig.BearerTokenFile != "" {
			data, err := os.ReadFile(c.RestConfig.BearerTokenFile)
			if err != nil {
				return "", fmt.Errorf("read token file: %w", err)
			}
			return strings.TrimSpace(string(data)), nil
		}
	}
	return "", errors.New("no bearer token available")
}
