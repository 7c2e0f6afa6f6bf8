package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a parameterized provider request. Two semantically equal
// requests must produce the same fingerprint regardless of parameter order.
type Key struct {
	// Endpoint is the provider endpoint path (e.g., "data/obs/AU-NSW/recent/wanalb1")
	Endpoint string

	// PathParams are the path parameters (e.g., {"region": "AU-NSW"})
	PathParams map[string]string

	// QueryParams are the query parameters (e.g., {"back": "14"})
	QueryParams url.Values
}

// String generates a deterministic fingerprint string.
// Format: obs:endpoint:param1=val1:param2=val2:query1=val1
//
// Example:
//
//	obs:data/obs/AU-NSW/recent/wanalb1:back=14:detail=full
func (k Key) String() string {
	parts := []string{"obs"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Path params sorted for determinism
	if len(k.PathParams) > 0 {
		pathKeys := make([]string, 0, len(k.PathParams))
		for key := range k.PathParams {
			pathKeys = append(pathKeys, key)
		}
		sort.Strings(pathKeys)

		for _, key := range pathKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.PathParams[key]))
		}
	}

	// Query params sorted for determinism
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
