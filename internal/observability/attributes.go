// Package observability provides metrics and the attribute vocabulary used on
// them.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrUser    = "user"
	attrCluster = "cluster"
	attrFinal   = "final_status"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func userAttr(user string) attribute.KeyValue {
	return attribute.String(attrUser, user)
}

func clusterAttr(clusterID string) attribute.KeyValue {
	return attribute.String(attrCluster, clusterID)
}

func finalStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrFinal, status)
}

// normalizePath replaces the id segment with a placeholder to keep metric
// cardinality bounded: /v1/jobs/abc123/claim -> /v1/jobs/{id}/claim.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) >= 4 && parts[1] == "v1" && parts[3] != "" {
		parts[3] = "{id}"
		return strings.Join(parts, "/")
	}
	return path
}
