package ir

import (
	"strings"
	"time"
)

// Resource is a single desired resource in a stack definition. Stacks are
// assembled in Go code, so every optional field has a usable zero value: a
// resource with Disabled unset is deployed, one with no Timeout uses the
// engine default.
type Resource struct {
	// Type is the provider-qualified resource type, e.g. "aws:S3.Bucket".
	Type string `json:"type"`
	// Name distinguishes resources of the same type within a stack.
	Name string `json:"name"`
	// DependsOn lists addresses of resources that must be applied first,
	// in addition to any edges implied by references in Properties.
	DependsOn []string `json:"depends_on,omitempty"`
	// Properties holds the desired configuration. Values are literals or
	// reference strings built with Ref.
	Properties map[string]any `json:"properties,omitempty"`
	// Sensitive names property keys whose values must not appear in
	// persisted inputs or log output.
	Sensitive []string `json:"sensitive,omitempty"`
	// Disabled removes the resource from the desired set. A disabled
	// resource still present in state is destroyed on the next deploy.
	Disabled bool `json:"disabled,omitempty"`
	// Timeout bounds a single apply of this resource. Zero means the
	// engine default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Addr returns the canonical address, e.g. "aws:S3.Bucket.assets".
func (r *Resource) Addr() string {
	return r.Type + "." + r.Name
}

// IsSensitive reports whether the property key is marked sensitive.
func (r *Resource) IsSensitive(key string) bool {
	for _, s := range r.Sensitive {
		if s == key {
			return true
		}
	}
	return false
}

// ProviderKey returns the provider segment of a qualified resource type:
// "aws" for "aws:S3.Bucket". Types without a provider segment map to the
// empty string.
func ProviderKey(resourceType string) string {
	if i := strings.Index(resourceType, ":"); i > 0 {
		return resourceType[:i]
	}
	return ""
}
