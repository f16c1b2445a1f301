package ir

import (
	"fmt"
	"strings"
)

// RefScheme prefixes attribute references exchanged between resources.
const RefScheme = "ptr://"

// Ref builds a reference to an output attribute of another resource.
// References are plain strings so they can sit anywhere inside Properties;
// the engine substitutes the recorded output value just before apply.
//
//	ir.Ref("aws:ECR.Repository", "weather-api", "repository_url")
//	// "ptr://aws:ECR.Repository/weather-api/repository_url"
func Ref(resourceType, name, attr string) string {
	return RefScheme + resourceType + "/" + name + "/" + attr
}

// IsRef reports whether v is a reference string.
func IsRef(v string) bool {
	return strings.HasPrefix(v, RefScheme)
}

// ParseRef splits a reference into the target resource address and the
// attribute name.
func ParseRef(ref string) (addr, attr string, err error) {
	if !IsRef(ref) {
		return "", "", fmt.Errorf("not a reference: %q", ref)
	}
	parts := strings.Split(strings.TrimPrefix(ref, RefScheme), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed reference %q: want ptr://<type>/<name>/<attribute>", ref)
	}
	return parts[0] + "." + parts[1], parts[2], nil
}
