package endpoint

import "strings"

// NormalizeBase adds http:// when no scheme is present and trims trailing slashes.
func NormalizeBase(host string) string {
	host = strings.TrimSpace(host)
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

// GenerateURL returns the /api/generate URL for any accepted base shape.
func GenerateURL(base string) string {
	base = NormalizeBase(base)
	switch {
	case strings.HasSuffix(base, "/api/generate"):
		return base
	case strings.HasSuffix(base, "/api/version"):
		return strings.TrimSuffix(base, "/version") + "/generate"
	case strings.HasSuffix(base, "/api"):
		return base + "/generate"
	}
	return base + "/api/generate"
}

// VersionURL returns the liveness URL for any accepted base shape.
func VersionURL(base string) string {
	base = NormalizeBase(base)
	switch {
	case strings.HasSuffix(base, "/api/version"):
		return base
	case strings.HasSuffix(base, "/api"):
		return base + "/version"
	case strings.HasSuffix(base, "/api/generate"):
		return strings.TrimSuffix(base, "/generate") + "/version"
	}
	return base + "/api/version"
}

// IsLocalBase reports whether base points at localhost or 127.0.0.1.
func IsLocalBase(base string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(base, "http://"), "https://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1")
}

// needsKey reports whether base is an Ollama cloud address.
func needsKey(base string) bool {
	return strings.Contains(base, "ollama.com") || strings.HasPrefix(base, "https://api.ollama.")
}
