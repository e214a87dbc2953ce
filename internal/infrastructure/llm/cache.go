package llm

// CacheBoundary returns how many of n non-system messages are marked
// cacheable: all but the most recent one.
func CacheBoundary(n int) int {
	if n <= 1 {
		return 0
	}
	return n - 1
}

// Cacheable reports whether non-system message i of n gets a cache marker.
func Cacheable(i, n int, enabled bool) bool {
	return enabled && i < CacheBoundary(n)
}

// CacheControl is the ephemeral cache marker shared by the Anthropic-style
// wire formats.
type CacheControl struct {
	Type string `json:"type"`
}

// Ephemeral returns a fresh ephemeral cache marker.
func Ephemeral() *CacheControl {
	return &CacheControl{Type: "ephemeral"}
}
