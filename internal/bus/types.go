package bus

// Cache-kind constants for CacheInvalidatePayload.Kind. These are internal
// cache-eviction signals (config hot-reload) and are never forwarded to
// gateway clients.
const (
	CacheKindAgent      = "agent"
	CacheKindToolPolicy = "tool_policy"
	CacheKindChannels   = "channels"
)

// CacheInvalidatePayload signals in-memory cache layers derived from
// config (tool policy, channel bindings) to evict stale entries after a
// config hot-reload.
type CacheInvalidatePayload struct {
	Kind string `json:"kind"`
	Key  string `json:"key,omitempty"`
}
