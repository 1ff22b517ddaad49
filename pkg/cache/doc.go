// Package cache provides a small generic in-memory cache with per-entry
// expiry and LRU eviction.
//
//	c := cache.NewTTLCache[string, string](8, 30*time.Second)
//	c.Put("/profile", body)
//	if v, ok := c.Get("/profile"); ok {
//		// served from memory
//	}
package cache
