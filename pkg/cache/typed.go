package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Typed access to the service. Go methods cannot carry type parameters, so
// the typed API lives in package-level generic functions over *Service.

// Get returns the value stored under key, if present and fresh.
func Get[T any](s *Service, key string) (T, bool) {
	var zero T
	raw, ok := s.getBytes(key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		// Stored under the same key with a different type; drop it and
		// account it as the miss the caller experienced.
		s.Delete(key)
		s.recordMiss()
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Dropped cache entry with mismatched type")
		return zero, false
	}
	s.recordHit()
	return v, true
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func Set[T any](s *Service, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	s.setBytes(key, raw, ttl)
	return nil
}

// GetOrSet returns the cached value for key, or invokes factory on a miss
// and caches its result. Factory errors are returned unwrapped and nothing
// is cached for them.
//
// Concurrent misses for the same key are not coalesced: each caller invokes
// factory independently. For calls this layer governs, the admission
// controller already serializes the expensive part; callers needing strict
// single-flight semantics must layer it themselves.
func GetOrSet[T any](ctx context.Context, s *Service, key string, factory func(context.Context) (T, error), ttl time.Duration) (T, error) {
	if v, ok := Get[T](s, key); ok {
		return v, nil
	}

	v, err := factory(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	// Caching is best-effort; an unserializable result is still a result.
	if err := Set(s, key, v, ttl); err != nil {
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Result not cached")
	}
	return v, nil
}

// GetCached returns the value stored under the key derived from input.
func GetCached[T any](s *Service, input any) (T, bool, error) {
	key, err := Key(input)
	if err != nil {
		var zero T
		return zero, false, err
	}
	v, ok := Get[T](s, key)
	return v, ok, nil
}

// SetCached stores value under the key derived from input.
func SetCached[T any](s *Service, input any, value T, ttl time.Duration) error {
	key, err := Key(input)
	if err != nil {
		return err
	}
	return Set(s, key, value, ttl)
}

// GetOrSetCached is GetOrSet with the key derived from input, so callers
// never manage key strings directly.
func GetOrSetCached[T any](ctx context.Context, s *Service, input any, factory func(context.Context) (T, error), ttl time.Duration) (T, error) {
	key, err := Key(input)
	if err != nil {
		var zero T
		return zero, err
	}
	return GetOrSet(ctx, s, key, factory, ttl)
}
