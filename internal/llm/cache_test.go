package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

func TestClassificationCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := newClassificationCache(5 * time.Minute)
		defer cache.Close()

		// Test empty cache
		_, found := cache.get("non-existent")
		assert.False(t, found)

		// Test set and get
		tc := ThreadClassification{
			ThreadID: "thread-123",
			Category: model.CategoryFocus,
			Risk:     model.RiskHigh,
			Summary:  "Buyer wants to bring the settlement date forward.",
		}
		cache.set("key1", tc)

		retrieved, found := cache.get("key1")
		assert.True(t, found)
		assert.Equal(t, tc, retrieved)

		// Test size
		assert.Equal(t, 1, cache.size())

		// Test clear
		cache.clear()
		assert.Equal(t, 0, cache.size())
		_, found = cache.get("key1")
		assert.False(t, found)
	})

	t.Run("expiration", func(t *testing.T) {
		// Use a very short TTL for testing
		cache := newClassificationCache(50 * time.Millisecond)
		defer cache.Close()

		cache.set("key2", ThreadClassification{
			ThreadID: "thread-456",
			Category: model.CategoryWaiting,
		})

		// Should be found immediately
		_, found := cache.get("key2")
		assert.True(t, found)

		// Wait for expiration
		time.Sleep(100 * time.Millisecond)

		// Should not be found after expiration
		_, found = cache.get("key2")
		assert.False(t, found)
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := newClassificationCache(5 * time.Minute)
		defer cache.Close()

		done := make(chan bool)
		go func() {
			for i := 0; i < 100; i++ {
				cache.set("concurrent", ThreadClassification{ThreadID: "test", Category: model.CategoryFocus})
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				_, _ = cache.get("concurrent")
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 10; i++ {
				_ = cache.size()
				time.Sleep(time.Millisecond)
			}
			done <- true
		}()

		for i := 0; i < 3; i++ {
			<-done
		}

		// Cache should still be functional
		cache.set("after-concurrent", ThreadClassification{ThreadID: "final", Category: model.CategoryWaiting})
		_, found := cache.get("after-concurrent")
		assert.True(t, found)
	})
}

func TestCacheKey(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

	key := cacheKey("thread-1", at)
	assert.Equal(t, "thread-1|2024-05-10T09:30:00Z", key)

	// A new reply moves lastMessageAt, which must produce a fresh key.
	assert.NotEqual(t, key, cacheKey("thread-1", at.Add(time.Minute)))

	// The same instant in another zone is still the same revision.
	auckland := time.FixedZone("NZST", 12*60*60)
	assert.Equal(t, key, cacheKey("thread-1", at.In(auckland)))
}
