package redis_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	redisstore "github.com/loothing/lodestone/internal/store/redis"
)

func TestEncounterChannel(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.EncounterChannel("guild-hub")
		assert.Equal(t, "encounters:guild-hub", got)
	})

	t.Run("empty client id", func(t *testing.T) {
		t.Parallel()

		got := redisstore.EncounterChannel("")
		assert.Equal(t, "encounters:", got)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		got := redisstore.EncounterChannel("guild-hub")
		assert.True(t, strings.HasPrefix(got, "encounters:"), "expected prefix 'encounters:', got %q", got)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		a := redisstore.EncounterChannel("guild-hub")
		b := redisstore.EncounterChannel("guild-hub")
		assert.Equal(t, a, b)
	})

	t.Run("different inputs produce different outputs", func(t *testing.T) {
		t.Parallel()

		a := redisstore.EncounterChannel("guild-hub")
		b := redisstore.EncounterChannel("other-client")
		assert.NotEqual(t, a, b)
	})
}

func TestUploadChannel(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.UploadChannel("up-42")
		assert.Equal(t, "upload:up-42", got)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		got := redisstore.UploadChannel("up-42")
		assert.True(t, strings.HasPrefix(got, "upload:"), "expected prefix 'upload:', got %q", got)
	})

	t.Run("different inputs produce different outputs", func(t *testing.T) {
		t.Parallel()

		a := redisstore.UploadChannel("up-42")
		b := redisstore.UploadChannel("up-43")
		assert.NotEqual(t, a, b)
	})
}

func TestChannelFunctions_NoCollisionAcrossTypes(t *testing.T) {
	t.Parallel()

	enc := redisstore.EncounterChannel("same-id")
	upl := redisstore.UploadChannel("same-id")

	assert.NotEqual(t, enc, upl, "encounter and upload channels must not collide")
}
