package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "soccer-live dev (unknown, built unknown)", String("soccer-live"))

	Version, GitSHA, BuildTime = "v0.3.1", "4f2c9ab", "2025-07-14T12:00:00Z"
	t.Cleanup(func() { Version, GitSHA, BuildTime = "dev", "unknown", "unknown" })
	assert.Equal(t, "soccer-dataset v0.3.1 (4f2c9ab, built 2025-07-14T12:00:00Z)", String("soccer-dataset"))
}
