package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "dev (unknown) built unknown", String())

	defer func(v, c, b string) { Version, Commit, BuildTime = v, c, b }(Version, Commit, BuildTime)
	Version, Commit, BuildTime = "1.2.0", "abc1234", "2026-10-16T00:00:00Z"
	assert.Equal(t, "1.2.0 (abc1234) built 2026-10-16T00:00:00Z", String())
}
