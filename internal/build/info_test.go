package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	orig := [3]string{Version, CommitSHA, BuildDate}
	t.Cleanup(func() { Version, CommitSHA, BuildDate = orig[0], orig[1], orig[2] })

	Version, CommitSHA, BuildDate = "v1.2.0", "abc123", "2026-01-02"
	assert.Equal(t, "notifyrelay v1.2.0 (commit abc123, built 2026-01-02)", String())
}
