package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = oldVersion, oldCommit, oldDate })

	Version, Commit, BuildDate = "1.2.3", "0123456789abcdef", "2026-01-02"
	info := Info()
	lines := strings.Split(info, "\n")
	assert.Equal(t, "adbkit 1.2.3", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Commit: 0123456789ab"))
	assert.Equal(t, "Built: 2026-01-02", lines[2])
	assert.Len(t, lines, 5)
	assert.Equal(t, "1.2.3", Short())
}
