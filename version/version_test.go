package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceVersion(t *testing.T) {
	dev := Info{Version: "dev", CommitHash: "0123456789abcdef", Platform: "linux/amd64", BuildTime: "now"}
	assert.False(t, dev.Tagged())
	assert.Equal(t, "dev+0123456", dev.ServiceVersion())
	assert.Equal(t, "remit/dev+0123456 (linux/amd64)", dev.UserAgent())
	assert.Equal(t, "remit dev+0123456 (commit 0123456, built now)", dev.String())

	tagged := Info{Version: "v1.2.0", CommitHash: "abc", Platform: "darwin/arm64"}
	assert.True(t, tagged.Tagged())
	assert.Equal(t, "v1.2.0", tagged.ServiceVersion())
	assert.Equal(t, "remit/v1.2.0 (darwin/arm64)", tagged.UserAgent())
}
