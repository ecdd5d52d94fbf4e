package dpb

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// splitHostPort pulls the host and port out of an httptest.Server URL so
// tests can build a Config the way real callers would, from discrete
// host/port fields rather than a ready-made URL.
func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	parts := strings.Split(u.Host, ":")
	require.Len(t, parts, 2)

	port, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return parts[0], port
}
