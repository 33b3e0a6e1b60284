package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ziling35/accountpool/internal/settings"
)

// VersionHandler serves the client update gate.
type VersionHandler struct{}

// NewVersionHandler constructs a version handler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// Get returns the server version, the minimum supported client version, and
// whether the calling client must update. The client_version query param
// defaults to "1.0.0"; the update message is only included when an update
// is required.
func (h *VersionHandler) Get(c *gin.Context) {
	clientVersion := strings.TrimSpace(c.Query("client_version"))
	if clientVersion == "" {
		clientVersion = "1.0.0"
	}
	minVersion := settings.StringValue(settings.MinClientVersionKey, settings.DefaultMinClientVersion)
	updateRequired := compareVersions(clientVersion, minVersion) < 0

	resp := gin.H{
		"server_version":     settings.StringValue(settings.ServerVersionKey, settings.DefaultServerVersion),
		"min_client_version": minVersion,
		"update_required":    updateRequired,
		"update_message":     nil,
	}
	if updateRequired {
		resp["update_message"] = settings.StringValue(settings.UpdateMessageKey, settings.DefaultUpdateMessage)
	}
	c.JSON(http.StatusOK, resp)
}

// compareVersions orders dotted numeric versions. A version with a
// non-numeric segment compares as 0.0.0; a version matching a longer one's
// prefix orders before it.
func compareVersions(a, b string) int {
	segA, segB := versionSegments(a), versionSegments(b)
	for i := 0; i < len(segA) && i < len(segB); i++ {
		if segA[i] != segB[i] {
			if segA[i] < segB[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(segA) < len(segB):
		return -1
	case len(segA) > len(segB):
		return 1
	}
	return 0
}

func versionSegments(v string) []int {
	parts := strings.Split(v, ".")
	segments := make([]int, 0, len(parts))
	for _, part := range parts {
		n, errParse := strconv.Atoi(strings.TrimSpace(part))
		if errParse != nil {
			return []int{0, 0, 0}
		}
		segments = append(segments, n)
	}
	return segments
}
