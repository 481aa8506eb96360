package routing

import (
	"fmt"
	"strconv"
	"strings"

	"domainwarden/internal/models"
)

const (
	domainPattern = "domain:*"
	poolPattern   = "project:*:landing_urls"
	statsPattern  = "stats:*:project:*"
)

// DomainKey is the hash the gateway reads for a request host.
func DomainKey(host string) string {
	return "domain:" + strings.ToLower(strings.TrimSpace(host))
}

// PoolKey is the list of ok landing URLs the gateway rotates through.
func PoolKey(projectID uint) string {
	return fmt.Sprintf("project:%d:landing_urls", projectID)
}

// StatsKey is the counter the gateway increments per project and kind.
func StatsKey(kind models.StatKind, projectID uint) string {
	return fmt.Sprintf("stats:%s:project:%d", kind, projectID)
}

// ParseStatsKey is the inverse of StatsKey. Anything else reports false.
func ParseStatsKey(key string) (models.StatKind, uint, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "stats" || parts[2] != "project" {
		return "", 0, false
	}
	kind, ok := models.ParseStatKind(parts[1])
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil || id == 0 {
		return "", 0, false
	}
	return kind, uint(id), true
}

func isPoolKey(key string) bool {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "project" || parts[2] != "landing_urls" {
		return false
	}
	_, err := strconv.ParseUint(parts[1], 10, 64)
	return err == nil
}
