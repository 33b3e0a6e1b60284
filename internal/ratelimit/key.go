package ratelimit

import "strings"

// KeyForClientIP builds a limiter key for a client IP.
func KeyForClientIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}
