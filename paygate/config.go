package paygate

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FeeCFA returns the membership fee in CFA francs.
// Default is 0 (free). Override with env ENROLLMENT_FEE_CFA (non-negative integer).
func FeeCFA() int64 {
	raw := strings.TrimSpace(os.Getenv("ENROLLMENT_FEE_CFA"))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func readEnvDurationSecondsDefault(key string, defaultVal time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return time.Duration(n) * time.Second
}
