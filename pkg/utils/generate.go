package utils

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// ==================== BOOKING REFERENCE ====================

// GenerateBookingReference builds a human readable booking reference.
// Format: APT-YYYYMMDD-HHMMSS-RANDOM
func GenerateBookingReference(now time.Time) string {
	now = now.UTC()
	datePart := now.Format("20060102")
	timePart := now.Format("150405")
	randomPart := fmt.Sprintf("%06d", rand.IntN(1000000))

	return fmt.Sprintf("APT-%s-%s-%s", datePart, timePart, randomPart)
}
