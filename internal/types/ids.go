package types

import (
	"time"

	"github.com/google/uuid"
)

// NewJobID generates a UUIDv7 job identifier.
// Time-ordered IDs keep the jobs primary key append-friendly.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewJobID() JobID {
	return JobID(uuid.Must(uuid.NewV7()).String())
}

// NewWorkerID generates a UUIDv7 worker identifier used as lease owner.
func NewWorkerID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseJobID validates and converts a string to JobID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the store.
func ParseJobID(s string) (JobID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return JobID(s), nil
}

// JobIDTime extracts the creation timestamp embedded in a UUIDv7 job ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func JobIDTime(id JobID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
