package cache

import "time"

// Entry represents a cached target build
type Entry struct {
	// Hash is the target fingerprint this entry is keyed by
	Hash string `json:"hash"`

	// Target is the id of the target that produced the outputs
	Target string `json:"target"`

	// Timestamp when this entry was created
	Timestamp time.Time `json:"timestamp"`

	// Outputs lists the bundle files, relative to the project root
	Outputs []string `json:"outputs"`
}
