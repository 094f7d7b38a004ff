package buffer

// Replacer decides which evictable frame the pool reclaims next. A frame
// becomes a candidate only after the pool marks it evictable; pinned frames
// are never returned.
type Replacer interface {
	// Evict selects a victim, drops its bookkeeping and returns its frame id.
	// ok is false when no frame is evictable.
	Evict() (frameID int, ok bool)

	// RecordAccess notes that the frame was accessed now. It does not change
	// evictability.
	RecordAccess(frameID int)

	// SetEvictable flips the frame's evictable flag. Untracked frames are
	// ignored.
	SetEvictable(frameID int, evictable bool)

	// Remove drops a frame from the replacer entirely. The frame must be
	// evictable; removing a non evictable frame is an invariant violation.
	Remove(frameID int)

	// Size returns the number of frames currently evictable.
	Size() int
}
