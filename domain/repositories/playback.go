package repositories

// Player materializes synthesized speech into playable tracks
type Player interface {
	// Prepare wraps an encoded fragment. It never fails; decoding problems
	// are reported by Track.Play.
	Prepare(audio []byte) Track
}

// Track is a playable resource that must be released explicitly
type Track interface {
	// Play starts output without blocking and calls done exactly once, from
	// any goroutine, when playback ends or fails
	Play(done func(err error))
	// Release stops output if needed and frees the resource. It is idempotent.
	Release()
}
