package domain

// Zero overwrites b with zero bytes in place. Safe to call on a nil slice.
// Used to wipe passphrases, derived keys, and IVs on release so they don't
// linger in memory past their owning KeyAndCache's lifetime.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
