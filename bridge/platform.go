package bridge

import (
	"runtime"

	"github.com/zeebo/xxh3"
)

// Platform selects the variant of generated source and toolchain.
type Platform uint8

const (
	PlatformUnix Platform = iota
	PlatformWindows
)

func (p Platform) String() string {
	switch p {
	case PlatformUnix:
		return "unix"
	case PlatformWindows:
		return "windows"
	}
	return "unknown"
}

// DetectPlatform returns the platform of the running process. macOS and the
// BSDs are unix-like.
func DetectPlatform() Platform {
	return platformFor(runtime.GOOS)
}

func platformFor(goos string) Platform {
	if goos == "windows" {
		return PlatformWindows
	}
	return PlatformUnix
}

// Source is the job-specific translation unit in its platform variants.
// A nil Windows variant falls back to the unix one.
type Source struct {
	Unix    []byte
	Windows []byte
}

// For returns the variant for p.
func (s Source) For(p Platform) []byte {
	if p == PlatformWindows && s.Windows != nil {
		return s.Windows
	}
	return s.Unix
}

// Digest identifies the variant for p. Equal digests share a loaded module.
func (s Source) Digest(p Platform) uint64 {
	return xxh3.Hash(s.For(p))
}
