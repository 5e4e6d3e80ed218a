package zpak

import (
	"path/filepath"
	"strings"
)

// Profile classifies a file by extension to pick compression
// parameters. Already-compressed formats are stored raw, text
// compresses hard, game-engine assets and generic binaries sit in
// between.
type Profile uint8

const (
	ProfileBinary Profile = iota
	ProfileText
	ProfileGameEngine
	ProfileAlreadyCompressed
)

// String returns the profile name.
func (p Profile) String() string {
	switch p {
	case ProfileBinary:
		return "binary"
	case ProfileText:
		return "text"
	case ProfileGameEngine:
		return "game-engine"
	case ProfileAlreadyCompressed:
		return "already-compressed"
	default:
		return "unknown"
	}
}

// Compression returns the algorithm for blocks of files with this
// profile. Already-compressed content is stored raw; everything else
// uses zstd.
func (p Profile) Compression() Compression {
	if p == ProfileAlreadyCompressed {
		return CompressionNone
	}
	return CompressionZstd
}

// Level returns the zstd effort level for this profile.
func (p Profile) Level() int {
	switch p {
	case ProfileText:
		return 19
	case ProfileGameEngine:
		return 15
	case ProfileAlreadyCompressed:
		return MinLevel
	default:
		return DefaultLevel
	}
}

// DetectProfile classifies a path by its lowercased extension.
// Unknown extensions fall back to ProfileBinary.
func DetectProfile(path string) Profile {
	ext := strings.ToLower(filepath.Ext(path))
	if p, ok := profileExts[ext]; ok {
		return p
	}
	return ProfileBinary
}

var profileExts = map[string]Profile{
	// Already-compressed archives, media, and fonts. Recompressing
	// these wastes CPU for near-zero gain.
	".7z":    ProfileAlreadyCompressed,
	".aac":   ProfileAlreadyCompressed,
	".avi":   ProfileAlreadyCompressed,
	".avif":  ProfileAlreadyCompressed,
	".br":    ProfileAlreadyCompressed,
	".bz2":   ProfileAlreadyCompressed,
	".flac":  ProfileAlreadyCompressed,
	".gif":   ProfileAlreadyCompressed,
	".gz":    ProfileAlreadyCompressed,
	".heic":  ProfileAlreadyCompressed,
	".ico":   ProfileAlreadyCompressed,
	".jpeg":  ProfileAlreadyCompressed,
	".jpg":   ProfileAlreadyCompressed,
	".m4v":   ProfileAlreadyCompressed,
	".mkv":   ProfileAlreadyCompressed,
	".mov":   ProfileAlreadyCompressed,
	".mp3":   ProfileAlreadyCompressed,
	".mp4":   ProfileAlreadyCompressed,
	".ogg":   ProfileAlreadyCompressed,
	".opus":  ProfileAlreadyCompressed,
	".pdf":   ProfileAlreadyCompressed,
	".png":   ProfileAlreadyCompressed,
	".rar":   ProfileAlreadyCompressed,
	".tgz":   ProfileAlreadyCompressed,
	".wav":   ProfileAlreadyCompressed,
	".webm":  ProfileAlreadyCompressed,
	".webp":  ProfileAlreadyCompressed,
	".woff":  ProfileAlreadyCompressed,
	".woff2": ProfileAlreadyCompressed,
	".xz":    ProfileAlreadyCompressed,
	".zip":   ProfileAlreadyCompressed,
	".zst":   ProfileAlreadyCompressed,

	// Text and source code.
	".c":    ProfileText,
	".cpp":  ProfileText,
	".css":  ProfileText,
	".go":   ProfileText,
	".h":    ProfileText,
	".hpp":  ProfileText,
	".html": ProfileText,
	".js":   ProfileText,
	".json": ProfileText,
	".md":   ProfileText,
	".py":   ProfileText,
	".rs":   ProfileText,
	".toml": ProfileText,
	".ts":   ProfileText,
	".txt":  ProfileText,
	".xml":  ProfileText,
	".yaml": ProfileText,
	".yml":  ProfileText,

	// Game-engine assets.
	".asset":    ProfileGameEngine,
	".pak":      ProfileGameEngine,
	".prefab":   ProfileGameEngine,
	".scene":    ProfileGameEngine,
	".uasset":   ProfileGameEngine,
	".umap":     ProfileGameEngine,
	".unity":    ProfileGameEngine,
	".uplugin":  ProfileGameEngine,
	".uproject": ProfileGameEngine,
}
