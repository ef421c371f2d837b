// Package repository interprets snapshot repository metadata and exposes the
// repository's blobs through a shared COS client.
package repository

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/settings"
)

// Repository metadata keys.
const (
	KeyBucket    = "bucket"
	KeyAppID     = "app_id"
	KeyBasePath  = "base_path"
	KeyCompress  = "compress"
	KeyChunkSize = "chunk_size"
)

// Chunk size bounds. Sizes use binary units: "64mb" is 64*2^20 bytes.
const (
	DefaultChunkSize uint64 = humanize.GiByte
	MinChunkSize     uint64 = 5 * humanize.MiByte
	MaxChunkSize     uint64 = 5 * humanize.TiByte
)

// binaryUnits maps size suffixes to their binary spelling for humanize.
var binaryUnits = map[string]string{
	"k": "kib", "kb": "kib",
	"m": "mib", "mb": "mib",
	"g": "gib", "gb": "gib",
	"t": "tib", "tb": "tib",
	"p": "pib", "pb": "pib",
}

// Settings is the parsed, repository-specific part of the metadata.
type Settings struct {
	Bucket    string
	BasePath  string
	Compress  bool
	ChunkSize uint64
}

// String renders the settings for logs.
func (s Settings) String() string {
	return fmt.Sprintf("bucket [%s], base_path [%s], chunk_size [%s], compress [%t]",
		s.Bucket, s.BasePath, humanize.IBytes(s.ChunkSize), s.Compress)
}

// ParseSettings reads bucket, app_id, base_path, compress and chunk_size.
// Deprecated spellings are accepted with a one-time warning.
func ParseSettings(md settings.RepositoryMetadata, logger *logging.Logger) (Settings, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := md.Settings

	bucket := strings.TrimSpace(s.Get(KeyBucket))
	if bucket == "" {
		return Settings{}, dserrors.ConfigError{
			Field:      "repositories." + md.Name + "." + KeyBucket,
			Message:    fmt.Sprintf("No bucket defined for cos repository [%s]", md.Name),
			Suggestion: "Set 'bucket' to the COS bucket name, including its -<appid> suffix",
		}
	}
	if appID := strings.TrimSpace(s.Get(KeyAppID)); appID != "" {
		bucket = bucket + "-" + appID
		logger.Deprecated(KeyAppID,
			"cos repository bucket already contain app_id, and app_id will not be supported for the cos repository in future releases")
	}

	basePath := s.Get(KeyBasePath)
	if strings.HasPrefix(basePath, "/") {
		basePath = strings.TrimPrefix(basePath, "/")
		logger.Deprecated(KeyBasePath,
			"cos repository base_path trimming the leading `/`, and leading `/` will not be supported for the cos repository in future releases")
	}
	basePath = strings.TrimRight(basePath, "/")

	compress, err := s.GetBool(KeyCompress, false)
	if err != nil {
		return Settings{}, dserrors.ConfigError{
			Field:   "repositories." + md.Name + "." + KeyCompress,
			Value:   s.Get(KeyCompress),
			Message: "compress must be true or false",
		}
	}

	chunkSize, err := parseChunkSize(s.Get(KeyChunkSize))
	if err != nil {
		return Settings{}, dserrors.ConfigError{
			Field:      "repositories." + md.Name + "." + KeyChunkSize,
			Value:      s.Get(KeyChunkSize),
			Message:    err.Error(),
			Suggestion: fmt.Sprintf("Use a size between %s and %s, e.g. 64mb or 1gb", humanize.IBytes(MinChunkSize), humanize.IBytes(MaxChunkSize)),
		}
	}

	return Settings{
		Bucket:    bucket,
		BasePath:  basePath,
		Compress:  compress,
		ChunkSize: chunkSize,
	}, nil
}

func parseChunkSize(v string) (uint64, error) {
	if strings.TrimSpace(v) == "" {
		return DefaultChunkSize, nil
	}
	n, err := humanize.ParseBytes(binarySize(v))
	if err != nil {
		return 0, fmt.Errorf("invalid chunk_size: %w", err)
	}
	if n < MinChunkSize || n > MaxChunkSize {
		return 0, fmt.Errorf("chunk_size %s is out of range", humanize.IBytes(n))
	}
	return n, nil
}

// binarySize rewrites "64mb" or "64m" as "64mib". Other spellings pass through.
func binarySize(v string) string {
	s := strings.ToLower(strings.TrimSpace(v))
	num := strings.TrimRightFunc(s, unicode.IsLetter)
	unit := s[len(num):]
	if b, ok := binaryUnits[unit]; ok {
		return strings.TrimSpace(num) + b
	}
	return s
}
