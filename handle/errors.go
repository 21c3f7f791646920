package handle

import (
	"github.com/cockroachdb/errors"
	"github.com/somaen/residual/heap"
)

var (
	// ErrCorruptIndex is returned when the index file is empty or is not a whole number of records
	ErrCorruptIndex = errors.New("handle: corrupt index")
	// ErrMissingIndex is returned when the index file cannot be opened
	ErrMissingIndex = errors.New("handle: cannot find index")
	// ErrFileMissing is returned when a resource file cannot be opened
	ErrFileMissing = errors.New("handle: cannot find file")
	// ErrMissingArchive is ErrFileMissing under the name used for PAK archives
	ErrMissingArchive = ErrFileMissing
	// ErrMissingCDFile is returned when the file backing the CD overlay cannot be opened
	ErrMissingCDFile = errors.New("handle: cannot find CD play file")
	// ErrFileCorrupt is returned when a resource file yields fewer bytes than its descriptor records
	ErrFileCorrupt = errors.New("handle: file is corrupt")
	// ErrReadRetryExhausted is returned when the CD overlay range stays short after every retry
	ErrReadRetryExhausted = errors.New("handle: file read error")
	// ErrInvalidHandle is returned for handles outside the table and for placeholder entries
	ErrInvalidHandle = errors.New("handle: invalid handle")
	// ErrOverlappingCDPlay is returned when the CD overlay is resolved outside its prepared range
	ErrOverlappingCDPlay = errors.New("handle: overlapping CD plays")
	// ErrSceneLocked is returned when a scene is locked while another scene is still locked
	ErrSceneLocked = errors.New("handle: a scene is already locked")
	// ErrInternal is returned when the overlay is misconfigured
	ErrInternal = errors.New("handle: internal error")
)

// Kind classifies manager failures so the host can decide which of them are fatal
type Kind int

const (
	KindNone Kind = iota
	KindCorruptIndex
	KindMissingIndex
	KindFileMissing
	KindMissingCDFile
	KindFileCorrupt
	KindOutOfMemory
	KindReadRetryExhausted
	KindInvalidHandle
	KindOverlappingCDPlay
	KindSceneLocked
	KindInternal
	KindUnknown
)

var kindMapping = map[Kind]string{
	KindNone:               "None",
	KindCorruptIndex:       "CorruptIndex",
	KindMissingIndex:       "MissingIndex",
	KindFileMissing:        "FileMissing",
	KindMissingCDFile:      "MissingCDFile",
	KindFileCorrupt:        "FileCorrupt",
	KindOutOfMemory:        "OutOfMemory",
	KindReadRetryExhausted: "ReadRetryExhausted",
	KindInvalidHandle:      "InvalidHandle",
	KindOverlappingCDPlay:  "OverlappingCDPlay",
	KindSceneLocked:        "SceneLocked",
	KindInternal:           "Internal",
	KindUnknown:            "Unknown",
}

func (k Kind) String() string {
	if name, ok := kindMapping[k]; ok {
		return name
	}
	return "Unknown"
}

var kindSentinels = []struct {
	err  error
	kind Kind
}{
	{ErrCorruptIndex, KindCorruptIndex},
	{ErrMissingIndex, KindMissingIndex},
	{ErrFileMissing, KindFileMissing},
	{ErrMissingCDFile, KindMissingCDFile},
	{ErrFileCorrupt, KindFileCorrupt},
	{heap.ErrOutOfMemory, KindOutOfMemory},
	{ErrReadRetryExhausted, KindReadRetryExhausted},
	{ErrInvalidHandle, KindInvalidHandle},
	{ErrOverlappingCDPlay, KindOverlappingCDPlay},
	{ErrSceneLocked, KindSceneLocked},
	{ErrInternal, KindInternal},
}

// KindOf returns the Kind of the first sentinel in err's chain
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	for _, sentinel := range kindSentinels {
		if errors.Is(err, sentinel.err) {
			return sentinel.kind
		}
	}

	return KindUnknown
}
