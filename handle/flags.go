package handle

import (
	"math/bits"

	"github.com/somaen/residual/memutils"
)

// Flags describe how a resource is stored and managed
type Flags uint32

var flagsMapping = memutils.NewFlagStringMapping[Flags]()

func (f Flags) Register(str string) {
	flagsMapping.Register(f, str)
}

func (f Flags) String() string {
	return flagsMapping.FlagsToString(f)
}

const (
	// FlagPreload resources are loaded into fixed memory when the table is built and never discarded
	FlagPreload Flags = 0x01000000
	// FlagDiscard resources are loaded on first use and may be discarded afterwards
	FlagDiscard Flags = 0x02000000
	FlagSound   Flags = 0x04000000
	FlagGraphic Flags = 0x08000000
	// FlagCompressed resources are stored with the format's codec
	FlagCompressed Flags = 0x10000000
	// FlagLoaded is runtime state. It is set once the resource's bytes are valid.
	FlagLoaded Flags = 0x20000000

	FlagCD1 Flags = 0x00040000
	FlagCD2 Flags = 0x00080000
	FlagCD3 Flags = 0x00100000
	FlagCD4 Flags = 0x00200000
	FlagCD5 Flags = 0x00400000
	// CDMask isolates the disc bits of the extended flags word
	CDMask = FlagCD1 | FlagCD2 | FlagCD3 | FlagCD4 | FlagCD5

	fileFlagsMask = FlagPreload | FlagDiscard | FlagSound | FlagGraphic | FlagCompressed | CDMask
)

func init() {
	FlagPreload.Register("Preload")
	FlagDiscard.Register("Discard")
	FlagSound.Register("Sound")
	FlagGraphic.Register("Graphic")
	FlagCompressed.Register("Compressed")
	FlagLoaded.Register("Loaded")
	FlagCD1.Register("CD1")
	FlagCD2.Register("CD2")
	FlagCD3.Register("CD3")
	FlagCD4.Register("CD4")
	FlagCD5.Register("CD5")
}

// CDNumber returns the lowest disc a resource is present on, counting from 1. Resources with no disc
// bits are on the first disc.
func (f Flags) CDNumber() int {
	cds := uint32(f & CDMask)
	if cds == 0 {
		return 1
	}
	return bits.TrailingZeros32(cds) - bits.TrailingZeros32(uint32(FlagCD1)) + 1
}

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = memutils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}

func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the manager will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}
