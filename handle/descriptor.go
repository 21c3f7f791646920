package handle

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/somaen/residual/heap"
)

// Descriptor is one entry of the handle table
type Descriptor struct {
	// Name is the file the resource is loaded from
	Name  string
	Size  uint32
	Flags Flags

	block heap.BlockHandle
}

// IsPlaceholder returns true for entries that pad the table and have no data
func (d *Descriptor) IsPlaceholder() bool {
	return d.Size == PlaceholderSize
}

func (d *Descriptor) IsPreload() bool {
	return d.Flags&FlagPreload != 0
}

func (d *Descriptor) IsCompressed() bool {
	return d.Flags&FlagCompressed != 0
}

func (d *Descriptor) IsLoaded() bool {
	return d.Flags&FlagLoaded != 0
}

// storageSize is the number of heap bytes backing the descriptor. Empty resources still own a byte so
// that they have a block.
func (d *Descriptor) storageSize() int {
	return max(1, int(d.Size))
}

func (d *Descriptor) writeJson(json *jwriter.ObjectState) {
	json.Name("Name").String(d.Name)
	json.Name("Size").Int(int(d.Size))
	json.Name("Flags").String(d.Flags.String())
	if d.block != heap.NoBlock {
		json.Name("Block").Int(int(d.block))
	}
}
