package heap

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/somaen/residual/memutils"
	"github.com/somaen/residual/memutils/metadata"
)

// PrintDetailedMap writes a json object describing the arena and every region within it
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	objState := writer.Object()
	defer objState.End()

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.metadata.AddDetailedStatistics(&stats)

	statsObj := objState.Name("Total").Object()
	stats.WriteJson(&statsObj)
	statsObj.End()

	arenaObj := objState.Name("Arena").Object()
	h.metadata.BlockJsonData(&arenaObj)
	h.printDetailedMapRegions(&arenaObj)
	arenaObj.End()
}

func (h *Heap) printDetailedMapRegions(json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = h.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)

			if free {
				obj.Name("Type").String("Free")
				return nil
			}

			owner, isBlock := userData.(BlockHandle)
			if !isBlock {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
				return nil
			}

			b := &h.blocks[owner]
			obj.Name("Type").String("Block")
			obj.Name("Handle").Int(int(owner))
			obj.Name("Flags").String(b.flags.String())
			obj.Name("LockCount").Int(b.lockCount)
			obj.Name("LastAccess").Int(int(b.lastAccess))

			return nil
		})
}
