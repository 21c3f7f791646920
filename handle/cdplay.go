package handle

import (
	"io"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/somaen/residual/archive"
	"github.com/somaen/residual/heap"
	"golang.org/x/exp/slog"
)

// MaxReadRetries is the number of times a short read of the CD overlay range is retried
const MaxReadRetries = 2

// cdPlay is the overlay entry whose data is streamed from a per-scene file. Only the range
// [base, top) of the entry's handle space is resident at a time.
type cdPlay struct {
	index int

	fileName string
	sceneNum int

	// openScene is the scene whose file is open in stream
	openScene int
	stream    fs.File

	base, top Handle
}

func newCDPlay() cdPlay {
	return cdPlay{index: -1, openScene: -1}
}

func (c *cdPlay) closeStream() error {
	if c.stream == nil {
		return nil
	}

	err := c.stream.Close()
	c.stream = nil
	c.openScene = -1
	return err
}

// SetCDPlayHandle marks the entry at index as the CD overlay. Moving the overlay to another entry
// drops the storage of both the previous and the new overlay entry and forgets the prepared range.
func (m *Manager) SetCDPlayHandle(index int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if index < 0 || index >= len(m.descriptors) {
		return errors.Wrapf(ErrInvalidHandle, "CD play index %d is outside a table of %d entries", index, len(m.descriptors))
	}

	m.logger.Debug("Manager::SetCDPlayHandle", slog.Int("Index", index), slog.String("Name", m.descriptors[index].Name))

	if index == m.cd.index {
		return nil
	}

	if m.cd.index >= 0 {
		err := m.releaseStorage(&m.descriptors[m.cd.index])
		if err != nil {
			return err
		}
	}

	err := m.releaseStorage(&m.descriptors[index])
	if err != nil {
		return err
	}

	err = m.cd.closeStream()
	if err != nil {
		m.logger.Warn("failed to close CD play file", slog.Any("Error", err))
	}

	m.cd.index = index
	m.cd.base = NoHandle
	m.cd.top = NoHandle
	return nil
}

// releaseStorage returns a discardable entry to its unloaded state, sized for its whole resource
func (m *Manager) releaseStorage(d *Descriptor) error {
	if d.IsPreload() || d.block == heap.NoBlock {
		return nil
	}

	err := m.heap.Reallocate(d.block, d.storageSize(), heap.Moveable|heap.Discardable|heap.NoAlloc)
	if err != nil {
		return errors.Wrapf(err, "%s", d.Name)
	}

	d.Flags &^= FlagLoaded
	return nil
}

// SetCDPlaySceneDetails records the file that backs the overlay for the given scene. The file is
// opened by the next PrepareCDRange.
func (m *Manager) SetCDPlaySceneDetails(sceneNum int, fileName string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.logger.Debug("Manager::SetCDPlaySceneDetails", slog.Int("Scene", sceneNum), slog.String("File", fileName))

	m.cd.sceneNum = sceneNum
	m.cd.fileName = fileName
}

// PrepareCDRange makes [start, next) the resident range of the CD overlay. Both handles must refer to
// the overlay entry. Preparing the range that is already prepared for the current scene does nothing;
// otherwise the scene's file is reopened and the overlay's data is dropped.
func (m *Manager) PrepareCDRange(start, next Handle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cd.index < 0 {
		return errors.Wrapf(ErrInternal, "no CD play handle is set")
	}

	startIndex, _ := m.format.Split(start)
	nextIndex, _ := m.format.Split(next)
	if startIndex != m.cd.index || nextIndex != m.cd.index {
		return errors.Wrapf(ErrInternal, "CD range %#x-%#x is outside CD play entry %d", start, next, m.cd.index)
	}
	if next <= start {
		return errors.Wrapf(ErrInternal, "empty CD range %#x-%#x", start, next)
	}

	if m.cd.stream != nil && m.cd.openScene == m.cd.sceneNum && m.cd.base == start && m.cd.top == next {
		return nil
	}

	m.logger.Debug("Manager::PrepareCDRange", slog.Int("Start", int(start)), slog.Int("Next", int(next)), slog.String("File", m.cd.fileName))

	stream, err := archive.Open(m.fsys, m.cd.fileName)
	if err != nil {
		return errors.Wrapf(ErrMissingCDFile, "%s: %v", m.cd.fileName, err)
	}

	d := &m.descriptors[m.cd.index]
	if d.block != heap.NoBlock {
		err = m.heap.Discard(d.block)
		if err != nil && !errors.Is(err, heap.ErrNotDiscardable) {
			return errors.CombineErrors(err, stream.Close())
		}
	}

	err = m.cd.closeStream()
	if err != nil {
		m.logger.Warn("failed to close CD play file", slog.Any("Error", err))
	}

	d.Flags &^= FlagLoaded
	m.cd.stream = stream
	m.cd.openScene = m.cd.sceneNum
	m.cd.base = start
	m.cd.top = next
	return nil
}

func (m *Manager) resolveCDPlay(d *Descriptor, h Handle) ([]byte, error) {
	if h < m.cd.base || h >= m.cd.top {
		return nil, errors.Wrapf(ErrOverlappingCDPlay, "handle %#x is outside %#x-%#x", h, m.cd.base, m.cd.top)
	}
	if d.block == heap.NoBlock {
		return nil, errors.Wrapf(ErrInvalidHandle, "CD play entry %d has no storage", m.cd.index)
	}

	mask := m.format.OffsetMask()
	size := int(uint32(m.cd.top-m.cd.base) & mask)
	offset := int(uint32(h-m.cd.base) & mask)

	present, err := m.hasStorage(d)
	if err != nil {
		return nil, err
	}

	if !present || !d.IsLoaded() {
		if !present {
			err = m.reallocate(d, size, heap.Moveable|heap.Discardable)
			if err != nil {
				return nil, err
			}
		}

		err = m.loadCDRange(d, size)
		if err != nil {
			return nil, err
		}
	}

	err = m.heap.Touch(d.block, m.clock.Now())
	if err != nil {
		return nil, err
	}

	return m.view(d, offset, size)
}

func (m *Manager) loadCDRange(d *Descriptor, size int) error {
	if m.cd.stream == nil {
		return errors.Wrapf(ErrMissingCDFile, "no CD play file is open")
	}

	data, err := m.heap.Lock(d.block)
	if err != nil {
		return err
	}
	defer m.heap.Unlock(d.block)

	if len(data) < size {
		return errors.Wrapf(ErrInternal, "CD play storage holds %d bytes but the range needs %d", len(data), size)
	}

	start := int64(uint32(m.cd.base) & m.format.OffsetMask())
	var n int
	for retries := 0; ; retries++ {
		r, err := archive.Section(m.cd.stream, start, int64(size))
		if err != nil {
			return err
		}

		n, err = io.ReadFull(r, data[:size])
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return errors.Wrapf(err, "read %s", m.cd.fileName)
		}
		if n == size || retries >= MaxReadRetries {
			break
		}

		m.logger.Warn("short read of CD play range", slog.String("File", m.cd.fileName), slog.Int("Read", n), slog.Int("Size", size), slog.Int("Retry", retries+1))
	}

	if n != size {
		return errors.Wrapf(ErrReadRetryExhausted, "%s: read %d of %d bytes at %d", m.cd.fileName, n, size, start)
	}

	d.Flags |= FlagLoaded
	return nil
}
