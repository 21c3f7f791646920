package handle

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/somaen/residual/archive"
	"github.com/somaen/residual/heap"
	"github.com/somaen/residual/internal/utils"
	"github.com/somaen/residual/memutils"
	"golang.org/x/exp/slog"
)

// DefaultIndexName is the index file read when Options.IndexName is empty
const DefaultIndexName = "index"

// Options contains optional settings when creating a Manager
type Options struct {
	// FS holds the index and resource files
	FS fs.FS
	// IndexName is the name of the index file in FS
	IndexName string
	// Descriptors, when set, is used as the table instead of reading the index file
	Descriptors []Descriptor
	// Format is the layout of the index file and handles. FormatV1 is used when it is left blank.
	Format IndexFormat
	// Heap configures the heap that stores resources. Its Logger defaults to the manager's logger.
	Heap heap.Options
	// Logger receives debug output and load warnings. slog.Default() is used when nil.
	Logger *slog.Logger
	// Clock timestamps resource accesses. A FrameClock is used when nil.
	Clock Clock
	// Loader reads resource bytes. A FileLoader over FS is used when nil.
	Loader Loader
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags
}

// Manager owns the handle table and the heap that stores resource data
type Manager struct {
	logger *slog.Logger
	mutex  *utils.OptionalRWMutex

	fsys   fs.FS
	format IndexFormat
	clock  Clock
	loader Loader
	heap   *heap.Heap

	descriptors []Descriptor
	names       *swiss.Map[string, int]

	lockedScene int
	cd          cdPlay
}

var _ memutils.Statistician = &Manager{}

// New builds the handle table and loads every Preload resource into fixed memory
//
// options - Optional parameters: FS is required unless both Descriptors and Loader are provided
func New(options Options) (*Manager, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	format := options.Format
	if format.RecordSize == 0 {
		format = FormatV1
	}

	loader := options.Loader
	if loader == nil {
		if options.FS == nil {
			return nil, errors.New("handle.Options.FS is required without a Loader")
		}
		loader = NewFileLoader(options.FS, format.Compression)
	}

	clock := options.Clock
	if clock == nil {
		clock = &FrameClock{}
	}

	descriptors, err := readDescriptors(options, format)
	if err != nil {
		return nil, err
	}

	heapOptions := options.Heap
	if heapOptions.Logger == nil {
		heapOptions.Logger = logger
	}
	heapOptions.Flags |= heap.CreateExternallySynchronized

	resourceHeap, err := heap.New(heapOptions)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:      logger,
		mutex:       utils.NewOptionalRWMutex(options.Flags&CreateExternallySynchronized == 0),
		fsys:        options.FS,
		format:      format,
		clock:       clock,
		loader:      loader,
		heap:        resourceHeap,
		descriptors: descriptors,
		names:       swiss.NewMap[string, int](uint32(len(descriptors))),
		lockedScene: -1,
		cd:          newCDPlay(),
	}

	logger.Debug("Manager::New", slog.String("Format", format.Name), slog.Int("Handles", len(descriptors)), slog.String("Flags", options.Flags.String()))

	err = m.setup()
	if err != nil {
		_ = resourceHeap.Close()
		return nil, err
	}

	return m, nil
}

func readDescriptors(options Options, format IndexFormat) ([]Descriptor, error) {
	if options.Descriptors != nil {
		descriptors := make([]Descriptor, len(options.Descriptors))
		for i, d := range options.Descriptors {
			descriptors[i] = Descriptor{
				Name:  d.Name,
				Size:  d.Size,
				Flags: d.Flags &^ FlagLoaded,
				block: heap.NoBlock,
			}
		}
		return descriptors, nil
	}

	if options.FS == nil {
		return nil, errors.New("handle.Options.FS is required without Descriptors")
	}

	indexName := options.IndexName
	if indexName == "" {
		indexName = DefaultIndexName
	}

	f, err := archive.Open(options.FS, indexName)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingIndex, "%s: %v", indexName, err)
	}
	defer f.Close()

	size, err := archive.Size(f)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", indexName)
	}

	return ReadIndex(f, size, format)
}

func (m *Manager) setup() error {
	for i := range m.descriptors {
		d := &m.descriptors[i]

		if _, exists := m.names.Get(d.Name); !exists {
			m.names.Put(d.Name, i)
		}

		switch {
		case d.IsPreload():
			block, err := m.heap.Allocate(heap.Fixed, d.storageSize())
			if err != nil {
				return errors.Wrapf(err, "preload %s", d.Name)
			}
			d.block = block

			err = m.load(d, true)
			if err != nil {
				return err
			}
		case d.IsPlaceholder():
			d.block = heap.NoBlock
		default:
			block, err := m.heap.Allocate(heap.Moveable|heap.Discardable|heap.NoAlloc, d.storageSize())
			if err != nil {
				return errors.Wrapf(err, "entry %s", d.Name)
			}
			d.block = block
		}
	}

	return nil
}

func (m *Manager) descriptor(h Handle) (*Descriptor, uint32, error) {
	index, offset := m.format.Split(h)
	if index >= len(m.descriptors) {
		return nil, 0, errors.Wrapf(ErrInvalidHandle, "handle %#x selects entry %d of %d", h, index, len(m.descriptors))
	}
	return &m.descriptors[index], offset, nil
}

func (m *Manager) hasStorage(d *Descriptor) (bool, error) {
	if d.block == heap.NoBlock {
		return false, nil
	}

	discarded, err := m.heap.IsDiscarded(d.block)
	if err != nil {
		return false, err
	}
	return !discarded, nil
}

// reallocate gives a descriptor fresh storage of size bytes in the class flags. When the heap is full
// the least recently used resources are discarded and the heap is compacted before one more attempt.
func (m *Manager) reallocate(d *Descriptor, size int, flags heap.AllocationFlags) error {
	present, err := m.hasStorage(d)
	if err != nil {
		return err
	}
	if !present {
		d.Flags &^= FlagLoaded
	}

	err = m.heap.Reallocate(d.block, size, flags)
	if !errors.Is(err, heap.ErrOutOfMemory) {
		return err
	}

	released, discardErr := m.heap.DiscardLRU(size)
	if discardErr != nil {
		return discardErr
	}
	if released > 0 {
		err = m.forgetDiscarded()
		if err != nil {
			return err
		}
	}

	stats, compactErr := m.heap.Compact()
	if compactErr != nil {
		return compactErr
	}

	m.logger.Debug("Manager::reallocate reclaimed memory", slog.String("Name", d.Name), slog.Int("Released", released), slog.Int("BlocksMoved", stats.BlocksMoved), slog.Int("LargestFree", stats.LargestFree))

	err = m.heap.Reallocate(d.block, size, flags)
	if err != nil {
		return errors.Wrapf(err, "%s", d.Name)
	}
	return nil
}

// forgetDiscarded clears FlagLoaded on every entry whose storage the heap has released
func (m *Manager) forgetDiscarded() error {
	for i := range m.descriptors {
		d := &m.descriptors[i]
		if !d.IsLoaded() || d.block == heap.NoBlock {
			continue
		}

		present, err := m.hasStorage(d)
		if err != nil {
			return err
		}
		if !present {
			d.Flags &^= FlagLoaded
		}
	}
	return nil
}

// load reads a descriptor's bytes into its storage. With warn unset a failed load is logged and the
// descriptor stays unloaded.
func (m *Manager) load(d *Descriptor, warn bool) error {
	data, err := m.heap.Lock(d.block)
	if err != nil {
		return err
	}
	defer m.heap.Unlock(d.block)

	n, err := m.loader.Load(d, data)
	if err == nil && n != int(d.Size) {
		err = errors.Wrapf(ErrFileCorrupt, "%s: expected %d bytes got %d bytes", d.Name, d.Size, n)
	}

	if err != nil {
		if warn {
			return err
		}

		m.logger.Warn("speculative load failed", slog.String("Name", d.Name), slog.Any("Error", err))
		return nil
	}

	d.Flags |= FlagLoaded
	return nil
}

func (m *Manager) view(d *Descriptor, offset, size int) ([]byte, error) {
	if offset > size {
		return nil, errors.Wrapf(ErrInvalidHandle, "offset %d is beyond the %d bytes of %s", offset, size, d.Name)
	}

	data, err := m.heap.Lock(d.block)
	if err != nil {
		return nil, err
	}

	err = m.heap.Unlock(d.block)
	if err != nil {
		return nil, err
	}

	if size > len(data) {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s needs %d bytes but its storage holds %d", d.Name, size, len(data))
	}
	return data[offset:size], nil
}

// Resolve returns the bytes that h refers to, loading the resource if it is not resident. The slice
// aliases heap storage and stays valid until the resource is discarded, reallocated or compacted.
func (m *Manager) Resolve(h Handle) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	d, offset, err := m.descriptor(h)
	if err != nil {
		return nil, err
	}
	index, _ := m.format.Split(h)

	switch {
	case d.IsPreload():
		err = m.heap.Touch(d.block, m.clock.Now())
		if err != nil {
			return nil, err
		}
		return m.view(d, int(offset), int(d.Size))
	case index == m.cd.index:
		return m.resolveCDPlay(d, h)
	}

	if d.block == heap.NoBlock {
		return nil, errors.Wrapf(ErrInvalidHandle, "entry %d (%s) is a placeholder", index, d.Name)
	}

	present, err := m.hasStorage(d)
	if err != nil {
		return nil, err
	}

	if !present || !d.IsLoaded() {
		m.logger.Debug("Manager::Resolve loading", slog.String("Name", d.Name), slog.Int("Size", int(d.Size)), slog.Bool("Resident", present))

		if !present {
			err = m.reallocate(d, d.storageSize(), heap.Moveable|heap.Discardable)
			if err != nil {
				return nil, err
			}
		}

		err = m.load(d, true)
		if err != nil {
			return nil, err
		}
	}

	err = m.heap.Touch(d.block, m.clock.Now())
	if err != nil {
		return nil, err
	}

	return m.view(d, int(offset), int(d.Size))
}

// Prefetch loads the resource h refers to ahead of use. Load failures are logged and leave the
// resource unloaded; only allocation failures are returned.
func (m *Manager) Prefetch(h Handle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return err
	}
	index, _ := m.format.Split(h)

	if d.IsPreload() || d.block == heap.NoBlock || index == m.cd.index {
		return nil
	}

	present, err := m.hasStorage(d)
	if err != nil {
		return err
	}
	if present && d.IsLoaded() {
		return nil
	}

	if !present {
		err = m.reallocate(d, d.storageSize(), heap.Moveable|heap.Discardable)
		if err != nil {
			return err
		}
	}

	return m.load(d, false)
}

// LockScene compacts the heap and pins the scene resource h refers to until UnlockScene. Only one
// scene may be locked at a time.
func (m *Manager) LockScene(h Handle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return err
	}
	index, _ := m.format.Split(h)

	if m.lockedScene >= 0 {
		return errors.Wrapf(ErrSceneLocked, "entry %d is locked", m.lockedScene)
	}

	stats, err := m.heap.Compact()
	if err != nil {
		return err
	}

	m.logger.Debug("Manager::LockScene", slog.String("Name", d.Name), slog.Int("BlocksMoved", stats.BlocksMoved), slog.Int("BytesMoved", stats.BytesMoved))

	if d.IsPreload() {
		return nil
	}
	if d.block == heap.NoBlock {
		return errors.Wrapf(ErrInvalidHandle, "entry %d (%s) is a placeholder", index, d.Name)
	}

	err = m.reallocate(d, d.storageSize(), heap.Moveable|heap.Locked)
	if err != nil {
		return err
	}

	m.lockedScene = index
	return nil
}

// UnlockScene returns the scene resource h refers to to the discardable pool. While a scene is
// locked, only that scene may be unlocked.
func (m *Manager) UnlockScene(h Handle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return err
	}
	index, _ := m.format.Split(h)

	if m.lockedScene >= 0 && m.lockedScene != index {
		return errors.Wrapf(ErrSceneLocked, "entry %d is locked, not entry %d", m.lockedScene, index)
	}

	m.logger.Debug("Manager::UnlockScene", slog.String("Name", d.Name))

	if d.IsPreload() || d.block == heap.NoBlock {
		return nil
	}

	present, err := m.hasStorage(d)
	if err != nil {
		return err
	}

	flags := heap.Moveable | heap.Discardable
	if !present {
		flags |= heap.NoAlloc
	}

	err = m.heap.Reallocate(d.block, d.storageSize(), flags)
	if err != nil {
		return err
	}

	if m.lockedScene == index {
		m.lockedScene = -1
	}
	return nil
}

// Touch records the current time as the resource's last use. The null handle is ignored.
func (m *Manager) Touch(h Handle) error {
	if h == NoHandle {
		return nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return err
	}
	if d.block == heap.NoBlock {
		return nil
	}

	return m.heap.Touch(d.block, m.clock.Now())
}

// Discard drops the resource's data. The next Resolve reloads it.
func (m *Manager) Discard(h Handle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return err
	}
	if d.block == heap.NoBlock {
		return nil
	}

	err = m.heap.Discard(d.block)
	if err != nil {
		return errors.Wrapf(err, "%s", d.Name)
	}

	d.Flags &^= FlagLoaded
	return nil
}

// IsValidHandle returns false for placeholder entries and handles outside the table
func (m *Manager) IsValidHandle(h Handle) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return false
	}
	return !d.IsPlaceholder()
}

// InMemory returns true if the resource's bytes are resident
func (m *Manager) InMemory(h Handle) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return false, err
	}

	if d.IsPreload() {
		return true, nil
	}
	if !d.IsLoaded() {
		return false, nil
	}
	return m.hasStorage(d)
}

// IsCDPlayHandle returns true if h refers to the CD overlay entry
func (m *Manager) IsCDPlayHandle(h Handle) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, _, err := m.descriptor(h)
	if err != nil {
		return false, err
	}

	index, _ := m.format.Split(h)
	return index == m.cd.index, nil
}

// CDNumber returns the disc the resource is stored on. Formats without disc bits report disc 1.
func (m *Manager) CDNumber(h Handle) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	d, _, err := m.descriptor(h)
	if err != nil {
		return 0, err
	}

	if !m.format.hasFlagsWord() {
		return 1, nil
	}
	return d.Flags.CDNumber(), nil
}

// HandleIndex returns the index of the first entry with the given name
func (m *Manager) HandleIndex(name string) (int, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.names.Get(name)
}

// Handle returns the handle for offset bytes into the entry at index
func (m *Manager) Handle(index int, offset uint32) Handle {
	return m.format.Handle(index, offset)
}

// Descriptor returns a copy of the entry at index
func (m *Manager) Descriptor(index int) (Descriptor, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if index < 0 || index >= len(m.descriptors) {
		return Descriptor{}, errors.Wrapf(ErrInvalidHandle, "entry %d of %d", index, len(m.descriptors))
	}
	return m.descriptors[index], nil
}

func (m *Manager) NumHandles() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.descriptors)
}

func (m *Manager) Format() IndexFormat {
	return m.format
}

func (m *Manager) AddStatistics(stats *memutils.Statistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	m.heap.AddStatistics(stats)
}

func (m *Manager) Statistics(stats *memutils.DetailedStatistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	m.heap.Statistics(stats)
}

// Validate checks the heap and that every descriptor's block agrees with its class
func (m *Manager) Validate() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	err := m.heap.Validate()
	if err != nil {
		return err
	}

	for i := range m.descriptors {
		d := &m.descriptors[i]
		if d.block == heap.NoBlock {
			if !d.IsPlaceholder() {
				return errors.Newf("entry %d (%s) has no block", i, d.Name)
			}
			continue
		}

		flags, err := m.heap.Flags(d.block)
		if err != nil {
			return errors.Wrapf(err, "entry %d (%s)", i, d.Name)
		}
		if d.IsPreload() != (flags&heap.Fixed != 0) {
			return errors.Newf("entry %d (%s) is %s but its block is %s", i, d.Name, d.Flags, flags)
		}
	}

	return nil
}

// PrintDetailedMap writes the handle table and the heap map as a json object
func (m *Manager) PrintDetailedMap(writer *jwriter.Writer) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	objState := writer.Object()
	defer objState.End()

	objState.Name("Format").String(m.format.Name)

	handles := objState.Name("Handles").Array()
	for i := range m.descriptors {
		entry := handles.Object()
		entry.Name("Index").Int(i)
		m.descriptors[i].writeJson(&entry)
		entry.End()
	}
	handles.End()

	m.heap.PrintDetailedMap(objState.Name("Heap"))
}

// Close releases the heap and the CD overlay file
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.logger.Debug("Manager::Close")

	streamErr := m.cd.closeStream()
	heapErr := m.heap.Close()

	m.descriptors = nil
	m.names.Clear()

	return errors.CombineErrors(streamErr, heapErr)
}
