package handle_test

import (
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	fsmocks "github.com/somaen/residual/archive/mocks"
	"github.com/somaen/residual/handle"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func cdPlayFS(t *testing.T, sceneData []byte) fstest.MapFS {
	return fstest.MapFS{
		"index": {Data: writeIndex(t, handle.FormatV1,
			handle.Descriptor{Name: "OTHER", Size: 16, Flags: handle.FlagDiscard},
			handle.Descriptor{Name: "CDPLAY", Size: 0x1000, Flags: handle.FlagDiscard},
		)},
		"scene1.cdp": {Data: sceneData},
	}
}

func TestPrepareCDRangeDoesNotReopen(t *testing.T) {
	ctrl := gomock.NewController(t)
	sceneData := pattern(3, 0x400)
	fsys := cdPlayFS(t, sceneData)

	mockFS := fsmocks.NewMockFS(ctrl)
	mockFS.EXPECT().Open("index").DoAndReturn(fsys.Open).Times(1)
	mockFS.EXPECT().Open("scene1.cdp").DoAndReturn(fsys.Open).Times(1)

	m := newManager(t, handle.Options{FS: mockFS})
	require.NoError(t, m.SetCDPlayHandle(1))
	m.SetCDPlaySceneDetails(1, "scene1.cdp")

	start, next := m.Handle(1, 0x100), m.Handle(1, 0x180)
	require.NoError(t, m.PrepareCDRange(start, next))
	require.NoError(t, m.PrepareCDRange(start, next))

	isCDPlay, err := m.IsCDPlayHandle(start)
	require.NoError(t, err)
	require.True(t, isCDPlay)

	isCDPlay, err = m.IsCDPlayHandle(m.Handle(0, 0))
	require.NoError(t, err)
	require.False(t, isCDPlay)

	data, err := m.Resolve(m.Handle(1, 0x110))
	require.NoError(t, err)
	require.Equal(t, sceneData[0x110:0x180], data)
}

func TestCDRangeContainment(t *testing.T) {
	sceneData := pattern(3, 0x400)
	m := newManager(t, handle.Options{FS: cdPlayFS(t, sceneData)})
	require.NoError(t, m.SetCDPlayHandle(1))
	m.SetCDPlaySceneDetails(1, "scene1.cdp")

	_, err := m.Resolve(m.Handle(1, 0x100))
	require.ErrorIs(t, err, handle.ErrOverlappingCDPlay)

	require.NoError(t, m.PrepareCDRange(m.Handle(1, 0x100), m.Handle(1, 0x180)))

	for offset := uint32(0xC0); offset < 0x1C0; offset += 8 {
		data, err := m.Resolve(m.Handle(1, offset))
		if offset >= 0x100 && offset < 0x180 {
			require.NoError(t, err, "offset %#x", offset)
			require.Equal(t, sceneData[offset:0x180], data)
			continue
		}

		require.ErrorIs(t, err, handle.ErrOverlappingCDPlay, "offset %#x", offset)
		require.Equal(t, handle.KindOverlappingCDPlay, handle.KindOf(err))
	}

	require.NoError(t, m.PrepareCDRange(m.Handle(1, 0x200), m.Handle(1, 0x210)))

	data, err := m.Resolve(m.Handle(1, 0x200))
	require.NoError(t, err)
	require.Equal(t, sceneData[0x200:0x210], data)

	_, err = m.Resolve(m.Handle(1, 0x100))
	require.ErrorIs(t, err, handle.ErrOverlappingCDPlay)

	require.NoError(t, m.Discard(m.Handle(1, 0)))
	data, err = m.Resolve(m.Handle(1, 0x208))
	require.NoError(t, err)
	require.Equal(t, sceneData[0x208:0x210], data)

	require.NoError(t, m.Validate())
}

func TestPrepareCDRangeErrors(t *testing.T) {
	m := newManager(t, handle.Options{FS: cdPlayFS(t, pattern(3, 0x120))})

	err := m.PrepareCDRange(m.Handle(1, 0), m.Handle(1, 0x10))
	require.ErrorIs(t, err, handle.ErrInternal)

	require.ErrorIs(t, m.SetCDPlayHandle(2), handle.ErrInvalidHandle)
	require.NoError(t, m.SetCDPlayHandle(1))

	err = m.PrepareCDRange(m.Handle(0, 0), m.Handle(1, 0x10))
	require.ErrorIs(t, err, handle.ErrInternal)
	require.Equal(t, handle.KindInternal, handle.KindOf(err))

	m.SetCDPlaySceneDetails(2, "scene2.cdp")
	err = m.PrepareCDRange(m.Handle(1, 0), m.Handle(1, 0x10))
	require.ErrorIs(t, err, handle.ErrMissingCDFile)
	require.Equal(t, handle.KindMissingCDFile, handle.KindOf(err))

	m.SetCDPlaySceneDetails(1, "scene1.cdp")
	require.NoError(t, m.PrepareCDRange(m.Handle(1, 0x100), m.Handle(1, 0x180)))

	_, err = m.Resolve(m.Handle(1, 0x100))
	require.ErrorIs(t, err, handle.ErrReadRetryExhausted)
	require.Equal(t, handle.KindReadRetryExhausted, handle.KindOf(err))
}

func TestSetCDPlayHandleReleasesPreviousOverlay(t *testing.T) {
	sceneData := pattern(3, 0x400)
	fsys := cdPlayFS(t, sceneData)
	fsys["CDPLAY"] = &fstest.MapFile{Data: pattern(5, 0x1000)}

	m := newManager(t, handle.Options{FS: fsys})
	require.NoError(t, m.SetCDPlayHandle(1))
	m.SetCDPlaySceneDetails(1, "scene1.cdp")

	require.NoError(t, m.PrepareCDRange(m.Handle(1, 0x100), m.Handle(1, 0x180)))
	_, err := m.Resolve(m.Handle(1, 0x100))
	require.NoError(t, err)

	require.NoError(t, m.SetCDPlayHandle(0))

	d, err := m.Descriptor(1)
	require.NoError(t, err)
	require.False(t, d.IsLoaded())

	data, err := m.Resolve(m.Handle(1, 0))
	require.NoError(t, err)
	require.Equal(t, pattern(5, 0x1000), data)

	err = m.PrepareCDRange(m.Handle(1, 0x100), m.Handle(1, 0x180))
	require.ErrorIs(t, err, handle.ErrInternal)

	_, err = m.Resolve(m.Handle(0, 4))
	require.ErrorIs(t, err, handle.ErrOverlappingCDPlay)

	require.NoError(t, m.Validate())
}

// shortReadFile returns half of the requested bytes for its first failures reads
type shortReadFile struct {
	fs.File
	data     []byte
	failures int
}

func (f *shortReadFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.data[off:])
	if f.failures > 0 {
		f.failures--
		return n / 2, io.EOF
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestCDReadRetries(t *testing.T) {
	testCases := []struct {
		name     string
		failures int
		err      error
	}{
		{name: "NoFailures", failures: 0},
		{name: "RecoversOnLastRetry", failures: handle.MaxReadRetries},
		{name: "Exhausted", failures: handle.MaxReadRetries + 1, err: handle.ErrReadRetryExhausted},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sceneData := pattern(3, 0x400)
			fsys := cdPlayFS(t, sceneData)

			mockFS := fsmocks.NewMockFS(ctrl)
			mockFS.EXPECT().Open("index").DoAndReturn(fsys.Open).Times(1)
			mockFS.EXPECT().Open("scene1.cdp").DoAndReturn(func(name string) (fs.File, error) {
				f, err := fsys.Open(name)
				if err != nil {
					return nil, err
				}
				return &shortReadFile{File: f, data: sceneData, failures: testCase.failures}, nil
			}).Times(1)

			m := newManager(t, handle.Options{FS: mockFS})
			require.NoError(t, m.SetCDPlayHandle(1))
			m.SetCDPlaySceneDetails(1, "scene1.cdp")
			require.NoError(t, m.PrepareCDRange(m.Handle(1, 0x100), m.Handle(1, 0x180)))

			data, err := m.Resolve(m.Handle(1, 0x100))
			if testCase.err != nil {
				require.ErrorIs(t, err, testCase.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, sceneData[0x100:0x180], data)
		})
	}
}
