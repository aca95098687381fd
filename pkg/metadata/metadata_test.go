package metadata_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/distribworks/xk6-substrate/pkg/metadata"
	"github.com/distribworks/xk6-substrate/pkg/metadata/metadatatest"
	"github.com/distribworks/xk6-substrate/pkg/scale"
)

func TestParseFixture(t *testing.T) {
	got, err := metadata.Parse(metadatatest.Blob())
	require.NoError(t, err)

	want := metadatatest.Metadata()
	want.SpecVersion = 0
	require.Equal(t, want, got)

	require.Equal(t, scale.TypeID(metadatatest.TRuntimeCall), got.Extrinsic.CallType)
	p, ok := got.PalletByIndex(metadatatest.BalancesIndex)
	require.True(t, ok)
	require.Equal(t, "Balances", p.Name)
	_, ok = got.PalletByName("Staking")
	require.False(t, ok)
}

func TestParseRejects(t *testing.T) {
	blob := metadatatest.Blob()

	v13 := append([]byte(nil), blob...)
	v13[4] = 13

	badMagic := append([]byte(nil), blob...)
	badMagic[0] = 'x'

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad magic", badMagic},
		{"older version", v13},
		{"truncated", blob[:len(blob)/2]},
		{"trailing bytes", append(append([]byte(nil), blob...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.Parse(tt.blob)
			require.ErrorIs(t, err, metadata.ErrMetadataUnavailable)
		})
	}
}

func TestParseRequiresExtrinsicParams(t *testing.T) {
	m := metadatatest.Metadata()
	m.Types[metadatatest.TUncheckedExtrinsic].Params = nil
	blob, err := m.Encode()
	require.NoError(t, err)

	_, err = metadata.Parse(blob)
	require.ErrorIs(t, err, metadata.ErrMetadataUnavailable)
	require.Contains(t, err.Error(), "Address")
}

type fakeSource struct {
	version atomic.Uint32
	fetches atomic.Int32
	delay   time.Duration
	err     error
	blob    func(version uint32) []byte
}

func (s *fakeSource) SpecVersion(ctx context.Context, at string) (uint32, error) {
	return s.version.Load(), nil
}

func (s *fakeSource) RawMetadata(ctx context.Context, at string) ([]byte, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.blob != nil {
		return s.blob(s.version.Load()), nil
	}
	return metadatatest.Blob(), nil
}

func newSource(version uint32) *fakeSource {
	s := &fakeSource{}
	s.version.Store(version)
	return s
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRegistryCachesPerVersion(t *testing.T) {
	reg := metadata.NewRegistry(quietLogger())
	src := newSource(100)
	ctx := context.Background()

	m1, err := reg.Resolve(ctx, "ws://a", src, "0x01")
	require.NoError(t, err)
	require.Equal(t, uint32(100), m1.SpecVersion)

	m2, err := reg.Resolve(ctx, "ws://a", src, "0x02")
	require.NoError(t, err)
	require.Same(t, m1, m2)
	require.Equal(t, int32(1), src.fetches.Load())

	// a runtime upgrade forces a new fetch and keeps the old entry
	src.version.Store(101)
	m3, err := reg.Resolve(ctx, "ws://a", src, "0x03")
	require.NoError(t, err)
	require.NotSame(t, m1, m3)
	require.Equal(t, uint32(101), m3.SpecVersion)
	require.Equal(t, int32(2), src.fetches.Load())

	old, ok := reg.Lookup("ws://a", 100)
	require.True(t, ok)
	require.Same(t, m1, old)

	latest, ok := reg.Latest("ws://a")
	require.True(t, ok)
	require.Same(t, m3, latest)

	// endpoints do not share entries
	_, err = reg.Resolve(ctx, "ws://b", src, "0x03")
	require.NoError(t, err)
	require.Equal(t, int32(3), src.fetches.Load())

	reg.Forget("ws://a")
	_, ok = reg.Lookup("ws://a", 101)
	require.False(t, ok)
	_, ok = reg.Lookup("ws://b", 101)
	require.True(t, ok)
}

func TestRegistryCoalescesConcurrentMisses(t *testing.T) {
	reg := metadata.NewRegistry(quietLogger())
	src := newSource(7)
	src.delay = 50 * time.Millisecond

	var (
		mu   sync.Mutex
		seen = map[*metadata.Metadata]struct{}{}
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			m, err := reg.Resolve(ctx, "ws://node", src, "0xaa")
			if err != nil {
				return err
			}
			mu.Lock()
			seen[m] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), src.fetches.Load())
	require.Len(t, seen, 1)
}

func TestRegistryFailures(t *testing.T) {
	reg := metadata.NewRegistry(quietLogger())
	ctx := context.Background()

	boom := errors.New("connection reset")
	src := newSource(1)
	src.err = boom
	_, err := reg.Resolve(ctx, "ws://a", src, "")
	require.ErrorIs(t, err, metadata.ErrMetadataUnavailable)
	require.ErrorIs(t, err, boom)

	// nothing is cached after a failure
	src.err = nil
	src.blob = func(uint32) []byte { return []byte("not metadata") }
	_, err = reg.Resolve(ctx, "ws://a", src, "")
	require.ErrorIs(t, err, metadata.ErrMetadataUnavailable)
	_, ok := reg.Lookup("ws://a", 1)
	require.False(t, ok)

	src.blob = nil
	m, err := reg.Resolve(ctx, "ws://a", src, "")
	require.NoError(t, err)
	require.Equal(t, uint32(1), m.SpecVersion)
}

func TestRegistryHonoursContext(t *testing.T) {
	reg := metadata.NewRegistry(quietLogger())
	src := newSource(3)
	src.delay = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := reg.Resolve(ctx, "ws://a", src, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, metadata.ErrMetadataUnavailable)
}

func TestRegistryFetchOutlivesCancelledCaller(t *testing.T) {
	reg := metadata.NewRegistry(quietLogger())
	src := newSource(9)
	src.delay = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := reg.ResolveVersion(ctx, "ws://a", src, "0x01", 9)
		first <- err
	}()
	require.Eventually(t, func() bool { return src.fetches.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *metadata.Metadata, 1)
	go func() {
		m, err := reg.ResolveVersion(context.Background(), "ws://a", src, "0x01", 9)
		assert.NoError(t, err)
		second <- m
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-first, context.Canceled)
	m := <-second
	require.NotNil(t, m)
	require.Equal(t, uint32(9), m.SpecVersion)
	require.Equal(t, int32(1), src.fetches.Load())
}

func TestRegistryFetchTimeout(t *testing.T) {
	reg := metadata.NewRegistry(quietLogger())
	reg.FetchTimeout = 20 * time.Millisecond
	src := newSource(4)
	src.delay = time.Second

	_, err := reg.Resolve(context.Background(), "ws://a", src, "")
	require.ErrorIs(t, err, metadata.ErrMetadataUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
