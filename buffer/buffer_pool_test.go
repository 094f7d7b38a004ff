package buffer

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarn/common"
	"tarn/disk"
	"tarn/disk/pages"
)

func newTestPool(t *testing.T, poolSize, k int) *BufferPoolManager {
	t.Helper()
	return NewBufferPoolManager(poolSize, k, disk.NewMemDiskManager(), nil)
}

func newFilePool(t *testing.T, poolSize, k int) *BufferPoolManager {
	t.Helper()
	id, _ := uuid.NewUUID()
	dbName := id.String()
	t.Cleanup(func() { common.Remove(dbName) })

	dm, err := disk.NewDiskManager(dbName, nil)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewBufferPoolManager(poolSize, k, dm, nil)
}

func TestBufferPool_NewPage_Assigns_Monotonic_Ids_And_Pins(t *testing.T) {
	b := newTestPool(t, 3, 2)

	p1, err := b.NewPage()
	require.NoError(t, err)
	p2, err := b.NewPage()
	require.NoError(t, err)

	assert.Equal(t, disk.PageID(1), p1.GetPageId())
	assert.Equal(t, disk.PageID(2), p2.GetPageId())
	assert.Equal(t, 1, p1.GetPinCount())
	assert.Equal(t, 1, p2.GetPinCount())
}

func TestBufferPool_Fourth_Page_Evicts_Exactly_One_Unpinned_Page(t *testing.T) {
	b := newTestPool(t, 3, 2)

	ids := make([]disk.PageID, 0)
	for i := 0; i < 3; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		ids = append(ids, p.GetPageId())
		require.True(t, b.UnpinPage(p.GetPageId(), false))
	}

	p4, err := b.NewPage()
	require.NoError(t, err)
	require.NotNil(t, p4)

	resident := 0
	for _, id := range ids {
		if _, ok := b.ResidentFrameOf(id); ok {
			resident++
		}
	}
	assert.Equal(t, 2, resident)
}

func TestBufferPool_All_Pinned_Means_No_Frame(t *testing.T) {
	b := newTestPool(t, 2, 2)

	_, err := b.NewPage()
	require.NoError(t, err)
	_, err = b.NewPage()
	require.NoError(t, err)

	_, err = b.NewPage()
	assert.ErrorIs(t, err, ErrNoFreeFrame)

	_, err = b.FetchPage(disk.PageID(42))
	assert.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestBufferPool_Unpin_Semantics(t *testing.T) {
	b := newTestPool(t, 2, 2)

	p, err := b.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()

	// second pin through fetch
	p2, err := b.FetchPage(id)
	require.NoError(t, err)
	assert.Same(t, p, p2)
	assert.Equal(t, 2, p.GetPinCount())

	assert.True(t, b.UnpinPage(id, false))
	assert.True(t, b.UnpinPage(id, true))
	assert.Equal(t, 0, p.GetPinCount())
	assert.True(t, p.IsDirty())

	// already unpinned
	assert.False(t, b.UnpinPage(id, false))
	// not resident
	assert.False(t, b.UnpinPage(disk.PageID(99), false))
}

func TestBufferPool_Fetch_Returns_Evicted_Page_From_Disk(t *testing.T) {
	b := newFilePool(t, 2, 2)

	p, err := b.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()
	copy(p.GetData(), "persist me")
	require.True(t, b.UnpinPage(id, true))

	// force id out of the pool
	for i := 0; i < 2; i++ {
		np, err := b.NewPage()
		require.NoError(t, err)
		require.True(t, b.UnpinPage(np.GetPageId(), false))
	}
	_, resident := b.ResidentFrameOf(id)
	require.False(t, resident)

	p, err = b.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist me"), p.GetData()[:10])
	b.UnpinPage(id, false)
}

func TestBufferPool_Should_Not_Corrupt_Pages_Through_Eviction(t *testing.T) {
	b := newFilePool(t, 2, 2)

	numPages := 50
	rnd := rand.New(rand.NewSource(42))
	content := make(map[disk.PageID][]byte)

	for i := 0; i < numPages; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		data := make([]byte, disk.PageSize)
		rnd.Read(data)
		copy(p.GetData(), data)
		content[p.GetPageId()] = data
		require.True(t, b.UnpinPage(p.GetPageId(), true))
	}

	for id, want := range content {
		p, err := b.FetchPage(id)
		require.NoError(t, err)
		require.Equal(t, want, p.GetData())
		require.True(t, b.UnpinPage(id, false))
	}
}

func TestBufferPool_FlushPage(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolManager(2, 2, dm, nil)

	p, err := b.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()
	copy(p.GetData(), "flushed")

	assert.True(t, b.FlushPage(id))
	assert.False(t, p.IsDirty())

	buf := make([]byte, disk.PageSize)
	require.NoError(t, dm.ReadPage(id, buf))
	assert.Equal(t, []byte("flushed"), buf[:7])

	assert.False(t, b.FlushPage(disk.PageID(99)))
	assert.False(t, b.FlushPage(disk.InvalidPageID))
}

func TestBufferPool_FlushAllPages_Writes_Clean_Pages_Too(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolManager(3, 2, dm, nil)

	ids := make([]disk.PageID, 0)
	for i := 0; i < 3; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		p.GetData()[0] = byte(i + 1)
		ids = append(ids, p.GetPageId())
		// only the first page is unpinned dirty
		require.True(t, b.UnpinPage(p.GetPageId(), i == 0))
	}

	b.FlushAllPages()

	buf := make([]byte, disk.PageSize)
	for i, id := range ids {
		require.NoError(t, dm.ReadPage(id, buf))
		assert.Equal(t, byte(i+1), buf[0])
	}
}

func TestBufferPool_DeletePage(t *testing.T) {
	b := newTestPool(t, 2, 2)

	p, err := b.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()

	// pinned pages cannot be deleted
	assert.False(t, b.DeletePage(id))

	require.True(t, b.UnpinPage(id, false))
	assert.True(t, b.DeletePage(id))
	_, resident := b.ResidentFrameOf(id)
	assert.False(t, resident)
	assert.Equal(t, 0, b.Replacer().Size())

	// non resident pages delete trivially
	assert.True(t, b.DeletePage(disk.PageID(123)))

	// the freed frame is reusable
	_, err = b.NewPage()
	require.NoError(t, err)
	_, err = b.NewPage()
	require.NoError(t, err)
}

func TestBufferPool_PageTable_And_Frame_Agree(t *testing.T) {
	b := newTestPool(t, 4, 2)

	held := make([]*pages.Page, 0)
	for i := 0; i < 4; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		held = append(held, p)
	}
	for _, p := range held {
		f, ok := b.ResidentFrameOf(p.GetPageId())
		require.True(t, ok)
		require.GreaterOrEqual(t, f, 0)
		require.Less(t, f, b.GetPoolSize())
		require.GreaterOrEqual(t, p.GetPinCount(), 1)
	}
}

func TestBufferPool_Metrics_Count_Hits_And_Misses(t *testing.T) {
	b := newTestPool(t, 2, 2)
	reg := prometheus.NewRegistry()
	require.NoError(t, b.RegisterMetrics(reg))

	p, err := b.NewPage()
	require.NoError(t, err)
	id := p.GetPageId()
	_, err = b.FetchPage(id)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, mf := range families {
		byName[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, byName["buffer_pool_hits_total"])
	assert.Equal(t, 0.0, byName["buffer_pool_misses_total"])
}

func TestBufferPool_With_Clock_Replacer(t *testing.T) {
	b := NewBufferPoolManagerWithReplacer(2, NewClockReplacer(2), disk.NewMemDiskManager(), nil)

	ids := make([]disk.PageID, 0)
	for i := 0; i < 4; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		ids = append(ids, p.GetPageId())
		require.True(t, b.UnpinPage(p.GetPageId(), false))
	}

	resident := 0
	for _, id := range ids {
		if _, ok := b.ResidentFrameOf(id); ok {
			resident++
		}
	}
	assert.Equal(t, 2, resident)
}
