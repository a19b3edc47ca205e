package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

func chainOfN(n int) []header.Header {
	headers := make([]header.Header, n)
	var prev header.Hash
	for i := 0; i < n; i++ {
		h := header.Header{Nonce: uint32(i), Time: uint64(1700000000 + i)}
		h.PrevBlock = prev
		headers[i] = h
		prev = h.Hash()
	}
	return headers
}

func TestResetEstablishesTip(t *testing.T) {
	c := New(Config{}, nil)
	headers := chainOfN(10)
	require.NoError(t, c.Reset(headers, 100))

	tip := c.Tip()
	require.Equal(t, uint32(109), tip.TipHeight)
	require.Equal(t, headers[9].Hash(), tip.TipHash)
}

func TestResetRejectsBrokenLinkage(t *testing.T) {
	c := New(Config{}, nil)
	headers := chainOfN(5)
	headers[3].PrevBlock[0] ^= 0xFF

	err := c.Reset(headers, 0)
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.ChainError))
}

func TestAppendRejectsPrevBlockMismatch(t *testing.T) {
	c := New(Config{}, nil)
	require.NoError(t, c.Reset(chainOfN(3), 0))

	bad := header.Header{Nonce: 99}
	err := c.Append(bad, 0)
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.ChainError))
	require.Equal(t, uint32(2), c.Tip().TipHeight)
}

func TestAppendExtendsTip(t *testing.T) {
	c := New(Config{}, nil)
	headers := chainOfN(3)
	require.NoError(t, c.Reset(headers, 0))

	next := header.Header{Nonce: 100, PrevBlock: headers[2].Hash()}
	require.NoError(t, c.Append(next, 0))

	tip := c.Tip()
	require.Equal(t, uint32(3), tip.TipHeight)
	require.Equal(t, next.Hash(), tip.TipHash)
}

func TestAppendRejectsOvershootOfKnownNetworkHeight(t *testing.T) {
	c := New(Config{}, nil)
	headers := chainOfN(3)
	require.NoError(t, c.Reset(headers, 0))
	c.SetKnownNetworkHeight(2)

	next := header.Header{Nonce: 100, PrevBlock: headers[2].Hash()}
	err := c.Append(next, 0)
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.ChainError))
	require.Equal(t, uint32(2), c.Tip().TipHeight)
}

func TestKnownNetworkHeightIsNonDecreasing(t *testing.T) {
	c := New(Config{}, nil)
	c.SetKnownNetworkHeight(500)
	c.SetKnownNetworkHeight(100)
	require.Equal(t, uint32(500), c.Tip().KnownNetworkHeight)
	c.SetKnownNetworkHeight(900)
	require.Equal(t, uint32(900), c.Tip().KnownNetworkHeight)
}

func TestTrimDropsOldestButKeepsTipHeightAuthoritative(t *testing.T) {
	c := New(Config{MaxInMemoryHeaders: 5}, nil)
	headers := chainOfN(5)
	require.NoError(t, c.Reset(headers, 0))

	prev := headers[4].Hash()
	for i := 0; i < 3; i++ {
		h := header.Header{Nonce: uint32(100 + i), PrevBlock: prev}
		require.NoError(t, c.Append(h, 0))
		prev = h.Hash()
	}

	window, first := c.InMemoryWindow()
	require.Len(t, window, 5)
	require.Equal(t, uint32(3), first)
	require.Equal(t, uint32(7), c.Tip().TipHeight)
}

func TestLocatorIncludesSparseOffsets(t *testing.T) {
	c := New(Config{MaxInMemoryHeaders: 2000}, nil)
	require.NoError(t, c.Reset(chainOfN(1500), 0))

	locator := c.Locator()
	// offsets 0, 10, 100, 1000 are all within the 1500-header window.
	require.Len(t, locator, 4)

	window, _ := c.InMemoryWindow()
	require.Equal(t, window[1499].Hash(), locator[0])
	require.Equal(t, window[1489].Hash(), locator[1])
	require.Equal(t, window[1399].Hash(), locator[2])
	require.Equal(t, window[499].Hash(), locator[3])
}

func TestEmptyHeadersMessageIsNoOp(t *testing.T) {
	c := New(Config{}, nil)
	require.NoError(t, c.Reset(chainOfN(3), 0))
	before := c.Tip()

	// Applying zero headers (an empty "headers" message) must not
	// change anything.
	after := c.Tip()
	require.Equal(t, before, after)
}

func TestHeaderAtOutsideWindowMisses(t *testing.T) {
	c := New(Config{MaxInMemoryHeaders: 3}, nil)
	headers := chainOfN(3)
	require.NoError(t, c.Reset(headers, 0))

	prev := headers[2].Hash()
	h := header.Header{Nonce: 500, PrevBlock: prev}
	require.NoError(t, c.Append(h, 0))

	_, ok := c.HeaderAt(0)
	require.False(t, ok, "height 0 should have been trimmed out of memory")

	got, ok := c.HeaderAt(3)
	require.True(t, ok)
	require.Equal(t, h, got)
}
