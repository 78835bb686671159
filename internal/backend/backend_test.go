package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
}

func TestPtrMarshalRoundTrip(t *testing.T) {
	p := New(point{X: 1, Y: 2}, nil)

	regions, err := p.Marshal()
	require.NoError(t, err)
	require.Len(t, regions, 1)

	i := 0
	var out point
	err = Unmarshal(&out, func() ([]byte, error) {
		require.Less(t, i, len(regions))
		r := regions[i]
		i++
		return r, nil
	})
	require.NoError(t, err)
	require.Equal(t, point{X: 1, Y: 2}, out)
}

func TestPtrCloseRunsDeleter(t *testing.T) {
	closed := false
	p := New(point{X: 3, Y: 4}, func(v *point) { closed = true })
	p.Close()
	require.True(t, closed)
}

func TestPtrCloseNilSafe(t *testing.T) {
	var p *Ptr[point]
	require.NotPanics(t, func() { p.Close() })
}

func TestCopyIndependentOfSource(t *testing.T) {
	src := point{X: 5, Y: 6}
	var dst point
	require.NoError(t, Copy(&dst, &src))
	require.Equal(t, src, dst)

	src.X = 100
	require.Equal(t, 5, dst.X, "Copy must not alias the source")
}

type regionType struct {
	A, B int
}

func (r regionType) MarshalRegions() ([][]byte, error) {
	return [][]byte{{byte(r.A)}, {byte(r.B)}}, nil
}

func (r *regionType) UnmarshalRegions(next func() ([]byte, error)) error {
	a, err := next()
	if err != nil {
		return err
	}
	b, err := next()
	if err != nil {
		return err
	}
	r.A = int(a[0])
	r.B = int(b[0])
	return nil
}

func TestCustomMarshalerMultiRegion(t *testing.T) {
	p := New(regionType{A: 7, B: 9}, nil)
	regions, err := p.Marshal()
	require.NoError(t, err)
	require.Len(t, regions, 2)

	i := 0
	var out regionType
	err = Unmarshal(&out, func() ([]byte, error) {
		r := regions[i]
		i++
		return r, nil
	})
	require.NoError(t, err)
	require.Equal(t, regionType{A: 7, B: 9}, out)
}
