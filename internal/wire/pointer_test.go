package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobalPointerBitLayout(t *testing.T) {
	tests := []struct {
		name   string
		offset uint32
		home   uint32
	}{
		{"zero offset", 0, 1},
		{"max offset", 0xffffffff, 0},
		{"max home", 0x1234, MaxHome},
		{"mid", 42, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewAddress(tt.offset, tt.home)
			require.True(t, p.IsAddress())
			require.False(t, p.IsReserved())
			require.False(t, p.IsNull())
			require.Equal(t, tt.offset, p.Offset())
			require.Equal(t, tt.home, p.Home())
		})
	}
}

func TestGlobalPointerHomeOverflowPanics(t *testing.T) {
	require.Panics(t, func() {
		NewAddress(0, MaxHome+1)
	})
}

func TestGlobalPointerNull(t *testing.T) {
	var p GlobalPointer
	require.True(t, p.IsNull())
	require.False(t, p.IsAddress())
	require.False(t, p.IsReserved())
}

func TestGlobalPointerReserved(t *testing.T) {
	p := NewReserved(7)
	require.True(t, p.IsReserved())
	require.False(t, p.IsAddress())
	require.False(t, p.IsNull())

	require.True(t, EOS.IsReserved())
	require.True(t, GoOn.IsReserved())
	require.NotEqual(t, EOS, GoOn)
}

func TestPapMessageRoundTrip(t *testing.T) {
	in := PapMessage{Pointer: NewAddress(9, 2), Author: 2, AccessLevel: AccessPrivate}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out PapMessage
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestDaemonMessageRoundTrip(t *testing.T) {
	in := DaemonMessage{Op: OpRLoad, Pointer: NewAddress(100, 1), Size: 64, From: 3}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out DaemonMessage
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestDaemonMessageUnmarshalRejectsShortBuffer(t *testing.T) {
	var out DaemonMessage
	require.Error(t, out.UnmarshalBinary([]byte{1, 2, 3}))
}
