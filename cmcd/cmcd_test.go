package cmcd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeShortModeOmitsFullFields(t *testing.T) {
	enc := Encode(Params{
		Mode: Short, BitrateKbps: 800, BufferLengthMs: 4200,
		SessionID: "abc123",
	})
	require.Contains(t, enc, "br=800")
	require.Contains(t, enc, "bl=4200")
	require.Contains(t, enc, `sid="abc123"`)
	require.NotContains(t, enc, "cid=")
	require.NotContains(t, enc, "v=1")
}

func TestEncodeFullModeAddsObjectAndVersion(t *testing.T) {
	enc := Encode(Params{
		Mode: Full, BitrateKbps: 800, BufferLengthMs: 100,
		Object: ObjectVideo, ContentID: "stream-1",
	})
	require.Contains(t, enc, "ot=v")
	require.Contains(t, enc, "v=1")
	require.Contains(t, enc, "st=l")
	require.Contains(t, enc, `cid="stream-1"`)
}

func TestEncodeBufferStarvationAndEmptyAreBareKeys(t *testing.T) {
	enc := Encode(Params{Mode: Short, BufferStarvation: true, BufferEmpty: true})
	require.Contains(t, enc, "bs")
	require.Contains(t, enc, "su")
	require.NotContains(t, enc, "bs=")
	require.NotContains(t, enc, "su=")
}

func TestEncodeIsDeterministicallyOrdered(t *testing.T) {
	p := Params{Mode: Full, BitrateKbps: 1, BufferLengthMs: 2, Object: ObjectAudio}
	require.Equal(t, Encode(p), Encode(p))
}

func TestQueryParamEscapesValue(t *testing.T) {
	q := QueryParam(Params{Mode: Short, SessionID: "a b", BufferLengthMs: 1})
	require.Contains(t, q, "cmcd=")
}
