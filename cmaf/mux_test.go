package cmaf

import (
	"testing"

	"github.com/go-webdl/wrts/media"
	"github.com/stretchr/testify/require"
)

func videoTrack() *media.Track {
	return &media.Track{
		ID:        1,
		Kind:      media.Video,
		Codec:     "avc1",
		Resolution: media.Resolution{Width: 1280, Height: 720},
		// Minimal SPS+PPS bytestream: start code, one SPS NALU, start code, one PPS NALU.
		Config: []byte{
			0, 0, 0, 1, 0x67, 0x42, 0xC0, 0x1E, 0xAB,
			0, 0, 0, 1, 0x68, 0xCE, 0x3C, 0x80,
		},
	}
}

func TestMuxInitProducesNonEmptyFtypMoov(t *testing.T) {
	mux := NewMux(videoTrack(), nil)
	init1, err := mux.Init()
	require.NoError(t, err)
	require.NotEmpty(t, init1)

	// ftyp's major brand should appear verbatim near the start of the buffer.
	require.Contains(t, string(init1[:32]), "isom")
}

func TestMuxInitIsDeterministic(t *testing.T) {
	a, err := NewMux(videoTrack(), nil).Init()
	require.NoError(t, err)
	b, err := NewMux(videoTrack(), nil).Init()
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestMuxInitRejectsUnknownCodec(t *testing.T) {
	track := videoTrack()
	track.Codec = "vp9"
	_, err := NewMux(track, nil).Init()
	require.Error(t, err)
	var werr *CmafWriterError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, UnsupportedCodec, werr.Kind)
}

func TestMuxWriteSequenceNumbersIncreaseFromOne(t *testing.T) {
	mux := NewMux(videoTrack(), nil)
	_, err := mux.Init()
	require.NoError(t, err)

	require.EqualValues(t, 1, mux.nextSequence)

	_, err = mux.Write(media.Sample{TrackID: 1, Kind: media.Video, Time: 0, Duration: 33, IsKeyFrame: true, Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.EqualValues(t, 2, mux.nextSequence)

	_, err = mux.Write(media.Sample{TrackID: 1, Kind: media.Video, Time: 33, Duration: 33, Data: []byte{4, 5}})
	require.NoError(t, err)
	require.EqualValues(t, 3, mux.nextSequence)
}

func TestMuxWriteRejectsMismatchedTrackID(t *testing.T) {
	mux := NewMux(videoTrack(), nil)
	_, err := mux.Write(media.Sample{TrackID: 99, Kind: media.Video, Data: []byte{1}})
	require.Error(t, err)
}

func TestMuxAudioInitSupportsAAC(t *testing.T) {
	track := &media.Track{
		ID: 2, Kind: media.Audio, Codec: "mp4a", SampleRate: 48000, Channels: 2,
		Config: []byte{0x11, 0x90},
	}
	out, err := NewMux(track, nil).Init()
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestMuxProtectedTrackWritesCbcsConstantIV(t *testing.T) {
	track := videoTrack()
	protection := &media.ProtectionEntry{
		Scheme: media.SchemeCbcs,
		KID:    [16]byte{1, 2, 3, 4},
		IV:     "0102030405060708",
		Pssh:   map[string]string{"edef8ba9-79d6-4ace-a3c8-27dcd51d21ed": "AAAAIHBzc2g="},
	}
	mux := NewMux(track, protection)
	init, err := mux.Init()
	require.NoError(t, err)
	require.NotEmpty(t, init)

	frag, err := mux.Write(media.Sample{
		TrackID: 1, Kind: media.Video, Time: 0, Duration: 33, IsKeyFrame: true,
		Data:       []byte{1, 2, 3, 4, 5, 6},
		SubSamples: []media.SubSample{{ClearBytes: 2, EncryptedBytes: 4}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, frag)
}
