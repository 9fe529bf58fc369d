package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseManifestDecodesTracksAndSequence(t *testing.T) {
	doc := `{
		"liveTime": "12345",
		"tracks": [
			{"id": 1, "type": "video", "codec": "avc1", "bandwidth": 800000, "resolution": {"width": 1280, "height": 720}},
			{"id": 2, "type": "audio", "codec": "mp4a", "bandwidth": 64000, "channels": 2, "sampleRate": "48000"}
		],
		"sequence": {"pattern": "/chunks/{trackId}/{sequenceId}.{ext}", "currentId": 7}
	}`

	now := time.Now()
	m, seq, err := ParseManifest([]byte(doc), now)
	require.NoError(t, err)

	require.Equal(t, int64(12345), m.LiveTime.Now(now))
	require.Len(t, m.VideoTracks, 1)
	require.Len(t, m.AudioTracks, 1)
	require.Equal(t, uint32(1280), m.Tracks[1].Resolution.Width)
	require.Equal(t, uint32(48000), m.Tracks[2].SampleRate)

	require.NotNil(t, seq)
	require.Equal(t, 7, seq.CurrentID)
	require.Equal(t, "/chunks/{trackId}/{sequenceId}.{ext}", seq.Pattern)
}

func TestParseManifestUsesCurrentTimeWhenLiveTimeAbsent(t *testing.T) {
	doc := `{"currentTime": "3.5", "tracks": []}`
	now := time.Now()
	m, _, err := ParseManifest([]byte(doc), now)
	require.NoError(t, err)
	require.Equal(t, int64(3500), m.LiveTime.Now(now))
}

func TestParseManifestRejectsMissingTimeField(t *testing.T) {
	doc := `{"tracks": []}`
	_, _, err := ParseManifest([]byte(doc), time.Now())
	require.Error(t, err)
}

func TestParseManifestDecodesContentProtectionWithValidSystemID(t *testing.T) {
	doc := `{
		"liveTime": "0",
		"tracks": [],
		"contentProtection": [
			{
				"scheme": "cenc",
				"kid": "000102030405060708090a0b0c0d0e0f",
				"pssh": {"edef8ba9-79d6-4ace-a3c8-27dcd51d21ed": "AAAAIHBzc2g="}
			}
		]
	}`

	m, _, err := ParseManifest([]byte(doc), time.Now())
	require.NoError(t, err)
	require.Len(t, m.ContentProtection, 1)

	var kid [16]byte
	for id, entry := range m.ContentProtection {
		kid = id
		require.Equal(t, SchemeCenc, entry.Scheme)
		require.Equal(t, "AAAAIHBzc2g=", entry.Pssh["edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"])
	}
	require.Equal(t, [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}, kid)
}

func TestParseManifestRejectsNonUUIDSystemID(t *testing.T) {
	doc := `{
		"liveTime": "0",
		"tracks": [],
		"contentProtection": [
			{
				"scheme": "cenc",
				"kid": "000102030405060708090a0b0c0d0e0f",
				"pssh": {"not-a-uuid": "AAAAIHBzc2g="}
			}
		]
	}`

	_, _, err := ParseManifest([]byte(doc), time.Now())
	require.Error(t, err)
}
