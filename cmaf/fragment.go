package cmaf

import (
	"bytes"
	"fmt"

	"github.com/go-webdl/mp4"
	"github.com/go-webdl/wrts/media"
)

// Write encodes one media.Sample as a CMAF fragment: moof (mfhd+traf) +
// mdat, with a strictly increasing sequence number starting at 1 (§8).
// Protected samples add saiz/saio/senc to traf ahead of trun, carrying the
// per-sample subsample encryption map from sample.SubSamples.
func (m *Mux) Write(sample media.Sample) ([]byte, error) {
	if sample.TrackID != m.track.ID {
		return nil, fmt.Errorf("cmaf: sample track %d does not match mux track %d: %w", sample.TrackID, m.track.ID, ErrInvalidParam)
	}

	seq := m.nextSequence
	m.nextSequence++

	traf, err := m.createTraf(sample, seq)
	if err != nil {
		return nil, err
	}

	mfhd := &mp4.MovieFragmentHeaderBox{SequenceNumber: seq}
	moof := &mp4.MovieFragmentBox{}
	if err := moof.Mp4BoxReplaceChildren([]mp4.Box{mfhd, traf}); err != nil {
		return nil, err
	}
	moof.Mp4BoxUpdate()

	// trun's DataOffset is relative to the start of moof; it must be fixed
	// up once moof's total size (and therefore mdat's start) is known.
	moofSize := moof.Mp4BoxSize()
	if err := m.fixDataOffset(moof, int32(moofSize)+8); err != nil {
		return nil, err
	}

	mdat := &mp4.MediaDataBox{Data: sample.Data}

	var buf bytes.Buffer
	if _, err := moof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("cmaf: write moof: %w", err)
	}
	if _, err := mdat.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("cmaf: write mdat: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Mux) createTraf(sample media.Sample, seq uint32) (mp4.Box, error) {
	tfhd := &mp4.TrackFragmentHeaderBox{TrackID: trackID}
	tfhd.Mp4BoxSetFlags(mp4.FLAG_TFHD_DEFAULT_BASE_IS_MOOF)

	tfdt := &mp4.TrackFragmentBaseMediaDecodeTimeBox{
		FullHeader:          mp4.FullHeader{Version: 1},
		BaseMediaDecodeTime: sample.Time,
	}

	duration := sample.Duration
	if duration < 0 {
		duration = 0
	}
	flags := sampleFlags(sample.IsKeyFrame)
	entry := mp4.TrackRunSampleEntry{
		SampleDuration: uint32(duration),
		SampleSize:     uint32(len(sample.Data)),
		SampleFlags:    flags,
	}
	if sample.HasCompositionOffset {
		entry.SampleCompositionTimeOffset = sample.CompositionOffset
	}

	trun := &mp4.TrackRunBox{
		FullHeader: mp4.FullHeader{Version: 1},
		Samples:    []mp4.TrackRunSampleEntry{entry},
	}
	trun.Mp4BoxSetFlags(mp4.FLAG_TRUN_DATA_OFFSET_PRESENT |
		mp4.FLAG_TRUN_SAMPLE_DURATION_PRESENT |
		mp4.FLAG_TRUN_SAMPLE_SIZE_PRESENT |
		mp4.FLAG_TRUN_SAMPLE_FLAGS_PRESENT |
		mp4.FLAG_TRUN_SAMPLE_COMPOSITION_TIME_OFFSET_PRESENT)

	children := []mp4.Box{tfhd, tfdt}

	if m.protected() {
		saiz, saio, senc, err := m.createProtectionBoxes(sample, seq)
		if err != nil {
			return nil, err
		}
		children = append(children, saiz, saio, senc)
	}

	children = append(children, trun)

	traf := &mp4.TrackFragmentBox{}
	if err := traf.Mp4BoxReplaceChildren(children); err != nil {
		return nil, err
	}
	return traf, nil
}

// sampleFlags packs the ISO-BMFF sample_flags bitfield (§8.8.3 of ISO/IEC
// 14496-12): non-key frames are marked non-sync with no leading dependency.
func sampleFlags(isKeyFrame bool) uint32 {
	if isKeyFrame {
		return 0x02000000 // sample_depends_on=2 (no other sample), is_non_sync=0
	}
	return 0x01010000 // sample_depends_on=1, is_non_sync_sample=1
}

// createProtectionBoxes builds saiz/saio/senc for one CENC/CBCS-protected
// sample. This family of boxes has no counterpart anywhere in the teacher
// file; field names follow the same ISO-BMFF box naming the teacher uses
// for sinf/tenc (see DESIGN.md).
func (m *Mux) createProtectionBoxes(sample media.Sample, seq uint32) (saiz, saio, senc mp4.Box, err error) {
	// CBCS carries a constant IV in tenc (DefaultPerSampleIVSize 0), so its
	// senc entries hold no per-sample IV.
	var iv []byte
	infoSize := auxInfoSize(len(sample.SubSamples))
	if m.protection.Scheme == media.SchemeCbcs {
		infoSize -= 8
	} else {
		iv, err = perSampleIV(seq)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	entries := make([]mp4.SencSampleEntry, 0, 1)
	subEntries := make([]mp4.SencSubsampleEntry, 0, len(sample.SubSamples))
	for _, ss := range sample.SubSamples {
		subEntries = append(subEntries, mp4.SencSubsampleEntry{
			BytesOfClearData:     ss.ClearBytes,
			BytesOfProtectedData: ss.EncryptedBytes,
		})
	}
	entries = append(entries, mp4.SencSampleEntry{
		IV:         iv,
		SubSamples: subEntries,
	})

	sencBox := &mp4.SampleEncryptionBox{Samples: entries}
	if len(subEntries) > 0 {
		sencBox.Mp4BoxSetFlags(mp4.FLAG_SENC_USE_SUBSAMPLE_ENCRYPTION)
	}

	saizBox := &mp4.SampleAuxiliaryInformationSizesBox{
		DefaultSampleInfoSize: 0,
		SampleInfoSizes:       []uint8{infoSize},
	}
	saioBox := &mp4.SampleAuxiliaryInformationOffsetsBox{
		FullHeader: mp4.FullHeader{Version: 1},
		// Filled in by fixDataOffset once the containing moof's size is
		// known; senc's own payload sits right after saio within traf.
		Offsets: []int64{0},
	}
	return saizBox, saioBox, sencBox, nil
}

func auxInfoSize(subSampleCount int) uint8 {
	// 8-byte IV + (2-byte count + 6 bytes per entry) when subsamples are
	// present, or bare 8-byte IV otherwise.
	if subSampleCount == 0 {
		return 8
	}
	return uint8(8 + 2 + subSampleCount*6)
}

func perSampleIV(seq uint32) ([]byte, error) {
	iv := make([]byte, 8)
	iv[4] = byte(seq >> 24)
	iv[5] = byte(seq >> 16)
	iv[6] = byte(seq >> 8)
	iv[7] = byte(seq)
	return iv, nil
}

// fixDataOffset walks moof for its trun box and rewrites DataOffset to the
// distance from moof's start to mdat's payload (moof size + the 8-byte mdat
// header), per §4.2's single-trun-per-traf fragment layout.
func (m *Mux) fixDataOffset(moof mp4.Box, dataOffset int32) error {
	frag, ok := moof.(*mp4.MovieFragmentBox)
	if !ok {
		return fmt.Errorf("cmaf: unexpected moof box type %T: %w", moof, ErrInvalidParam)
	}
	for _, child := range frag.Children {
		traf, ok := child.(*mp4.TrackFragmentBox)
		if !ok {
			continue
		}
		for _, trafChild := range traf.Children {
			if trun, ok := trafChild.(*mp4.TrackRunBox); ok {
				trun.DataOffset = dataOffset
			}
		}
	}
	moof.Mp4BoxUpdate()
	return nil
}
