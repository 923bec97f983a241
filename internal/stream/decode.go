package stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/sidechain/engine/internal/types"
)

// Decode sniffs the container format of downloaded bytes and decodes them
// to a Clip. The url is carried for error context only.
func Decode(url string, data []byte) (*Clip, error) {
	switch sniffFormat(data) {
	case "wav":
		return decodeWAV(url, data)
	case "ogg":
		return decodeOgg(url, data)
	case "mp3":
		return decodeMP3(url, data)
	default:
		return nil, &types.DecodeError{URL: url, Err: fmt.Errorf("unsupported audio format")}
	}
}

// sniffFormat identifies the container by magic bytes. MP3 is matched last
// because its sync word is the loosest signature.
func sniffFormat(data []byte) string {
	if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return "wav"
	}
	if len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")) {
		return "ogg"
	}
	if len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")) {
		return "mp3"
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return "mp3"
	}
	return ""
}

func decodeWAV(url string, data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &types.DecodeError{URL: url, Err: err}
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, &types.DecodeError{URL: url, Err: fmt.Errorf("empty wav stream")}
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func decodeMP3(url string, data []byte) (*Clip, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, &types.DecodeError{URL: url, Err: err}
	}

	// go-mp3 always emits 16-bit little-endian stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, &types.DecodeError{URL: url, Err: err}
	}
	if len(pcm) < 4 {
		return nil, &types.DecodeError{URL: url, Err: fmt.Errorf("empty mp3 stream")}
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		samples[i] = float32(v) / 32768
	}
	return &Clip{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

func decodeOgg(url string, data []byte) (*Clip, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, &types.DecodeError{URL: url, Err: err}
	}
	if len(samples) == 0 {
		return nil, &types.DecodeError{URL: url, Err: fmt.Errorf("empty ogg stream")}
	}
	return &Clip{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, nil
}
