package audio_utils

import (
	"encoding/binary"
	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func s16le(samples ...int16) []byte {
	result := make([]byte, 2*len(samples))
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(result[2*i:], uint16(sample))
	}
	return result
}

func TestWavRoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}

	wavBytes, err := ConvertTwoByteSamplesToWav(s16le(samples...), 24000, 1)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wavBytes[:4]))

	buffer, err := Decode(wavBytes, "wav")
	require.NoError(t, err)
	assert.Equal(t, 24000, buffer.Format.SampleRate)
	assert.Equal(t, 1, buffer.Format.NumChannels)
	assert.Equal(t, []int{0, 1000, -1000, 32767, -32768, 42}, buffer.Data)
	assert.Equal(t, s16le(samples...), ToS16LE(buffer))
}

func TestConvertEmpty(t *testing.T) {
	wavBytes, err := ConvertTwoByteSamplesToWav(nil, 24000, 1)
	assert.NoError(t, err)
	assert.Empty(t, wavBytes)
}

func TestDecodeGarbage(t *testing.T) {
	for _, format := range []string{"mp3", "flac", "wav"} {
		t.Run(format, func(t *testing.T) {
			_, err := Decode([]byte("definitely not audio"), format)
			assert.Error(t, err)
		})
	}

	_, err := Decode([]byte{1, 2, 3}, "opus")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestToS16LE_Rescales(t *testing.T) {
	buffer := &audio.IntBuffer{Data: []int{1 << 16, -(1 << 16)}, SourceBitDepth: 24}
	assert.Equal(t, s16le(256, -256), ToS16LE(buffer))

	buffer = &audio.IntBuffer{Data: []int{1, -1}, SourceBitDepth: 8}
	assert.Equal(t, s16le(256, -256), ToS16LE(buffer))
}

func TestMatchChannels(t *testing.T) {
	stereo := &audio.IntBuffer{
		Data:           []int{10, 20, -4, 4},
		Format:         &audio.Format{SampleRate: 24000, NumChannels: 2},
		SourceBitDepth: 16,
	}
	mono := MatchChannels(stereo, 1)
	assert.Equal(t, []int{15, 0}, mono.Data)
	assert.Equal(t, 1, mono.Format.NumChannels)

	back := MatchChannels(mono, 2)
	assert.Equal(t, []int{15, 15, 0, 0}, back.Data)
	assert.Same(t, stereo, MatchChannels(stereo, 2))
}
