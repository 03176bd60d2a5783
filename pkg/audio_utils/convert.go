package audio_utils

import (
	"encoding/binary"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"io"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

// ConvertTwoByteSamplesToWav assumes S16LE encoding (or two bytes per value)
func ConvertTwoByteSamplesToWav(byteData []byte, sampleRate uint32, numChannels uint32) (result []byte, err error) {
	inputBuffer := &audio.IntBuffer{
		Data: twoByteDataToIntSlice(byteData),
		Format: &audio.Format{
			SampleRate:  int(sampleRate),
			NumChannels: int(numChannels),
		},
		SourceBitDepth: 16,
	}

	pcmAudioFormat := 1
	return convertIntSamplesToWav(inputBuffer, sampleRate, numChannels, pcmAudioFormat)
}

func convertIntSamplesToWav(inputBuffer *audio.IntBuffer, sampleRate uint32, numChannels uint32, audioFormat int) (result []byte, err error) {
	if len(inputBuffer.Data) == 0 {
		return // Nothing to do
	}

	// Create an in-memory file to support io.WriteSeeker needed for NewEncoder which is needed for finalizing headers.
	fs := afero.NewMemMapFs()
	inMemoryFilename := "in-memory-output.wav"
	inMemoryFile, err := fs.Create(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot create in-memory wav file")
		return
	}
	// We will call Close ourselves.

	outputBitDepth := 16
	iSampleRate := int(sampleRate)
	iNumChannels := int(numChannels)
	wavEncoder := wav.NewEncoder(inMemoryFile, iSampleRate, outputBitDepth, iNumChannels, audioFormat)
	log.Trace().Int("int_data_length", len(inputBuffer.Data)).Int("sample_rate", iSampleRate).Int("source_bit_depth", inputBuffer.SourceBitDepth).Int("num_channels", iNumChannels).Msg("encoding int stream output as a wav")
	if err = wavEncoder.Write(inputBuffer); err != nil {
		err = errors.Wrap(err, "cannot encode byte output as wav")
		return
	}

	// Close the wavEncoder to flush any remaining data and finalize the WAV file
	if err = wavEncoder.Close(); err != nil {
		err = errors.Wrap(err, "cannot finish wav encoding")
		return
	}

	// We close and re-open the file so we can properly read-all of its contents.
	dbg(inMemoryFile.Close())
	inMemoryFileReopen, err := fs.Open(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot reopen in-memory wav file")
		return
	}
	defer func() { dbg(inMemoryFileReopen.Close()) }()
	result, err = io.ReadAll(inMemoryFileReopen)
	if err == nil && len(result) == 0 {
		err = errors.New("wav output is empty when input was not")
	}
	return
}

func twoByteDataToIntSlice(audioData []byte) []int {
	intData := make([]int, len(audioData)/2)
	for i := 0; i+1 < len(audioData); i += 2 {
		intData[i/2] = int(int16(binary.LittleEndian.Uint16(audioData[i : i+2])))
	}
	return intData
}

// ToS16LE is what oto wants with oto.FormatSignedInt16LE; other bit depths get rescaled.
func ToS16LE(buffer *audio.IntBuffer) []byte {
	shift := buffer.SourceBitDepth - 16
	result := make([]byte, 2*len(buffer.Data))
	for i, sample := range buffer.Data {
		switch {
		case buffer.SourceBitDepth == 0 || shift == 0:
		case shift > 0:
			sample >>= shift
		default:
			sample <<= -shift
		}
		binary.LittleEndian.PutUint16(result[2*i:], uint16(int16(clamp16(sample))))
	}
	return result
}

// MatchChannels converts between mono and stereo, the only layouts our devices use.
func MatchChannels(buffer *audio.IntBuffer, numChannels int) *audio.IntBuffer {
	from := buffer.Format.NumChannels
	if from == numChannels || from <= 0 || numChannels <= 0 {
		return buffer
	}

	frames := len(buffer.Data) / from
	data := make([]int, frames*numChannels)
	for frame := 0; frame < frames; frame++ {
		in := buffer.Data[frame*from : (frame+1)*from]
		if numChannels < from {
			sum := 0
			for _, sample := range in {
				sum += sample
			}
			for ch := 0; ch < numChannels; ch++ {
				data[frame*numChannels+ch] = sum / from
			}
			continue
		}
		for ch := 0; ch < numChannels; ch++ {
			data[frame*numChannels+ch] = in[ch%from]
		}
	}
	return &audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			SampleRate:  buffer.Format.SampleRate,
			NumChannels: numChannels,
		},
		SourceBitDepth: buffer.SourceBitDepth,
	}
}

func clamp16(sample int) int {
	switch {
	case sample > 32767:
		return 32767
	case sample < -32768:
		return -32768
	default:
		return sample
	}
}
