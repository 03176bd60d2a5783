package audio_utils

import (
	"bytes"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/pkg/errors"
	"io"
)

var ErrUnknownFormat = errors.New("unknown audio format")

// Decode turns a synthesized clip into interleaved PCM samples.
func Decode(data []byte, format string) (*audio.IntBuffer, error) {
	switch format {
	case "mp3":
		return DecodeFromMp3(data)
	case "flac":
		return DecodeFromFlac(data)
	case "wav":
		return DecodeFromWav(data)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "format %q", format)
	}
}

// DecodeFromMp3 - go-mp3 always outputs 16 bit stereo, whatever the source was.
func DecodeFromMp3(data []byte) (result *audio.IntBuffer, err error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		err = errors.Wrap(err, "mp3.NewDecoder failed")
		return
	}
	raw, err := io.ReadAll(decoder)
	if err != nil {
		err = errors.Wrap(err, "cannot decode mp3")
		return
	}
	if len(raw) == 0 {
		err = errors.New("mp3 contains no audio frames")
		return
	}

	result = &audio.IntBuffer{
		Data: twoByteDataToIntSlice(raw),
		Format: &audio.Format{
			SampleRate:  decoder.SampleRate(),
			NumChannels: 2,
		},
		SourceBitDepth: 16,
	}
	return
}

func DecodeFromFlac(data []byte) (result *audio.IntBuffer, err error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		err = errors.Wrap(err, "cannot parse flac header")
		return
	}
	defer func() { dbg(stream.Close()) }()

	numChannels := int(stream.Info.NChannels)
	result = &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  int(stream.Info.SampleRate),
			NumChannels: numChannels,
		},
		SourceBitDepth: int(stream.Info.BitsPerSample),
	}
	for {
		frame, parseErr := stream.ParseNext()
		if parseErr != nil {
			if errors.Is(parseErr, io.EOF) {
				break
			}
			err = errors.Wrap(parseErr, "cannot parse flac frame")
			return
		}
		for i := 0; i < int(frame.BlockSize); i++ {
			for _, subframe := range frame.Subframes {
				result.Data = append(result.Data, int(subframe.Samples[i]))
			}
		}
	}
	return
}

func DecodeFromWav(data []byte) (result *audio.IntBuffer, err error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		err = errors.New("invalid wav file")
		return
	}
	result, err = decoder.FullPCMBuffer()
	if err != nil {
		err = errors.Wrap(err, "cannot decode wav")
		return
	}
	return
}
