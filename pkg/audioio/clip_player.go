package audioio

import (
	"bytes"
	"context"
	"github.com/petrzlen/vocode-streaming/pkg/audio_utils"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"time"
)

// ClipPlayer decodes synthesized clips and plays them on an OutputDevice, one at a time.
// It is the playback.Player of the local binary.
type ClipPlayer struct {
	device      OutputDevice
	sampleRate  int
	numChannels int
}

func NewClipPlayer(device OutputDevice, sampleRate int, numChannels int) *ClipPlayer {
	return &ClipPlayer{
		device:      device,
		sampleRate:  sampleRate,
		numChannels: numChannels,
	}
}

// Play blocks until the clip is done; a canceled ctx stops the device right away.
func (p *ClipPlayer) Play(ctx context.Context, clip *models.AudioData) (err error) {
	startTime := time.Now()
	buffer, err := audio_utils.Decode(clip.ByteData, clip.Format)
	if err != nil {
		err = errors.Wrapf(err, "cannot decode %d bytes of %s", len(clip.ByteData), clip.Format)
		return
	}
	if buffer.Format.SampleRate != p.sampleRate {
		// No resampling, it would just play faster / slower.
		log.Warn().Int("clip_sample_rate", buffer.Format.SampleRate).Int("device_sample_rate", p.sampleRate).Msg("sample rate mismatch")
	}
	pcm := audio_utils.ToS16LE(audio_utils.MatchChannels(buffer, p.numChannels))

	waitTilDone, err := p.device.Play(bytes.NewReader(pcm))
	if err != nil {
		err = errors.Wrap(err, "cannot play decoded clip")
		return
	}

	finished := make(chan struct{})
	go func() {
		waitTilDone.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Debug().Dur("duration", time.Since(startTime)).Int("pcm_byte_size", len(pcm)).Str("text", clip.Text).Msg("player DONE")
		return nil
	case <-ctx.Done():
		dbg(p.device.Stop())
		<-finished
		return ctx.Err()
	}
}
