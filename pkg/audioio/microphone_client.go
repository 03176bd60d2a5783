// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"github.com/gen2brain/malgo"
	"github.com/petrzlen/vocode-streaming/pkg/audio_utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"strings"
	"sync"
	"time"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

const MyDeviceInputChannels uint32 = 1
const MyDeviceSampleRate uint32 = 44100

type microphone struct {
	device       *malgo.Device
	deviceConfig malgo.DeviceConfig
	malgoContext *malgo.AllocatedContext

	recordingStart time.Time

	mu      sync.Mutex // the data callback runs on a miniaudio thread
	samples []byte
}

// NewMicrophone inits the microphone device, one instance per recording.
func NewMicrophone() (result InputDevice, err error) {
	log.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.Replace("malgo devices: "+message, "\n", "", -1))
	})
	if err != nil {
		err = errors.Wrap(err, "cannot init malgo context")
		return
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = MyDeviceInputChannels
	deviceConfig.SampleRate = MyDeviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	result = &microphone{
		deviceConfig: deviceConfig,
		malgoContext: ctx,
	}
	return
}

// StartRecording can only be called once for NewMicrophone
// Mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (m *microphone) StartRecording() (err error) {
	if sizeInBytes := malgo.SampleSizeInBytes(m.deviceConfig.Capture.Format); sizeInBytes != 2 {
		return errors.Errorf("expected 2 bytes per sample, got %d", sizeInBytes)
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		m.mu.Lock()
		m.samples = append(m.samples, pInputSamples...)
		m.mu.Unlock()
	}

	m.device, err = malgo.InitDevice(m.malgoContext.Context, m.deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		err = errors.Wrapf(err, "cannot init malgo device with config %v", m.deviceConfig)
		return
	}

	log.Info().Msg("malgo START recording...")
	m.recordingStart = time.Now()
	if err = m.device.Start(); err != nil {
		err = errors.Wrap(err, "cannot start malgo device")
		return
	}
	return
}

func (m *microphone) StopRecording() (wavBytes []byte, err error) {
	log.Info().Dur("recording_duration", time.Since(m.recordingStart)).Msg("malgo STOP recording")
	if m.device != nil {
		dbg(m.device.Stop())
		m.device.Uninit()
	}
	dbg(m.malgoContext.Uninit())
	m.malgoContext.Free()

	m.mu.Lock()
	samples := m.samples
	m.samples = nil
	m.mu.Unlock()

	wavBytes, err = audio_utils.ConvertTwoByteSamplesToWav(samples, m.deviceConfig.SampleRate, m.deviceConfig.Capture.Channels)
	return
}
