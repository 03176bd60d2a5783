package audioio

import (
	"context"
	"encoding/binary"
	"github.com/petrzlen/vocode-streaming/pkg/audio_utils"
	"github.com/petrzlen/vocode-streaming/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeDevice "plays" until Stop when hold is set, otherwise finishes right away.
type fakeDevice struct {
	hold bool

	mu      sync.Mutex
	pcm     [][]byte
	stops   int
	current *sync.WaitGroup
}

func (d *fakeDevice) Play(audioOutput io.Reader) (*sync.WaitGroup, error) {
	data, err := io.ReadAll(audioOutput)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pcm = append(d.pcm, data)
	d.current = &sync.WaitGroup{}
	if d.hold {
		d.current.Add(1)
	}
	return d.current, nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.hold && d.current != nil {
		d.current.Done()
		d.current = nil
	}
	return nil
}

func wavClip(t *testing.T, samples ...int16) *models.AudioData {
	t.Helper()
	raw := make([]byte, 2*len(samples))
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(sample))
	}
	wavBytes, err := audio_utils.ConvertTwoByteSamplesToWav(raw, 24000, 1)
	require.NoError(t, err)
	return &models.AudioData{ByteData: wavBytes, Format: "wav", Text: "clip"}
}

func TestClipPlayer_PlaysDecodedPCM(t *testing.T) {
	device := &fakeDevice{}
	player := NewClipPlayer(device, 24000, 2)

	require.NoError(t, player.Play(context.Background(), wavClip(t, 1, -2)))

	require.Len(t, device.pcm, 1)
	// mono upmixed to stereo, S16LE
	assert.Equal(t, []byte{1, 0, 1, 0, 0xfe, 0xff, 0xfe, 0xff}, device.pcm[0])
}

func TestClipPlayer_UndecodableClip(t *testing.T) {
	device := &fakeDevice{}
	player := NewClipPlayer(device, 24000, 1)

	err := player.Play(context.Background(), &models.AudioData{ByteData: []byte("nope"), Format: "ogg"})
	assert.ErrorIs(t, err, audio_utils.ErrUnknownFormat)
	assert.Empty(t, device.pcm)
}

func TestClipPlayer_CancelStopsDevice(t *testing.T) {
	device := &fakeDevice{hold: true}
	player := NewClipPlayer(device, 24000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- player.Play(ctx, wavClip(t, 5, 6, 7)) }()

	require.Eventually(t, func() bool {
		device.mu.Lock()
		defer device.mu.Unlock()
		return len(device.pcm) == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Play did not return after cancel")
	}
	assert.Equal(t, 1, device.stops)
}
