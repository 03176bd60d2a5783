package audioio

import (
	"io"
	"sync"
)

// InputDevice records until stopped, the whole recording comes back as a wav.
type InputDevice interface {
	StartRecording() error
	StopRecording() (wavBytes []byte, err error)
}

// OutputDevice plays raw S16LE PCM at the rate and channel count it was created with.
type OutputDevice interface {
	Play(audioOutput io.Reader) (*sync.WaitGroup, error)
	Stop() error
}
