package audioio

import (
	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"io"
	"sync"
	"time"
)

var ErrAlreadyPlaying = errors.New("speakers already playing, call Stop first")

// speakers ended up more complicated as it seems;
// this is because we have to:
//   - allow Playback to be stopped
//   - poll monitor the device if it's still playing
//   - protect against double-play for better ux
//
// The state flow is:
//  1. currentPlayer == nil => nothing going on
//  2. Play grabs mutex => starting to play
//  3. Stop (or playback done) grabs mutex, interrupts the device and waits until it stops playing.
//  4. Before another Play, you either have to wait on currentDone, or call Stop().
//
// Invariant: There is at most one playerMonitorRoutine running at the same time.
type speakers struct {
	otoContext *oto.Context

	currentPlayer *oto.Player
	currentDone   *sync.WaitGroup

	mutex    sync.Mutex // Protects currentPlayer and stopFlag
	stopFlag bool       // Indicates if playback should be stopped early
}

// NewSpeakers must be called at most once per process, oto allows a single context.
func NewSpeakers(sampleRate int, numChannels int) (OutputDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatSignedInt16LE,
	}

	log.Info().Int("sample_rate", sampleRate).Int("num_channels", numChannels).Msg("setupOtoPlayer - will wait until ready")
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create oto context")
	}
	<-readyChan // Wait for the audio hardware to be ready (about 200ms empirically)
	log.Info().Msg("setupOtoPlayer - context ready")

	return &speakers{otoContext: otoCtx}, nil
}

// Play starts playing the entire stream and returns a WaitGroup to block on until done.
func (s *speakers) Play(audioOutput io.Reader) (*sync.WaitGroup, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.currentPlayer != nil {
		return nil, ErrAlreadyPlaying
	}

	s.currentDone = &sync.WaitGroup{}
	s.currentDone.Add(1)

	s.currentPlayer = s.otoContext.NewPlayer(audioOutput)
	s.currentPlayer.Play()

	go s.playerMonitorRoutine(s.currentPlayer, s.currentDone)

	return s.currentDone, nil
}

// Stop interrupts the current playback and blocks until the device is released.
func (s *speakers) Stop() error {
	s.mutex.Lock()

	if s.currentPlayer == nil {
		s.mutex.Unlock()
		return nil
	}
	if s.stopFlag {
		untilStopped := s.currentDone
		s.mutex.Unlock()
		// Somebody else is stopping it already, just wait for the same outcome.
		untilStopped.Wait()
		return nil
	}

	log.Debug().Msg("currentPlayer is stopping ...")
	s.stopFlag = true
	s.currentPlayer.Pause()
	untilStopped := s.currentDone // we copy it over as it can become nil otherwise
	s.mutex.Unlock()

	untilStopped.Wait()
	return nil
}

func (s *speakers) playerMonitorRoutine(player *oto.Player, done *sync.WaitGroup) {
	defer done.Done()

	startTime := time.Now()
	for {
		s.mutex.Lock()
		playing := player.IsPlaying()
		stop := s.stopFlag
		s.mutex.Unlock()

		if !playing || stop {
			break
		}

		time.Sleep(time.Millisecond)
	}

	s.mutex.Lock()
	if err := player.Close(); err != nil {
		log.Error().Err(err).Msg("player.Close failed")
	}
	s.currentPlayer = nil
	s.currentDone = nil
	s.stopFlag = false
	s.mutex.Unlock()

	log.Debug().Dur("playback_duration", time.Since(startTime)).Msg("current playback done playerMonitorRoutine")
}
