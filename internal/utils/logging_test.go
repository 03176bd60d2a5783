package utils

import (
	"bytes"
	"errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestSetupZerologLevel(t *testing.T) {
	previous := log.Logger
	defer func(level zerolog.Level) {
		zerolog.SetGlobalLevel(level)
		log.Logger = previous
	}(zerolog.GlobalLevel())

	SetupZerolog("warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetupZerolog("nonsense")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestDbgLogsOnlyErrors(t *testing.T) {
	previous := log.Logger
	defer func() { log.Logger = previous }()
	var out bytes.Buffer
	log.Logger = zerolog.New(&out)
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	Dbg(nil)
	assert.Empty(t, out.String())

	Dbg(errors.New("close failed"))
	assert.Contains(t, out.String(), "close failed")
	assert.Contains(t, out.String(), "sth non-essential failed")
}
