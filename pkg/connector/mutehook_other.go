//go:build !linux && !(darwin && !ios)

package connector

import (
	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// NewHardwareMuteHook returns nil: there is no hardware mute integration on
// this platform.
func NewHardwareMuteHook(log zerolog.Logger, _ string) mumble.MuteHook {
	log.Debug().Msg("Hardware mute is not supported on this platform")
	return nil
}
