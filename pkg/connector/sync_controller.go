package connector

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// Post-connect schedule, relative to the session opening.
const (
	restorePrefsDelay   = 600 * time.Millisecond
	relistenDelay       = 1 * time.Second
	permissionScanDelay = 2 * time.Second
	aclScanDelay        = 3 * time.Second
	// scanQuietPeriod is how long denials caused by a scan are suppressed.
	scanQuietPeriod = 5 * time.Second

	syncRetryDelay = 500 * time.Millisecond
	syncMaxRetries = 10
)

// errSessionNotReady means the session has no tree yet; the step is retried.
var errSessionNotReady = errors.New("session not ready")

// syncController runs the delayed post-connect steps. Every step is bound to
// the generation it was scheduled for, so steps from a previous session are
// dropped.
type syncController struct {
	e   *Engine
	log zerolog.Logger

	generation uint64
	stops      []func()
	scanning   bool
	scanGen    uint64
}

func newSyncController(e *Engine) *syncController {
	return &syncController{
		e:   e,
		log: e.log.With().Str("component", "sync_controller").Logger(),
	}
}

func (s *syncController) start() {
	s.cancel()
	s.generation++
	gen := s.generation
	s.log.Debug().Uint64("generation", gen).Msg("Scheduling post-connect sync")
	s.schedule(gen, "restore_preferences", restorePrefsDelay, s.restorePreferences)
	s.schedule(gen, "relisten", relistenDelay, s.relisten)
	s.schedule(gen, "permission_scan", permissionScanDelay, s.permissionScan)
	s.schedule(gen, "acl_scan", aclScanDelay, s.aclScan)
}

func (s *syncController) cancel() {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
	s.generation++
	s.scanning = false
}

func (s *syncController) schedule(gen uint64, name string, delay time.Duration, step func() error) {
	s.stops = append(s.stops, s.e.AfterFunc(delay, func() {
		s.run(gen, name, step, 0)
	}))
}

func (s *syncController) run(gen uint64, name string, step func() error, attempt int) {
	if gen != s.generation {
		return
	}
	err := step()
	if err == nil {
		return
	}
	log := s.log.With().Str("step", name).Int("attempt", attempt+1).Logger()
	if !errors.Is(err, errSessionNotReady) && !errors.Is(err, mumble.ErrNotConnected) {
		log.Warn().Err(err).Msg("Post-connect step failed")
		return
	} else if attempt+1 >= syncMaxRetries {
		log.Warn().Err(err).Msg("Giving up on post-connect step")
		return
	}
	log.Debug().Err(err).Msg("Session not ready, retrying post-connect step")
	s.stops = append(s.stops, s.e.AfterFunc(syncRetryDelay, func() {
		s.run(gen, name, step, attempt+1)
	}))
}

func (s *syncController) tree() (*mumble.ChannelSnapshot, error) {
	if s.e.session == nil || s.e.connection != Connected {
		return nil, mumble.ErrNotConnected
	}
	root, ok := s.e.session.Tree()
	if !ok || root == nil {
		return nil, errSessionNotReady
	}
	return root, nil
}

// restorePreferences loads stored per-user preferences and access tokens,
// applies them to the audio output and rebuilds.
func (s *syncController) restorePreferences() error {
	e := s.e
	root, err := s.tree()
	if err != nil {
		return err
	}
	prefs, err := e.store.AllUserPreferences(e.ctx, e.host)
	if err != nil {
		return fmt.Errorf("failed to load user preferences: %w", err)
	}
	e.prefs = prefs
	if e.output != nil {
		root.Walk(func(ch *mumble.ChannelSnapshot, _ int) bool {
			for _, user := range ch.Users {
				if pref, ok := prefs[user.Name]; ok {
					e.output.SetUserVolume(user.Session, pref.Volume)
					e.output.SetUserMuted(user.Session, pref.LocalMuted)
				}
			}
			return true
		})
	}
	tokens, err := e.store.AccessTokens(e.ctx, e.host)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load access tokens")
	} else if len(tokens) > 0 {
		if err = e.session.SetAccessTokens(e.accessTokens(tokens)); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send stored access tokens")
		}
	}
	s.log.Debug().Int("preferences", len(prefs)).Int("tokens", len(tokens)).Msg("Restored local preferences")
	e.requestRebuild(0)
	return nil
}

// relisten re-registers the channels we were listening to before the
// previous session closed.
func (s *syncController) relisten() error {
	e := s.e
	if _, err := s.tree(); err != nil {
		return err
	}
	ids, err := e.store.ListeningChannels(e.ctx, e.host)
	if err != nil {
		return fmt.Errorf("failed to load listening channels: %w", err)
	} else if len(ids) == 0 {
		return nil
	}
	err = e.session.AddListening(ids...)
	if errors.Is(err, mumble.ErrUnsupported) {
		s.log.Debug().Msg("Session can't listen to channels, not re-registering")
		return nil
	}
	return err
}

func (s *syncController) permissionScan() error {
	root, err := s.tree()
	if err != nil {
		return err
	}
	s.beginScan()
	ids := root.ChannelIDs()
	for _, id := range ids {
		if err = s.e.session.RequestPermission(id); err != nil {
			return err
		}
	}
	s.log.Debug().Int("channels", len(ids)).Msg("Requested channel permissions")
	return nil
}

// aclScan classifies every channel's password protection. Reading ACLs needs
// Write on the root channel, which the permission scan has reported by now.
func (s *syncController) aclScan() error {
	root, err := s.tree()
	if err != nil {
		return err
	}
	perms, ok := s.e.permissions[mumble.RootChannelID]
	if !ok || !perms.Has(mumble.PermissionWrite) {
		s.log.Debug().Msg("No write permission on root, skipping ACL scan")
		return nil
	}
	s.beginScan()
	ids := root.ChannelIDs()
	for _, id := range ids {
		if err = s.e.session.RequestACL(id); err != nil {
			return err
		}
	}
	s.log.Debug().Int("channels", len(ids)).Msg("Requested channel ACLs")
	return nil
}

func (s *syncController) beginScan() {
	s.scanning = true
	s.scanGen++
	scanGen := s.scanGen
	s.stops = append(s.stops, s.e.AfterFunc(scanQuietPeriod, func() {
		if s.scanGen == scanGen {
			s.scanning = false
		}
	}))
}
