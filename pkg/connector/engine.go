// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/acl"
	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/mutesync"
	"github.com/lrhodin/mumblesync/pkg/router"
	"github.com/lrhodin/mumblesync/pkg/transmit"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

const (
	// moveSettle delays the rebuild after a user move so that the follow-up
	// state updates of the same move land in one rebuild.
	moveSettle = 150 * time.Millisecond
	// joinIntentTTL is how long a user-initiated join can turn an Enter
	// denial into a password prompt.
	joinIntentTTL = 3 * time.Second
	// passwordJoinDelay gives the server time to apply new access tokens.
	passwordJoinDelay = 300 * time.Millisecond

	postQueueSize = 1024
	maxEventBurst = 64
)

// Clock provides time and timers. Timer callbacks run on arbitrary
// goroutines.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) (stop func())
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// PreferenceStore persists local per-user settings. *PrefsStore implements it.
type PreferenceStore interface {
	AllUserPreferences(ctx context.Context, host string) (map[string]tree.Preference, error)
	PutUserPreference(ctx context.Context, host, userName string, pref tree.Preference) error
	AccessTokens(ctx context.Context, host string) ([]string, error)
	AddAccessToken(ctx context.Context, host, token string) error
	ListeningChannels(ctx context.Context, host string) ([]uint32, error)
	SetListeningChannels(ctx context.Context, host string, ids []uint32) error
}

// Options are the collaborators of an Engine. Only Config is required.
type Options struct {
	Config   *Config
	Router   *router.Router
	Store    PreferenceStore
	Notifier Notifier
	MuteHook mumble.MuteHook
	Audio    mumble.AudioEngine
	Output   mumble.AudioOutput
	Clock    Clock
	Fitter   *transmit.Fitter
}

type pendingJoin struct {
	channelID uint32
	expires   time.Time
}

// Engine owns all client state. Every field below the marker is only touched
// from the goroutine running Run; other goroutines go through Post.
type Engine struct {
	log      zerolog.Logger
	router   *router.Router
	store    PreferenceStore
	notifier Notifier
	audio    mumble.AudioEngine
	output   mumble.AudioOutput
	clock    Clock
	posts    chan func()
	ctx      context.Context

	// Loop state.
	cfg        *Config
	session    mumble.Session
	connection ConnectionState
	host       string
	serverName string
	self       mumble.UserSnapshot
	hasSelf    bool
	serverCfg  mumble.ServerConfigReceived

	indexer    *tree.Indexer
	reconciler *mutesync.Reconciler
	classifier *acl.Classifier
	pipeline   *transmit.Pipeline
	echo       *transmit.EchoFilter
	sync       *syncController

	mode        tree.ViewMode
	prefs       map[string]tree.Preference
	talk        map[uint32]mumble.TalkState
	permissions map[uint32]mumble.Permission
	listening   map[uint32]struct{}
	listeners   map[uint32]map[uint32]struct{}

	// deafPriorMute remembers the server mute of users we server-deafened.
	deafPriorMute map[uint32]bool

	rebuildDirty   bool
	rebuildNow     bool
	rebuildPending bool

	messages        []Message
	prompt          *PasswordPrompt
	pendingJoin     *pendingJoin
	passwordJoin    *uint32
	pendingPassword map[uint32]string
	aclEditing      *uint32
	editingACL      *mumble.ACLSnapshot
	sending         bool

	// Published state.
	seq      uint64
	view     atomic.Pointer[View]
	subsLock sync.Mutex
	subs     map[int]chan struct{}
	nextSub  int
}

func NewEngine(log zerolog.Logger, opts Options) *Engine {
	e := &Engine{
		log:      log.With().Str("component", "engine").Logger(),
		router:   opts.Router,
		store:    opts.Store,
		notifier: opts.Notifier,
		audio:    opts.Audio,
		output:   opts.Output,
		clock:    opts.Clock,
		posts:    make(chan func(), postQueueSize),
		ctx:      context.Background(),
		cfg:      opts.Config,

		indexer:    tree.NewIndexer(log),
		classifier: acl.NewClassifier(),
		echo:       transmit.NewEchoFilter(opts.Config.Messaging.EchoTTL),
		mode:       opts.Config.UI.Mode(),

		prefs:           make(map[string]tree.Preference),
		talk:            make(map[uint32]mumble.TalkState),
		permissions:     make(map[uint32]mumble.Permission),
		listening:       make(map[uint32]struct{}),
		listeners:       make(map[uint32]map[uint32]struct{}),
		deafPriorMute:   make(map[uint32]bool),
		pendingPassword: make(map[uint32]string),
		subs:            make(map[int]chan struct{}),
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.store == nil {
		e.store = newMemoryStore()
	}
	fitter := opts.Fitter
	if fitter == nil {
		fitter = transmit.NewFitter(log, transmit.JPEGEncoder{}, transmit.DrawScaler{}, nil)
	}
	e.pipeline = transmit.NewPipeline(log, fitter, opts.Config.Messaging.Pipeline)
	hook := opts.MuteHook
	if !opts.Config.Audio.HardwareMute {
		hook = nil
	}
	e.reconciler = mutesync.New(log, e, hook, opts.Config.Audio.Reconciler, func(mutesync.Intent, mutesync.State) {})
	e.sync = newSyncController(e)
	e.publish()
	return e
}

// Now implements mutesync.Scheduler.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// AfterFunc runs fn on the engine loop after d.
func (e *Engine) AfterFunc(d time.Duration, fn func()) (stop func()) {
	return e.clock.AfterFunc(d, func() { e.Post(fn) })
}

// Post queues fn to run on the engine loop. It must not be called from the
// loop itself while the queue could be full.
func (e *Engine) Post(fn func()) {
	e.posts <- fn
}

// Do runs fn on the engine loop and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.posts <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the latest published projection.
func (e *Engine) View() *View {
	return e.view.Load()
}

// Subscribe returns a channel that receives a value whenever a new View is
// published, and a function to stop the subscription.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subsLock.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsLock.Unlock()
	return ch, func() {
		e.subsLock.Lock()
		delete(e.subs, id)
		e.subsLock.Unlock()
	}
}

// SetSession binds the session the engine drives. It waits until the loop has
// applied it so that events from the session can't overtake it.
func (e *Engine) SetSession(ctx context.Context, session mumble.Session) error {
	return e.Do(ctx, func() {
		e.session = session
		if session != nil && e.connection == Disconnected {
			e.connection = Connecting
			e.host = session.Host()
		}
	})
}

// Run is the engine loop. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.start(ctx)
	defer e.shutdown()
	var events <-chan mumble.Event
	if e.router != nil {
		events = e.router.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-e.posts:
			fn()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEvent(evt)
			e.drainBurst(events)
		}
		e.afterStep()
	}
}

func (e *Engine) start(ctx context.Context) {
	e.ctx = ctx
	e.reconciler.Start(ctx)
	e.afterStep()
}

func (e *Engine) shutdown() {
	e.sync.cancel()
	e.reconciler.Stop()
	e.log.Debug().Msg("Engine loop stopped")
}

// drainBurst handles events that are already queued so that one rebuild
// covers the whole burst.
func (e *Engine) drainBurst(events <-chan mumble.Event) {
	for i := 0; i < maxEventBurst; i++ {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(evt)
		default:
			return
		}
	}
}

func (e *Engine) afterStep() {
	if e.rebuildNow {
		e.rebuild()
	}
	e.publish()
}

// requestRebuild marks the projection dirty. A zero delay rebuilds at the end
// of the current step; otherwise a single timer is armed and later requests
// coalesce into it.
func (e *Engine) requestRebuild(delay time.Duration) {
	e.indexer.Invalidate()
	e.rebuildDirty = true
	if delay <= 0 {
		e.rebuildNow = true
		return
	}
	if e.rebuildPending {
		return
	}
	e.rebuildPending = true
	e.AfterFunc(delay, func() {
		e.rebuildPending = false
		if e.rebuildDirty {
			e.rebuild()
		}
	})
}

func (e *Engine) rebuild() {
	e.rebuildNow = false
	e.rebuildDirty = false
	var root *mumble.ChannelSnapshot
	if e.session != nil && e.connection == Connected {
		root, _ = e.session.Tree()
	}
	e.indexer.Rebuild(root, tree.Options{
		SelfSession: e.self.Session,
		HasSelf:     e.hasSelf,
		Mode:        e.mode,
		Preferences: annotations{e},
		Annotator:   annotations{e},
	})
	for session, state := range e.talk {
		e.indexer.UpdateTalkState(session, state)
	}
}

// annotations exposes loop state to the indexer during a rebuild.
type annotations struct {
	e *Engine
}

func (a annotations) ApplyPreference(user mumble.UserSnapshot) tree.Preference {
	if pref, ok := a.e.prefs[user.Name]; ok {
		return pref
	}
	return tree.DefaultPreference
}

func (a annotations) ChannelAccess(channelID uint32) tree.Access {
	return a.e.channelAccess(channelID)
}

func (a annotations) ChannelListeners(channelID uint32) (bool, int) {
	_, self := a.e.listening[channelID]
	return self, len(a.e.listeners[channelID])
}

func (e *Engine) channelAccess(channelID uint32) tree.Access {
	if e.classifier.IsProtected(channelID) {
		return tree.AccessPassword
	}
	perms, ok := e.permissions[channelID]
	if !ok {
		return tree.AccessUnknown
	} else if perms.Has(mumble.PermissionEnter) {
		return tree.AccessAllowed
	}
	return tree.AccessRestricted
}

func (e *Engine) publish() {
	e.seq++
	intent := e.reconciler.Intent()
	v := &View{
		Sequence:   e.seq,
		Connection: e.connection,
		ServerName: e.serverName,
		Muted:      intent.Muted,
		Deafened:   intent.Deafened,
		MuteState:  e.reconciler.State(),
		Mode:       e.mode,
		Items:      e.indexer.Current().Snapshot(),
		Messages:   append([]Message(nil), e.messages...),
		Sending:    e.sending,

		ListeningChannels: e.listeningChannels(),
		Notifications:     make(map[NotificationCategory]bool, len(AllNotificationCategories)),
	}
	if e.hasSelf {
		self := e.self
		v.Self = &self
	}
	if e.prompt != nil {
		prompt := *e.prompt
		v.Prompt = &prompt
	}
	if e.editingACL != nil {
		editing := e.editingACL.Clone()
		v.EditingACL = &editing
	}
	for _, cat := range AllNotificationCategories {
		v.Notifications[cat] = e.cfg.Notifications.Allows(cat)
	}
	e.view.Store(v)

	e.subsLock.Lock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	e.subsLock.Unlock()
}

func (e *Engine) listeningChannels() []uint32 {
	ids := make([]uint32, 0, len(e.listening))
	for id := range e.listening {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) appendMessage(msg Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Time.IsZero() {
		msg.Time = e.clock.Now()
	}
	if msg.Kind == MessageNotice && len(e.messages) > 0 {
		last := e.messages[len(e.messages)-1]
		if last.Kind == MessageNotice && last.HTML == msg.HTML {
			return
		}
	}
	e.messages = append(e.messages, msg)
	if limit := e.cfg.Messaging.MaxHistory; limit > 0 && len(e.messages) > limit {
		e.messages = append([]Message(nil), e.messages[len(e.messages)-limit:]...)
	}
}

func (e *Engine) notice(format string, args ...any) {
	e.appendMessage(Message{Kind: MessageNotice, HTML: fmt.Sprintf(format, args...)})
}

func (e *Engine) notify(cat NotificationCategory, title, body string) {
	if e.notifier == nil || !e.cfg.Notifications.Allows(cat) {
		return
	}
	e.notifier.Notify(cat, title, body)
}

// sessionError logs a failed session call and surfaces it as a notice.
func (e *Engine) sessionError(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, mumble.ErrNotConnected) {
		e.notice("Not connected")
		return
	} else if errors.Is(err, mumble.ErrUnsupported) {
		e.notice("%s is not supported by this server connection", op)
		return
	}
	e.log.Warn().Err(err).Str("operation", op).Msg("Session call failed")
	e.notice("Failed to %s: %v", op, err)
}

// channelName looks up a channel name in the current session tree.
func (e *Engine) channelName(channelID uint32) string {
	if item, ok := e.indexer.Channel(channelID); ok {
		return item.Title
	}
	if e.session != nil {
		if root, ok := e.session.Tree(); ok {
			if ch := root.Find(channelID); ch != nil {
				return ch.Name
			}
		}
	}
	return fmt.Sprintf("channel %d", channelID)
}

func (e *Engine) userJoinTarget() *uint32 {
	if e.pendingJoin == nil {
		return nil
	}
	if e.clock.Now().After(e.pendingJoin.expires) {
		e.pendingJoin = nil
		return nil
	}
	id := e.pendingJoin.channelID
	return &id
}

// imageBudget is the configured image budget clamped to what the server
// accepts.
func (e *Engine) imageBudget() int {
	budget := e.cfg.Messaging.ImageBudget()
	if limit := transmit.BudgetForMessageLength(e.serverCfg.MaxImageMessageLength); limit > 0 && limit < budget {
		budget = limit
	}
	return budget
}
