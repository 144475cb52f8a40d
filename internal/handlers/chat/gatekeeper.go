package handlers

/*
mermaid:
graph Admission
    A[Members joined] --> B[Guard joiners]
    B --> C{Added by admin?}
    C -->|Yes| Z[Release guard]
    C -->|No| D{Under attack?}
    D -->|Yes| K[Kick]
    D -->|No| E{Reputation banned?}
    E -->|Yes| K
    E -->|No| F[Send challenge]
    F --> G[Restrict if enabled]
    G --> H[Store candidates]
    H --> Z
    I[Reply or button] --> J{Correct?}
    J -->|Yes| L[Take candidate, delete challenge, greet]
    J -->|No| M[Delete reply if strict]
    S[Sweep tick] --> N[Take expired candidates]
    N --> K
*/
import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/config"
	"github.com/will7455/shieldy/internal/db"
	"github.com/will7455/shieldy/internal/infra"
	"github.com/will7455/shieldy/internal/observability"
	"github.com/will7455/shieldy/internal/registry"
)

const (
	updateTypeCallbackQuery  updateType = "callback_query"
	updateTypeNewChatMembers updateType = "new_chat_members"
	updateTypeLeftChatMember updateType = "left_chat_member"
	updateTypeMessage        updateType = "message"
	updateTypeIgnore         updateType = "ignore"

	defaultSweepInterval    = 15 * time.Second
	defaultSoftBanDuration  = 45 * time.Second
	defaultRestrictDuration = 24 * time.Hour
	sweepConcurrency        = 8
)

var callbackDataPattern = regexp.MustCompile(`^(-?\d+)~(\d+)$`)

type updateType string

type Platform interface {
	Self() api.User
	SendMessage(ctx context.Context, msg api.MessageConfig) (api.Message, error)
	SendPhoto(ctx context.Context, photo api.PhotoConfig) (api.Message, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	KickMember(ctx context.Context, chatID, userID int64, until time.Time) error
	RestrictMember(ctx context.Context, chatID, userID int64, permissions *api.ChatPermissions, until time.Time) error
	GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error)
	GetChatAdministrators(ctx context.Context, chatID int64) ([]api.ChatMember, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type PolicyProvider interface {
	GetPolicy(ctx context.Context, chatID int64) (*db.Policy, error)
}

type ReputationChecker interface {
	IsReputationBanned(ctx context.Context, userID int64) (bool, error)
}

type ChallengeGenerator interface {
	GenerateDigitsChallenge() (question, answer string)
	GenerateImageChallenge() (png []byte, expectedText string, err error)
}

type MessagePurger interface {
	PurgeStoredMessages(ctx context.Context, chatID, userID int64) error
}

type HelpSender interface {
	SendHelp(ctx context.Context, chatID int64, language string) error
}

type Dependencies struct {
	Platform   Platform
	Policies   PolicyProvider
	Reputation ReputationChecker
	Challenges ChallengeGenerator
	Purger     MessagePurger
	Help       HelpSender
	Registry   *registry.Registry
	Guard      *registry.Guard
}

type Gatekeeper struct {
	platform   Platform
	policies   PolicyProvider
	reputation ReputationChecker
	challenges ChallengeGenerator
	purger     MessagePurger
	help       HelpSender
	registry   *registry.Registry
	guard      *registry.Guard
	config     config.Gatekeeper

	now   func() time.Time
	tasks *taskRunner

	sweeping       atomic.Bool
	kickFailures   map[candidateKey]int
	kickFailuresMu sync.Mutex

	logger         *log.Entry
	workerCancel   context.CancelFunc
	workerWG       sync.WaitGroup
	startStopMutex sync.Mutex
	started        bool
}

type candidateKey struct {
	chatID int64
	userID int64
}

func NewGatekeeper(deps Dependencies, cfg config.Gatekeeper) *Gatekeeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SoftBanDuration <= 0 {
		cfg.SoftBanDuration = defaultSoftBanDuration
	}
	if cfg.RestrictDuration <= 0 {
		cfg.RestrictDuration = defaultRestrictDuration
	}
	if deps.Registry == nil {
		deps.Registry = registry.New(nil)
	}
	if deps.Guard == nil {
		deps.Guard = registry.NewGuard()
	}

	g := &Gatekeeper{
		platform:     deps.Platform,
		policies:     deps.Policies,
		reputation:   deps.Reputation,
		challenges:   deps.Challenges,
		purger:       deps.Purger,
		help:         deps.Help,
		registry:     deps.Registry,
		guard:        deps.Guard,
		config:       cfg,
		now:          time.Now,
		kickFailures: make(map[candidateKey]int),
	}
	g.tasks = newTaskRunner(g.getLogEntry())
	g.getLogEntry().WithField("method", "NewGatekeeper").Debug("created new gatekeeper")
	return g
}

// Start launches the expiry sweeper.
func (g *Gatekeeper) Start(ctx context.Context) error {
	g.startStopMutex.Lock()
	defer g.startStopMutex.Unlock()
	if g.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.workerCancel = cancel

	g.workerWG.Add(1)
	go func() {
		defer g.workerWG.Done()
		ticker := time.NewTicker(g.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				err := infra.Recover("sweep", func() error {
					g.Sweep(runCtx)
					return nil
				})
				observability.Report(g.getLogEntry().WithField("method", "Start"), "sweep", err)
			}
		}
	}()

	g.started = true
	return nil
}

// Stop halts the sweeper and cancels pending deferred tasks.
func (g *Gatekeeper) Stop(ctx context.Context) error {
	g.startStopMutex.Lock()
	wasStarted := g.started
	g.started = false
	cancel := g.workerCancel
	g.startStopMutex.Unlock()

	if wasStarted && cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	return g.tasks.Close(ctx)
}

func (g *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	entry := g.getLogEntry()

	if chat == nil {
		entry.Debug("chat is nil")
		return true, nil
	}
	if user == nil {
		entry.Debug("Missing user information")
		return true, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	switch g.determineUpdateType(u) {
	case updateTypeNewChatMembers:
		return true, g.handleNewChatMembers(ctx, u.Message, chat)
	case updateTypeLeftChatMember:
		return true, g.handleLeftChatMember(ctx, u.Message, chat)
	case updateTypeCallbackQuery:
		return false, g.handleButton(ctx, u.CallbackQuery, user)
	case updateTypeMessage:
		return g.handleMessage(ctx, u.Message, chat, user)
	default:
		return true, nil
	}
}

func (g *Gatekeeper) determineUpdateType(u *api.Update) updateType {
	if u == nil {
		return updateTypeIgnore
	}
	if u.CallbackQuery != nil {
		if callbackDataPattern.MatchString(u.CallbackQuery.Data) {
			return updateTypeCallbackQuery
		}
		return updateTypeIgnore
	}
	if u.Message == nil {
		return updateTypeIgnore
	}
	switch {
	case len(u.Message.NewChatMembers) > 0:
		return updateTypeNewChatMembers
	case u.Message.LeftChatMember != nil:
		return updateTypeLeftChatMember
	default:
		return updateTypeMessage
	}
}

func (g *Gatekeeper) handleLeftChatMember(ctx context.Context, msg *api.Message, chat *api.Chat) error {
	policy, err := g.getPolicy(ctx, chat.ID)
	if err != nil {
		return err
	}
	if policy.DeleteEntryMessages || policy.UnderAttack {
		g.deleteMessage(ctx, "delete_left_message", chat.ID, msg.MessageID)
	}
	return nil
}

func (g *Gatekeeper) getPolicy(ctx context.Context, chatID int64) (*db.Policy, error) {
	policy, err := g.policies.GetPolicy(ctx, chatID)
	if err != nil {
		return nil, errors.WithMessage(err, "cant get chat policy")
	}
	if policy == nil {
		policy = db.DefaultPolicy(chatID)
	}
	return policy, nil
}

// Candidate exposes the pending record for the pair, if any.
func (g *Gatekeeper) Candidate(chatID, userID int64) (db.Candidate, bool) {
	return g.registry.Candidate(chatID, userID)
}

func (g *Gatekeeper) getLogEntry() *log.Entry {
	if g.logger == nil {
		g.logger = log.WithField("handler", "gatekeeper")
	}
	return g.logger
}
