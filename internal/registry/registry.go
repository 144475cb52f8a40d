package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/will7455/shieldy/internal/db"
)

// Store mirrors registry contents so pending state survives restarts.
type Store interface {
	UpsertCandidates(ctx context.Context, candidates []*db.Candidate) error
	DeleteCandidates(ctx context.Context, chatID int64, userIDs []int64) error
	GetAllCandidates(ctx context.Context) ([]*db.Candidate, error)

	UpsertRestrictedUsers(ctx context.Context, users []*db.RestrictedUser) error
	DeleteRestrictedUsers(ctx context.Context, chatID int64, userIDs []int64) error
	GetAllRestrictedUsers(ctx context.Context) ([]*db.RestrictedUser, error)
}

type chatRecords struct {
	mu         sync.Mutex
	candidates map[int64]*db.Candidate
	restricted map[int64]*db.RestrictedUser
}

// Registry holds pending candidates and restricted users keyed by chat and
// user. Each chat has its own lock, so different chats never contend.
type Registry struct {
	mu     sync.RWMutex
	chats  map[int64]*chatRecords
	store  Store
	logger *log.Entry
}

func New(store Store) *Registry {
	return &Registry{
		chats:  make(map[int64]*chatRecords),
		store:  store,
		logger: log.WithField("object", "Registry"),
	}
}

func (r *Registry) chat(chatID int64, create bool) *chatRecords {
	r.mu.RLock()
	records, ok := r.chats[chatID]
	r.mu.RUnlock()
	if ok || !create {
		return records
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if records, ok = r.chats[chatID]; ok {
		return records
	}
	records = &chatRecords{
		candidates: make(map[int64]*db.Candidate),
		restricted: make(map[int64]*db.RestrictedUser),
	}
	r.chats[chatID] = records
	return records
}

// Start loads the persisted records, it is the registry lifecycle hook.
func (r *Registry) Start(ctx context.Context) error {
	return r.Load(ctx)
}

func (r *Registry) Stop(context.Context) error {
	return nil
}

func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	candidates, err := r.store.GetAllCandidates(ctx)
	if err != nil {
		return err
	}
	restricted, err := r.store.GetAllRestrictedUsers(ctx)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		records := r.chat(c.ChatID, true)
		records.mu.Lock()
		if _, ok := records.candidates[c.UserID]; !ok {
			records.candidates[c.UserID] = c
		}
		records.mu.Unlock()
	}
	for _, u := range restricted {
		records := r.chat(u.ChatID, true)
		records.mu.Lock()
		if _, ok := records.restricted[u.UserID]; !ok {
			records.restricted[u.UserID] = u
		}
		records.mu.Unlock()
	}
	r.logger.WithFields(log.Fields{
		"candidates": len(candidates),
		"restricted": len(restricted),
	}).Info("registry loaded")
	return nil
}

// AddCandidates inserts the batch, replacing any record with the same key.
// Replaced records are returned so their challenge messages can be cleaned up.
func (r *Registry) AddCandidates(ctx context.Context, candidates ...*db.Candidate) (replaced []*db.Candidate) {
	for chatID, batch := range groupByChat(candidates) {
		records := r.chat(chatID, true)
		records.mu.Lock()
		for _, c := range batch {
			if old, ok := records.candidates[c.UserID]; ok {
				replaced = append(replaced, old)
			}
			records.candidates[c.UserID] = c
		}
		r.persist("UpsertCandidates", func() error { return r.store.UpsertCandidates(ctx, batch) })
		records.mu.Unlock()
	}
	return replaced
}

func (r *Registry) Candidate(chatID, userID int64) (db.Candidate, bool) {
	records := r.chat(chatID, false)
	if records == nil {
		return db.Candidate{}, false
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	c, ok := records.candidates[userID]
	if !ok {
		return db.Candidate{}, false
	}
	return *c, true
}

// TakeCandidate removes and returns the record. Of several concurrent callers
// only one gets ok == true.
func (r *Registry) TakeCandidate(ctx context.Context, chatID, userID int64) (*db.Candidate, bool) {
	records := r.chat(chatID, false)
	if records == nil {
		return nil, false
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	c, ok := records.candidates[userID]
	if !ok {
		return nil, false
	}
	delete(records.candidates, userID)
	r.persist("DeleteCandidates", func() error { return r.store.DeleteCandidates(ctx, chatID, []int64{userID}) })
	return c, true
}

// TakeExpired removes and returns the chat candidates older than window.
func (r *Registry) TakeExpired(ctx context.Context, chatID int64, now time.Time, window time.Duration) []*db.Candidate {
	records := r.chat(chatID, false)
	if records == nil {
		return nil
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	var expired []*db.Candidate
	var ids []int64
	for userID, c := range records.candidates {
		if !c.Expired(now, window) {
			continue
		}
		expired = append(expired, c)
		ids = append(ids, userID)
		delete(records.candidates, userID)
	}
	if len(ids) > 0 {
		r.persist("DeleteCandidates", func() error { return r.store.DeleteCandidates(ctx, chatID, ids) })
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].UserID < expired[j].UserID })
	return expired
}

// RestoreCandidate puts a taken record back unless a newer one exists.
func (r *Registry) RestoreCandidate(ctx context.Context, c *db.Candidate) bool {
	records := r.chat(c.ChatID, true)
	records.mu.Lock()
	defer records.mu.Unlock()
	if _, ok := records.candidates[c.UserID]; ok {
		return false
	}
	records.candidates[c.UserID] = c
	r.persist("UpsertCandidates", func() error { return r.store.UpsertCandidates(ctx, []*db.Candidate{c}) })
	return true
}

func (r *Registry) Candidates(chatID int64) []db.Candidate {
	records := r.chat(chatID, false)
	if records == nil {
		return nil
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	res := make([]db.Candidate, 0, len(records.candidates))
	for _, c := range records.candidates {
		res = append(res, *c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res
}

func (r *Registry) ChatsWithCandidates() []int64 {
	return r.chatIDs(func(records *chatRecords) bool { return len(records.candidates) > 0 })
}

func (r *Registry) PendingCount() int {
	r.mu.RLock()
	all := make([]*chatRecords, 0, len(r.chats))
	for _, records := range r.chats {
		all = append(all, records)
	}
	r.mu.RUnlock()

	total := 0
	for _, records := range all {
		records.mu.Lock()
		total += len(records.candidates)
		records.mu.Unlock()
	}
	return total
}

func (r *Registry) AddRestricted(ctx context.Context, users ...*db.RestrictedUser) {
	for chatID, batch := range groupRestrictedByChat(users) {
		records := r.chat(chatID, true)
		records.mu.Lock()
		for _, u := range batch {
			records.restricted[u.UserID] = u
		}
		r.persist("UpsertRestrictedUsers", func() error { return r.store.UpsertRestrictedUsers(ctx, batch) })
		records.mu.Unlock()
	}
}

func (r *Registry) IsRestricted(chatID, userID int64) bool {
	records := r.chat(chatID, false)
	if records == nil {
		return false
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	_, ok := records.restricted[userID]
	return ok
}

func (r *Registry) RemoveRestricted(ctx context.Context, chatID int64, userIDs ...int64) {
	records := r.chat(chatID, false)
	if records == nil {
		return
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	var removed []int64
	for _, userID := range userIDs {
		if _, ok := records.restricted[userID]; ok {
			delete(records.restricted, userID)
			removed = append(removed, userID)
		}
	}
	if len(removed) > 0 {
		r.persist("DeleteRestrictedUsers", func() error { return r.store.DeleteRestrictedUsers(ctx, chatID, removed) })
	}
}

// TakeExpiredRestricted drops the chat records older than ttl.
func (r *Registry) TakeExpiredRestricted(ctx context.Context, chatID int64, now time.Time, ttl time.Duration) []*db.RestrictedUser {
	records := r.chat(chatID, false)
	if records == nil {
		return nil
	}
	records.mu.Lock()
	defer records.mu.Unlock()
	var expired []*db.RestrictedUser
	var ids []int64
	for userID, u := range records.restricted {
		if !u.Expired(now, ttl) {
			continue
		}
		expired = append(expired, u)
		ids = append(ids, userID)
		delete(records.restricted, userID)
	}
	if len(ids) > 0 {
		r.persist("DeleteRestrictedUsers", func() error { return r.store.DeleteRestrictedUsers(ctx, chatID, ids) })
	}
	return expired
}

func (r *Registry) ChatsWithRestricted() []int64 {
	return r.chatIDs(func(records *chatRecords) bool { return len(records.restricted) > 0 })
}

func (r *Registry) chatIDs(keep func(*chatRecords) bool) []int64 {
	r.mu.RLock()
	all := make(map[int64]*chatRecords, len(r.chats))
	for chatID, records := range r.chats {
		all[chatID] = records
	}
	r.mu.RUnlock()

	ids := make([]int64, 0, len(all))
	for chatID, records := range all {
		records.mu.Lock()
		ok := keep(records)
		records.mu.Unlock()
		if ok {
			ids = append(ids, chatID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// persist runs a mirror write; the in-memory state stays authoritative.
func (r *Registry) persist(op string, write func() error) {
	if r.store == nil {
		return
	}
	if err := write(); err != nil {
		r.logger.WithFields(log.Fields{"method": op, "error": err.Error()}).Error("cant mirror registry change")
	}
}

func groupByChat(candidates []*db.Candidate) map[int64][]*db.Candidate {
	res := make(map[int64][]*db.Candidate)
	for _, c := range candidates {
		if c == nil {
			continue
		}
		res[c.ChatID] = append(res[c.ChatID], c)
	}
	return res
}

func groupRestrictedByChat(users []*db.RestrictedUser) map[int64][]*db.RestrictedUser {
	res := make(map[int64][]*db.RestrictedUser)
	for _, u := range users {
		if u == nil {
			continue
		}
		res[u.ChatID] = append(res[u.ChatID], u)
	}
	return res
}
