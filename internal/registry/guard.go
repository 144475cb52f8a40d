package registry

import "sync"

type guardKey struct {
	chatID int64
	userID int64
}

// Guard marks (chat, user) pairs whose admission is still in progress.
type Guard struct {
	mu   sync.Mutex
	held map[guardKey]int
}

func NewGuard() *Guard {
	return &Guard{held: make(map[guardKey]int)}
}

// Acquire marks the users and returns the release func. Release is safe to
// call more than once, only the first call counts.
func (g *Guard) Acquire(chatID int64, userIDs ...int64) (release func()) {
	keys := make([]guardKey, 0, len(userIDs))
	g.mu.Lock()
	for _, userID := range userIDs {
		key := guardKey{chatID: chatID, userID: userID}
		g.held[key]++
		keys = append(keys, key)
	}
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			for _, key := range keys {
				if g.held[key] <= 1 {
					delete(g.held, key)
					continue
				}
				g.held[key]--
			}
		})
	}
}

func (g *Guard) Held(chatID, userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[guardKey{chatID: chatID, userID: userID}] > 0
}
