package notify

import (
	"context"
	"sync"
	"time"

	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind selects how a toast is rendered.
type Kind string

const (
	KindSuccess   Kind = "success"
	KindError     Kind = "error"
	KindInfo      Kind = "info"
	KindBroadcast Kind = "broadcast"
)

// Toast is a transient user-facing notice.
type Toast struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// toastBuffer is how many undelivered toasts a subscriber may lag behind
// before new ones are dropped for it.
const toastBuffer = 16

// Service fans toasts out to every open connection of a user.
type Service struct {
	mu   sync.Mutex
	subs map[string]map[chan Toast]struct{}
	log  *zap.Logger
}

// NewService creates an empty notification service.
func NewService(log *zap.Logger) *Service {
	return &Service{
		subs: make(map[string]map[chan Toast]struct{}),
		log:  log.With(zap.String("component", "notify")),
	}
}

// Subscribe registers a receiver for userID's toasts. The returned function
// unsubscribes and closes the channel.
func (s *Service) Subscribe(userID string) (<-chan Toast, func()) {
	ch := make(chan Toast, toastBuffer)

	s.mu.Lock()
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[chan Toast]struct{})
	}
	s.subs[userID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[userID], ch)
			if len(s.subs[userID]) == 0 {
				delete(s.subs, userID)
			}
			close(ch)
		})
	}
}

// Notify delivers a toast to every subscriber of userID without blocking.
func (s *Service) Notify(userID, message string, kind Kind) {
	t := Toast{ID: uuid.NewString(), Message: message, Kind: kind, CreatedAt: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	delivered := 0
	for ch := range s.subs[userID] {
		select {
		case ch <- t:
			delivered++
		default:
		}
	}
	s.log.Debug("toast", zap.String("user", userID), zap.String("kind", string(kind)), zap.Int("delivered", delivered))
}

// For binds the service to one user.
func (s *Service) For(userID string) *UserNotifier {
	return &UserNotifier{svc: s, userID: userID}
}

// UserNotifier sends toasts to a single user.
type UserNotifier struct {
	svc    *Service
	userID string
}

// Notify shows message to the bound user.
func (n *UserNotifier) Notify(message string, kind Kind) {
	n.svc.Notify(n.userID, message, kind)
}

// NotificationBinding selects inserted notification rows addressed to userID.
func NotificationBinding(userID string) supabase.Binding {
	return supabase.Binding{
		Event:  supabase.EventInsert,
		Schema: "public",
		Table:  "notifications",
		Filter: "user_id=eq." + userID,
	}
}

// Forward turns notification inserts into toasts for userID until ctx is
// done or changes is closed.
func (s *Service) Forward(ctx context.Context, userID string, changes <-chan supabase.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Table != "notifications" || change.Type != supabase.EventInsert {
				continue
			}
			var n models.Notification
			if err := change.Decode(&n); err != nil {
				s.log.Warn("malformed notification", zap.Error(err))
				continue
			}
			kind := KindSuccess
			if n.Type == "broadcast" {
				kind = KindBroadcast
			}
			s.Notify(userID, n.Content, kind)
		}
	}
}
