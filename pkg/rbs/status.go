package rbs

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/rbs/pkg/idx"
)

// User is the identity behind the current session.
type User struct {
	UID         string
	IsAnonymous bool
}

// AuthState enumerates the authentication states of a client.
type AuthState int

const (
	SignedOut AuthState = iota
	Authenticating
	SignedIn
	SignedInAnonymously
)

func (s AuthState) String() string {
	switch s {
	case SignedOut:
		return "signed_out"
	case Authenticating:
		return "authenticating"
	case SignedIn:
		return "signed_in"
	case SignedInAnonymously:
		return "signed_in_anonymously"
	default:
		return fmt.Sprintf("auth_state(%d)", int(s))
	}
}

// AuthStatus is an AuthState plus the user for the signed in states.
type AuthStatus struct {
	State AuthState
	User  User
}

func (s AuthStatus) String() string {
	if s.State == SignedIn || s.State == SignedInAnonymously {
		return fmt.Sprintf("%s(%s)", s.State, s.User.UID)
	}
	return s.State.String()
}

func statusFor(rec *TokenRecord) AuthStatus {
	if rec == nil {
		return AuthStatus{State: SignedOut}
	}
	if rec.IsAnonymous {
		return AuthStatus{State: SignedInAnonymously, User: rec.User()}
	}
	return AuthStatus{State: SignedIn, User: rec.User()}
}

// notifier delivers status changes to subscribers, in emission order, on its
// own goroutine.
type notifier struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[idx.ID]func(AuthStatus)

	events chan AuthStatus
	done   chan struct{}
	once   sync.Once
}

func newNotifier(log *slog.Logger) *notifier {
	n := &notifier{
		log:    log,
		subs:   make(map[idx.ID]func(AuthStatus)),
		events: make(chan AuthStatus, 64),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) subscribe(fn func(AuthStatus)) func() {
	id := idx.New()

	n.mu.Lock()
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// emit queues a status. Callers must not hold locks a subscriber may take.
func (n *notifier) emit(s AuthStatus) {
	n.log.Info("auth status changed", "status", s.String())
	n.events <- s
}

func (n *notifier) run() {
	defer close(n.done)
	for s := range n.events {
		n.mu.Lock()
		subs := make([]func(AuthStatus), 0, len(n.subs))
		for _, fn := range n.subs {
			subs = append(subs, fn)
		}
		n.mu.Unlock()

		for _, fn := range subs {
			fn(s)
		}
	}
}

// close delivers what is queued and stops the goroutine. No emit may follow.
func (n *notifier) close() {
	n.once.Do(func() {
		close(n.events)
		<-n.done
	})
}
