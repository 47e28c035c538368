package worker

import (
	"sync"

	"github.com/ajitpratap0/airsync/pkg/logger"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// emissionState is the controller's record of whether the terminal event went out.
type emissionState int

const (
	emissionPending emissionState = iota
	emissionClaimed
	emissionEmitted
)

func (s emissionState) String() string {
	switch s {
	case emissionPending:
		return "pending"
	case emissionClaimed:
		return "claimed"
	case emissionEmitted:
		return "emitted"
	}
	return "unknown"
}

type emissionEvent int

const (
	// claimRequested asks for the right to send the terminal event
	claimRequested emissionEvent = iota
	// claimReleased returns a claim after a failed send
	claimReleased
	// emitConfirmed records a successful send under a claim
	emitConfirmed
	// resolveRequested revokes the unit's rights and takes over the emission
	resolveRequested
)

// emission is owned by the controller goroutine and is only changed through apply.
type emission struct {
	state   emissionState
	revoked bool
}

// apply performs one transition and reports whether it was granted. For
// resolveRequested the result tells the controller to send the synthetic event.
func (e *emission) apply(ev emissionEvent) bool {
	switch ev {
	case claimRequested:
		if e.revoked || e.state != emissionPending {
			return false
		}
		e.state = emissionClaimed
		return true
	case claimReleased:
		if e.state != emissionClaimed {
			return false
		}
		e.state = emissionPending
		return true
	case emitConfirmed:
		if e.state != emissionClaimed {
			return false
		}
		e.state = emissionEmitted
		return true
	case resolveRequested:
		e.revoked = true
		if e.state != emissionPending {
			// A claim still outstanding may already be on the wire.
			return false
		}
		e.state = emissionEmitted
		return true
	}
	return false
}

type messageKind int

const (
	msgLog messageKind = iota
	msgClaim
	msgRelease
	msgEmitted
	msgExit
)

func (k messageKind) String() string {
	switch k {
	case msgLog:
		return "log"
	case msgClaim:
		return "claim"
	case msgRelease:
		return "release"
	case msgEmitted:
		return "emitted"
	case msgExit:
		return "exit"
	}
	return "unknown"
}

// message is the only thing a unit shares with its controller.
type message struct {
	kind      messageKind
	entry     logger.Entry
	eventType models.OutputEventType
	reply     chan bool
}

// unitLink is the unit side of the controller channel.
type unitLink interface {
	claim() bool
	release()
	emitted(eventType models.OutputEventType)
	exit()
}

// channelLink sends messages to a controller until it resolves. Sends after
// resolution are dropped and claims are denied.
type channelLink struct {
	messages chan<- message
	resolved <-chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

func newChannelLink(messages chan<- message, resolved <-chan struct{}) *channelLink {
	return &channelLink{
		messages: messages,
		resolved: resolved,
		quit:     make(chan struct{}),
	}
}

func (l *channelLink) send(m message) bool {
	select {
	case <-l.resolved:
		return false
	default:
	}
	select {
	case l.messages <- m:
		return true
	case <-l.resolved:
		return false
	}
}

func (l *channelLink) claim() bool {
	reply := make(chan bool, 1)
	if !l.send(message{kind: msgClaim, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-l.resolved:
		// A grant answered before resolution still stands.
		select {
		case ok := <-reply:
			return ok
		default:
			return false
		}
	}
}

func (l *channelLink) release() {
	l.send(message{kind: msgRelease})
}

func (l *channelLink) emitted(eventType models.OutputEventType) {
	l.send(message{kind: msgEmitted, eventType: eventType})
}

// exit asks the unit to stop waiting for its task. The unit reports msgExit itself.
func (l *channelLink) exit() {
	l.quitOnce.Do(func() { close(l.quit) })
}

func (l *channelLink) log(e logger.Entry) {
	l.send(message{kind: msgLog, entry: e})
}
