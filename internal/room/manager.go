package room

import (
	"sync"

	"github.com/rtcmesh/rendezvous/internal/metrics"
	"github.com/rtcmesh/rendezvous/internal/registry"
)

type pairwiseRoom struct {
	// members in join order; the earlier member is always the offer initiator.
	members []string
}

type chatMember struct {
	id       string
	nickname string
}

type chatRoom struct {
	// members in join order. Display names are the uniqueness domain; identities
	// are kept alongside for key-bootstrap selection and delivery.
	members []chatMember
}

// Manager owns all room state. Construct one per process and pass it by
// handle; there is no package-level state.
type Manager struct {
	mu       sync.Mutex
	reg      *registry.Registry
	picker   Picker
	metrics  *metrics.Metrics
	pairwise map[string]*pairwiseRoom
	chat     map[string]*chatRoom
}

func NewManager(reg *registry.Registry, picker Picker, m *metrics.Metrics) *Manager {
	if picker == nil {
		picker = UniformPicker{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Manager{
		reg:      reg,
		picker:   picker,
		metrics:  m,
		pairwise: make(map[string]*pairwiseRoom),
		chat:     make(map[string]*chatRoom),
	}
}

// JoinPairwise admits id into the named pairwise room, creating it on first
// join. A full room is rejected with ErrRoomFull before any state changes, so
// a rejected join leaves every membership untouched, including id's current
// room. On success id is first released from whatever room it held; the
// returned departure, when non-nil, describes that room's cleanup. Joining a
// room you are already in is a no-op.
func (m *Manager) JoinPairwise(name, id string) (*Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.pairwise[name]; r != nil {
		for _, member := range r.members {
			if member == id {
				return nil, nil
			}
		}
		if len(r.members) >= 2 {
			m.metrics.Inc(metrics.DropReasonRoomFull)
			return nil, ErrRoomFull
		}
	}

	left := m.leaveLocked(id)

	r := m.pairwise[name]
	if r == nil {
		r = &pairwiseRoom{}
		m.pairwise[name] = r
	}
	r.members = append(r.members, id)
	m.reg.SetMetadata(id, registry.Metadata{Room: name, Kind: registry.KindPairwise})
	m.metrics.Inc(metrics.PairwiseJoins)
	return left, nil
}

// Ready reports the member that should initiate negotiation once the named
// room is full. The initiator is the member that joined before id; assigning
// initiation server-side avoids offer glare entirely.
func (m *Manager) Ready(name, id string) (initiator string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.pairwise[name]
	if r == nil || len(r.members) != 2 {
		return "", false
	}
	for _, member := range r.members {
		if member != id {
			return member, true
		}
	}
	return "", false
}

// PairwisePeers returns every member of the named pairwise room except
// exclude. By the capacity invariant this is at most one identity.
func (m *Manager) PairwisePeers(name, exclude string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.pairwise[name]
	if r == nil {
		return nil
	}
	var peers []string
	for _, member := range r.members {
		if member != exclude {
			peers = append(peers, member)
		}
	}
	return peers
}

// ChatJoin is the outcome of a successful chat-room join.
type ChatJoin struct {
	// Host is true when the room was just created: the joiner becomes key host
	// and must generate key material locally.
	Host bool
	// BootstrapTarget is the existing member selected to carry the room key to
	// the newcomer. Empty when Host is true.
	BootstrapTarget string
	// Roster is the full display-name set in join order, including the joiner.
	Roster []string
	// Members holds every member identity including the joiner; Others excludes
	// the joiner.
	Members []string
	Others  []string
}

// JoinChat admits id into the named chat room under nickname. A colliding
// nickname is rejected with ErrNicknameTaken before any state changes, so
// membership everywhere is untouched. On success id is first released from
// whatever room it held; the returned departure, when non-nil, describes that
// room's cleanup. The first join creates the room and makes the joiner key
// host; later joins select an existing member for key transport before the
// newcomer is added, so the newcomer is never its own bootstrap target.
func (m *Manager) JoinChat(name, nickname, id string) (ChatJoin, *Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.chat[name]; r != nil {
		for _, member := range r.members {
			if member.nickname == nickname {
				m.metrics.Inc(metrics.DropReasonNicknameTaken)
				return ChatJoin{}, nil, ErrNicknameTaken
			}
		}
	}

	left := m.leaveLocked(id)

	// Re-read after the release: leaving may have emptied and destroyed the
	// target room itself.
	var res ChatJoin
	r := m.chat[name]
	if r == nil {
		r = &chatRoom{}
		m.chat[name] = r
		res.Host = true
		m.metrics.Inc(metrics.InitHost)
	}

	if !res.Host && len(r.members) > 0 {
		res.BootstrapTarget = r.members[m.picker.IntN(len(r.members))].id
		m.metrics.Inc(metrics.BootstrapPaired)
	}

	r.members = append(r.members, chatMember{id: id, nickname: nickname})
	m.reg.SetMetadata(id, registry.Metadata{Room: name, Kind: registry.KindChat, Nickname: nickname})
	m.metrics.Inc(metrics.ChatJoins)

	for _, member := range r.members {
		res.Roster = append(res.Roster, member.nickname)
		res.Members = append(res.Members, member.id)
		if member.id != id {
			res.Others = append(res.Others, member.id)
		}
	}
	return res, left, nil
}

// ChatPeers returns every member identity of the named chat room except
// exclude.
func (m *Manager) ChatPeers(name, exclude string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.chat[name]
	if r == nil {
		return nil
	}
	var peers []string
	for _, member := range r.members {
		if member.id != exclude {
			peers = append(peers, member.id)
		}
	}
	return peers
}

// ChatRoster returns the display names of the named chat room in join order.
func (m *Manager) ChatRoster(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.chat[name]
	if r == nil {
		return nil
	}
	roster := make([]string, 0, len(r.members))
	for _, member := range r.members {
		roster = append(roster, member.nickname)
	}
	return roster
}

// Departure describes the cleanup after a member leaves or disconnects, with
// everything the caller needs to notify the remaining audience.
type Departure struct {
	Kind     registry.Kind
	Room     string
	Nickname string

	// PeerLeft is the remaining pairwise member to notify, if any.
	PeerLeft string

	// Destroyed is true when the room emptied and ceased to exist. A destroyed
	// chat room has no audience, so Roster and Remaining are nil.
	Destroyed bool
	Roster    []string
	Remaining []string
}

// Leave removes id from whatever room it currently holds, keeping the
// connection registered. Returns false if id was in no room.
func (m *Manager) Leave(id string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dep := m.leaveLocked(id)
	if dep == nil {
		return Departure{}, false
	}
	return *dep, true
}

// Disconnect clears id from the registry and removes it from the room it held
// at disconnect time.
func (m *Manager) Disconnect(id string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	md, ok := m.reg.Clear(id)
	if !ok || md.Kind == registry.KindNone {
		return Departure{}, false
	}
	dep := m.removeLocked(md, id)
	return dep, true
}

// leaveLocked releases id's current membership, if any. Callers hold m.mu.
func (m *Manager) leaveLocked(id string) *Departure {
	md, ok := m.reg.Get(id)
	if !ok || md.Kind == registry.KindNone {
		return nil
	}
	m.reg.SetMetadata(id, registry.Metadata{})
	dep := m.removeLocked(md, id)
	return &dep
}

func (m *Manager) removeLocked(md registry.Metadata, id string) Departure {
	dep := Departure{Kind: md.Kind, Room: md.Room, Nickname: md.Nickname}

	switch md.Kind {
	case registry.KindPairwise:
		r := m.pairwise[md.Room]
		if r == nil {
			return dep
		}
		r.members = removeString(r.members, id)
		if len(r.members) == 0 {
			delete(m.pairwise, md.Room)
			dep.Destroyed = true
		} else {
			dep.PeerLeft = r.members[0]
		}

	case registry.KindChat:
		r := m.chat[md.Room]
		if r == nil {
			return dep
		}
		kept := r.members[:0]
		for _, member := range r.members {
			if member.id != id {
				kept = append(kept, member)
			}
		}
		r.members = kept
		if len(r.members) == 0 {
			// No audience remains; destroy silently.
			delete(m.chat, md.Room)
			dep.Destroyed = true
			return dep
		}
		for _, member := range r.members {
			dep.Roster = append(dep.Roster, member.nickname)
			dep.Remaining = append(dep.Remaining, member.id)
		}
	}
	return dep
}

func removeString(s []string, v string) []string {
	kept := s[:0]
	for _, x := range s {
		if x != v {
			kept = append(kept, x)
		}
	}
	return kept
}
