package room

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtcmesh/rendezvous/internal/metrics"
	"github.com/rtcmesh/rendezvous/internal/registry"
)

// stubPicker always selects the given index (clamped to the candidate count).
type stubPicker struct{ index int }

func (p stubPicker) IntN(n int) int {
	if p.index >= n {
		return n - 1
	}
	return p.index
}

func newTestManager(t *testing.T, picker Picker) (*Manager, *registry.Registry, *metrics.Metrics) {
	t.Helper()
	reg := registry.New()
	m := metrics.New()
	return NewManager(reg, picker, m), reg, m
}

func joinPairwise(t *testing.T, mgr *Manager, name, id string) {
	t.Helper()
	_, err := mgr.JoinPairwise(name, id)
	require.NoError(t, err)
}

func joinChat(t *testing.T, mgr *Manager, name, nickname, id string) ChatJoin {
	t.Helper()
	res, _, err := mgr.JoinChat(name, nickname, id)
	require.NoError(t, err)
	return res
}

func TestPairwise_CapacityIsTwo(t *testing.T) {
	mgr, reg, met := newTestManager(t, nil)
	a, b, c := reg.Register(), reg.Register(), reg.Register()

	joinPairwise(t, mgr, "r1", a)
	joinPairwise(t, mgr, "r1", b)

	_, err := mgr.JoinPairwise("r1", c)
	require.ErrorIs(t, err, ErrRoomFull)
	require.EqualValues(t, 1, met.Get(metrics.DropReasonRoomFull))

	// Rejection has no side effect: the room still relays between a and b only.
	require.Equal(t, []string{b}, mgr.PairwisePeers("r1", a))
	require.Equal(t, []string{a}, mgr.PairwisePeers("r1", b))

	md, ok := reg.Get(c)
	require.True(t, ok)
	require.Equal(t, registry.KindNone, md.Kind)
}

func TestPairwise_JoinIsIdempotent(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	a := reg.Register()

	joinPairwise(t, mgr, "r1", a)

	left, err := mgr.JoinPairwise("r1", a)
	require.NoError(t, err)
	require.Nil(t, left, "rejoining the same room must not run a departure")
	require.Empty(t, mgr.PairwisePeers("r1", a))
}

func TestPairwise_ReadyNamesEarlierMemberAsInitiator(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	a, b := reg.Register(), reg.Register()

	joinPairwise(t, mgr, "r1", a)

	_, ok := mgr.Ready("r1", a)
	require.False(t, ok, "one-member room must not trigger initiation")

	joinPairwise(t, mgr, "r1", b)

	initiator, ok := mgr.Ready("r1", b)
	require.True(t, ok)
	require.Equal(t, a, initiator, "the earlier member creates the offer")
}

func TestPairwise_LeaveNotifiesRemainingAndDestroysEmptyRoom(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	a, b := reg.Register(), reg.Register()

	joinPairwise(t, mgr, "r1", a)
	joinPairwise(t, mgr, "r1", b)

	dep, ok := mgr.Disconnect(a)
	require.True(t, ok)
	require.Equal(t, registry.KindPairwise, dep.Kind)
	require.Equal(t, "r1", dep.Room)
	require.Equal(t, b, dep.PeerLeft)
	require.False(t, dep.Destroyed)

	dep, ok = mgr.Disconnect(b)
	require.True(t, ok)
	require.Empty(t, dep.PeerLeft)
	require.True(t, dep.Destroyed)

	// The name is free again; a fresh join starts a fresh room.
	c := reg.Register()
	joinPairwise(t, mgr, "r1", c)
	require.Empty(t, mgr.PairwisePeers("r1", c))
}

func TestChat_FirstJoinerBecomesKeyHost(t *testing.T) {
	mgr, reg, met := newTestManager(t, nil)
	a := reg.Register()

	res := joinChat(t, mgr, "alpha", "alice", a)
	require.True(t, res.Host)
	require.Empty(t, res.BootstrapTarget, "nothing to pair with in a fresh room")
	require.Equal(t, []string{"alice"}, res.Roster)
	require.Equal(t, []string{a}, res.Members)
	require.Empty(t, res.Others)
	require.EqualValues(t, 1, met.Get(metrics.InitHost))
}

func TestChat_NicknameCollisionLeavesRoomUnchanged(t *testing.T) {
	mgr, reg, met := newTestManager(t, nil)
	a, b := reg.Register(), reg.Register()

	joinChat(t, mgr, "alpha", "alice", a)

	_, _, err := mgr.JoinChat("alpha", "alice", b)
	require.ErrorIs(t, err, ErrNicknameTaken)
	require.Equal(t, []string{"alice"}, mgr.ChatRoster("alpha"))
	require.EqualValues(t, 1, met.Get(metrics.DropReasonNicknameTaken))

	md, ok := reg.Get(b)
	require.True(t, ok)
	require.Equal(t, registry.KindNone, md.Kind)

	// The rejected client may retry with a fresh name.
	res := joinChat(t, mgr, "alpha", "bob", b)
	require.False(t, res.Host)
	require.Equal(t, []string{"alice", "bob"}, res.Roster)
}

func TestChat_BootstrapTargetIsDeterministicWithOneMember(t *testing.T) {
	mgr, reg, met := newTestManager(t, nil)
	a, b := reg.Register(), reg.Register()

	joinChat(t, mgr, "alpha", "alice", a)

	res := joinChat(t, mgr, "alpha", "bob", b)
	require.False(t, res.Host)
	require.Equal(t, a, res.BootstrapTarget)
	require.Equal(t, []string{a, b}, res.Members)
	require.Equal(t, []string{a}, res.Others)
	require.EqualValues(t, 1, met.Get(metrics.BootstrapPaired))
}

func TestChat_BootstrapTargetExcludesNewcomer(t *testing.T) {
	// A picker that always selects the last candidate would pick the newcomer
	// if selection ran after the join.
	mgr, reg, _ := newTestManager(t, stubPicker{index: 1 << 30})

	members := make([]string, 4)
	for i := range members {
		members[i] = reg.Register()
		joinChat(t, mgr, "alpha", fmt.Sprintf("user%d", i), members[i])
	}

	newcomer := reg.Register()
	res := joinChat(t, mgr, "alpha", "newbie", newcomer)
	require.NotEqual(t, newcomer, res.BootstrapTarget)
	require.Contains(t, members, res.BootstrapTarget)
}

func TestChat_BootstrapSelectionIsUniform(t *testing.T) {
	const members = 4
	const trials = 4000

	counts := make(map[string]int)
	for trial := 0; trial < trials; trial++ {
		mgr, reg, _ := newTestManager(t, nil)
		ids := make([]string, members)
		for i := range ids {
			ids[i] = reg.Register()
			joinChat(t, mgr, "alpha", fmt.Sprintf("member-%d", i), ids[i])
		}
		newcomer := reg.Register()
		res := joinChat(t, mgr, "alpha", "newbie", newcomer)
		for i, id := range ids {
			if id == res.BootstrapTarget {
				counts[fmt.Sprintf("slot-%d", i)]++
			}
		}
	}

	expected := trials / members
	for slot, n := range counts {
		require.InDelta(t, expected, n, float64(expected)/2,
			"selection badly skewed for %s", slot)
	}
	require.Len(t, counts, members, "every member must be selectable")
}

func TestChat_LeaveBroadcastsRosterAndDestroysEmptyRoom(t *testing.T) {
	mgr, reg, _ := newTestManager(t, stubPicker{})
	a, b := reg.Register(), reg.Register()

	joinChat(t, mgr, "alpha", "alice", a)
	joinChat(t, mgr, "alpha", "bob", b)

	dep, ok := mgr.Leave(a)
	require.True(t, ok)
	require.Equal(t, registry.KindChat, dep.Kind)
	require.Equal(t, "alice", dep.Nickname)
	require.Equal(t, []string{"bob"}, dep.Roster)
	require.Equal(t, []string{b}, dep.Remaining)
	require.False(t, dep.Destroyed)

	// Leaving resets metadata but keeps the connection registered.
	md, ok := reg.Get(a)
	require.True(t, ok)
	require.Equal(t, registry.KindNone, md.Kind)

	dep, ok = mgr.Leave(b)
	require.True(t, ok)
	require.True(t, dep.Destroyed)
	require.Nil(t, dep.Roster)

	// Fresh join to the same name starts a fresh room with a fresh key host.
	c := reg.Register()
	res := joinChat(t, mgr, "alpha", "carol", c)
	require.True(t, res.Host)
}

func TestJoin_AdmittedJoinReleasesPreviousRoom(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	a, b := reg.Register(), reg.Register()

	joinChat(t, mgr, "alpha", "alice", a)
	joinChat(t, mgr, "alpha", "bob", b)

	left, err := mgr.JoinPairwise("r1", b)
	require.NoError(t, err)
	require.NotNil(t, left, "moving rooms must release the old membership")
	require.Equal(t, registry.KindChat, left.Kind)
	require.Equal(t, "alpha", left.Room)
	require.Equal(t, "bob", left.Nickname)
	require.Equal(t, []string{"alice"}, left.Roster)
	require.Equal(t, []string{"alice"}, mgr.ChatRoster("alpha"))
}

func TestJoin_RejectedPairwiseJoinKeepsPreviousRoom(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	a, b, x, y := reg.Register(), reg.Register(), reg.Register(), reg.Register()

	joinPairwise(t, mgr, "r1", x)
	joinPairwise(t, mgr, "r1", y)
	joinChat(t, mgr, "alpha", "alice", a)
	joinChat(t, mgr, "alpha", "bob", b)

	left, err := mgr.JoinPairwise("r1", a)
	require.ErrorIs(t, err, ErrRoomFull)
	require.Nil(t, left)

	// The rejection must not touch alice's chat membership.
	require.Equal(t, []string{"alice", "bob"}, mgr.ChatRoster("alpha"))
	md, ok := reg.Get(a)
	require.True(t, ok)
	require.Equal(t, registry.KindChat, md.Kind)
	require.Equal(t, "alpha", md.Room)
}

func TestJoin_RejectedChatJoinKeepsPreviousRoom(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	a, b, c := reg.Register(), reg.Register(), reg.Register()

	joinPairwise(t, mgr, "r1", a)
	joinPairwise(t, mgr, "r1", b)
	joinChat(t, mgr, "alpha", "carol", c)

	_, left, err := mgr.JoinChat("alpha", "carol", a)
	require.ErrorIs(t, err, ErrNicknameTaken)
	require.Nil(t, left)

	// The collision must not touch a's pairwise membership.
	require.Equal(t, []string{b}, mgr.PairwisePeers("r1", a))
	md, ok := reg.Get(a)
	require.True(t, ok)
	require.Equal(t, registry.KindPairwise, md.Kind)
	require.Equal(t, "r1", md.Room)
}

func TestLeave_NotInAnyRoom(t *testing.T) {
	mgr, reg, _ := newTestManager(t, nil)
	id := reg.Register()

	_, ok := mgr.Leave(id)
	require.False(t, ok)
	_, ok = mgr.Disconnect("nonexistent")
	require.False(t, ok)
}
