package playback

import "sync"

// Stage tracks the active players of one transcript. Whether several clips
// may speak at once is a policy, not an invariant: the default allows it,
// exclusive mode pauses every other player when one starts.
type Stage struct {
	mu        sync.Mutex
	exclusive bool
	players   map[*Player]struct{}
}

// NewStage creates a stage. exclusive=true enforces one speaking clip at a
// time.
func NewStage(exclusive bool) *Stage {
	return &Stage{
		exclusive: exclusive,
		players:   make(map[*Player]struct{}),
	}
}

// Exclusive reports the configured policy.
func (st *Stage) Exclusive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exclusive
}

// ActiveCount returns how many registered players are currently playing.
func (st *Stage) ActiveCount() int {
	st.mu.Lock()
	players := make([]*Player, 0, len(st.players))
	for p := range st.players {
		players = append(players, p)
	}
	st.mu.Unlock()

	count := 0
	for _, p := range players {
		if p.IsPlaying() {
			count++
		}
	}
	return count
}

func (st *Stage) register(p *Player) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.players[p] = struct{}{}
}

func (st *Stage) unregister(p *Player) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.players, p)
}

// playerStarted applies the exclusivity policy after p entered the playing
// state.
func (st *Stage) playerStarted(p *Player) {
	st.mu.Lock()
	if !st.exclusive {
		st.mu.Unlock()
		return
	}
	others := make([]*Player, 0, len(st.players))
	for other := range st.players {
		if other != p {
			others = append(others, other)
		}
	}
	st.mu.Unlock()

	for _, other := range others {
		if other.IsPlaying() {
			_ = other.Pause()
		}
	}
}
