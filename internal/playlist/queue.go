package playlist

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/jscyril/music_stream_engine/api"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// Playlist holds the resources queued for playback, the current position
// and the shuffle order used for randomized traversal.
type Playlist struct {
	resources []api.ResourceDescriptor
	index     int
	mode      api.LoadMode

	// order is a permutation of resource indexes; shufflePos[i] is the
	// position of resource i within order.
	order      []int
	shufflePos []int

	rng *rand.Rand
	mu  sync.RWMutex
}

// Option configures a Playlist
type Option func(*Playlist)

// WithRand sets the random source used to build shuffle orders
func WithRand(r *rand.Rand) Option {
	return func(p *Playlist) { p.rng = r }
}

// New creates an empty playlist in sequential mode
func New(opts ...Option) *Playlist {
	p := &Playlist{
		mode: api.LoadOrder,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// Reset replaces the playlist with resources and makes startIndex current.
// A nil mode keeps the current load mode. On error the playlist is left
// unchanged.
func (p *Playlist) Reset(resources []api.ResourceDescriptor, startIndex int, mode *api.LoadMode) error {
	if len(resources) == 0 || startIndex < 0 || startIndex >= len(resources) {
		return fmt.Errorf("%w: start index %d for %d resources", playerrors.ErrInvalidIndex, startIndex, len(resources))
	}
	if mode != nil && (*mode < api.LoadOrder || *mode > api.LoadRepeatOne) {
		return fmt.Errorf("%w: load mode %d", playerrors.ErrInvalidIndex, *mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.resources = make([]api.ResourceDescriptor, len(resources))
	copy(p.resources, resources)
	p.index = startIndex
	if mode != nil {
		p.mode = *mode
	}
	p.shuffle()
	return nil
}

// shuffle builds a fresh Fisher-Yates permutation of the resource indexes
func (p *Playlist) shuffle() {
	n := len(p.resources)
	p.order = make([]int, n)
	for i := range p.order {
		p.order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := p.rng.IntN(i + 1)
		p.order[i], p.order[j] = p.order[j], p.order[i]
	}

	p.shufflePos = make([]int, n)
	for pos, idx := range p.order {
		p.shufflePos[idx] = pos
	}
}

// Current returns the id of the current resource
func (p *Playlist) Current() (api.ResourceIdentifier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.resources) == 0 {
		return "", playerrors.ErrEmptyQueue
	}
	return p.resources[p.index].ID, nil
}

// Next moves to the next resource and returns its id
func (p *Playlist) Next() (api.ResourceIdentifier, error) {
	return p.step(1)
}

// Previous moves to the previous resource and returns its id
func (p *Playlist) Previous() (api.ResourceIdentifier, error) {
	return p.step(-1)
}

func (p *Playlist) step(delta int) (api.ResourceIdentifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.resources)
	if n == 0 {
		return "", playerrors.ErrEmptyQueue
	}

	switch p.mode {
	case api.LoadRepeatOne:
		// Stay on current resource
	case api.LoadShuffle:
		pos := (p.shufflePos[p.index] + delta + n) % n
		p.index = p.order[pos]
	default:
		p.index = (p.index + delta + n) % n
	}

	return p.resources[p.index].ID, nil
}

// JumpTo makes the resource at index current
func (p *Playlist) JumpTo(index int) (api.ResourceIdentifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.resources) {
		return "", fmt.Errorf("%w: %d", playerrors.ErrInvalidIndex, index)
	}
	p.index = index
	return p.resources[p.index].ID, nil
}

// Select makes the first resource with id current
func (p *Playlist) Select(id api.ResourceIdentifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index < len(p.resources) && p.resources[p.index].ID == id {
		return nil
	}
	for i, r := range p.resources {
		if r.ID == id {
			p.index = i
			return nil
		}
	}
	return fmt.Errorf("%w: %s", playerrors.ErrNoSuchResource, id)
}

// SetLoadMode changes the traversal policy. The current resource stays
// current and the shuffle order is kept.
func (p *Playlist) SetLoadMode(mode api.LoadMode) error {
	if mode < api.LoadOrder || mode > api.LoadRepeatOne {
		return fmt.Errorf("%w: load mode %d", playerrors.ErrInvalidIndex, mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	return nil
}

// LoadMode returns the current traversal policy
func (p *Playlist) LoadMode() api.LoadMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// Len returns the number of resources in the playlist
func (p *Playlist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.resources)
}

// Index returns the current index
func (p *Playlist) Index() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index
}

// ShuffleOrder returns a copy of the current shuffle permutation
func (p *Playlist) ShuffleOrder() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]int, len(p.order))
	copy(result, p.order)
	return result
}
