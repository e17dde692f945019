package audio

import (
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Output is the sink engines render into
type Output interface {
	Init(rate beep.SampleRate) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

// speakerOutput drives the system speaker. The speaker is process-global,
// so it is re-initialized only when the sample rate changes.
type speakerOutput struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

var defaultOutput = &speakerOutput{}

// Speaker returns the system speaker output
func Speaker() Output {
	return defaultOutput
}

func (o *speakerOutput) Init(rate beep.SampleRate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rate == rate {
		return nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return err
	}
	o.rate = rate
	return nil
}

func (o *speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (o *speakerOutput) Lock()                { speaker.Lock() }
func (o *speakerOutput) Unlock()              { speaker.Unlock() }
