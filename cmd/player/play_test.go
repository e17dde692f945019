package main

import (
	"errors"
	"testing"
)

func TestPlayTally_StopsWhenEveryResourceFails(t *testing.T) {
	tally := &playTally{total: 3}

	for i := 1; i < 3; i++ {
		stop, err := tally.failed()
		if stop || err != nil {
			t.Fatalf("failure %d: stop=%v err=%v", i, stop, err)
		}
	}
	stop, err := tally.failed()
	if !stop || !errors.Is(err, errAllFailed) {
		t.Fatalf("third failure: stop=%v err=%v, want errAllFailed", stop, err)
	}
}

func TestPlayTally_PlaybackResetsFailures(t *testing.T) {
	tests := []struct {
		name  string
		reset func(*playTally)
	}{
		{"playing", func(p *playTally) { p.playing() }},
		{"ended", func(p *playTally) { p.ended() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally := &playTally{total: 2}
			// fail, recover, fail, recover: never two failures in a row
			for i := 0; i < 10; i++ {
				if stop, err := tally.failed(); stop || err != nil {
					t.Fatalf("round %d: stop=%v err=%v", i, stop, err)
				}
				tt.reset(tally)
			}
		})
	}
}

func TestPlayTally_Once(t *testing.T) {
	tally := &playTally{total: 3, once: true}

	if tally.ended() {
		t.Fatal("stopped after first resource")
	}
	if stop, err := tally.failed(); stop || err != nil {
		t.Fatalf("stop=%v err=%v after one failure", stop, err)
	}
	if !tally.ended() {
		t.Error("did not stop after every resource was visited")
	}
}
