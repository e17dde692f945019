package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/audio"
	"github.com/jscyril/music_stream_engine/internal/fetch"
	"github.com/jscyril/music_stream_engine/internal/playlist"
	"github.com/jscyril/music_stream_engine/internal/session"
	"github.com/jscyril/music_stream_engine/internal/transport"
)

type playOptions struct {
	playlistFile string
	mode         string
	start        int
	downloads    bool
	once         bool
}

func newPlayCmd(open func() (*app, error)) *cobra.Command {
	var opts playOptions

	cmd := &cobra.Command{
		Use:   "play [url...]",
		Short: "Play a playlist of network, cached or downloaded resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, a, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.playlistFile, "playlist", "p", "", "JSON playlist file")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "load mode: order, shuffle or repeat-one")
	cmd.Flags().IntVar(&opts.start, "start", 0, "index of the first resource")
	cmd.Flags().BoolVar(&opts.downloads, "downloads", false, "append every downloaded resource")
	cmd.Flags().BoolVar(&opts.once, "once", false, "exit after each resource has ended once")
	return cmd
}

func buildResources(ctx context.Context, a *app, urls []string, opts playOptions) ([]api.ResourceDescriptor, error) {
	var resources []api.ResourceDescriptor
	if opts.playlistFile != "" {
		loaded, err := playlist.LoadFile(opts.playlistFile)
		if err != nil {
			return nil, fmt.Errorf("load playlist: %w", err)
		}
		resources = append(resources, loaded...)
	}
	resources = append(resources, playlist.FromURLs(urls)...)

	scan := <-a.store.ScanAsync(ctx)
	if scan.Err != nil {
		return nil, fmt.Errorf("scan store: %w", scan.Err)
	}
	if opts.downloads {
		for _, d := range scan.Download {
			resources = append(resources, d)
		}
	}

	if len(resources) == 0 {
		return nil, errors.New("nothing to play: pass urls, --playlist or --downloads")
	}
	return resources, nil
}

func runPlay(ctx context.Context, a *app, urls []string, opts playOptions) error {
	modeName := opts.mode
	if modeName == "" {
		modeName = a.cfg.DefaultMode
	}
	mode, ok := api.ParseLoadMode(modeName)
	if !ok {
		return fmt.Errorf("unknown load mode %q", modeName)
	}

	resources, err := buildResources(ctx, a, urls, opts)
	if err != nil {
		return err
	}

	pl := playlist.New()
	if err := pl.Reset(resources, opts.start, &mode); err != nil {
		return err
	}

	tr := transport.NewHTTP(transport.Config{
		ConnectTimeout:  time.Duration(a.cfg.HTTP.ConnectTimeoutMs) * time.Millisecond,
		MetadataTimeout: time.Duration(a.cfg.HTTP.MetadataTimeoutMs) * time.Millisecond,
		ChunkSize:       a.cfg.HTTP.ChunkSize,
		Headers:         a.cfg.HTTP.Headers,
	}, a.logger)

	coord := fetch.NewCoordinator(pl, a.store, tr,
		fetch.WithLogger(a.logger),
		fetch.WithLyricURL(a.cfg.LyricURLFor))

	sess := session.New(pl, coord,
		audio.Factory(audio.WithLogger(a.logger), audio.WithVolume(a.cfg.DefaultVolume)),
		session.WithLogger(a.logger),
		session.WithPollInterval(a.cfg.PollInterval()),
		session.WithResumeAfterSeek(a.cfg.ResumeAfterSeek))
	defer sess.Close()

	events := sess.SubscribeAll()

	first, err := pl.Current()
	if err != nil {
		return err
	}
	if err := sess.Play(first); err != nil {
		return err
	}

	tally := &playTally{total: pl.Len(), once: opts.once}
	advance := func(stop bool, err error) (bool, error) {
		if stop || err != nil {
			return true, err
		}
		return false, sess.Next()
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			var done bool
			switch ev.Type {
			case api.EventStateChange:
				st := ev.Payload.(api.PlaybackState)
				printState(st)
				// Resource errors are terminal for that resource only
				switch st.Status {
				case api.StatusError:
					done, err = advance(tally.failed())
				case api.StatusPlaying:
					tally.playing()
				}

			case api.EventError:
				a.logger.Warn("playback error", zap.Error(ev.Payload.(error)))
				fmt.Fprintf(os.Stderr, "error: %v\n", ev.Payload)

			case api.EventTrackEnded:
				done, err = advance(tally.ended(), nil)
			}
			if done || err != nil {
				return err
			}
		}
	}
}

var errAllFailed = errors.New("every resource in the playlist failed")

// playTally decides when the play loop stops advancing
type playTally struct {
	total    int
	once     bool
	finished int
	// failures counts errors since a resource last played
	failures int
}

func (t *playTally) ended() bool {
	t.failures = 0
	t.finished++
	return t.once && t.finished >= t.total
}

func (t *playTally) failed() (bool, error) {
	t.failures++
	t.finished++
	if t.failures >= t.total {
		return true, fmt.Errorf("%w (%d in a row)", errAllFailed, t.failures)
	}
	return t.once && t.finished >= t.total, nil
}

func (t *playTally) playing() { t.failures = 0 }

func printState(st api.PlaybackState) {
	name := "-"
	if st.Resource != nil {
		name = st.Resource.DisplayName
		if name == "" {
			name = st.Resource.ID
		}
	}
	fmt.Printf("[%s] %s", st.Status, name)
	if st.Duration > 0 {
		fmt.Printf(" (%s / %s)", st.Position.Truncate(time.Second), st.Duration.Truncate(time.Second))
	}
	fmt.Println()
}
