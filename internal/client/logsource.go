package client

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"gamechat/internal/log"
)

const (
	playerLogMarker = "_Player"
	initialTail     = 256 * 1024
	maxTail         = 8 * 1024 * 1024
)

var (
	joinRe  = regexp.MustCompile(`Joining game '([a-f0-9-]+)'`)
	leaveRe = regexp.MustCompile(`Disconnect from game|leaveGameInternal|leaveUGCGameInternal`)
)

// LogSource derives the current channel from the game client's log files:
// the job id of the last game joined, or DefaultChannel once that game was
// left or when no log is available.
type LogSource struct {
	dir    string
	logger zerolog.Logger
}

func NewLogSource(dir string) *LogSource {
	return &LogSource{
		dir:    dir,
		logger: log.L().With().Str(log.FieldService, "log-source").Logger(),
	}
}

func (l *LogSource) CurrentChannel(ctx context.Context) (string, error) {
	if l.dir == "" {
		return DefaultChannel, nil
	}

	path, err := latestPlayerLog(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultChannel, nil
		}
		return DefaultChannel, err
	}
	return channelFromLog(path)
}

// latestPlayerLog returns the most recently modified player log in dir.
func latestPlayerLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var (
		latest  string
		latestT time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), playerLogMarker) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestT) {
			latest = filepath.Join(dir, e.Name())
			latestT = info.ModTime()
		}
	}
	if latest == "" {
		return "", fs.ErrNotExist
	}
	return latest, nil
}

// channelFromLog scans the tail of the file, widening the window until a
// join or leave line is found or the whole file has been read.
func channelFromLog(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultChannel, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return DefaultChannel, err
	}
	size := info.Size()

	for window := int64(initialTail); ; window *= 2 {
		if window > maxTail || window >= size {
			window = size
		}

		buf := make([]byte, window)
		if _, err := f.ReadAt(buf, size-window); err != nil && !errors.Is(err, io.EOF) {
			return DefaultChannel, err
		}

		if channel, found := lastEvent(buf); found {
			return channel, nil
		}
		if window == size {
			return DefaultChannel, nil
		}
	}
}

// lastEvent reports the channel implied by the latest join or leave line in
// data. found is false when data holds neither.
func lastEvent(data []byte) (channel string, found bool) {
	joinIdx, joinID := -1, ""
	for _, m := range joinRe.FindAllSubmatchIndex(data, -1) {
		joinIdx = m[0]
		joinID = string(data[m[2]:m[3]])
	}

	leaveIdx := -1
	if locs := leaveRe.FindAllIndex(data, -1); len(locs) > 0 {
		leaveIdx = locs[len(locs)-1][0]
	}

	switch {
	case leaveIdx > joinIdx:
		return DefaultChannel, true
	case joinIdx >= 0:
		return joinID, true
	default:
		return "", false
	}
}

// Watch calls onChange whenever a player log in the directory is written or
// created, until ctx is done. Bursts of writes are coalesced.
func (l *LogSource) Watch(ctx context.Context, onChange func()) error {
	if l.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return err
	}

	notify := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				onChange()
			}
		}
	}()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.Contains(filepath.Base(event.Name), playerLogMarker) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					select {
					case notify <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn().Err(err).Msg("log watcher error")
			}
		}
	}()

	return nil
}
