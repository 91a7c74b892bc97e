// Package broadcast propagates logout across processes sharing a session
// store. One process writes a marker file into the store directory; every
// other process watching that directory observes it and clears its own
// in-memory session. This mirrors the browser pattern of listening for
// storage events from other tabs.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const markerFileName = "logout.signal"

// Event is a logout observed from the shared store directory.
type Event struct {
	Instance string    `json:"instance"`
	At       time.Time `json:"at"`
}

// Notifier publishes and observes logout markers for one store directory.
// Each Notifier has a unique instance ID so it never reacts to its own
// marker.
type Notifier struct {
	dir      string
	instance string
}

func New(dir string) *Notifier {
	return &Notifier{dir: dir, instance: uuid.NewString()}
}

// InstanceID returns this notifier's identity.
func (n *Notifier) InstanceID() string {
	return n.instance
}

// Publish writes the logout marker for other processes to observe.
func (n *Notifier) Publish() error {
	marker, err := json.Marshal(Event{Instance: n.instance, At: time.Now()})
	if err != nil {
		return fmt.Errorf("encode logout marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(n.dir, markerFileName), marker, 0o600); err != nil {
		return fmt.Errorf("write logout marker: %w", err)
	}
	return nil
}

// Watch delivers logout events written by other instances until ctx is
// cancelled. The returned channel is closed on cancellation or watcher
// failure.
func (n *Notifier) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(n.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", n.dir, err)
	}

	events := make(chan Event, 1)
	go func() {
		defer close(events)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fsEvent, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(fsEvent.Name) != markerFileName {
					continue
				}
				if !fsEvent.Has(fsnotify.Write) && !fsEvent.Has(fsnotify.Create) {
					continue
				}
				event, err := n.readMarker()
				if err != nil {
					log.Warn().Err(err).Msg("unreadable logout marker")
					continue
				}
				if event.Instance == n.instance {
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("logout watcher error")
			}
		}
	}()
	return events, nil
}

func (n *Notifier) readMarker() (Event, error) {
	raw, err := os.ReadFile(filepath.Join(n.dir, markerFileName))
	if err != nil {
		return Event{}, err
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
