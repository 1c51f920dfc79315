// Package scenario holds the event catalog and its static scene templates:
// the content shown when variation is disabled and the fallback of last
// resort when generation and cache both come up empty. Templates load from a
// directory when present, otherwise from copies embedded in the binary.
package scenario

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"kamishibai/internal/logging"
)

//go:embed templates/*.json
var embeddedTemplates embed.FS

// Scene is one static story scene.
type Scene struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Choices     []string `json:"choices"`
	GuideHint   string   `json:"guide_hint"`
}

// Event is one everyday situation with its scenes and guide topics.
type Event struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Icon        string   `json:"icon"`
	GuideTopics []string `json:"guide_topics"`
	Scenes      []Scene  `json:"scenes"`
}

// eventOrder fixes the display order of the catalog.
var eventOrder = []string{"toilet", "barber", "hospital", "park", "morning_routine"}

// Registry is the loaded event catalog. Reloads swap the whole map
// atomically under the lock; readers never see a partial catalog.
type Registry struct {
	mu     sync.RWMutex
	events map[string]*Event
	dir    string
}

// NewRegistry loads the catalog. Files in dir override embedded templates;
// an empty or missing dir means embedded-only.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads all templates and swaps the catalog.
func (r *Registry) Reload() error {
	events, err := loadAll(r.dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.events = events
	r.mu.Unlock()

	logging.Scenario("template registry loaded: %d events", len(events))
	return nil
}

func loadAll(dir string) (map[string]*Event, error) {
	events := make(map[string]*Event)

	entries, err := embeddedTemplates.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded templates: %w", err)
	}
	for _, entry := range entries {
		data, err := embeddedTemplates.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", entry.Name(), err)
		}
		event, err := parseEvent(data)
		if err != nil {
			return nil, fmt.Errorf("embedded template %s: %w", entry.Name(), err)
		}
		events[event.ID] = event
	}

	if dir != "" {
		diskEntries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read templates dir: %w", err)
			}
			// Missing dir: embedded copies only.
			return events, nil
		}
		for _, entry := range diskEntries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				logging.Get(logging.CategoryScenario).Warn("skipping unreadable template %s: %v", entry.Name(), err)
				continue
			}
			event, err := parseEvent(data)
			if err != nil {
				logging.Get(logging.CategoryScenario).Warn("skipping invalid template %s: %v", entry.Name(), err)
				continue
			}
			events[event.ID] = event
			logging.ScenarioDebug("loaded template override %s from disk", event.ID)
		}
	}

	return events, nil
}

func parseEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("invalid template JSON: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("template missing event id")
	}
	if len(event.Scenes) == 0 {
		return nil, fmt.Errorf("template %s has no scenes", event.ID)
	}
	return &event, nil
}

// Event returns the catalog entry for id.
func (r *Registry) Event(id string) (*Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	return event, ok
}

// Events returns the catalog in display order.
func (r *Registry) Events() []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Event, 0, len(r.events))
	for _, id := range eventOrder {
		if event, ok := r.events[id]; ok {
			out = append(out, event)
		}
	}
	// Disk-only events not in the fixed order go last.
	for id, event := range r.events {
		known := false
		for _, ordered := range eventOrder {
			if id == ordered {
				known = true
				break
			}
		}
		if !known {
			out = append(out, event)
		}
	}
	return out
}

// ParseInstanceKey splits "event/index" into its parts.
func ParseInstanceKey(instanceKey string) (eventID string, sceneIdx int, err error) {
	parts := strings.SplitN(instanceKey, "/", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("instance key %q is not event/index", instanceKey)
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(parts[1], "scene"))
	if err != nil {
		return "", 0, fmt.Errorf("instance key %q has a non-numeric index", instanceKey)
	}
	return parts[0], idx, nil
}

// StaticScene renders the static template body for an instance key,
// e.g. "toilet/0" or "toilet/scene0". Empty when the slot has no template.
func (r *Registry) StaticScene(instanceKey string) string {
	eventID, idx, err := ParseInstanceKey(instanceKey)
	if err != nil {
		return ""
	}

	event, ok := r.Event(eventID)
	if !ok || idx < 0 || idx >= len(event.Scenes) {
		return ""
	}
	scene := event.Scenes[idx]

	var sb strings.Builder
	sb.WriteString(scene.Title)
	sb.WriteString("\n\n")
	sb.WriteString(scene.Description)
	if len(scene.Choices) > 0 {
		sb.WriteString("\n")
		for _, choice := range scene.Choices {
			sb.WriteString("\n- ")
			sb.WriteString(choice)
		}
	}
	return sb.String()
}

// StaticGuide renders the static guide body for an event: its guide topics
// plus each scene's hint. Empty when the event is unknown.
func (r *Registry) StaticGuide(eventID string) string {
	event, ok := r.Event(eventID)
	if !ok {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(event.Name)
	sb.WriteString("のガイド\n")
	for _, topic := range event.GuideTopics {
		sb.WriteString("\n## ")
		sb.WriteString(topic)
	}
	if len(event.Scenes) > 0 {
		sb.WriteString("\n\nヒント:\n")
		for _, scene := range event.Scenes {
			if scene.GuideHint == "" {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(scene.GuideHint)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ScenePrompt builds the generation prompt for one scene variation: the
// static template is the base material the generator varies from.
func (r *Registry) ScenePrompt(instanceKey string) (string, error) {
	eventID, idx, err := ParseInstanceKey(instanceKey)
	if err != nil {
		return "", err
	}
	event, ok := r.Event(eventID)
	if !ok {
		return "", fmt.Errorf("unknown event %q", eventID)
	}
	if idx < 0 || idx >= len(event.Scenes) {
		return "", fmt.Errorf("event %q has no scene %d", eventID, idx)
	}
	scene := event.Scenes[idx]

	var sb strings.Builder
	fmt.Fprintf(&sb, "Situation: %s (%s), scene %d of %d.\n\n", event.Name, event.ID, idx+1, len(event.Scenes))
	sb.WriteString("Base scene to vary:\n")
	sb.WriteString("Title: " + scene.Title + "\n")
	sb.WriteString("Description: " + scene.Description + "\n")
	for _, choice := range scene.Choices {
		sb.WriteString("Choice: " + choice + "\n")
	}
	sb.WriteString("\nWrite a fresh variation of this scene in the same language and reading level. ")
	sb.WriteString("Keep the same situation and teaching goal, change the concrete details. ")
	sb.WriteString("Output the scene text only: title, one short paragraph, then the choices as a list.")
	return sb.String(), nil
}

// GuidePrompt builds the generation prompt for an event's situational guide.
func (r *Registry) GuidePrompt(eventID string) (string, error) {
	event, ok := r.Event(eventID)
	if !ok {
		return "", fmt.Errorf("unknown event %q", eventID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a situational guide for parents preparing a young child for: %s (%s).\n", event.Name, event.ID)
	if len(event.GuideTopics) > 0 {
		sb.WriteString("Cover these topics:\n")
		for _, topic := range event.GuideTopics {
			sb.WriteString("- " + topic + "\n")
		}
	}
	sb.WriteString("Write in the same language as the topics above.")
	return sb.String(), nil
}
