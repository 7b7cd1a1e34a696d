// Package repo provides a file-backed record store: events, plugins,
// categories, notification channels, web hooks and servers, loaded from a
// single YAML or JSON document. It serves immutable snapshots to the
// scheduler and action layers and rewrites the file when a destruct
// trigger deletes an event.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	"github.com/purpose168/xyops/internal/core"
	logx "github.com/purpose168/xyops/pkg/logx"
)

// document is the on-disk shape of the record file.
type document struct {
	Events     []*core.Event               `json:"events" yaml:"events"`
	Plugins    []*core.Plugin              `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	Categories []*core.Category            `json:"categories,omitempty" yaml:"categories,omitempty"`
	Channels   []*core.NotificationChannel `json:"channels,omitempty" yaml:"channels,omitempty"`
	WebHooks   []*core.WebHookDefinition   `json:"web_hooks,omitempty" yaml:"web_hooks,omitempty"`
	Servers    []*core.Server              `json:"servers,omitempty" yaml:"servers,omitempty"`
}

type FileRepo struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	snap *snapshot
}

func NewFileRepo(path string, log logx.Logger) *FileRepo {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileRepo{path: path, log: log}
}

// Load (re)reads the record file and swaps in a fresh snapshot. Earlier
// snapshots already handed out remain valid and unchanged.
func (r *FileRepo) Load() error {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	doc, err := decode(r.path, b)
	if err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}

	snap := newSnapshot(doc)
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	r.log.Debug("record file loaded",
		logx.String("path", r.path), logx.Int("events", len(doc.Events)))
	return nil
}

// Snapshot returns the current immutable view. Returns an empty snapshot
// when nothing was ever loaded.
func (r *FileRepo) Snapshot() core.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap == nil {
		return newSnapshot(&document{})
	}
	return r.snap
}

// DeleteEvent removes the event from the in-memory view and rewrites the
// record file without it. The rewrite goes through a temp file + rename so
// a crash never leaves a truncated record file behind.
func (r *FileRepo) DeleteEvent(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return fmt.Errorf("event not found: %s", id)
	}

	doc := r.snap.doc
	found := -1
	for i, ev := range doc.Events {
		if ev.ID == id {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	next := *doc
	next.Events = make([]*core.Event, 0, len(doc.Events)-1)
	next.Events = append(next.Events, doc.Events[:found]...)
	next.Events = append(next.Events, doc.Events[found+1:]...)

	if err := r.write(&next); err != nil {
		return err
	}
	r.snap = newSnapshot(&next)
	return nil
}

func (r *FileRepo) write(doc *document) error {
	var (
		b   []byte
		err error
	)
	if isYAML(r.path) {
		b, err = yaml.Marshal(doc)
	} else {
		b, err = json.MarshalIndent(doc, "", "\t")
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".xyops-data-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, r.path)
}

func decode(path string, b []byte) (*document, error) {
	var doc document
	if isYAML(path) {
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
		return &doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// snapshot indexes one document by id. It is never mutated after
// construction.
type snapshot struct {
	doc        *document
	events     map[string]*core.Event
	plugins    map[string]*core.Plugin
	categories map[string]*core.Category
	channels   map[string]*core.NotificationChannel
	webHooks   map[string]*core.WebHookDefinition
	servers    map[string]*core.Server
}

func newSnapshot(doc *document) *snapshot {
	s := &snapshot{
		doc:        doc,
		events:     make(map[string]*core.Event, len(doc.Events)),
		plugins:    make(map[string]*core.Plugin, len(doc.Plugins)),
		categories: make(map[string]*core.Category, len(doc.Categories)),
		channels:   make(map[string]*core.NotificationChannel, len(doc.Channels)),
		webHooks:   make(map[string]*core.WebHookDefinition, len(doc.WebHooks)),
		servers:    make(map[string]*core.Server, len(doc.Servers)),
	}
	for _, ev := range doc.Events {
		s.events[ev.ID] = ev
	}
	for _, p := range doc.Plugins {
		s.plugins[p.ID] = p
	}
	for _, c := range doc.Categories {
		s.categories[c.ID] = c
	}
	for _, ch := range doc.Channels {
		s.channels[ch.ID] = ch
	}
	for _, w := range doc.WebHooks {
		s.webHooks[w.ID] = w
	}
	for _, srv := range doc.Servers {
		s.servers[srv.ID] = srv
	}
	return s
}

func (s *snapshot) Events() []*core.Event                       { return s.doc.Events }
func (s *snapshot) Event(id string) *core.Event                 { return s.events[id] }
func (s *snapshot) Plugin(id string) *core.Plugin               { return s.plugins[id] }
func (s *snapshot) Category(id string) *core.Category           { return s.categories[id] }
func (s *snapshot) Channel(id string) *core.NotificationChannel { return s.channels[id] }
func (s *snapshot) WebHook(id string) *core.WebHookDefinition   { return s.webHooks[id] }
func (s *snapshot) Server(id string) *core.Server               { return s.servers[id] }
