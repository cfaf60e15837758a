package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/guestgate/access-server-go/internal/util"
)

const policyDebounce = 500 * time.Millisecond

// CodePolicy is the on-disk shape of the code policy file. Entries extend
// the static blacklist from the environment; they never replace it.
type CodePolicy struct {
	Blacklist []string `yaml:"blacklist"`
}

// LoadCodePolicy reads and strictly parses a policy file. Unknown fields
// are rejected so a typoed key cannot silently disable a ban.
func LoadCodePolicy(path string) (CodePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CodePolicy{}, fmt.Errorf("read policy file: %w", err)
	}

	var policy CodePolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil {
		if err == io.EOF {
			return CodePolicy{}, nil
		}
		return CodePolicy{}, fmt.Errorf("parse policy file: %w", err)
	}

	for _, entry := range policy.Blacklist {
		if !util.IsDigits(entry) {
			return CodePolicy{}, fmt.Errorf("policy blacklist entry %q is not numeric", entry)
		}
	}
	return policy, nil
}

// PolicyWatcher keeps a generator's blacklist in sync with a policy file.
// The environment blacklist is the floor; the file adds to it. A bad file
// edit keeps the last good list in place.
type PolicyWatcher struct {
	gen     *CodeGenerator
	path    string
	base    []string
	watcher *fsnotify.Watcher
}

func NewPolicyWatcher(gen *CodeGenerator, path string, base []string) *PolicyWatcher {
	return &PolicyWatcher{gen: gen, path: path, base: base}
}

// Start applies the policy file once and begins watching it for changes.
// An unreadable file at startup is an error; later edits that fail to
// parse only log. With an empty path the watcher is a no-op.
func (p *PolicyWatcher) Start(ctx context.Context) error {
	if p.path == "" {
		log.Debug().Msg("code policy file not configured, using static blacklist")
		return nil
	}

	if err := p.apply(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch policy file: %w", err)
	}
	p.watcher = watcher

	log.Info().Str("path", p.path).Msg("watching code policy file")
	go p.watchLoop(ctx)
	return nil
}

func (p *PolicyWatcher) watchLoop(ctx context.Context) {
	// Editors fire several events per save; reload once things settle.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = p.watcher.Close()
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(policyDebounce, func() {
				if err := p.apply(); err != nil {
					log.Error().Err(err).Str("path", p.path).
						Msg("policy reload failed, keeping previous blacklist")
				}
			})

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("policy watcher error")
		}
	}
}

func (p *PolicyWatcher) apply() error {
	policy, err := LoadCodePolicy(p.path)
	if err != nil {
		return err
	}

	merged := make([]string, 0, len(p.base)+len(policy.Blacklist))
	merged = append(merged, p.base...)
	merged = append(merged, policy.Blacklist...)
	p.gen.SetBlacklist(merged)

	log.Info().
		Int("fileEntries", len(policy.Blacklist)).
		Int("total", len(merged)).
		Msg("code policy applied")
	return nil
}

// Close stops the underlying file watcher. The watch loop exits on the
// closed event channel.
func (p *PolicyWatcher) Close() {
	if p.watcher != nil {
		_ = p.watcher.Close()
	}
}
