package service

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/metrics"
	"github.com/guestgate/access-server-go/internal/util"
)

const (
	defaultCodeLength  = 4
	defaultMaxAttempts = 100
	defaultHistoryCap  = 1000
	defaultRetention   = 24 * time.Hour

	// Rounds of re-hashing the deterministic fallback tries before giving
	// up on dodging the blacklist.
	fallbackRehashRounds = 8
)

type GeneratorOptions struct {
	Length      int
	Blacklist   []string
	MaxAttempts int
	HistoryCap  int
	Retention   time.Duration
}

type issuedCode struct {
	code     string
	issuedAt time.Time
}

// CodeGenerator issues fixed-length digit codes that are unique among
// currently-tracked codes, never blacklisted, and never a constant-step
// digit run. Generation cannot fail: when random draws exhaust MaxAttempts,
// a deterministic hash of the reservation id and current time is used.
type CodeGenerator struct {
	mu            sync.Mutex
	clk           clock.Clock
	length        int
	maxAttempts   int
	historyCap    int
	retention     time.Duration
	blacklist     map[string]struct{}
	recent        map[string]struct{}
	order         []string // insertion order of recent, oldest first
	byReservation map[string]issuedCode
	fallbacks     uint64
}

func NewCodeGenerator(clk clock.Clock, opts GeneratorOptions) *CodeGenerator {
	if opts.Length <= 0 {
		opts.Length = defaultCodeLength
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = defaultHistoryCap
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	g := &CodeGenerator{
		clk:           clk,
		length:        opts.Length,
		maxAttempts:   opts.MaxAttempts,
		historyCap:    opts.HistoryCap,
		retention:     opts.Retention,
		blacklist:     make(map[string]struct{}, len(opts.Blacklist)),
		recent:        make(map[string]struct{}),
		byReservation: make(map[string]issuedCode),
	}
	for _, entry := range opts.Blacklist {
		g.blacklist[entry] = struct{}{}
	}
	return g
}

// Generate returns a fresh code for the reservation and tracks it as that
// reservation's current code. It never fails.
func (g *CodeGenerator) Generate(reservationID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	g.pruneLocked(now.Add(-g.retention))

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		code := randomDigits(g.length)
		if g.acceptableLocked(code) {
			g.recordLocked(reservationID, code, now)
			metrics.IncCodeIssued()
			return code
		}
	}

	code := g.fallbackLocked(reservationID, now)
	g.fallbacks++
	g.recordLocked(reservationID, code, now)
	metrics.IncCodeIssued()
	metrics.IncCodegenFallback()
	log.Warn().
		Str("reservationId", reservationID).
		Int("attempts", g.maxAttempts).
		Msg("code generation degraded: random draws exhausted, using deterministic fallback")
	return code
}

// Validate reports whether code is the current code issued for the
// reservation. Comparison is constant-time.
func (g *CodeGenerator) Validate(code, reservationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	issued, ok := g.byReservation[reservationID]
	if !ok {
		return false
	}
	return util.ConstantTimeEqual(issued.code, code)
}

// Lookup returns the current code for a reservation, if one is tracked.
func (g *CodeGenerator) Lookup(reservationID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	issued, ok := g.byReservation[reservationID]
	if !ok {
		return "", false
	}
	return issued.code, true
}

// Prune drops reservation entries issued before now-olderThan and frees
// their codes for reuse. Returns how many entries were removed.
func (g *CodeGenerator) Prune(olderThan time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pruneLocked(g.clk.Now().Add(-olderThan))
}

// SetBlacklist replaces the active blacklist. Codes already issued are not
// revoked; the new list applies to future generation only.
func (g *CodeGenerator) SetBlacklist(entries []string) {
	next := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		next[entry] = struct{}{}
	}

	g.mu.Lock()
	g.blacklist = next
	g.mu.Unlock()

	log.Info().Int("entries", len(entries)).Msg("code blacklist replaced")
}

type GeneratorStats struct {
	TrackedReservations int        `json:"trackedReservations"`
	RecentCodes         int        `json:"recentCodes"`
	CodeLength          int        `json:"codeLength"`
	BlacklistSize       int        `json:"blacklistSize"`
	Fallbacks           uint64     `json:"fallbacks"`
	OldestIssued        *time.Time `json:"oldestIssued,omitempty"`
}

func (g *CodeGenerator) Stats() GeneratorStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GeneratorStats{
		TrackedReservations: len(g.byReservation),
		RecentCodes:         len(g.recent),
		CodeLength:          g.length,
		BlacklistSize:       len(g.blacklist),
		Fallbacks:           g.fallbacks,
	}
	for _, issued := range g.byReservation {
		if stats.OldestIssued == nil || issued.issuedAt.Before(*stats.OldestIssued) {
			at := issued.issuedAt
			stats.OldestIssued = &at
		}
	}
	return stats
}

func (g *CodeGenerator) acceptableLocked(code string) bool {
	if _, dup := g.recent[code]; dup {
		return false
	}
	if _, banned := g.blacklist[code]; banned {
		return false
	}
	return !isConstantStep(code)
}

func (g *CodeGenerator) recordLocked(reservationID, code string, now time.Time) {
	if _, tracked := g.recent[code]; !tracked {
		g.recent[code] = struct{}{}
		g.order = append(g.order, code)
	}
	g.byReservation[reservationID] = issuedCode{code: code, issuedAt: now}

	if len(g.order) > g.historyCap {
		cut := len(g.order) / 2
		for _, old := range g.order[:cut] {
			delete(g.recent, old)
		}
		g.order = append([]string(nil), g.order[cut:]...)
		log.Debug().Int("evicted", cut).Msg("recent code set over cap, oldest half evicted")
	}
}

func (g *CodeGenerator) pruneLocked(cutoff time.Time) int {
	removed := 0
	for id, issued := range g.byReservation {
		if issued.issuedAt.Before(cutoff) {
			delete(g.byReservation, id)
			g.dropRecentLocked(issued.code)
			removed++
		}
	}
	return removed
}

func (g *CodeGenerator) dropRecentLocked(code string) {
	if _, ok := g.recent[code]; !ok {
		return
	}
	delete(g.recent, code)
	for i, c := range g.order {
		if c == code {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// fallbackLocked derives a code from a hash of the reservation id and the
// current time. Only the blacklist is dodged here, by walking disjoint hash
// slices and bounded re-hashing; if every slice is blacklisted the last
// candidate is returned regardless, because returning some code always
// beats returning none.
func (g *CodeGenerator) fallbackLocked(reservationID string, now time.Time) string {
	seed := fmt.Sprintf("%s:%d", reservationID, now.UnixNano())

	var candidate string
	for round := 0; round < fallbackRehashRounds; round++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, round)))
		for off := 0; off+g.length <= len(sum); off += g.length {
			buf := make([]byte, g.length)
			for i := 0; i < g.length; i++ {
				buf[i] = '0' + sum[off+i]%10
			}
			candidate = string(buf)
			if _, banned := g.blacklist[candidate]; !banned {
				return candidate
			}
		}
	}
	return candidate
}

func randomDigits(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		v, _ := rand.Int(rand.Reader, big.NewInt(10))
		buf[i] = '0' + byte(v.Int64())
	}
	return string(buf)
}

// isConstantStep reports whether every pair of neighboring digits differs by
// the same amount: ascending runs (1234), descending runs (9876) and
// repeated digits (7777) all qualify. Alternating patterns do not.
func isConstantStep(code string) bool {
	if len(code) < 2 {
		return true
	}
	step := int(code[1]) - int(code[0])
	for i := 2; i < len(code); i++ {
		if int(code[i])-int(code[i-1]) != step {
			return false
		}
	}
	return true
}
