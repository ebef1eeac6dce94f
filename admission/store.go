// Package admission implements the IP Admission Store: a whitelist, a ban
// map, and an ordered chain of pluggable criteria that every non-whitelisted
// address is checked against before a connection is allowed to proceed.
package admission

import (
	"sync"
	"time"

	"github.com/pulsehub/pulsecore/corerr"
)

// DefaultBanDuration is the store's ban duration when New is given
// banFor <= 0.
const DefaultBanDuration = 15 * time.Minute

// BanRecord describes an active ban.
type BanRecord struct {
	Address    string
	ExpiresAt  time.Time
	IsExplicit bool
}

// Criterion is one link in the admission chain. Validate reports whether
// address currently violates the criterion; a violation bans the address
// and short-circuits the chain. Clear resets any per-address state a
// criterion holds (e.g. after an explicit unban); PurgeStale drops state
// for addresses that no longer need tracking.
type Criterion interface {
	Validate(address string) (violates bool, err error)
	Clear(address string)
	PurgeStale()
}

// Store is the concurrency-safe whitelist + ban map + criterion chain.
// Registering a criterion is only permitted before the first Check call;
// the store locks itself at that point, per the documented lock discipline.
type Store struct {
	mu        sync.RWMutex
	whitelist map[string]struct{}
	bans      map[string]BanRecord
	criteria  []Criterion
	banFor    time.Duration
	locked    bool
}

// New builds a Store. banFor <= 0 selects DefaultBanDuration.
func New(banFor time.Duration) *Store {
	if banFor <= 0 {
		banFor = DefaultBanDuration
	}
	return &Store{
		whitelist: make(map[string]struct{}),
		bans:      make(map[string]BanRecord),
		banFor:    banFor,
	}
}

// Whitelist adds address to the permanent whitelist. It must be called
// before the store locks (i.e. before the first Check); an address can
// never be simultaneously whitelisted and banned, so Whitelist also removes
// any existing ban record for it.
func (s *Store) Whitelist(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return corerr.New(corerr.AdmissionLocked, "whitelist modification after store lock")
	}
	s.whitelist[address] = struct{}{}
	delete(s.bans, address)
	return nil
}

// AddCriterion appends c to the ordered chain. It must be called before the
// store locks.
func (s *Store) AddCriterion(c Criterion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return corerr.New(corerr.AdmissionLocked, "criterion registration after store lock")
	}
	s.criteria = append(s.criteria, c)
	return nil
}

// Check runs the admission decision for address: whitelist short-circuits,
// otherwise every criterion is evaluated in order and the first violation
// bans the address and stops the chain. The store locks itself on its first
// call to Check, regardless of outcome.
func (s *Store) Check(address string) error {
	s.mu.Lock()
	s.locked = true
	if _, ok := s.whitelist[address]; ok {
		s.mu.Unlock()
		return nil
	}
	criteria := s.criteria
	s.mu.Unlock()

	for _, c := range criteria {
		violates, err := c.Validate(address)
		if err != nil {
			return err
		}
		if violates {
			s.TryBan(address, false, time.Time{})
			break
		}
	}

	s.mu.RLock()
	_, banned := s.bans[address]
	s.mu.RUnlock()
	if banned {
		return corerr.New(corerr.Forbidden, address)
	}
	return nil
}

// TryBan upserts a ban record for address. A zero until selects
// now + the store's default ban duration. A whitelisted address is never
// banned: TryBan leaves the ban map unchanged for it.
func (s *Store) TryBan(address string, explicit bool, until time.Time) {
	if until.IsZero() {
		until = time.Now().Add(s.banFor)
	}
	s.mu.Lock()
	if _, ok := s.whitelist[address]; ok {
		s.mu.Unlock()
		return
	}
	s.bans[address] = BanRecord{Address: address, ExpiresAt: until, IsExplicit: explicit}
	s.mu.Unlock()
}

// TryUnban removes address from the ban map and instructs every criterion
// to clear its per-address state.
func (s *Store) TryUnban(address string) {
	s.mu.Lock()
	delete(s.bans, address)
	criteria := s.criteria
	s.mu.Unlock()

	for _, c := range criteria {
		c.Clear(address)
	}
}

// Purge removes expired non-explicit bans (explicit bans are kept whatever
// their expiry) and asks every criterion to drop stale per-address state.
// Intended to be called on a fixed interval.
func (s *Store) Purge() {
	now := time.Now()
	s.mu.Lock()
	for addr, rec := range s.bans {
		if !rec.IsExplicit && now.After(rec.ExpiresAt) {
			delete(s.bans, addr)
		}
	}
	criteria := s.criteria
	s.mu.Unlock()

	for _, c := range criteria {
		c.PurgeStale()
	}
}

// IsBanned reports whether address currently has an active ban record,
// without running the criterion chain. Useful for diagnostics and tests.
func (s *Store) IsBanned(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bans[address]
	if !ok {
		return false
	}
	if rec.IsExplicit {
		return true
	}
	return time.Now().Before(rec.ExpiresAt)
}

// IsWhitelisted reports whether address is on the permanent whitelist.
func (s *Store) IsWhitelisted(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[address]
	return ok
}
