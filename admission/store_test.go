package admission

import (
	"testing"
	"time"

	"github.com/pulsehub/pulsecore/corerr"
)

type alwaysViolates struct {
	cleared []string
	purged  int
}

func (a *alwaysViolates) Validate(address string) (bool, error) { return true, nil }
func (a *alwaysViolates) Clear(address string)                  { a.cleared = append(a.cleared, address) }
func (a *alwaysViolates) PurgeStale()                            { a.purged++ }

type neverViolates struct{}

func (neverViolates) Validate(address string) (bool, error) { return false, nil }
func (neverViolates) Clear(address string)                  {}
func (neverViolates) PurgeStale()                           {}

func TestWhitelistShortCircuitsCriteria(t *testing.T) {
	s := New(time.Minute)
	if err := s.Whitelist("10.0.0.1"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := s.AddCriterion(&alwaysViolates{}); err != nil {
		t.Fatalf("add criterion: %v", err)
	}
	if err := s.Check("10.0.0.1"); err != nil {
		t.Fatalf("expected whitelisted address to pass, got %v", err)
	}
}

func TestViolatingCriterionBansAddress(t *testing.T) {
	s := New(time.Minute)
	if err := s.AddCriterion(&alwaysViolates{}); err != nil {
		t.Fatalf("add criterion: %v", err)
	}
	err := s.Check("10.0.0.2")
	if !corerr.Is(err, corerr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if !s.IsBanned("10.0.0.2") {
		t.Fatal("expected address to be banned after violation")
	}
}

func TestRegistrationAfterLockFails(t *testing.T) {
	s := New(time.Minute)
	_ = s.Check("anyone") // locks the store
	if err := s.AddCriterion(neverViolates{}); !corerr.Is(err, corerr.AdmissionLocked) {
		t.Fatalf("expected AdmissionLocked, got %v", err)
	}
	if err := s.Whitelist("late"); !corerr.Is(err, corerr.AdmissionLocked) {
		t.Fatalf("expected AdmissionLocked on late whitelist, got %v", err)
	}
}

func TestTryUnbanClearsBanAndCriteria(t *testing.T) {
	s := New(time.Minute)
	crit := &alwaysViolates{}
	_ = s.AddCriterion(crit)
	_ = s.Check("10.0.0.3")
	if !s.IsBanned("10.0.0.3") {
		t.Fatal("expected ban after violation")
	}

	s.TryUnban("10.0.0.3")
	if s.IsBanned("10.0.0.3") {
		t.Fatal("expected unban to clear the ban record")
	}
	if len(crit.cleared) != 1 || crit.cleared[0] != "10.0.0.3" {
		t.Fatalf("expected criterion.Clear to be invoked, got %v", crit.cleared)
	}
}

func TestPurgeRemovesExpiredNonExplicitBans(t *testing.T) {
	s := New(time.Minute)
	s.TryBan("10.0.0.4", false, time.Now().Add(-time.Second))
	s.TryBan("10.0.0.5", true, time.Now().Add(-time.Second)) // explicit, survives purge
	s.Purge()

	if s.IsBanned("10.0.0.4") {
		t.Fatal("expected expired non-explicit ban to be purged")
	}
	if !s.IsBanned("10.0.0.5") {
		t.Fatal("expected explicit ban to survive purge regardless of expiry")
	}
}

func TestWhitelistOverridesExistingBan(t *testing.T) {
	s := New(time.Minute)
	s.TryBan("10.0.0.6", true, time.Time{})
	if err := s.Whitelist("10.0.0.6"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if s.IsBanned("10.0.0.6") {
		t.Fatal("expected whitelisting to remove an existing ban")
	}
}
