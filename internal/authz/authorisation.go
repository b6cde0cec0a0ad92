// Package authz is the capability facade in front of the release engine.
// Callers obtain a capability object for their tier; every mutating method
// on a capability appends to the audit log before returning.
//
// The facade is the embedding surface for servers built on the engine:
// any outer layer (HTTP, SSH ingest, RPC) must route its mutations through
// Facade.Write rather than calling the domain services directly, or the
// scope checks and the audit trail are bypassed. The worker and migration
// commands in this repository mutate nothing on behalf of a user and so
// sit outside the facade.
package authz

import (
	"context"
	"sync"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
)

// membershipTTL bounds how stale a cached membership read may be.
const membershipTTL = 10 * time.Minute

// Membership is one user's committee affiliations.
type Membership struct {
	// Member lists committees where the user sits on the governance body.
	Member []string
	// Committer lists committees where the user has commit access.
	Committer []string
}

// MemberOf reports membership in the named committee.
func (m *Membership) MemberOf(committee string) bool {
	return contains(m.Member, committee)
}

// CommitterOf reports commit access in the named committee.
func (m *Membership) CommitterOf(committee string) bool {
	return contains(m.Committer, committee)
}

// ParticipantOf reports either affiliation.
func (m *Membership) ParticipantOf(committee string) bool {
	return m.MemberOf(committee) || m.CommitterOf(committee)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Authorisation resolves a user's memberships. Implementations may cache;
// stale reads within the TTL are tolerated.
type Authorisation interface {
	Memberships(ctx context.Context, uid string) (*Membership, error)
}

// SessionAuthorisation serves memberships already resolved at sign-in, the
// HTTP request case. It never goes to the network.
type SessionAuthorisation struct {
	Users map[string]*Membership
}

func (s *SessionAuthorisation) Memberships(ctx context.Context, uid string) (*Membership, error) {
	m, ok := s.Users[uid]
	if !ok {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "no session membership data for %q", uid)
	}
	return m, nil
}

// ProviderAuthorisation queries the external directory, the worker case.
// Results are cached per user for membershipTTL.
type ProviderAuthorisation struct {
	provider ports.IdentityProvider
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedMembership
}

type cachedMembership struct {
	membership *Membership
	fetched    time.Time
}

func NewProviderAuthorisation(provider ports.IdentityProvider) *ProviderAuthorisation {
	return &ProviderAuthorisation{
		provider: provider,
		now:      time.Now,
		cache:    make(map[string]cachedMembership),
	}
}

func (p *ProviderAuthorisation) Memberships(ctx context.Context, uid string) (*Membership, error) {
	const op = "authz.Memberships"

	now := p.now()
	p.mu.Lock()
	if entry, ok := p.cache[uid]; ok && now.Sub(entry.fetched) < membershipTTL {
		p.mu.Unlock()
		return entry.membership, nil
	}
	p.mu.Unlock()

	member, committer, err := p.provider.Memberships(ctx, uid)
	if err != nil {
		return nil, atrerrors.ExternalWrap(err, op, "directory membership lookup failed")
	}
	m := &Membership{Member: member, Committer: committer}

	p.mu.Lock()
	p.cache[uid] = cachedMembership{membership: m, fetched: now}
	p.mu.Unlock()
	return m, nil
}
