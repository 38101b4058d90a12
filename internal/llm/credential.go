package llm

import (
	"math/rand/v2"
)

// Credential is a provider client identified by a display name.
type Credential struct {
	Name   string
	Client Client
}

// CredentialPool is an ordered, immutable set of credentials.
type CredentialPool struct {
	creds []Credential
}

// NewCredentialPool creates a pool that enumerates creds in the given order.
func NewCredentialPool(creds ...Credential) *CredentialPool {
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		if c.Client != nil {
			out = append(out, c)
		}
	}
	return &CredentialPool{creds: out}
}

// All returns the credentials in order.
func (p *CredentialPool) All() []Credential {
	if p == nil {
		return nil
	}
	out := make([]Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

// Len returns the number of credentials.
func (p *CredentialPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.creds)
}

// Names returns the display names in order.
func (p *CredentialPool) Names() []string {
	names := make([]string, 0, p.Len())
	for _, c := range p.All() {
		names = append(names, c.Name)
	}
	return names
}

// First returns the first credential.
func (p *CredentialPool) First() (Credential, bool) {
	if p.Len() == 0 {
		return Credential{}, false
	}
	return p.creds[0], true
}

// Random returns a uniformly chosen credential.
func (p *CredentialPool) Random() (Credential, bool) {
	if p.Len() == 0 {
		return Credential{}, false
	}
	return p.creds[rand.IntN(len(p.creds))], true
}
