// Package access implements capability checks for privileged operations.
package access

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/edaix/pkg/app/core/apperr"
)

// Capability is a bit set of privileges
type Capability uint8

const (
	CapPairAdmin    Capability = 1 << iota // create and toggle trading pairs
	CapSessionAdmin                        // start and end sessions
	CapSettlement                          // manual execution, cancel any order, explicit matching
	CapPoolAdmin                           // pause and resume pools

	CapAll = CapPairAdmin | CapSessionAdmin | CapSettlement | CapPoolAdmin
)

var capNames = []struct {
	cap  Capability
	name string
}{
	{CapPairAdmin, "pair"},
	{CapSessionAdmin, "session"},
	{CapSettlement, "settlement"},
	{CapPoolAdmin, "pool"},
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, cn := range capNames {
		if c&cn.cap != 0 {
			parts = append(parts, cn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseCapabilities parses "pair,session" or "all"
func ParseCapabilities(s string) (Capability, error) {
	var out Capability
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if part == "all" {
			out |= CapAll
			continue
		}
		found := false
		for _, cn := range capNames {
			if cn.name == part {
				out |= cn.cap
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown capability %q", part)
		}
	}
	return out, nil
}

// Registry maps addresses to granted capabilities. The root address holds
// every capability and is the only one allowed to grant or revoke.
type Registry struct {
	mu     sync.RWMutex
	root   common.Address
	grants map[common.Address]Capability
}

func NewRegistry(root common.Address) *Registry {
	return &Registry{
		root:   root,
		grants: map[common.Address]Capability{root: CapAll},
	}
}

func (r *Registry) Root() common.Address { return r.root }

// Grant adds capabilities to who
func (r *Registry) Grant(caller, who common.Address, caps Capability) error {
	if caller != r.root {
		return apperr.Unauthorizedf("%s cannot grant capabilities", caller.Hex())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[who] |= caps
	return nil
}

// Revoke removes capabilities from who; the root keeps everything
func (r *Registry) Revoke(caller, who common.Address, caps Capability) error {
	if caller != r.root {
		return apperr.Unauthorizedf("%s cannot revoke capabilities", caller.Hex())
	}
	if who == r.root {
		return apperr.Statef("root capabilities cannot be revoked")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	left := r.grants[who] &^ caps
	if left == 0 {
		delete(r.grants, who)
	} else {
		r.grants[who] = left
	}
	return nil
}

// Has reports whether who holds every capability in caps
func (r *Registry) Has(who common.Address, caps Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[who]&caps == caps
}

// Require returns an UnauthorizedError unless who holds caps
func (r *Registry) Require(who common.Address, caps Capability) error {
	if !r.Has(who, caps) {
		return apperr.Unauthorizedf("%s lacks capability %s", who.Hex(), caps)
	}
	return nil
}

// Grant is one row of the registry
type Grant struct {
	Address      common.Address `json:"address"`
	Capabilities string         `json:"capabilities"`
}

// Grants lists every grant sorted by address
func (r *Registry) Grants() []Grant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Grant, 0, len(r.grants))
	for addr, c := range r.grants {
		out = append(out, Grant{Address: addr, Capabilities: c.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}
