package resolver

import (
	"errors"
	"fmt"

	"github.com/haukened/kdns/internal/dns/domain"
	"github.com/haukened/kdns/internal/dns/gateways/wire"
)

// MaxAliasDepth bounds the number of CNAME hops followed inside the table.
const MaxAliasDepth = 8

var (
	// ErrAliasDepthExceeded is returned when a CNAME chain is longer than
	// MaxAliasDepth.
	ErrAliasDepthExceeded = errors.New("alias resolution max depth exceeded")
	// ErrAliasLoopDetected is returned when a CNAME chain revisits a name.
	ErrAliasLoopDetected = errors.New("alias loop detected")
)

// anyTypes are the stored types returned for a QTYPE=ANY query.
var anyTypes = []domain.RRType{
	domain.RRTypeA,
	domain.RRTypeCNAME,
	domain.RRTypePTR,
	domain.RRTypeSRV,
}

// chaseResult describes where a lookup ended.
type chaseResult struct {
	// name is the last owner looked up.
	name domain.Name
	// answered is true when no negative authority is needed: the terminal
	// RRset was found or the chain left the authoritative zones.
	answered bool
}

// chase adds the answer RRsets for q to p.answers, following CNAMEs that stay
// inside the authoritative zones.
func (p *Processor) chase(q wire.Question) (chaseResult, error) {
	name := q.Name
	if q.Type == domain.RRTypeANY {
		found := false
		for _, t := range anyTypes {
			if rs, ok := p.table.Lookup(name.Key(), t); ok {
				p.answers.Add(domain.SectionAnswer, name, rs)
				found = true
			}
		}
		return chaseResult{name: name, answered: found}, nil
	}

	visited := map[string]struct{}{}
	for depth := 0; ; depth++ {
		if rs, ok := p.table.Lookup(name.Key(), q.Type); ok {
			p.answers.Add(domain.SectionAnswer, name, rs)
			return chaseResult{name: name, answered: true}, nil
		}
		if q.Type == domain.RRTypeCNAME {
			return chaseResult{name: name}, nil
		}
		cname, ok := p.table.Lookup(name.Key(), domain.RRTypeCNAME)
		if !ok {
			return chaseResult{name: name}, nil
		}
		if depth >= MaxAliasDepth {
			return chaseResult{name: name}, fmt.Errorf("%w: %d hops at %s", ErrAliasDepthExceeded, depth, name)
		}
		visited[name.Key()] = struct{}{}
		p.answers.Add(domain.SectionAnswer, name, cname)

		target := cname.Records[0].Atoms[0].Name
		if _, seen := visited[target.Key()]; seen {
			return chaseResult{name: target}, fmt.Errorf("%w: %s", ErrAliasLoopDetected, target)
		}
		if _, inZone := p.Zone(target); !inZone {
			return chaseResult{name: target, answered: true}, nil
		}
		name = target
	}
}
