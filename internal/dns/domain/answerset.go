package domain

// MaxRRsPerResponse bounds the RRsets in one answer set and the entries in one
// compression table.
const MaxRRsPerResponse = 5120

// Section identifies a response section.
type Section uint8

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
	// SectionOptionalAuthority is authority data sent only if it fits. It is
	// counted in NSCOUNT.
	SectionOptionalAuthority
)

func (s Section) String() string {
	switch s {
	case SectionAnswer:
		return "answer"
	case SectionAuthority:
		return "authority"
	case SectionAdditional:
		return "additional"
	case SectionOptionalAuthority:
		return "optional-authority"
	default:
		return "unknown"
	}
}

// AnswerEntry is one (RRset, owner, section) triple of an AnswerSet.
type AnswerEntry struct {
	RRset   *RRset
	Owner   Name
	Section Section
}

// AnswerSet accumulates the RRsets of a single response.
type AnswerSet struct {
	entries []AnswerEntry
}

// Add appends rrset to section under owner. It returns false when the set is
// full, the rrset is empty, or the same rrset was already added to section.
func (a *AnswerSet) Add(section Section, owner Name, rrset *RRset) bool {
	if rrset == nil || rrset.Len() == 0 || len(a.entries) >= MaxRRsPerResponse {
		return false
	}
	for _, e := range a.entries {
		if e.RRset == rrset && e.Section == section {
			return false
		}
	}
	a.entries = append(a.entries, AnswerEntry{RRset: rrset, Owner: owner, Section: section})
	return true
}

// Entries returns the entries in section, in insertion order.
func (a *AnswerSet) Entries(section Section) []AnswerEntry {
	var out []AnswerEntry
	for _, e := range a.entries {
		if e.Section == section {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries across all sections.
func (a *AnswerSet) Len() int { return len(a.entries) }

// Reset empties the set for reuse.
func (a *AnswerSet) Reset() { a.entries = a.entries[:0] }
