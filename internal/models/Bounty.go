package models

// Bounty is a self-funded promotion, untagged until assigned to a concept.
type Bounty struct {
	Amount    int64  `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// Metadata is the per-user singleton holding bounty assignments.
type Metadata struct {
	Bounties         map[string][]Bounty `json:"bounties"`
	UntaggedBounties []Bounty            `json:"untaggedBounties"`
}

func NewMetadata() *Metadata {
	return &Metadata{
		Bounties:         make(map[string][]Bounty),
		UntaggedBounties: make([]Bounty, 0),
	}
}

// Normalize replaces nil collections so the document always round-trips with both fields.
func (m *Metadata) Normalize() *Metadata {
	if m.Bounties == nil {
		m.Bounties = make(map[string][]Bounty)
	}
	if m.UntaggedBounties == nil {
		m.UntaggedBounties = make([]Bounty, 0)
	}
	return m
}

func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for concept, list := range m.Bounties {
		c.Bounties[concept] = append([]Bounty(nil), list...)
	}
	c.UntaggedBounties = append(c.UntaggedBounties, m.UntaggedBounties...)
	return c
}

// HasBounty reports whether an identical bounty is already tracked, tagged or not.
func (m *Metadata) HasBounty(b Bounty) bool {
	for _, u := range m.UntaggedBounties {
		if u == b {
			return true
		}
	}
	for _, list := range m.Bounties {
		for _, t := range list {
			if t == b {
				return true
			}
		}
	}
	return false
}

// AddUntagged appends bounties not tracked yet and returns how many were added.
func (m *Metadata) AddUntagged(bounties []Bounty) int {
	added := 0
	for _, b := range bounties {
		if b.Timestamp == "" || m.HasBounty(b) {
			continue
		}
		m.UntaggedBounties = append(m.UntaggedBounties, b)
		added++
	}
	return added
}

// Assign moves the untagged bounty at index onto concept.
func (m *Metadata) Assign(concept string, index int) error {
	if concept == "" {
		return &ValidationError{Field: "concept", Reason: "is required"}
	}
	if index < 0 || index >= len(m.UntaggedBounties) {
		return &ValidationError{Field: "index", Reason: "out of range"}
	}
	b := m.UntaggedBounties[index]
	m.Bounties[concept] = append(m.Bounties[concept], b)
	m.UntaggedBounties = append(m.UntaggedBounties[:index:index], m.UntaggedBounties[index+1:]...)
	return nil
}

// Empty reports whether the document holds no bounties at all.
func (m *Metadata) Empty() bool {
	if len(m.UntaggedBounties) > 0 {
		return false
	}
	for _, list := range m.Bounties {
		if len(list) > 0 {
			return false
		}
	}
	return true
}

// Merge folds other into m without duplicating bounties.
func (m *Metadata) Merge(other *Metadata) {
	if other == nil {
		return
	}
	for concept, list := range other.Bounties {
		for _, b := range list {
			if !m.HasBounty(b) {
				m.Bounties[concept] = append(m.Bounties[concept], b)
			}
		}
	}
	m.AddUntagged(other.UntaggedBounties)
}
