package models

// Snapshot is a whole event log with its bounty metadata, as kept by the local cache and
// by the legacy single-document shape.
type Snapshot struct {
	Receipts         []*Event            `json:"receipts"`
	Bounties         map[string][]Bounty `json:"bounties,omitempty"`
	UntaggedBounties []Bounty            `json:"untaggedBounties,omitempty"`
}

func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Receipts) == 0 && s.Metadata().Empty())
}

// Metadata returns the bounty part of the snapshot as a metadata document.
func (s *Snapshot) Metadata() *Metadata {
	md := NewMetadata()
	if s == nil {
		return md
	}
	for concept, list := range s.Bounties {
		md.Bounties[concept] = append(md.Bounties[concept], list...)
	}
	md.UntaggedBounties = append(md.UntaggedBounties, s.UntaggedBounties...)
	return md
}
