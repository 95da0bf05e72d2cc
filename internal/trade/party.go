package trade

// Party is one actor's side of a session. Offers keep insertion order and hold
// no duplicates.
type Party struct {
	Actor    string
	Label    string
	offers   []string
	ready    bool
	accepted bool
}

func (p *Party) Offers() []string { return append([]string(nil), p.offers...) }

func (p *Party) Ready() bool    { return p.ready }
func (p *Party) Accepted() bool { return p.accepted }

func (p *Party) has(assetID string) bool {
	for _, id := range p.offers {
		if id == assetID {
			return true
		}
	}
	return false
}

func (p *Party) add(assetID string) bool {
	if p.has(assetID) {
		return false
	}
	p.offers = append(p.offers, assetID)
	return true
}

func (p *Party) remove(assetID string) bool {
	for i, id := range p.offers {
		if id == assetID {
			p.offers = append(p.offers[:i], p.offers[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Party) record() PartyRecord {
	return PartyRecord{
		Actor:    p.Actor,
		Label:    p.Label,
		Offers:   p.Offers(),
		Ready:    p.ready,
		Accepted: p.accepted,
	}
}

func partyFromRecord(r PartyRecord) *Party {
	p := &Party{Actor: r.Actor, Label: r.Label, ready: r.Ready, accepted: r.Accepted}
	for _, id := range r.Offers {
		p.add(id)
	}
	return p
}
