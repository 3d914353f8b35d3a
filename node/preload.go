package node

// Preload is a resource reference discovered by the speculative scanner
// before the parser constructs the tag that actually requests it.
type Preload struct {
	NodeMeta

	URL      string
	TagName  string
	Position Position

	// ExecutingTag is the tag that was current when the scan ran.
	ExecutingTag ID

	matchedTag ID
}

// MatchedTag returns the tag the preload was matched with, or None.
func (p *Preload) MatchedTag() ID {
	return p.matchedTag
}

// SetMatchedTag records the matching tag. A preload matches at most once; a
// second call is refused and reported as false.
func (p *Preload) SetMatchedTag(tag ID) bool {
	if p.matchedTag != None || tag == None {
		return false
	}

	p.matchedTag = tag

	return true
}

// MatchesExactly tells whether the tag sits exactly where the preload was
// found.
func (p *Preload) MatchesExactly(tag *Tag) bool {
	return p.DocumentURL == tag.DocumentURL &&
		p.TagName == tag.Name &&
		p.Position == tag.Position
}

// MatchesByURL tells whether the tag is the same element kind in the same
// document and references the preloaded URL. The scanner's line and column
// are not always accurate, so this is the fallback.
func (p *Preload) MatchesByURL(tag *Tag) bool {
	return p.DocumentURL == tag.DocumentURL &&
		p.TagName == tag.Name &&
		tag.HasURL(p.URL)
}
