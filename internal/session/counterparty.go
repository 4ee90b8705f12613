package session

import (
	"github.com/mattisv/tradetalk/internal/chat"
)

// Resolution reports how far counterparty resolution has progressed.
type Resolution int

const (
	// ResolutionPending means no resolution attempt has completed yet.
	ResolutionPending Resolution = iota
	// ResolutionResolved means a counterparty value is populated.
	ResolutionResolved
	// ResolutionUnknown means every attempt completed without a value;
	// the surface shows a neutral "unknown contact" state, never a
	// spinner forever.
	ResolutionUnknown
)

// counterpartySource ranks where a counterparty value came from. A value
// set from a higher-ranked or equal source is never overwritten by a lower
// one, which prevents a late directory summary from clobbering the richer
// detail payload (or the payment-flow stub flickering over either).
type counterpartySource int

const (
	sourceNone counterpartySource = iota
	sourceDirectory
	sourceDetail
	sourcePayment
)

type counterpartyState struct {
	party    chat.Party
	source   counterpartySource
	resolved Resolution
}

// Counterparty returns the resolved party and the resolution state.
func (s *Session) Counterparty() (chat.Party, Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterparty.party, s.counterparty.resolved
}

// applyCounterparty installs a candidate value according to source
// precedence. The detail payload may replace a payment-flow stub: the stub
// exists only for the window before a conversation id is known, and the
// detail is strictly richer once one is.
func (s *Session) applyCounterparty(src counterpartySource, party chat.Party) {
	if party.Empty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.counterparty.source
	switch {
	case current == sourceNone:
		// First value wins regardless of source.
	case src == sourceDirectory:
		// Directory summaries only fill an absent value.
		return
	case src == sourceDetail && current == sourcePayment:
		// The stub carried only a display name; keep it if the detail
		// somehow lacks one.
		if party.DisplayName == "" {
			party.DisplayName = s.counterparty.party.DisplayName
		}
	case src < current:
		return
	}

	s.counterparty.party = party
	s.counterparty.source = src
	s.counterparty.resolved = ResolutionResolved
}

// finishResolution clears the pending state after an attempt completes,
// successful or not.
func (s *Session) finishResolution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterparty.resolved == ResolutionPending {
		s.counterparty.resolved = ResolutionUnknown
	}
}
