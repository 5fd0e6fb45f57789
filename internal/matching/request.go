package matching

import (
	"strings"

	"github.com/veil/chat-app/internal/protocol"
)

// SearchSpec is the criteria variant of a join request, resolved once at the
// protocol boundary instead of being re-derived from field presence.
type SearchSpec interface {
	mode() string
}

// CriteriaSpec searches by declared/sought gender and age groups.
type CriteriaSpec struct {
	Gender           string
	AgeGroup         string
	SeekingGender    string
	SeekingAgeGroups []string
	IsAdult          bool
}

func (CriteriaSpec) mode() string { return "criteria" }

// TagSpec searches a single free-text tag queue, ignoring gender and age.
// Only participants with an equal adult flag are paired.
type TagSpec struct {
	Tag     string
	IsAdult bool
}

func (TagSpec) mode() string { return "tag" }

// JoinRequest is a resolved request for a chat partner.
type JoinRequest struct {
	ConnID string // live connection, used for delivery
	AnonID string // stable anonymous identity
	Spec   SearchSpec
}

// NewJoinRequest resolves a wire-level join message into a JoinRequest. A
// non-empty (trimmed) tag selects tag mode; everything else is criteria mode.
func NewJoinRequest(connID, anonID string, m protocol.JoinMsg) JoinRequest {
	req := JoinRequest{ConnID: connID, AnonID: anonID}

	if tag := strings.TrimSpace(m.Tag); tag != "" {
		req.Spec = TagSpec{Tag: tag, IsAdult: m.IsAdult}
		return req
	}

	req.Spec = CriteriaSpec{
		Gender:           m.Gender,
		AgeGroup:         m.AgeGroup,
		SeekingGender:    m.SeekingGender,
		SeekingAgeGroups: m.SeekingAgeGroups,
		IsAdult:          m.IsAdult,
	}
	return req
}
