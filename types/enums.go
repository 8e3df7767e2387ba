package types

import (
	"encoding/json"
	"fmt"
)

// NounType is a closed enumeration of entity kinds. Ordinals are used as
// array indices by the metadata index's per-type count arrays, so new
// types must be appended, never inserted.
type NounType uint8

const (
	NounDocument NounType = iota
	NounPerson
	NounOrganization
	NounPlace
	NounEvent
	NounConcept
	NounMedia
	NounProduct
	nounTypeCount
)

var nounTypeNames = [...]string{
	"Document", "Person", "Organization", "Place", "Event", "Concept", "Media", "Product",
}

func (t NounType) String() string {
	if int(t) < len(nounTypeNames) {
		return nounTypeNames[t]
	}
	return "Unknown"
}

// NounTypeCount is the fixed size of any array indexed by NounType ordinal.
func NounTypeCount() int { return int(nounTypeCount) }

// ParseNounType resolves a name to its NounType, used when decoding
// persisted entities or parsing filter expressions.
func ParseNounType(s string) (NounType, bool) {
	for i, name := range nounTypeNames {
		if name == s {
			return NounType(i), true
		}
	}
	return 0, false
}

// MarshalJSON persists the type by name so the stored objects stay
// readable and stable across ordinal reshuffles.
func (t NounType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// UnmarshalJSON accepts both the by-name form and the historical raw
// ordinal form.
func (t *NounType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, ok := ParseNounType(s)
		if !ok {
			return fmt.Errorf("%w: unknown noun type %q", ErrValidation, s)
		}
		*t = v
		return nil
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: noun type must be a name or ordinal", ErrValidation)
	}
	*t = NounType(n)
	return nil
}

// VerbType is a closed enumeration of relation kinds.
type VerbType uint8

const (
	VerbRelatesTo VerbType = iota
	VerbMentions
	VerbAuthoredBy
	VerbPartOf
	VerbCites
	VerbFollows
	VerbOwns
	verbTypeCount
)

var verbTypeNames = [...]string{
	"RelatesTo", "Mentions", "AuthoredBy", "PartOf", "Cites", "Follows", "Owns",
}

func (t VerbType) String() string {
	if int(t) < len(verbTypeNames) {
		return verbTypeNames[t]
	}
	return "Unknown"
}

// VerbTypeCount is the fixed size of any array indexed by VerbType ordinal.
func VerbTypeCount() int { return int(verbTypeCount) }

func ParseVerbType(s string) (VerbType, bool) {
	for i, name := range verbTypeNames {
		if name == s {
			return VerbType(i), true
		}
	}
	return 0, false
}

func (t VerbType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *VerbType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, ok := ParseVerbType(s)
		if !ok {
			return fmt.Errorf("%w: unknown verb type %q", ErrValidation, s)
		}
		*t = v
		return nil
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: verb type must be a name or ordinal", ErrValidation)
	}
	*t = VerbType(n)
	return nil
}
