package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Attributes is the type-specific part of an entity. Each entity type has
// exactly one variant; optional fields are pointers or nil slices so an
// absent attribute never reads as a zero value.
type Attributes interface {
	EntityType() EntityType
	// Text returns the present text-valued attributes for keyword search.
	Text() []string
	validate() error
}

// Value dereferences an optional attribute.
func Value[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Ptr returns a pointer to v, for populating optional attributes.
func Ptr[T any](v T) *T {
	return &v
}

// ReleaseDateLayout is the layout of ProtocolVersionAttrs.ReleaseDate.
const ReleaseDateLayout = "2006-01-02"

// GuideAttrs describes a vulnerability-prevention guide.
type GuideAttrs struct {
	Severity         *string  `json:"severity,omitempty"`
	EstimatedLossUSD *int64   `json:"estimatedLossUsd,omitempty"`
	CWE              *string  `json:"cwe,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	Description      *string  `json:"description,omitempty"`
}

func (a *GuideAttrs) EntityType() EntityType { return TypeGuide }

func (a *GuideAttrs) Text() []string {
	out := appendOpt(nil, a.Severity, a.CWE, a.Description)
	return append(out, a.Keywords...)
}

func (a *GuideAttrs) validate() error {
	if a.EstimatedLossUSD != nil && *a.EstimatedLossUSD < 0 {
		return fmt.Errorf("estimated loss must not be negative")
	}
	return nil
}

// TemplateAttrs describes a secure contract template.
type TemplateAttrs struct {
	SolidityVersion *string  `json:"solidityVersion,omitempty"`
	LineCount       *int     `json:"lineCount,omitempty"`
	Features        []string `json:"features,omitempty"`
}

func (a *TemplateAttrs) EntityType() EntityType { return TypeTemplate }

func (a *TemplateAttrs) Text() []string {
	return append(appendOpt(nil, a.SolidityVersion), a.Features...)
}

func (a *TemplateAttrs) validate() error {
	return checkLineCount(a.LineCount)
}

// DeepDiveAttrs describes a protocol deep-dive write-up.
type DeepDiveAttrs struct {
	Family    *string `json:"family,omitempty"`
	Ordinal   *int    `json:"ordinal,omitempty"`
	LineCount *int    `json:"lineCount,omitempty"`
	Summary   *string `json:"summary,omitempty"`
}

func (a *DeepDiveAttrs) EntityType() EntityType { return TypeDeepDive }

func (a *DeepDiveAttrs) Text() []string {
	return appendOpt(nil, a.Family, a.Summary)
}

func (a *DeepDiveAttrs) validate() error {
	if err := checkOrdinal(a.Ordinal); err != nil {
		return err
	}
	return checkLineCount(a.LineCount)
}

// IntegrationAttrs describes an integration guide for a protocol.
type IntegrationAttrs struct {
	Family     *string `json:"family,omitempty"`
	Ordinal    *int    `json:"ordinal,omitempty"`
	Difficulty *string `json:"difficulty,omitempty"`
	LineCount  *int    `json:"lineCount,omitempty"`
}

func (a *IntegrationAttrs) EntityType() EntityType { return TypeIntegration }

func (a *IntegrationAttrs) Text() []string {
	return appendOpt(nil, a.Family, a.Difficulty)
}

func (a *IntegrationAttrs) validate() error {
	if err := checkOrdinal(a.Ordinal); err != nil {
		return err
	}
	return checkLineCount(a.LineCount)
}

// ProtocolVersionAttrs describes one release of a protocol family.
type ProtocolVersionAttrs struct {
	Family      *string  `json:"family,omitempty"`
	Ordinal     *int     `json:"ordinal,omitempty"`
	ReleaseDate *string  `json:"releaseDate,omitempty"`
	Features    []string `json:"features,omitempty"`
}

func (a *ProtocolVersionAttrs) EntityType() EntityType { return TypeProtocolVersion }

func (a *ProtocolVersionAttrs) Text() []string {
	return append(appendOpt(nil, a.Family), a.Features...)
}

func (a *ProtocolVersionAttrs) validate() error {
	if err := checkOrdinal(a.Ordinal); err != nil {
		return err
	}
	if a.ReleaseDate != nil {
		if _, err := time.Parse(ReleaseDateLayout, *a.ReleaseDate); err != nil {
			return fmt.Errorf("release date %q: %w", *a.ReleaseDate, err)
		}
	}
	return nil
}

// RepositoryAttrs describes an external research repository summary.
type RepositoryAttrs struct {
	URL         *string  `json:"url,omitempty"`
	Perspective *string  `json:"perspective,omitempty"`
	Authority   *string  `json:"authority,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Body        *string  `json:"body,omitempty"`
}

func (a *RepositoryAttrs) EntityType() EntityType { return TypeRepository }

func (a *RepositoryAttrs) Text() []string {
	out := appendOpt(nil, a.Perspective, a.Authority)
	out = append(out, a.Topics...)
	return appendOpt(out, a.Body)
}

func (a *RepositoryAttrs) validate() error { return nil }

// ExampleAttrs describes a deliberately vulnerable contract.
type ExampleAttrs struct {
	VulnerabilityName *string `json:"vulnerabilityName,omitempty"`
	EstimatedLossUSD  *int64  `json:"estimatedLossUsd,omitempty"`
	HistoricalExploit *string `json:"historicalExploit,omitempty"`
	SolidityVersion   *string `json:"solidityVersion,omitempty"`
	LineCount         *int    `json:"lineCount,omitempty"`
}

func (a *ExampleAttrs) EntityType() EntityType { return TypeExample }

func (a *ExampleAttrs) Text() []string {
	return appendOpt(nil, a.VulnerabilityName, a.HistoricalExploit)
}

func (a *ExampleAttrs) validate() error {
	if a.EstimatedLossUSD != nil && *a.EstimatedLossUSD < 0 {
		return fmt.Errorf("estimated loss must not be negative")
	}
	return checkLineCount(a.LineCount)
}

// EmptyAttrs returns the variant for t with every attribute absent.
func EmptyAttrs(t EntityType) Attributes {
	switch t {
	case TypeGuide:
		return &GuideAttrs{}
	case TypeTemplate:
		return &TemplateAttrs{}
	case TypeDeepDive:
		return &DeepDiveAttrs{}
	case TypeIntegration:
		return &IntegrationAttrs{}
	case TypeProtocolVersion:
		return &ProtocolVersionAttrs{}
	case TypeRepository:
		return &RepositoryAttrs{}
	case TypeExample:
		return &ExampleAttrs{}
	default:
		return nil
	}
}

// MarshalAttrs encodes an attribute variant; nil encodes as {}.
func MarshalAttrs(a Attributes) ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// DecodeAttrs decodes data into the variant for t.
func DecodeAttrs(t EntityType, data []byte) (Attributes, error) {
	attrs := EmptyAttrs(t)
	if attrs == nil {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
	if len(data) == 0 || string(data) == "null" {
		return attrs, nil
	}
	if err := json.Unmarshal(data, attrs); err != nil {
		return nil, fmt.Errorf("decoding %s attributes: %w", t, err)
	}
	return attrs, nil
}

func appendOpt(out []string, vals ...*string) []string {
	for _, v := range vals {
		if v != nil && *v != "" {
			out = append(out, *v)
		}
	}
	return out
}

func checkOrdinal(p *int) error {
	if p != nil && *p < 0 {
		return fmt.Errorf("ordinal %s must not be negative", strconv.Itoa(*p))
	}
	return nil
}

func checkLineCount(p *int) error {
	if p != nil && *p < 0 {
		return fmt.Errorf("line count must not be negative")
	}
	return nil
}
