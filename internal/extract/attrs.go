package extract

import (
	"fmt"
	"path"
	"strings"

	"kgindex/internal/graph"
)

func guideAttrs(s source) *graph.GuideAttrs {
	meta := s.meta()
	a := &graph.GuideAttrs{}

	if v, ok := meta.First("severity", "risk", "impact"); ok {
		a.Severity = optString(upperLabel(v))
	}
	if v, ok := meta.First("estimated_loss", "estimated_loss_usd", "total_losses", "losses", "loss"); ok {
		a.EstimatedLossUSD = optInt64(ParseLossUSD(v))
	}
	if v, ok := meta.First("cwe", "cve"); ok {
		if m := cweRe.FindString(v); m != "" {
			a.CWE = graph.Ptr(strings.ToUpper(m))
		} else {
			a.CWE = optString(v, true)
		}
	} else if s.doc != nil {
		if m := cweRe.FindString(s.doc.Body); m != "" {
			a.CWE = graph.Ptr(strings.ToUpper(m))
		}
	}
	a.Keywords = meta.List("keywords", "tags")
	if v, ok := meta.First("description", "summary"); ok {
		a.Description = optString(v, true)
	} else if s.doc != nil {
		a.Description = optString(s.doc.Summary, true)
	}
	return a
}

func templateAttrs(s source) *graph.TemplateAttrs {
	a := &graph.TemplateAttrs{LineCount: graph.Ptr(s.lines())}
	if s.sol != nil {
		a.SolidityVersion = optString(s.sol.CompilerVersion())
		a.Features = s.sol.Tags.List("feature", "features")
		return a
	}
	if v, ok := s.doc.Meta.First("solidity_version", "solidity", "compiler"); ok {
		if m := semverRe.FindString(v); m != "" {
			a.SolidityVersion = graph.Ptr(m)
		}
	}
	a.Features = s.doc.Meta.List("features")
	if a.Features == nil {
		a.Features = s.doc.SectionItems("features")
	}
	return a
}

// familyOf reads the protocol family from metadata, falling back to the
// parent directory name.
func familyOf(s source, relPath string) *string {
	if v, ok := s.meta().First("family", "protocol", "protocol_family"); ok {
		// "Uniswap V3" names the family and the version
		if loc := ordinalRe.FindStringIndex(v); loc != nil {
			v = v[:loc[0]]
		}
		return optString(v, true)
	}
	dir := path.Base(path.Dir(relPath))
	if dir == "." || dir == "/" {
		return nil
	}
	return optString(humanize(dir), true)
}

func ordinalOf(s source, relPath, title string) *int {
	meta := s.meta()
	if v, ok := meta.First("version", "ordinal"); ok {
		if n, ok := parseOrdinal(v); ok {
			return graph.Ptr(n)
		}
		if n, ok := ordinalFromName(v); ok {
			return graph.Ptr(n)
		}
	}
	if v, ok := meta.First("protocol", "family"); ok {
		if n, ok := ordinalFromName(v); ok {
			return graph.Ptr(n)
		}
	}
	if n, ok := ordinalFromName(stem(relPath)); ok {
		return graph.Ptr(n)
	}
	return optInt(ordinalFromName(title))
}

func deepDiveAttrs(s source, relPath, title string) *graph.DeepDiveAttrs {
	a := &graph.DeepDiveAttrs{
		Family:    familyOf(s, relPath),
		Ordinal:   ordinalOf(s, relPath, title),
		LineCount: graph.Ptr(s.lines()),
	}
	if v, ok := s.meta().First("summary", "description"); ok {
		a.Summary = optString(v, true)
	} else if s.doc != nil {
		a.Summary = optString(s.doc.Summary, true)
	}
	return a
}

func integrationAttrs(s source, relPath, title string) *graph.IntegrationAttrs {
	a := &graph.IntegrationAttrs{
		Family:    familyOf(s, relPath),
		Ordinal:   ordinalOf(s, relPath, title),
		LineCount: graph.Ptr(s.lines()),
	}
	if v, ok := s.meta().First("difficulty", "complexity", "level"); ok {
		a.Difficulty = optString(upperLabel(v))
	}
	return a
}

func protocolVersionAttrs(s source, relPath, title string) (*graph.ProtocolVersionAttrs, error) {
	a := &graph.ProtocolVersionAttrs{
		Family:  familyOf(s, relPath),
		Ordinal: ordinalOf(s, relPath, title),
	}
	meta := s.meta()
	var err error
	if v, ok := meta.First("release_date", "released", "date", "launch_date"); ok {
		if d, ok := parseReleaseDate(v); ok {
			a.ReleaseDate = graph.Ptr(d)
		} else {
			err = fmt.Errorf("unrecognized release date %q", v)
		}
	}
	a.Features = meta.List("features", "major_features")
	if a.Features == nil && s.doc != nil {
		a.Features = s.doc.SectionItems("features", "changes")
	}
	return a, err
}

func repositoryAttrs(s source) *graph.RepositoryAttrs {
	meta := s.meta()
	a := &graph.RepositoryAttrs{}
	if v, ok := meta.First("url", "github_url", "repository", "source"); ok {
		a.URL = optString(firstURL(v))
	}
	if a.URL == nil && s.doc != nil {
		a.URL = optString(firstURL(s.doc.Body))
	}
	if v, ok := meta.First("perspective", "focus"); ok {
		a.Perspective = optString(v, true)
	}
	if v, ok := meta.First("authority", "authority_level"); ok {
		a.Authority = optString(upperLabel(v))
	}
	a.Topics = meta.List("topics", "covers", "vulnerabilities")
	if s.doc != nil {
		if a.Topics == nil {
			a.Topics = s.doc.SectionItems("topics", "coverage", "vulnerabilities")
		}
		body := s.doc.Body
		if len(s.doc.Headings) > 0 {
			body = strings.Join(s.doc.Headings, "\n") + "\n" + body
		}
		a.Body = optString(body, true)
	}
	return a
}

func exampleAttrs(s source, relPath string) *graph.ExampleAttrs {
	meta := s.meta()
	a := &graph.ExampleAttrs{LineCount: graph.Ptr(s.lines())}

	if v, ok := meta.First("vulnerability", "vulnerability_name", "vulnerability_type"); ok {
		a.VulnerabilityName = optString(v, true)
	} else if dir := path.Base(path.Dir(relPath)); dir != "." && dir != "not-so-smart" && dir != "vulnerable" {
		a.VulnerabilityName = optString(humanize(dir), true)
	}
	if v, ok := meta.First("loss", "estimated_loss", "loss_usd"); ok {
		a.EstimatedLossUSD = optInt64(ParseLossUSD(v))
	}
	if v, ok := meta.First("exploit", "historical_exploit"); ok {
		a.HistoricalExploit = optString(v, true)
	}
	if s.sol != nil {
		a.SolidityVersion = optString(s.sol.CompilerVersion())
	}
	return a
}
