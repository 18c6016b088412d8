package testutil

import "kgindex/internal/graph"

// ReentrancyIDs are the entity ids produced by WriteReentrancy.
type ReentrancyIDs struct {
	Guide   string
	Example string
	Sources []string
}

// All returns every id of the scenario, sorted.
func (r ReentrancyIDs) All() []string {
	ids := append([]string{r.Guide}, r.Sources...)
	return append(ids, r.Example)
}

const reentrancyGuide = `---
severity: critical
estimated_loss: $150M
cwe: CWE-841
keywords: [external calls, checks-effects-interactions]
---
# Reentrancy Attacks

A contract that calls out before updating its own state can be re-entered and drained.

## Prevention
- Update balances before the external call
- Add a mutex modifier to withdraw functions
`

const reentrancyExample = `// SPDX-License-Identifier: MIT
pragma solidity ^0.4.24;

/// @title SimpleDAO
/// @notice Sends ether before zeroing the sender balance.
/// @custom:exploit The DAO, June 2016
/// @custom:loss $60M
contract SimpleDAO {
    mapping(address => uint) public credit;

    function withdraw(uint amount) public {
        if (credit[msg.sender] >= amount) {
            require(msg.sender.call.value(amount)());
            credit[msg.sender] -= amount;
        }
    }
}
`

var reentrancySources = []struct {
	rel, body string
}{
	{"sources/building-secure-contracts.md", `# Building Secure Contracts

**Perspective:** Auditor
**Authority:** High
**URL:** https://github.com/crytic/building-secure-contracts

## Topics
- Reentrancy
- Access control
`},
	{"sources/consensys-best-practices.md", `# ConsenSys Best Practices

**Perspective:** Developer
**Authority:** High
**URL:** https://github.com/ConsenSys/smart-contract-best-practices

Covers known attacks such as reentrancy, front-running and timestamp dependence.
`},
	{"sources/solcurity.md", `# Solcurity Standard

**Perspective:** Reviewer
**Authority:** Medium
**URL:** https://github.com/transmissions11/solcurity

## Topics
- Reentrancy
- Gas griefing
`},
}

// WriteReentrancy writes a guide, a vulnerable example and three research
// sources about reentrancy. Inference yields one DEMONSTRATES edge and three
// PROVIDES_PERSPECTIVE edges, all pointing at the guide.
func WriteReentrancy(c *Corpus) ReentrancyIDs {
	ids := ReentrancyIDs{
		Guide:   graph.EntityID(graph.TypeGuide, Curated, "03-attack-prevention/reentrancy.md"),
		Example: graph.EntityID(graph.TypeExample, Curated, "repos/not-so-smart/reentrancy/SimpleDAO.sol"),
	}
	c.Write(Curated, "03-attack-prevention/reentrancy.md", reentrancyGuide)
	c.Write(Curated, "repos/not-so-smart/reentrancy/SimpleDAO.sol", reentrancyExample)
	for _, s := range reentrancySources {
		c.Write(Research, s.rel, s.body)
		ids.Sources = append(ids.Sources, graph.EntityID(graph.TypeRepository, Research, s.rel))
	}
	return ids
}

// UniswapIDs are the entity ids produced by WriteUniswap.
type UniswapIDs struct {
	V2, V3, V4  string
	DeepDive    string
	Integration string
}

// WriteUniswap writes three protocol versions of one family plus a V3
// deep-dive and a V3 integration guide.
func WriteUniswap(c *Corpus) UniswapIDs {
	versions := []struct {
		rel, body string
	}{
		{"protocols/uniswap/v2.md", "---\nfamily: Uniswap\nrelease_date: 2020-05-18\n---\n# Uniswap V2\n\n## Features\n- ERC20 pairs\n- Flash swaps\n"},
		{"protocols/uniswap/v3.md", "---\nfamily: Uniswap\nrelease_date: 2021-05-05\n---\n# Uniswap V3\n\n## Features\n- Concentrated liquidity\n- Multiple fee tiers\n"},
		{"protocols/uniswap/v4.md", "---\nfamily: Uniswap\nrelease_date: 2025-01-31\n---\n# Uniswap V4\n\n## Features\n- Hooks\n- Singleton pool manager\n"},
	}
	for _, v := range versions {
		c.Write(Curated, v.rel, v.body)
	}
	c.Write(Curated, "repos/uniswap/uniswap-v3-deep-dive.md",
		"# Uniswap V3 Deep Dive\n\nHow ticks and concentrated liquidity positions work.\n")
	c.Write(Curated, "repos/uniswap/uniswap-v3-integration.md",
		"# Integrating Uniswap V3\n\n**Difficulty:** Advanced\n\nSwapping through the router from a vault.\n")

	return UniswapIDs{
		V2:          graph.EntityID(graph.TypeProtocolVersion, Curated, "protocols/uniswap/v2.md"),
		V3:          graph.EntityID(graph.TypeProtocolVersion, Curated, "protocols/uniswap/v3.md"),
		V4:          graph.EntityID(graph.TypeProtocolVersion, Curated, "protocols/uniswap/v4.md"),
		DeepDive:    graph.EntityID(graph.TypeDeepDive, Curated, "repos/uniswap/uniswap-v3-deep-dive.md"),
		Integration: graph.EntityID(graph.TypeIntegration, Curated, "repos/uniswap/uniswap-v3-integration.md"),
	}
}
