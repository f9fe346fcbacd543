package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleContract = `
pragma solidity ^0.8.0;

contract Vault {
    function migrate(address target) external onlyOwner {
        (bool ok, ) = target.delegatecall(msg.data);
        require(ok);
    }

    function close() external {
        require(block.timestamp > deadline);
        selfdestruct(payable(owner));
    }
}
`

func TestExtractPatterns(t *testing.T) {
	patterns := ExtractPatterns(sampleContract)
	assert.Contains(t, patterns, "delegatecall")
	assert.Contains(t, patterns, "selfdestruct")
	assert.Contains(t, patterns, "timestamp-dependence")
	assert.Contains(t, patterns, "access-control")
	assert.NotContains(t, patterns, "flashloan")
}

func TestExtractPatternsIdempotent(t *testing.T) {
	first := ExtractPatterns(sampleContract)
	second := ExtractPatterns(sampleContract)
	assert.Equal(t, first, second)

	// Irrelevant whitespace does not change the result
	reshuffled := "\n\n  " + sampleContract + "\t\n"
	assert.Equal(t, first, ExtractPatterns(reshuffled))
}

func TestExtractPatternsCaseInsensitive(t *testing.T) {
	patterns := ExtractPatterns("TARGET.DELEGATECALL(DATA)")
	assert.Contains(t, patterns, "delegatecall")
}

func TestExtractPatternsEmpty(t *testing.T) {
	assert.Empty(t, ExtractPatterns(""))
	assert.Empty(t, ExtractPatterns("function add(uint a, uint b) pure returns (uint) { return a + b; }"))
}

func TestDeriveKeywords(t *testing.T) {
	code := "contract StakingPool { // manages liquidity and a price oracle }"
	keywords := DeriveKeywords(code, nil)
	assert.Contains(t, keywords, "staking")
	assert.Contains(t, keywords, "pool")
	assert.Contains(t, keywords, "liquidity")
	assert.Contains(t, keywords, "oracle")
	assert.NotContains(t, keywords, "timelock")
}

func TestDeriveKeywordsMergesPriorPatterns(t *testing.T) {
	keywords := DeriveKeywords("contract Vault {}", []string{"delegatecall", "VAULT", ""})
	assert.Contains(t, keywords, "vault")
	assert.Contains(t, keywords, "delegatecall")

	// Deduplicated: "vault" appears once despite matching both sources
	count := 0
	for _, k := range keywords {
		if k == "vault" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
