package relevance

import (
	"regexp"
	"sort"
	"strings"
)

// riskDetector matches one known smart-contract risk idiom in source
// code. Detection is case-insensitive; the detector name doubles as a
// tag pattern fed back into corpus search.
type riskDetector struct {
	Name    string
	pattern *regexp.Regexp
}

func mustDetector(name, expr string) riskDetector {
	return riskDetector{Name: name, pattern: regexp.MustCompile(`(?i)` + expr)}
}

// riskDetectors is the fixed detector table. Entries are matched
// independently; a detector fires at most once per input.
var riskDetectors = []riskDetector{
	mustDetector("delegatecall", `\bdelegatecall\b`),
	mustDetector("selfdestruct", `\bselfdestruct\b|\bsuicide\s*\(`),
	mustDetector("timestamp-dependence", `block\.timestamp|\bnow\b`),
	mustDetector("block-number-dependence", `block\.number`),
	mustDetector("external-call", `\.call\s*\{|\.call\s*\(|\.call\.value`),
	mustDetector("send-transfer", `\.send\s*\(|\.transfer\s*\(`),
	mustDetector("tx-origin", `tx\.origin`),
	mustDetector("access-control", `onlyOwner|AccessControl|hasRole|Ownable`),
	mustDetector("unchecked-math", `\bunchecked\s*\{`),
	mustDetector("assembly", `\bassembly\s*\{`),
	mustDetector("mint", `\b_?mint\s*\(`),
	mustDetector("burn", `\b_?burn\s*\(`),
	mustDetector("oracle", `oracle|price[_ ]?feed|chainlink|latestAnswer|latestRoundData`),
	mustDetector("flashloan", `flash[_ ]?loan|flashBorrow|onFlashLoan`),
	mustDetector("proxy-upgrade", `upgradeTo|UUPS|TransparentUpgradeableProxy|\bproxy\b|\bimplementation\b`),
	mustDetector("reentrancy-guard", `nonReentrant|ReentrancyGuard`),
	mustDetector("signature", `ecrecover|ECDSA|permit\s*\(`),
	mustDetector("randomness", `blockhash|\bprevrandao\b|\bdifficulty\b`),
	mustDetector("low-level-create", `create2?\s*\(|\bnew\s+[A-Z]\w*\s*\{?\(`),
	mustDetector("eth-balance", `address\(this\)\.balance|msg\.value`),
}

// keywordVocabulary is the fixed set of protocol-domain terms scanned
// for by DeriveKeywords.
var keywordVocabulary = []string{
	"vault",
	"pool",
	"staking",
	"stake",
	"reward",
	"oracle",
	"liquidity",
	"swap",
	"lending",
	"borrow",
	"collateral",
	"liquidation",
	"governance",
	"voting",
	"timelock",
	"flashloan",
	"flash loan",
	"bridge",
	"auction",
	"vesting",
	"airdrop",
	"royalty",
	"escrow",
	"slippage",
}

// ExtractPatterns runs the fixed risk-detector table over source code
// and returns the sorted, deduplicated names of every detector that
// matched at least once. Order-independent and idempotent.
func ExtractPatterns(code string) []string {
	if code == "" {
		return nil
	}
	var matched []string
	for _, d := range riskDetectors {
		if d.pattern.MatchString(code) {
			matched = append(matched, d.Name)
		}
	}
	sort.Strings(matched)
	return matched
}

// DeriveKeywords scans source code for the fixed domain vocabulary and
// returns the deduplicated union of matched terms and any prior pattern
// names supplied by the caller, sorted.
func DeriveKeywords(code string, prior []string) []string {
	seen := make(map[string]struct{})
	lower := strings.ToLower(code)
	for _, term := range keywordVocabulary {
		if strings.Contains(lower, term) {
			seen[term] = struct{}{}
		}
	}
	for _, p := range prior {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}
