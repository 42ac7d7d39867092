package guardrails

import "regexp"

type rule struct {
	source string
	re     *regexp.Regexp
}

func compile(sources ...string) []rule {
	rules := make([]rule, 0, len(sources))
	for _, src := range sources {
		rules = append(rules, rule{source: src, re: regexp.MustCompile("(?i)" + src)})
	}
	return rules
}

// payoutRules match promises of money or claim outcomes the agent is
// never allowed to make.
var payoutRules = compile(
	`you\s+will\s+receive\s+\$?\d+`,
	`your\s+claim\s+(?:is|has been)\s+approved`,
	`we\s+(?:will|shall)\s+pay\s+(?:you\s+)?\$?\d+`,
	`guaranteed\s+(?:payout|payment|coverage)`,
	`I\s+(?:can\s+)?confirm\s+(?:your\s+)?(?:claim|payout)`,
	`(?:full|complete|total)\s+reimbursement\s+of`,
	`entitled\s+to\s+\$?\d+`,
)

// offTopicRules match advice outside insurance support.
var offTopicRules = compile(
	`(?:stock|crypto|bitcoin|investment)\s+(?:advice|tips|recommendation)`,
	`(?:political|election|vote)\s+(?:opinion|view)`,
	`(?:medical|health)\s+(?:diagnosis|prescription)`,
	`(?:legal)\s+(?:advice|opinion)`,
)

var toxicityKeywords = []string{
	"kill", "murder", "attack", "threaten", "bomb", "weapon",
	"hate", "racist", "sexist",
}
