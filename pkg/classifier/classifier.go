package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

const (
	cannedConfidence   = 0.95
	simpleConfidence   = 0.85
	moderateConfidence = 0.70
	complexConfidence  = 0.80

	simpleThreshold  = -1.0
	complexThreshold = 1.0

	shortQuestionWords = 8
	longQuestionWords  = 20

	maxFastPathTables = 2
)

// Result is the routing decision for a question.
type Result struct {
	Complexity      Complexity `json:"complexity"`
	UseFastPath     bool       `json:"useFastPath"`
	Reason          string     `json:"reason"`
	EstimatedTables int        `json:"estimatedTables"`
	Confidence      float64    `json:"confidence"`
	Score           float64    `json:"score"`
}

// Config holds the domain vocabulary used for classification.
type Config struct {
	// CannedQuestions are known dashboard questions that always take the fast path.
	CannedQuestions []string
	// EntityKeywords are domain nouns that usually map to a table each.
	EntityKeywords []string
}

var DefaultEntityKeywords = []string{
	"customer", "shipment", "carrier", "route", "order", "claim", "ticket", "campaign",
	"product", "invoice", "payment", "booking",
}

// Classifier scores questions to decide between the fast path and the full agent.
type Classifier struct {
	canned   []string
	entities []string
}

func New(cfg Config) *Classifier {
	c := &Classifier{}
	for _, q := range cfg.CannedQuestions {
		if n := normalize(q); n != "" {
			c.canned = append(c.canned, n)
		}
	}
	entities := cfg.EntityKeywords
	if len(entities) == 0 {
		entities = DefaultEntityKeywords
	}
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		e = strings.ToLower(strings.TrimSpace(e))
		if _, ok := seen[e]; ok || e == "" {
			continue
		}
		seen[e] = struct{}{}
		c.entities = append(c.entities, e)
	}
	return c
}

var (
	wordRe        = regexp.MustCompile(`[a-z0-9']+`)
	listingRe     = regexp.MustCompile(`^(show|list|find|display)\b`)
	lookupRe      = regexp.MustCompile(`^what (is|are) the\b`)
	topNRe        = regexp.MustCompile(`\btop\s+(\d+|three|five|ten|twenty)\b`)
	timeSeriesRe  = regexp.MustCompile(`\b(monthly|weekly|quarterly|yearly|annually|year[- ]over[- ]year|yoy|month[- ]over[- ]month|seasonality|seasonal|over time|time series)\b`)
	causalRe      = regexp.MustCompile(`\b(why|how come|recommend\w*|should i|should we|what should|advise|suggest\w*)\b`)
	breakdownRe   = regexp.MustCompile(`\bby [a-z0-9_']+(?: [a-z0-9_']+)? and [a-z0-9_']+`)
	punctuationRe = regexp.MustCompile(`[?!.\s]+$`)
)

var aggregationWords = map[string]struct{}{
	"total": {}, "sum": {}, "count": {}, "average": {}, "avg": {},
	"max": {}, "min": {}, "maximum": {}, "minimum": {},
}

var analyticalStems = []string{
	"correlat", "trend", "forecast", "predict", "regress", "varian", "anomal", "distribut", "statistic", "analy",
}

var connectorWords = []string{"and", "or", "but", "except", "where", "if", "when"}

// Classify scores a question. Lower scores favour the fast path.
func (c *Classifier) Classify(question string) Result {
	text := normalize(question)
	words := wordRe.FindAllString(text, -1)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	var (
		score   float64
		reasons []string
	)
	add := func(weight float64, reason string) {
		score += weight
		reasons = append(reasons, reason)
	}

	if listingRe.MatchString(text) {
		add(-1, "simple listing request")
	}
	if lookupRe.MatchString(text) {
		add(-1, "direct lookup question")
	}
	if topNRe.MatchString(text) {
		add(-1, "top-N ranking")
	}
	for _, w := range words {
		if _, ok := aggregationWords[w]; ok {
			add(-0.5, "simple aggregation")
			break
		}
	}
	if len(words) < shortQuestionWords {
		add(-0.5, "short question")
	}

	if matched := matchStems(words, analyticalStems); len(matched) > 0 {
		add(1.5*float64(len(matched)), "analytical keywords: "+strings.Join(matched, ", "))
	}
	if timeSeriesRe.MatchString(text) {
		add(1, "time-series analysis")
	}
	connectors := 0
	for _, w := range connectorWords {
		if _, ok := wordSet[w]; ok {
			connectors++
		}
	}
	if connectors >= 3 {
		add(1, "multiple logical conditions")
	}
	if causalRe.MatchString(text) {
		add(1.5, "causal or advisory question")
	}
	if breakdownRe.MatchString(text) {
		add(1, "multi-level breakdown")
	}
	if len(words) > longQuestionWords {
		add(1, "long question")
	}

	entities := c.countEntities(wordSet)
	switch {
	case entities >= 3:
		add(1.5, fmt.Sprintf("involves %d entities", entities))
	case entities == 2:
		add(0.5, "involves 2 entities")
	}
	tables := entities
	if tables < 1 {
		tables = 1
	}

	if c.isCanned(text) {
		reasons = append([]string{"matches known question pattern"}, reasons...)
		return Result{
			Complexity:      Simple,
			UseFastPath:     true,
			Reason:          strings.Join(reasons, "; "),
			EstimatedTables: tables,
			Confidence:      cannedConfidence,
			Score:           score,
		}
	}

	reason := strings.Join(reasons, "; ")
	if reason == "" {
		reason = "no strong complexity signals"
	}

	res := Result{Reason: reason, EstimatedTables: tables, Score: score}
	switch {
	case score <= simpleThreshold:
		res.Complexity = Simple
		res.UseFastPath = true
		res.Confidence = simpleConfidence
	case score <= complexThreshold:
		res.Complexity = Moderate
		res.UseFastPath = tables <= maxFastPathTables
		res.Confidence = moderateConfidence
	default:
		res.Complexity = Complex
		res.UseFastPath = false
		res.Confidence = complexConfidence
	}
	return res
}

func (c *Classifier) isCanned(text string) bool {
	for _, q := range c.canned {
		if strings.Contains(text, q) {
			return true
		}
	}
	return false
}

func (c *Classifier) countEntities(words map[string]struct{}) int {
	n := 0
	for _, e := range c.entities {
		for _, form := range pluralForms(e) {
			if _, ok := words[form]; ok {
				n++
				break
			}
		}
	}
	return n
}

func pluralForms(word string) []string {
	forms := []string{word, word + "s", word + "es"}
	if strings.HasSuffix(word, "y") {
		forms = append(forms, strings.TrimSuffix(word, "y")+"ies")
	}
	return forms
}

// matchStems returns the first word matching each stem, one per stem.
func matchStems(words []string, stems []string) []string {
	var matched []string
	for _, stem := range stems {
		for _, w := range words {
			if strings.HasPrefix(w, stem) {
				matched = append(matched, w)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

// normalize lowercases, collapses whitespace and drops trailing punctuation.
func normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return punctuationRe.ReplaceAllString(s, "")
}
