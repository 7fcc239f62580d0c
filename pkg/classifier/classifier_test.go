package classifier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCanned = []string{
	"What is our total revenue this month?",
	"How many shipments are in transit",
	"Which carrier has the best on-time rate",
}

func newTestClassifier() *Classifier {
	return New(Config{CannedQuestions: testCanned})
}

func TestAskData_Classifier_Classify(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()

	tests := []struct {
		name       string
		question   string
		complexity Complexity
		fastPath   bool
		tables     int
		confidence float64
		reason     string
	}{
		{
			name:       "top-N listing is simple",
			question:   "Show me top 5 customers by revenue",
			complexity: Simple,
			fastPath:   true,
			tables:     1,
			confidence: 0.85,
			reason:     "simple listing request; top-N ranking; short question",
		},
		{
			name:       "causal seasonal question is complex",
			question:   "Why are routes X and Y failing and what should we do, considering seasonality and carrier performance?",
			complexity: Complex,
			fastPath:   false,
			tables:     2,
			confidence: 0.80,
			reason:     "time-series analysis; causal or advisory question; involves 2 entities",
		},
		{
			name:       "two entities is moderate on the fast path",
			question:   "How many shipments did each carrier handle last month",
			complexity: Moderate,
			fastPath:   true,
			tables:     2,
			confidence: 0.70,
			reason:     "involves 2 entities",
		},
		{
			name:       "three entities is moderate on the full agent",
			question:   "Show customers with shipments and claims",
			complexity: Moderate,
			fastPath:   false,
			tables:     3,
			confidence: 0.70,
			reason:     "simple listing request; short question; involves 3 entities",
		},
		{
			name:       "no signals",
			question:   "hello there friend how are you doing today",
			complexity: Moderate,
			fastPath:   true,
			tables:     1,
			confidence: 0.70,
			reason:     "no strong complexity signals",
		},
		{
			name:       "analytical keywords",
			question:   "Is there a correlation between transit time and claims, and what is the trend?",
			complexity: Complex,
			fastPath:   false,
			tables:     1,
			confidence: 0.80,
			reason:     "analytical keywords: correlation, trend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify(tt.question)
			assert.Equal(t, tt.complexity, got.Complexity)
			assert.Equal(t, tt.fastPath, got.UseFastPath)
			assert.Equal(t, tt.tables, got.EstimatedTables)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestAskData_Classifier_CannedOverride(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	noise := []string{
		"%s",
		"Please tell me: %s",
		"%s and analyze the correlation with forecast variance, then explain why and what should we recommend to customers, carriers and routes",
		"  %s  ",
	}
	for _, q := range testCanned {
		for _, n := range noise {
			question := fmt.Sprintf(n, q)
			got := c.Classify(question)
			require.Equal(t, Simple, got.Complexity, question)
			require.True(t, got.UseFastPath, question)
			require.InDelta(t, 0.95, got.Confidence, 1e-9, question)
			require.Contains(t, got.Reason, "matches known question pattern", question)
			assert.Equal(t, 0, strings.Index(got.Reason, "matches known question pattern"), question)
		}
	}
}

func TestAskData_Classifier_Monotonicity(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	bases := []string{
		"Show me top 5 customers by revenue",
		"List orders",
		"What is the average transit time for shipments to Pebble Beach",
		"How many claims did we get",
		"Which routes had the most late deliveries last quarter by carrier and region",
		"Why did revenue drop",
	}
	suffixes := []string{
		" and analyze the trend",
		" and forecast next quarter",
		" and check for anomalies",
		" and show the distribution",
	}
	for _, base := range bases {
		prev := c.Classify(base).Score
		for _, s := range suffixes {
			next := c.Classify(base + s).Score
			assert.GreaterOrEqual(t, next, prev, "appending %q to %q", s, base)
		}
	}
}

func TestAskData_Classifier_Deterministic(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	q := "Compare monthly revenue by carrier and service level for repeat customers"
	assert.Equal(t, c.Classify(q), c.Classify(q))
}

func TestAskData_Classifier_EntityKeywords(t *testing.T) {
	t.Parallel()

	c := New(Config{EntityKeywords: []string{"beer", "batch", "tank", "Tank", "distributor"}})
	got := c.Classify("Which beers from which batches sat in each tank for the longest time")
	assert.Equal(t, 3, got.EstimatedTables)
	assert.Contains(t, got.Reason, "involves 3 entities")

	got = c.Classify("Show me distributors")
	assert.Equal(t, 1, got.EstimatedTables)
}
