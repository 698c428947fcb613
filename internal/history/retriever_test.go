package history

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Malowking/mcp-sentinel/internal/store"
	"go.uber.org/zap"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) GetEmbedding(_ context.Context, _ string) ([]float32, error) {
	return s.vec, s.err
}

type stubIndex struct {
	neighbors []Neighbor
	searchErr error
	addErr    error
	addedID   string
	nextID    int64
}

func (s *stubIndex) Add(_ context.Context, _ []float32, associatedID string) (int64, error) {
	if s.addErr != nil {
		return 0, s.addErr
	}
	s.addedID = associatedID
	s.nextID++
	return s.nextID, nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, _ int) ([]Neighbor, error) {
	return s.neighbors, s.searchErr
}

type stubCaseStore struct {
	records []*store.ToolCallRecord
	err     error
}

func (s *stubCaseStore) GetRecordsByRequestIDs(_ context.Context, _ []string) ([]*store.ToolCallRecord, error) {
	return s.records, s.err
}

func record(requestID, userID, tool string, risk float64) *store.ToolCallRecord {
	return &store.ToolCallRecord{RequestID: requestID, UserID: userID, ToolName: tool, RiskScore: risk}
}

func newTestRetriever(e Embedder, ix Index, cs CaseStore) *Retriever {
	return NewRetriever(e, ix, cs, DefaultConfig(), zap.NewNop())
}

func TestRetrieveFiltersByThresholdAndSorts(t *testing.T) {
	// d=0.1 -> s~0.909, d=0.3 -> s~0.769, d=0.5 -> s~0.667 (below 0.75).
	ix := &stubIndex{neighbors: []Neighbor{
		{AssociatedID: "req-b", Distance: 0.3},
		{AssociatedID: "req-a", Distance: 0.1},
		{AssociatedID: "req-c", Distance: 0.5},
	}}
	cs := &stubCaseStore{records: []*store.ToolCallRecord{
		record("req-a", "u1", "get_weather", 0.1),
		record("req-b", "u1", "get_weather", 0.2),
		record("req-c", "u1", "get_weather", 0.3),
	}}
	r := newTestRetriever(&stubEmbedder{vec: []float32{1}}, ix, cs)

	cases := r.RetrieveSimilarCases(context.Background(), "weather?", "")
	if len(cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(cases))
	}
	if cases[0].Record.RequestID != "req-a" || cases[1].Record.RequestID != "req-b" {
		t.Fatalf("order = %s, %s; want req-a, req-b", cases[0].Record.RequestID, cases[1].Record.RequestID)
	}
	if cases[0].Similarity <= cases[1].Similarity {
		t.Fatalf("similarities not descending: %f then %f", cases[0].Similarity, cases[1].Similarity)
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	var neighbors []Neighbor
	var records []*store.ToolCallRecord
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		neighbors = append(neighbors, Neighbor{AssociatedID: id, Distance: 0.01 * float64(i)})
		records = append(records, record(id, "u1", "get_weather", 0.1))
	}
	r := newTestRetriever(&stubEmbedder{vec: []float32{1}}, &stubIndex{neighbors: neighbors}, &stubCaseStore{records: records})

	cases := r.RetrieveSimilarCases(context.Background(), "q", "")
	if len(cases) != 5 {
		t.Fatalf("cases = %d, want top 5", len(cases))
	}
	// An exact match sits at distance 0 and must score similarity 1.
	if cases[0].Distance != 0 || cases[0].Similarity != 1.0 {
		t.Fatalf("d=%f s=%f, want d=0 s=1.0", cases[0].Distance, cases[0].Similarity)
	}
}

func TestRetrieveFiltersByUser(t *testing.T) {
	ix := &stubIndex{neighbors: []Neighbor{
		{AssociatedID: "req-a", Distance: 0.1},
		{AssociatedID: "req-b", Distance: 0.1},
	}}
	cs := &stubCaseStore{records: []*store.ToolCallRecord{
		record("req-a", "alice", "get_weather", 0.1),
		record("req-b", "bob", "get_weather", 0.1),
	}}
	r := newTestRetriever(&stubEmbedder{vec: []float32{1}}, ix, cs)

	cases := r.RetrieveSimilarCases(context.Background(), "q", "alice")
	if len(cases) != 1 || cases[0].Record.UserID != "alice" {
		t.Fatalf("expected only alice's case, got %d", len(cases))
	}
}

func TestRetrieveDegradesOnFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		r    *Retriever
	}{
		{"embedding error", newTestRetriever(&stubEmbedder{err: boom}, &stubIndex{}, &stubCaseStore{})},
		{"search error", newTestRetriever(&stubEmbedder{vec: []float32{1}}, &stubIndex{searchErr: boom}, &stubCaseStore{})},
		{"store error", newTestRetriever(&stubEmbedder{vec: []float32{1}}, &stubIndex{neighbors: []Neighbor{{AssociatedID: "x"}}}, &stubCaseStore{err: boom})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if cases := tt.r.RetrieveSimilarCases(context.Background(), "q", ""); len(cases) != 0 {
				t.Fatalf("cases = %d, want 0", len(cases))
			}
		})
	}
}

func TestStoreQuestionEmbedding(t *testing.T) {
	ix := &stubIndex{}
	r := newTestRetriever(&stubEmbedder{vec: []float32{1}}, ix, &stubCaseStore{})
	if id := r.StoreQuestionEmbedding(context.Background(), "q", "req-1"); id == StoreFailureID {
		t.Fatal("expected success")
	}
	if ix.addedID != "req-1" {
		t.Fatalf("addedID = %q, want req-1", ix.addedID)
	}

	failing := newTestRetriever(&stubEmbedder{err: errors.New("boom")}, ix, &stubCaseStore{})
	if id := failing.StoreQuestionEmbedding(context.Background(), "q", "req-2"); id != StoreFailureID {
		t.Fatalf("id = %d, want sentinel", id)
	}
	failingIndex := newTestRetriever(&stubEmbedder{vec: []float32{1}}, &stubIndex{addErr: errors.New("boom")}, &stubCaseStore{})
	if id := failingIndex.StoreQuestionEmbedding(context.Background(), "q", "req-3"); id != StoreFailureID {
		t.Fatalf("id = %d, want sentinel", id)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := Analyze(nil)
	if a.HasHistory {
		t.Fatal("HasHistory should be false")
	}
	if a.RiskIndication != IndicationUnknown {
		t.Fatalf("indication = %q, want unknown", a.RiskIndication)
	}
}

func TestAnalyzeHighRiskMajority(t *testing.T) {
	cases := []Case{
		{Record: record("a", "u", "delete_file", 0.9)},
		{Record: record("b", "u", "delete_file", 0.8)},
		{Record: record("c", "u", "get_weather", 0.1)},
	}
	if a := Analyze(cases); a.RiskIndication != IndicationHigh {
		t.Fatalf("indication = %q, want high", a.RiskIndication)
	}
}

func TestAnalyzeMediumOnRejections(t *testing.T) {
	yes, no := true, false
	recA := record("a", "u", "send_email", 0.3)
	recA.UserConfirmed = &no
	recB := record("b", "u", "send_email", 0.3)
	recB.UserConfirmed = &yes
	recC := record("c", "u", "send_email", 0.3)
	recC.UserConfirmed = &no

	a := Analyze([]Case{{Record: recA}, {Record: recB}, {Record: recC}})
	if a.RiskIndication != IndicationMedium {
		t.Fatalf("indication = %q, want medium", a.RiskIndication)
	}
}

func TestAnalyzeMediumOnExecutionFailure(t *testing.T) {
	failed := false
	rec := record("a", "u", "query_db", 0.2)
	rec.ExecutionSuccess = &failed
	if a := Analyze([]Case{{Record: rec}}); a.RiskIndication != IndicationMedium {
		t.Fatalf("indication = %q, want medium", a.RiskIndication)
	}
}

func TestAnalyzeHighBeatsMedium(t *testing.T) {
	no := false
	recA := record("a", "u", "drop_table", 0.95)
	recA.UserConfirmed = &no
	recB := record("b", "u", "drop_table", 0.95)
	a := Analyze([]Case{{Record: recA}, {Record: recB}})
	if a.RiskIndication != IndicationHigh {
		t.Fatalf("indication = %q, want high", a.RiskIndication)
	}
}

func TestAnalyzePatternCounts(t *testing.T) {
	no, failed := false, false
	recA := record("a", "u", "delete_file", 0.9)
	recB := record("b", "u", "delete_file", 0.3)
	recB.UserConfirmed = &no
	recC := record("c", "u", "delete_file", 0.3)
	recC.ExecutionSuccess = &failed

	a := Analyze([]Case{{Record: recA}, {Record: recB}, {Record: recC}})
	want := []string{
		"1/3 similar operations were marked high-risk",
		"1 similar operations were rejected by the user",
		"1 similar operations failed during execution",
	}
	if !reflect.DeepEqual(a.CommonPatterns, want) {
		t.Fatalf("patterns = %v, want %v", a.CommonPatterns, want)
	}
}

func TestAnalyzePreferenceRequiresDominance(t *testing.T) {
	yes, no := true, false
	confirmedOnce := record("a", "u", "delete_file", 0.3)
	confirmedOnce.UserConfirmed = &yes
	rejectedA := record("b", "u", "delete_file", 0.3)
	rejectedA.UserConfirmed = &no
	rejectedB := record("c", "u", "delete_file", 0.3)
	rejectedB.UserConfirmed = &no

	a := Analyze([]Case{{Record: confirmedOnce}, {Record: rejectedA}, {Record: rejectedB}})
	if len(a.UserPreferences) != 1 || !strings.Contains(a.UserPreferences[0], "usually rejects") {
		t.Fatalf("preferences = %v, rejections dominate so the hint must say rejects", a.UserPreferences)
	}
	if !containsSubstring(a.CommonPatterns, "2 similar operations were rejected") {
		t.Fatalf("patterns = %v, want a rejection count", a.CommonPatterns)
	}

	tied := Analyze([]Case{{Record: confirmedOnce}, {Record: rejectedA}})
	if len(tied.UserPreferences) != 0 {
		t.Fatalf("preferences = %v, want none on a tie", tied.UserPreferences)
	}

	confirmedTwice := record("d", "u", "get_weather", 0.1)
	confirmedTwice.UserConfirmed = &yes
	approving := Analyze([]Case{{Record: confirmedOnce}, {Record: confirmedTwice}})
	if len(approving.UserPreferences) != 1 || !strings.Contains(approving.UserPreferences[0], "usually confirms") {
		t.Fatalf("preferences = %v, confirmations dominate so the hint must say confirms", approving.UserPreferences)
	}
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
