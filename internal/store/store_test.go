package store

import (
	"context"
	"path/filepath"
	"testing"

	"coursemap/internal/catalog"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntries() []catalog.MasterCatalogEntry {
	return []catalog.MasterCatalogEntry{
		{Code: "1200310", Title: "Algebra 1", ProgramArea: "Mathematics", GradeLevel: "9-12"},
		{Code: "2000310", Title: "Biology 1", ProgramArea: "Science", GradeLevel: "9-12"},
	}
}

func testRecords() []catalog.CourseRecord {
	return []catalog.CourseRecord{
		{
			Category: "Mathematics", Name: "Algebra I", Code: "1200310",
			GradeLevel: "9", Length: "Year", Prerequisite: "-", Credit: "1.0",
			Details: "-", Description: "First-year algebra.", SourceFile: "catalog.pdf",
		},
		{
			Category: "Science", Name: "Intro Biology", Code: "-",
			GradeLevel: "10", Length: "Year", Prerequisite: "-", Credit: "1.0",
			Details: "-", Description: "-", SourceFile: "catalog.pdf",
		},
	}
}

func TestImportCatalogReplacesWholesale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ImportCatalog(ctx, testEntries()))
	entries, err := s.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Re-import with a different set; the old rows must be gone.
	replacement := []catalog.MasterCatalogEntry{{Code: "0100335", Title: "Ceramics 2"}}
	require.NoError(t, s.ImportCatalog(ctx, replacement))

	entries, err = s.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0100335", entries[0].Code)
}

func TestImportCatalogSkipsEmptyCodes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := append(testEntries(), catalog.MasterCatalogEntry{Code: "", Title: "No Code"})
	require.NoError(t, s.ImportCatalog(ctx, entries))

	got, err := s.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtractionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	records := testRecords()

	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", records))

	got, err := s.GetExtractionRecords(ctx, "ext-1")
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("records round trip mismatch (-want +got):\n%s", diff)
	}

	summaries, err := s.ListExtractions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "ext-1", summaries[0].ID)
	assert.Equal(t, "catalog.pdf", summaries[0].SourceFile)
	assert.Equal(t, 2, summaries[0].RecordCount)
}

func TestGetExtractionRecordsUnknownID(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetExtractionRecords(context.Background(), "no-such")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApplyMappingTouchesOnlyMappingColumns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	records := testRecords()
	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", records))

	result := catalog.MappingResult{
		RecordKey:    records[0].Key(),
		Code:         "1200310",
		ProgramArea:  "Mathematics",
		Status:       catalog.StatusMapped,
		Method:       catalog.MethodCodeMatch,
		Confidence:   100,
		Reasoning:    "exact code",
		Alternatives: []string{"1200320"},
	}
	require.NoError(t, s.ApplyMapping(ctx, "ext-1", result))

	// Pristine record fields survive the update byte for byte.
	got, err := s.GetExtractionRecords(ctx, "ext-1")
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("pristine fields changed (-want +got):\n%s", diff)
	}

	mapped, err := s.ListMappedRecords(ctx, "ext-1")
	require.NoError(t, err)
	require.Len(t, mapped, 2)

	first := mapped[0]
	assert.Equal(t, catalog.StatusMapped, first.Status)
	assert.Equal(t, "1200310", first.MappedCode)
	assert.Equal(t, catalog.MethodCodeMatch, first.Method)
	assert.Equal(t, 100, first.Confidence)
	assert.Equal(t, []string{"1200320"}, first.Alternatives)

	second := mapped[1]
	assert.Equal(t, catalog.StatusUnmapped, second.Status)
	assert.Empty(t, second.MappedCode)
}

func TestApplyMappingUnknownRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", testRecords()))

	err := s.ApplyMapping(ctx, "ext-1", catalog.MappingResult{
		RecordKey: "nope|nope|nope",
		Code:      "1200310",
		Status:    catalog.StatusMapped,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no record")
}

func TestApplyMappingOverwritesPriorMapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	records := testRecords()
	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", records))

	key := records[1].Key()
	first := catalog.MappingResult{
		RecordKey: key, Code: "2000310", Status: catalog.StatusFlaggedForReview,
		Method: catalog.MethodSemanticMatch, Confidence: 60,
	}
	require.NoError(t, s.ApplyMapping(ctx, "ext-1", first))

	second := catalog.MappingResult{
		RecordKey: key, Code: "2000310", Status: catalog.StatusMapped,
		Method: catalog.MethodSemanticMatch, Confidence: 92,
	}
	require.NoError(t, s.ApplyMapping(ctx, "ext-1", second))

	mapped, err := s.ListMappedRecords(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMapped, mapped[1].Status)
	assert.Equal(t, 92, mapped[1].Confidence)
}

func TestResetMappingsClearsMappingColumnsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	records := testRecords()
	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", records))

	require.NoError(t, s.ApplyMapping(ctx, "ext-1", catalog.MappingResult{
		RecordKey:  records[0].Key(),
		Code:       "1200310",
		Status:     catalog.StatusMapped,
		Method:     catalog.MethodCodeMatch,
		Confidence: 100,
	}))
	require.NoError(t, s.ResetMappings(ctx, "ext-1"))

	mapped, err := s.ListMappedRecords(ctx, "ext-1")
	require.NoError(t, err)
	for _, m := range mapped {
		assert.Equal(t, catalog.StatusUnmapped, m.Status)
		assert.Empty(t, m.MappedCode)
		assert.Zero(t, m.Confidence)
	}

	// Pristine record fields survive the reset.
	got, err := s.GetExtractionRecords(ctx, "ext-1")
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("pristine fields changed (-want +got):\n%s", diff)
	}
}

func TestSessionStatsAuditTrail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", testRecords()))

	first := catalog.MappingStats{TotalProcessed: 2, NewlyMapped: 1, StillUnmapped: 1}
	second := catalog.MappingStats{TotalProcessed: 2, NewlyMapped: 2,
		Warnings: []string{"confidence distribution anomaly"}}
	require.NoError(t, s.SaveSessionStats(ctx, "ext-1", first))
	require.NoError(t, s.SaveSessionStats(ctx, "ext-1", second))

	sessions, err := s.ListSessions(ctx, "ext-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Newest first, both payloads intact.
	if diff := cmp.Diff(second, sessions[0].Stats); diff != "" {
		t.Errorf("latest session stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, sessions[1].Stats); diff != "" {
		t.Errorf("earlier session stats mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursemap.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.ImportCatalog(ctx, testEntries()))
	require.NoError(t, s.SaveExtraction(ctx, "ext-1", "catalog.pdf", testRecords()))
	require.NoError(t, s.Close())

	// Reopen runs initialize and migrations again; both must be no-ops
	// on an up-to-date database.
	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	entries, err := s2.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	records, err := s2.GetExtractionRecords(ctx, "ext-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
