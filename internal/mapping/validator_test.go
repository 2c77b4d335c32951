package mapping

import (
	"testing"

	"coursemap/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validatorFixture(threshold int) (*Validator, catalog.CourseRecord) {
	rec := catalog.CourseRecord{Category: "Math", Name: "Algebra I", GradeLevel: "9"}
	codes := catalog.NewValidCodeSet([]catalog.MasterCatalogEntry{
		{Code: "1200310", Title: "Algebra 1", ProgramArea: "Mathematics"},
		{Code: "1200320", Title: "Algebra 1 Honors", ProgramArea: "Mathematics"},
	})
	return NewValidator([]catalog.CourseRecord{rec}, codes, threshold), rec
}

func TestValidateAcceptsKnownCode(t *testing.T) {
	v, rec := validatorFixture(75)

	res, err := v.Validate(catalog.MappingCandidate{
		RecordKey:  rec.Key(),
		RecordName: rec.Name,
		Code:       "1200310",
		Method:     catalog.MethodSemanticMatch,
		Confidence: 92,
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusMapped, res.Status)
	assert.Equal(t, "1200310", res.Code)
	assert.Equal(t, "Mathematics", res.ProgramArea, "program area defaults from catalog entry")
}

func TestValidateFlagsBelowThreshold(t *testing.T) {
	v, rec := validatorFixture(75)

	res, err := v.Validate(catalog.MappingCandidate{
		RecordKey:  rec.Key(),
		RecordName: rec.Name,
		Code:       "1200310",
		Method:     catalog.MethodSemanticMatch,
		Confidence: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFlaggedForReview, res.Status)
}

// The core safety invariant: a code absent from the catalog is rejected
// entirely, regardless of its claimed confidence.
func TestValidateRejectsHallucinatedCode(t *testing.T) {
	v, rec := validatorFixture(75)

	hallucinated := []struct {
		code       string
		confidence int
	}{
		{"9999999", 100},
		{"FAKE-001", 99},
		{"1200311", 95}, // one digit off a real code
		{"", 90},
	}
	for _, h := range hallucinated {
		_, err := v.Validate(catalog.MappingCandidate{
			RecordKey:  rec.Key(),
			RecordName: rec.Name,
			Code:       h.code,
			Method:     catalog.MethodSemanticMatch,
			Confidence: h.confidence,
		})
		require.Error(t, err, "code %q must be rejected", h.code)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	}
}

func TestValidateRejectsUnknownRecord(t *testing.T) {
	v, _ := validatorFixture(75)

	_, err := v.Validate(catalog.MappingCandidate{
		RecordKey:  "science|fabricated course|10",
		RecordName: "Fabricated Course",
		Code:       "1200310",
		Method:     catalog.MethodSemanticMatch,
		Confidence: 95,
	})
	require.Error(t, err, "suggestions for records outside the batch must be rejected")
}

func TestValidateRejectsBadShape(t *testing.T) {
	v, rec := validatorFixture(75)

	base := catalog.MappingCandidate{
		RecordKey:  rec.Key(),
		RecordName: rec.Name,
		Code:       "1200310",
		Method:     catalog.MethodSemanticMatch,
		Confidence: 90,
	}

	overConf := base
	overConf.Confidence = 101
	_, err := v.Validate(overConf)
	assert.Error(t, err, "confidence above 100")

	negConf := base
	negConf.Confidence = -1
	_, err = v.Validate(negConf)
	assert.Error(t, err, "negative confidence")

	badMethod := base
	badMethod.Method = "GUESSED"
	_, err = v.Validate(badMethod)
	assert.Error(t, err, "unknown method")
}

// Property check with adversarial candidates: every result that comes
// out mapped or flagged carries a code from the valid set.
func TestValidateAllSafetyInvariant(t *testing.T) {
	records := []catalog.CourseRecord{
		{Category: "Math", Name: "Algebra I", GradeLevel: "9"},
		{Category: "Sci", Name: "Biology", GradeLevel: "10"},
		{Category: "Art", Name: "Ceramics", GradeLevel: "11"},
	}
	codes := catalog.NewValidCodeSet([]catalog.MasterCatalogEntry{
		{Code: "1200310"}, {Code: "2000310"}, {Code: "0100335"},
	})
	v := NewValidator(records, codes, 75)

	candidates := []catalog.MappingCandidate{
		{RecordKey: records[0].Key(), RecordName: "Algebra I", Code: "1200310", Method: catalog.MethodCodeMatch, Confidence: 100},
		{RecordKey: records[1].Key(), RecordName: "Biology", Code: "INVENTED1", Method: catalog.MethodSemanticMatch, Confidence: 99},
		{RecordKey: records[1].Key(), RecordName: "Biology", Code: "2000310", Method: catalog.MethodSemanticMatch, Confidence: 55},
		{RecordKey: records[2].Key(), RecordName: "Ceramics", Code: "0100335'; DROP TABLE", Method: catalog.MethodSemanticMatch, Confidence: 80},
		{RecordKey: "nope", RecordName: "Ghost", Code: "1200310", Method: catalog.MethodSemanticMatch, Confidence: 100},
	}

	results, errs := v.ValidateAll(candidates)
	assert.Len(t, errs, 3, "hallucinated code, injected code, unknown record")
	for _, r := range results {
		assert.True(t, codes.Contains(r.Code),
			"result code %q escaped the valid-code set", r.Code)
	}
}

func TestValidateFiltersAlternatives(t *testing.T) {
	v, rec := validatorFixture(75)

	res, err := v.Validate(catalog.MappingCandidate{
		RecordKey:    rec.Key(),
		RecordName:   rec.Name,
		Code:         "1200310",
		Method:       catalog.MethodSemanticMatch,
		Confidence:   90,
		Alternatives: []string{"1200320", "8888888"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1200320"}, res.Alternatives,
		"hallucinated alternatives must be dropped")
}

func TestAnomalyScan(t *testing.T) {
	mk := func(confs ...int) []catalog.MappingResult {
		out := make([]catalog.MappingResult, len(confs))
		for i, c := range confs {
			out[i] = catalog.MappingResult{Confidence: c, Status: catalog.StatusMapped}
		}
		return out
	}

	assert.Empty(t, AnomalyScan(mk(80, 85, 90, 75)), "moderate confidences are not anomalous")
	assert.Empty(t, AnomalyScan(mk(100, 100)), "small samples are skipped")
	assert.NotEmpty(t, AnomalyScan(mk(100, 100, 5, 99, 10, 100)), "extreme-heavy run must warn")
}
