package domain

// CaseRecord is a normalized precedent case as stored in the index.
type CaseRecord struct {
	Fact               string   `json:"fact"`
	Articles           []int    `json:"articles"`
	Accusations        []string `json:"accusations"`
	Fine               int      `json:"fine"`
	ImprisonmentMonths int      `json:"imprisonment_months"`
	Criminals          []string `json:"criminals"`
}

// ScoredCase pairs a case record with its similarity to the query vector.
type ScoredCase struct {
	CaseRecord
	Score float64 `json:"score"`
}
