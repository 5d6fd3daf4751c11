package match

import (
	"math"

	"github.com/erazemk/najdeno/internal/model"
)

// Sub-score ceilings. The non-category signals add up to more than
// MaxScore-CategoryWeight because the cross-field bonus rewards detail spread
// unevenly across fields, so their sum is capped there and a category match
// always carries its full weight.
const (
	CategoryWeight    = 40.0
	TitleWeight       = 20.0
	DescriptionWeight = 15.0
	CrossFieldCap     = 10.0
	CrossFieldPoints  = 2.0
	CombinedWeight    = 5.0
	DateWeight        = 10.0
	LocationWeight    = 10.0

	MaxScore = 100.0
)

// Breakdown holds the named sub-scores behind a composite score, each
// rounded to one decimal. The sub-scores are reported before the cap on
// the non-category signals, so when SignalsCapped is set they add up to
// more than the composite score.
type Breakdown struct {
	CategoryMatch         float64 `json:"category_match"`
	TitleSimilarity       float64 `json:"title_similarity"`
	DescriptionSimilarity float64 `json:"description_similarity"`
	CrossFieldBonus       float64 `json:"cross_field_bonus"`
	CombinedSimilarity    float64 `json:"combined_similarity"`
	DateProximity         float64 `json:"date_proximity"`
	LocationMatch         float64 `json:"location_match"`
	SignalsCapped         bool    `json:"signals_capped"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// CrossFieldBonus awards CrossFieldPoints for every keyword shared between
// one item's title and the other item's description, checked both ways.
func CrossFieldBonus(a, b model.Item) float64 {
	shared := sharedKeywords(Keywords(a.Title), Keywords(b.Description)) +
		sharedKeywords(Keywords(b.Title), Keywords(a.Description))
	return min(float64(shared)*CrossFieldPoints, CrossFieldCap)
}

// Score compares source against candidate and returns the composite score
// (0–100, one decimal) with its breakdown.
func Score(source, candidate model.Item) (float64, Breakdown) {
	var category float64
	if source.Category == candidate.Category {
		category = CategoryWeight
	}

	raw := Breakdown{
		CategoryMatch:         category,
		TitleSimilarity:       StringSimilarity(source.Title, candidate.Title) * TitleWeight,
		DescriptionSimilarity: StringSimilarity(source.Description, candidate.Description) * DescriptionWeight,
		CrossFieldBonus:       CrossFieldBonus(source, candidate),
		CombinedSimilarity: StringSimilarity(
			source.Title+" "+source.Description,
			candidate.Title+" "+candidate.Description,
		) * CombinedWeight,
		DateProximity: DateProximity(source.OccurredOn, candidate.OccurredOn),
		LocationMatch: LocationScore(source.Location, candidate.Location),
	}

	signals := raw.TitleSimilarity + raw.DescriptionSimilarity + raw.CrossFieldBonus +
		raw.CombinedSimilarity + raw.DateProximity + raw.LocationMatch
	total := raw.CategoryMatch + min(signals, MaxScore-CategoryWeight)

	return round1(total), Breakdown{
		CategoryMatch:         round1(raw.CategoryMatch),
		TitleSimilarity:       round1(raw.TitleSimilarity),
		DescriptionSimilarity: round1(raw.DescriptionSimilarity),
		CrossFieldBonus:       round1(raw.CrossFieldBonus),
		CombinedSimilarity:    round1(raw.CombinedSimilarity),
		DateProximity:         round1(raw.DateProximity),
		LocationMatch:         round1(raw.LocationMatch),
		SignalsCapped:         signals > MaxScore-CategoryWeight,
	}
}
