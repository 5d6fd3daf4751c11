package match

import "strings"

// abbreviations expands shorthand campus users type into location fields.
var abbreviations = map[string]string{
	"lib":   "library",
	"bldg":  "building",
	"rm":    "room",
	"bball": "basketball",
	"caf":   "cafeteria",
	"sci":   "science",
	"eng":   "engineering",
	"ctr":   "center",
	"cntr":  "center",
	"rec":   "recreation",
	"stu":   "student",
	"lab":   "laboratory",
	"aud":   "auditorium",
	"pkg":   "parking",
	"res":   "residence",
	"dept":  "department",
	"gym":   "gymnasium",
}

// synonymGroups are sets of places that describe the same area closely
// enough that a report at one should rank as a report at the other.
var synonymGroups = [][]string{
	{"court", "basketball court", "tennis court", "volleyball court", "sports court"},
	{"library", "main library", "study room", "reading room", "stacks"},
	{"cafeteria", "dining hall", "canteen", "food hall", "cafe"},
	{"gymnasium", "fitness center", "recreation center", "weight room"},
	{"parking", "parking lot", "parking garage", "parking structure"},
	{"student union", "student center"},
	{"dormitory", "residence hall", "dorm"},
	{"lecture hall", "auditorium", "classroom"},
	{"field", "football field", "soccer field", "stadium", "track"},
}

// containmentBonus is added to the fuzzy location score when the two
// locations share a keyword.
const containmentBonus = 2.0

// NormalizeLocation lowercases loc, collapses punctuation and whitespace, and
// expands known abbreviations word by word.
func NormalizeLocation(loc string) string {
	words := tokenize(loc)
	for i, w := range words {
		if full, ok := abbreviations[w]; ok {
			words[i] = full
		}
	}
	return strings.Join(words, " ")
}

// mentions reports whether term occurs in the normalized location as whole words.
func mentions(normalized, term string) bool {
	return strings.Contains(" "+normalized+" ", " "+term+" ")
}

// sameGroup reports whether both normalized locations mention a term from
// the same synonym group.
func sameGroup(a, b string) bool {
	for _, group := range synonymGroups {
		inA, inB := false, false
		for _, term := range group {
			inA = inA || mentions(a, term)
			inB = inB || mentions(b, term)
		}
		if inA && inB {
			return true
		}
	}
	return false
}

// LocationScore rates two location strings on a 0–10 scale. A missing
// location on either side scores 0.
func LocationScore(a, b string) float64 {
	a, b = NormalizeLocation(a), NormalizeLocation(b)
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) || sameGroup(a, b) {
		return 10
	}
	score := StringSimilarity(a, b) * 10
	if sharedKeywords(Keywords(a), Keywords(b)) > 0 {
		score += containmentBonus
	}
	return min(score, 10)
}
