package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	medPattern  = regexp.MustCompile(`(?i)\b(mg|mcg|g|ml|tablet|tab|tabl|caps?|capsule)\b`)
	freqPattern = regexp.MustCompile(`(?i)\b(take|once daily|twice daily|every \d+ hours?|by mouth)\b`)
	dosePattern = regexp.MustCompile(`(?i)(\d+)\s*(mg|mcg|g|ml|units?)`)
)

// Suggestion is the best-effort medication entry read from a label. Fields
// are nil when nothing matched.
type Suggestion struct {
	Name      *string `json:"name"`
	Dose      *string `json:"dose"`
	Frequency *string `json:"frequency"`
}

// Label is the parsed result of a scan. It is never persisted.
type Label struct {
	Lines         []string   `json:"lines"`
	MedCandidates []string   `json:"med_candidates"`
	Suggested     Suggestion `json:"suggested"`
}

// ParseLabel splits text into trimmed non-empty lines, picks the lines that
// look like a medication (a unit or dosage form) and the first directions
// line, then reads name and dose off the first medication line.
func ParseLabel(text string) Label {
	label := Label{Lines: []string{}, MedCandidates: []string{}}

	var freqLines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		label.Lines = append(label.Lines, line)
		if medPattern.MatchString(line) {
			label.MedCandidates = append(label.MedCandidates, line)
		}
		if freqPattern.MatchString(line) {
			freqLines = append(freqLines, line)
		}
	}

	if len(freqLines) > 0 {
		label.Suggested.Frequency = &freqLines[0]
	}
	if len(label.MedCandidates) > 0 {
		name, dose := splitNameDose(label.MedCandidates[0])
		label.Suggested.Name = &name
		label.Suggested.Dose = dose
	}
	return label
}

// splitNameDose reads "120 METFORMIN HCL 500 MG TABL" as name "METFORMIN
// HCL" and dose "500 MG". A leading dispensed quantity is dropped. Without
// a dose the whole line is the name.
func splitNameDose(line string) (string, *string) {
	loc := dosePattern.FindStringIndex(line)
	if loc == nil {
		return line, nil
	}

	dose := strings.TrimSpace(line[loc[0]:loc[1]])
	words := strings.Fields(line[:loc[0]])
	if len(words) > 0 && isDigits(words[0]) {
		words = words[1:]
	}
	name := strings.Join(words, " ")
	if name == "" {
		name = line
	}
	return name, &dose
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
