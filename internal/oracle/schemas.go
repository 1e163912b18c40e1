package oracle

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/painpoint-radar/internal/model"
	"github.com/sells-group/painpoint-radar/internal/textnorm"
)

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return eris.Errorf("%s %.3f outside [0,1]", name, v)
	}
	return nil
}

func checkScore(name string, v int) error {
	if v < 0 || v > 100 {
		return eris.Errorf("%s %d outside [0,100]", name, v)
	}
	return nil
}

// FilterJudgment is the filter stage's verdict on one item.
type FilterJudgment struct {
	English    bool    `json:"english"`
	PainPoint  bool    `json:"pain_point"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
	Reason     string  `json:"reason"`
}

// Validate implements Schema.
func (j *FilterJudgment) Validate() error {
	return checkUnit("confidence", j.Confidence)
}

// Extraction is the structured pain statement pulled from one item.
type Extraction struct {
	Problem   string         `json:"problem"`
	Persona   string         `json:"persona"`
	Severity  model.Severity `json:"severity"`
	Tags      []string       `json:"tags"`
	Keywords  []string       `json:"keywords"`
	Product   string         `json:"product"`
	GapPhrase string         `json:"gap_phrase"`
	Region    string         `json:"region"`
}

// Validate implements Schema.
func (e *Extraction) Validate() error {
	if strings.TrimSpace(e.Problem) == "" {
		return eris.New("problem is empty")
	}
	if !e.Severity.Valid() {
		return eris.Errorf("unknown severity %q", e.Severity)
	}
	if len(textnorm.Set(e.Keywords)) == 0 {
		return eris.New("no usable keywords")
	}
	if e.GapPhrase != "" && e.Product == "" {
		return eris.New("gap phrase without product")
	}
	return nil
}

// BriefScores are the model's base sub-score estimates.
type BriefScores struct {
	Frequency   int `json:"frequency"`
	Severity    int `json:"severity"`
	Economic    int `json:"economic"`
	Solvability int `json:"solvability"`
	Competitive int `json:"competitive"`
	Regional    int `json:"regional"`
}

// BriefDraft is the synthesized description of a cluster.
type BriefDraft struct {
	Title    string      `json:"title"`
	Summary  string      `json:"summary"`
	Keywords []string    `json:"keywords"`
	Scores   BriefScores `json:"scores"`
}

// Validate implements Schema.
func (b *BriefDraft) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return eris.New("title is empty")
	}
	if strings.TrimSpace(b.Summary) == "" {
		return eris.New("summary is empty")
	}
	for name, v := range map[string]int{
		"frequency":   b.Scores.Frequency,
		"severity":    b.Scores.Severity,
		"economic":    b.Scores.Economic,
		"solvability": b.Scores.Solvability,
		"competitive": b.Scores.Competitive,
		"regional":    b.Scores.Regional,
	} {
		if err := checkScore(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Brief converts the draft to the versioned record stored on the cluster.
func (b *BriefDraft) Brief() model.Brief {
	return model.Brief{
		Version:  model.BriefVersion,
		Title:    strings.TrimSpace(b.Title),
		Summary:  strings.TrimSpace(b.Summary),
		Keywords: b.Keywords,
		Base: model.SubScores{
			Frequency:   b.Scores.Frequency,
			Severity:    b.Scores.Severity,
			Economic:    b.Scores.Economic,
			Solvability: b.Scores.Solvability,
			Competitive: b.Scores.Competitive,
			Regional:    b.Scores.Regional,
		},
	}
}

// Relevance answers whether a candidate matches a cluster's problem.
type Relevance struct {
	Match      bool           `json:"match"`
	Confidence float64        `json:"confidence"`
	Severity   model.Severity `json:"severity"`
}

// Validate implements Schema.
func (r *Relevance) Validate() error {
	if err := checkUnit("confidence", r.Confidence); err != nil {
		return err
	}
	if r.Match && !r.Severity.Valid() {
		return eris.Errorf("match with unknown severity %q", r.Severity)
	}
	return nil
}
