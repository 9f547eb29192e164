package queryengine

import (
	"fmt"
	"strings"
)

// Template is a fixed, named query pattern. Clause pieces are held
// separately so extra predicates are appended as data before rendering,
// never spliced into SQL text.
type Template struct {
	Name        string
	Description string

	// Keywords score one point per hit in the lower-cased question;
	// Phrases add a two-point bonus when any of them appears.
	Keywords []string
	Phrases  []string

	SelectBody     string
	BasePredicates []string
	GroupBy        string
	Having         string // uses %d for the min-count parameter
	OrderBy        string

	MinCount     int
	DefaultLimit int

	// Explanation formats the result count and confidence percentage.
	Explanation string
}

// Render assembles the final query from the template plus extracted
// predicates and limit.
func (t *Template) Render(extra []string, limit int) string {
	var b strings.Builder
	b.WriteString(t.SelectBody)

	preds := make([]string, 0, len(t.BasePredicates)+len(extra))
	preds = append(preds, t.BasePredicates...)
	preds = append(preds, extra...)
	if len(preds) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(preds, "\n  AND "))
	}
	if t.GroupBy != "" {
		b.WriteString("\nGROUP BY ")
		b.WriteString(t.GroupBy)
	}
	if t.Having != "" {
		b.WriteString("\nHAVING ")
		b.WriteString(fmt.Sprintf(t.Having, t.MinCount))
	}
	if t.OrderBy != "" {
		b.WriteString("\nORDER BY ")
		b.WriteString(t.OrderBy)
	}
	b.WriteString(fmt.Sprintf("\nLIMIT %d", limit))
	return b.String()
}

// defaultTemplates returns the intent templates in registration order;
// ties score-wise resolve to the earlier entry, and the last entry is the
// zero-score fallback.
func defaultTemplates() []Template {
	join := `FROM memory_changes mc
JOIN annotations a ON mc.session_uuid = a.session_uuid AND mc.frame_set_id = a.frame_set_id`

	return []Template{
		{
			Name:        "battle_addresses",
			Description: "Find memory addresses active during battle",
			Keywords:    []string{"battle", "combat", "fight", "attack", "enemy"},
			Phrases:     []string{"battle context", "during battle"},
			SelectBody: `SELECT mc.address,
       COUNT(*) AS change_count,
       AVG(ABS(CAST(mc.curr_val AS INTEGER) - CAST(mc.prev_val AS INTEGER))) AS avg_change_magnitude,
       MIN(CAST(mc.prev_val AS INTEGER)) AS min_prev_val,
       MAX(CAST(mc.curr_val AS INTEGER)) AS max_curr_val,
       GROUP_CONCAT(DISTINCT SUBSTR(a.description, 1, 100)) AS sample_descriptions,
       GROUP_CONCAT(DISTINCT mc.region) AS regions
` + join,
			BasePredicates: []string{
				`(a.context LIKE '%battle%' OR a.context LIKE '%combat%' OR a.context LIKE '%fight%'
   OR a.description LIKE '%battle%' OR a.description LIKE '%attack%' OR a.description LIKE '%enemy%')`,
			},
			GroupBy:      "mc.address",
			Having:       "change_count >= %d",
			OrderBy:      "change_count DESC, avg_change_magnitude DESC",
			MinCount:     3,
			DefaultLimit: 25,
			Explanation:  "Found %d memory addresses that change during battle contexts. Confidence: %.1f%%",
		},
		{
			Name:        "health_addresses",
			Description: "Find addresses potentially related to health/HP",
			Keywords:    []string{"health", "hp", "damage", "enemy health", "player health", "hurt"},
			Phrases:     []string{"enemy health", "player health", "hp"},
			SelectBody: `SELECT mc.address,
       COUNT(*) AS change_count,
       AVG(CAST(mc.prev_val AS INTEGER)) AS avg_prev_val,
       AVG(CAST(mc.curr_val AS INTEGER)) AS avg_curr_val,
       AVG(CAST(mc.curr_val AS INTEGER) - CAST(mc.prev_val AS INTEGER)) AS avg_change,
       GROUP_CONCAT(DISTINCT SUBSTR(a.description, 1, 100)) AS descriptions,
       GROUP_CONCAT(DISTINCT a.context) AS contexts,
       GROUP_CONCAT(DISTINCT mc.region) AS regions
` + join,
			BasePredicates: []string{
				`(a.description LIKE '%health%' OR a.description LIKE '%HP%'
   OR a.description LIKE '%damage%' OR a.description LIKE '%hurt%'
   OR a.description LIKE '%enemy%' OR a.description LIKE '%player%'
   OR a.description LIKE '%life%' OR a.description LIKE '%wounded%')`,
				`ABS(CAST(mc.curr_val AS INTEGER) - CAST(mc.prev_val AS INTEGER)) > 0`,
			},
			GroupBy:      "mc.address",
			Having:       "change_count >= %d",
			OrderBy:      "change_count DESC",
			MinCount:     2,
			DefaultLimit: 30,
			Explanation:  "Identified %d potential health-related addresses showing value changes. Confidence: %.1f%%",
		},
		{
			Name:        "movement_buttons",
			Description: "Find button presses related to overworld movement",
			Keywords:    []string{"movement", "moving", "overworld", "button", "walk", "direction"},
			Phrases:     []string{"button press", "overworld", "moving around"},
			SelectBody: `SELECT fs.buttons,
       COUNT(*) AS frequency,
       GROUP_CONCAT(DISTINCT a.scene) AS scenes,
       GROUP_CONCAT(DISTINCT SUBSTR(a.description, 1, 50)) AS sample_descriptions,
       GROUP_CONCAT(DISTINCT a.context) AS contexts
FROM frame_sets fs
JOIN annotations a ON fs.session_uuid = a.session_uuid AND fs.frame_set_id = a.frame_set_id`,
			BasePredicates: []string{
				`(a.context LIKE '%overworld%' OR a.context LIKE '%field%' OR a.context LIKE '%world%')`,
				`fs.buttons IS NOT NULL`,
				`fs.buttons != '[]'`,
				`fs.buttons != ''`,
				`(a.description LIKE '%mov%' OR a.description LIKE '%walk%'
   OR a.description LIKE '%run%' OR a.description LIKE '%direction%'
   OR a.description LIKE '%up%' OR a.description LIKE '%down%'
   OR a.description LIKE '%left%' OR a.description LIKE '%right%')`,
			},
			GroupBy:      "fs.buttons",
			Having:       "frequency >= %d",
			OrderBy:      "frequency DESC",
			MinCount:     2,
			DefaultLimit: 20,
			Explanation:  "Discovered %d button combinations used for overworld movement. Confidence: %.1f%%",
		},
		{
			Name:        "experience_addresses",
			Description: "Find addresses related to experience or rewards",
			Keywords:    []string{"experience", "xp", "medal", "points", "level", "gain"},
			Phrases:     []string{"medal xp", "experience points", "after battle"},
			SelectBody: `SELECT mc.address,
       COUNT(*) AS change_count,
       AVG(CAST(mc.prev_val AS INTEGER)) AS avg_prev_val,
       AVG(CAST(mc.curr_val AS INTEGER)) AS avg_curr_val,
       AVG(CAST(mc.curr_val AS INTEGER) - CAST(mc.prev_val AS INTEGER)) AS avg_increase,
       GROUP_CONCAT(DISTINCT SUBSTR(a.description, 1, 100)) AS descriptions,
       GROUP_CONCAT(DISTINCT a.context) AS contexts,
       GROUP_CONCAT(DISTINCT mc.region) AS regions
` + join,
			BasePredicates: []string{
				`(a.description LIKE '%experience%' OR a.description LIKE '%XP%'
   OR a.description LIKE '%medal%' OR a.description LIKE '%points%'
   OR a.description LIKE '%level%' OR a.description LIKE '%gain%'
   OR a.description LIKE '%reward%' OR a.description LIKE '%earned%')`,
				`CAST(mc.curr_val AS INTEGER) > CAST(mc.prev_val AS INTEGER)`,
			},
			GroupBy:      "mc.address",
			OrderBy:      "avg_increase DESC, change_count DESC",
			DefaultLimit: 30,
			Explanation:  "Located %d addresses potentially tracking experience or rewards. Confidence: %.1f%%",
		},
		{
			Name:        "address_exploration",
			Description: "General address exploration with context",
			Keywords:    []string{"address", "memory", "what", "show", "find"},
			SelectBody: `SELECT mc.address,
       COUNT(*) AS total_changes,
       COUNT(DISTINCT a.context) AS unique_contexts,
       GROUP_CONCAT(DISTINCT a.context) AS contexts,
       AVG(ABS(CAST(mc.curr_val AS INTEGER) - CAST(mc.prev_val AS INTEGER))) AS avg_change_magnitude,
       MIN(CAST(mc.prev_val AS INTEGER)) AS min_value,
       MAX(CAST(mc.curr_val AS INTEGER)) AS max_value,
       GROUP_CONCAT(DISTINCT SUBSTR(a.description, 1, 100)) AS sample_descriptions,
       GROUP_CONCAT(DISTINCT mc.region) AS regions
` + join,
			GroupBy:      "mc.address",
			Having:       "total_changes >= %d",
			OrderBy:      "total_changes DESC, unique_contexts DESC",
			MinCount:     5,
			DefaultLimit: 30,
			Explanation:  "Found %d memory addresses matching your criteria. Confidence: %.1f%%",
		},
	}
}
