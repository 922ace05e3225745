package query

import (
	"regexp"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
)

// Intent is what a question asks for: the kind of node wanted and the
// relations to follow from the entities it names.
type Intent struct {
	TargetType common.EntityType     `json:"target_type,omitempty"`
	Relations  []common.RelationType `json:"relations,omitempty"`
	Direction  store.Direction       `json:"direction"`
}

type relationCue struct {
	re       *regexp.Regexp
	relation common.RelationType
	// inverse cues name the relation from its target's point of view,
	// e.g. "contains" for part_of or "follows" for next_step.
	inverse bool
}

var relationCues = []relationCue{
	{re: regexp.MustCompile(`\b(?:part of|component of|belongs? to|belonging to|mounted (?:on|in))\b`), relation: common.RelPartOf},
	{re: regexp.MustCompile(`\b(?:contains?|containing|consists? of|includes?|including)\b`), relation: common.RelPartOf, inverse: true},
	{re: regexp.MustCompile(`\b(?:requires?|required|requiring|needs?|needed|needing)\b`), relation: common.RelRequires},
	{re: regexp.MustCompile(`\b(?:causes?|caused|causing|leads? to|results? in|triggers?|triggered)\b`), relation: common.RelCauses},
	{re: regexp.MustCompile(`\b(?:supersedes?|superseded|replaces?|replaced|replacing)\b`), relation: common.RelSupersedes},
	{re: regexp.MustCompile(`\b(?:before|precedes?|preceding|previous)\b`), relation: common.RelNextStep},
	{re: regexp.MustCompile(`\b(?:after|follows?|following|next)\b`), relation: common.RelNextStep, inverse: true},
	{re: regexp.MustCompile(`\b(?:related|associated|linked)\b`), relation: common.RelRelatedTo},
}

var passiveBy = regexp.MustCompile(`^\s+by\b`)

type typeCue struct {
	re  *regexp.Regexp
	typ common.EntityType
}

// typeCues are checked in order; the earliest match in the question wins.
var typeCues = []typeCue{
	{re: regexp.MustCompile(`\b(?:fault codes?|error codes?|alarm codes?|faults?|alarms?)\b`), typ: common.EntityFaultCode},
	{re: regexp.MustCompile(`\b(?:safety precautions?|precautions?|warnings?|hazards?|cautions?)\b`), typ: common.EntitySafetyPrecaution},
	{re: regexp.MustCompile(`\b(?:components?|parts?|assemblies|assembly|units?)\b`), typ: common.EntityComponent},
	{re: regexp.MustCompile(`\b(?:procedures?)\b`), typ: common.EntityProcedure},
	{re: regexp.MustCompile(`\b(?:steps?)\b`), typ: common.EntityStep},
	{re: regexp.MustCompile(`\b(?:tasks?|jobs?)\b`), typ: common.EntityTask},
	{re: regexp.MustCompile(`\b(?:tools?|equipment|instruments?)\b`), typ: common.EntityTool},
	{re: regexp.MustCompile(`\b(?:thresholds?|limits?|tolerances?|values?)\b`), typ: common.EntityThreshold},
}

// classify derives the intent of question. seedSpans are the normalized
// surfaces of the entities the question names; they are masked before the
// type cues run so that "procedure P" does not ask for procedures.
func classify(question string, seedSpans []string, mentions []common.Mention, schema *common.Schema) Intent {
	q := common.NormalizeValue(question)
	masked := q
	for _, s := range seedSpans {
		if s == "" {
			continue
		}
		masked = strings.ReplaceAll(masked, s, strings.Repeat(" ", len(s)))
	}

	var intent Intent

	bestType := -1
	for _, tc := range typeCues {
		if loc := tc.re.FindStringIndex(masked); loc != nil && (bestType < 0 || loc[0] < bestType) {
			// "part of" is a relation cue, not a request for parts.
			if tc.typ == common.EntityComponent && strings.HasPrefix(masked[loc[0]:], "part of") {
				continue
			}
			bestType = loc[0]
			intent.TargetType = tc.typ
		}
	}

	seedAt := firstIndex(q, seedSpans)
	var direction store.Direction
	for _, rc := range relationCues {
		loc := rc.re.FindStringIndex(masked)
		if loc == nil {
			continue
		}
		if !slices.Contains(intent.Relations, rc.relation) {
			intent.Relations = append(intent.Relations, rc.relation)
		}
		if direction != "" || schema.Symmetric(rc.relation) || seedAt < 0 {
			continue
		}
		seedIsSubject := seedAt < loc[0]
		if passiveBy.MatchString(masked[loc[1]:]) {
			seedIsSubject = !seedIsSubject
		}
		if rc.inverse {
			seedIsSubject = !seedIsSubject
		}
		if seedIsSubject {
			direction = store.Outgoing
		} else {
			direction = store.Incoming
		}
	}

	for _, m := range mentions {
		if m.Relation == nil || !schema.KnownRelation(m.Relation.Relation) {
			continue
		}
		if !slices.Contains(intent.Relations, m.Relation.Relation) {
			intent.Relations = append(intent.Relations, m.Relation.Relation)
		}
		if direction == "" && !schema.Symmetric(m.Relation.Relation) {
			switch {
			case slices.Contains(seedSpans, m.Relation.Target.Normalized):
				direction = store.Incoming
			case slices.Contains(seedSpans, m.Relation.Source.Normalized):
				direction = store.Outgoing
			}
		}
	}

	if len(intent.Relations) != 1 || direction == "" {
		direction = store.Both
	}
	intent.Direction = direction
	return intent
}

func firstIndex(s string, subs []string) int {
	best := -1
	for _, sub := range subs {
		if sub == "" {
			continue
		}
		if i := strings.Index(s, sub); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "to": true, "in": true, "on": true,
	"by": true, "with": true, "which": true, "what": true, "who": true, "how": true, "is": true,
	"are": true, "does": true, "do": true, "be": true, "and": true, "or": true, "that": true,
	"list": true, "show": true, "all": true, "me": true, "any": true, "there": true,
}

// grams returns the word n-grams of the normalized question, longest first,
// skipping grams that start or end with a stopword.
func grams(question string, maxN int) []string {
	words := strings.Fields(strings.Map(func(r rune) rune {
		if strings.ContainsRune("?!.,;:\"'()", r) {
			return ' '
		}
		return r
	}, common.NormalizeValue(question)))

	var out []string
	for n := min(maxN, len(words)); n >= 1; n-- {
		for i := 0; i+n <= len(words); i++ {
			if stopwords[words[i]] || stopwords[words[i+n-1]] {
				continue
			}
			out = append(out, strings.Join(words[i:i+n], " "))
		}
	}
	return out
}
