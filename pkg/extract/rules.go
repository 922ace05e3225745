package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// Confidences assigned by the rule extractor. They are constants so that
// repeated runs over the same text produce identical mentions.
const (
	ConfidenceLabeled  = 0.9
	ConfidenceStep     = 0.9
	ConfidencePhrase   = 0.8
	ConfidenceSequence = 0.8
	ConfidenceKeyword  = 0.7
)

var (
	numberedLine  = regexp.MustCompile(`^\s*(?:(?i:step)\s*)?(\d{1,3})\s*(?:[.)]\s+|[、:：]\s*)(.+)$`)
	labeledLine   = regexp.MustCompile(`^\s*(?i:(component|part|procedure|task|tools?|fault code|部件|零件|规程|任务|工具))\s*[:：]\s*(.+)$`)
	relationVerb  = regexp.MustCompile(`(?i)^(.+?)\s+(is (?:a )?part of|belongs to|requires|require|needs|causes|cause|leads to|results in|supersedes|replaces)\s+(.+)$`)
	procedureRef  = regexp.MustCompile(`\b(?i:procedure)\s+([A-Z][A-Za-z0-9._-]*)`)
	faultCodeRef  = regexp.MustCompile(`\b(?i:fault|error|alarm)\s*(?i:code)?\s*[:#]?\s*([A-Z]{1,4}-?\d{2,5})\b`)
	faultCodeOnly = regexp.MustCompile(`^[A-Z]{1,4}-?\d{2,5}$`)
	thresholdRe   = regexp.MustCompile(`(?i)\b(torque|pressure|temperature|clearance|voltage|current|wear limit|gap|speed|oil level)\b[^0-9<>≤≥\n]{0,24}([<>≤≥]=?)?\s*(\d+(?:\.\d+)?)\s*(n·m|nm|kpa|mpa|bar|psi|rpm|°c|mm|%|v)`)
	warningRe     = regexp.MustCompile(`(?i)\b(warning|caution|danger)\b|注意|警告|危险|小心|禁止`)
	toolCue       = regexp.MustCompile(`扳手|工具`)
	severeRe      = regexp.MustCompile(`(?i)\b(severe|serious|danger|fatal)\b|高度|严重|危险`)
	listSplit     = regexp.MustCompile(`\s*(?:,|;|、|，|；|/|\band\b)\s*`)
	clauseSplit   = regexp.MustCompile(`[;；。!?！？]|\.\s`)
	leadingFiller = regexp.MustCompile(`(?i)^(?:the|a|an|each|every|all|any|this|that)\s+`)
	interrogative = regexp.MustCompile(`(?i)^(?:which|what|who|whom|how|when|where|why|does|do|is|are|list|show)\b`)
)

// RuleExtractor is the deterministic extraction capability. It recognizes the
// structure maintenance standards are usually written in: numbered steps,
// labeled lines, tool lists, warnings, fault codes, measured limits and simple
// "X requires Y" style sentences.
type RuleExtractor struct {
	schema *common.Schema
}

// NewRuleExtractor creates a RuleExtractor. A nil schema uses the default
// registry to filter relations with invalid endpoints.
func NewRuleExtractor(schema *common.Schema) *RuleExtractor {
	if schema == nil {
		schema = common.DefaultSchema()
	}
	return &RuleExtractor{schema: schema}
}

type ruleState struct {
	in        SegmentInput
	out       []common.Mention
	procedure *common.EntityMention
	step      *common.EntityMention
}

// Extract implements Extractor.
func (r *RuleExtractor) Extract(ctx context.Context, in SegmentInput) ([]common.Mention, error) {
	st := &ruleState{in: in}
	for _, line := range strings.Split(in.Segment.Text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line = common.CleanText(line)
		if line == "" {
			continue
		}
		r.line(st, line)
	}
	return st.out, nil
}

func (r *RuleExtractor) line(st *ruleState, line string) {
	if m := labeledLine.FindStringSubmatch(line); m != nil {
		r.labeled(st, strings.ToLower(m[1]), m[2])
		return
	}

	cued := false
	if m := numberedLine.FindStringSubmatch(line); m != nil {
		step := entity(common.EntityStep, m[2], ConfidenceStep, st.in)
		step.Attributes = map[string]string{"order": m[1]}
		st.emitEntity(step)
		if st.step != nil {
			st.emitRelation(common.RelNextStep, *st.step, step, ConfidenceSequence)
		}
		if st.procedure != nil {
			st.emitRelation(common.RelPartOf, step, *st.procedure, ConfidencePhrase)
		}
		for _, tm := range thresholdRe.FindAllStringSubmatch(line, -1) {
			st.emitRelation(common.RelRequires, step, threshold(tm, st.in), ConfidencePhrase)
		}
		st.step = &step
	} else if toolCue.MatchString(line) {
		r.toolLine(st, line)
		cued = true
	}

	if !cued && warningRe.MatchString(line) {
		sp := entity(common.EntitySafetyPrecaution, line, ConfidenceKeyword, st.in)
		sp.Attributes = map[string]string{"severity": "Medium"}
		if severeRe.MatchString(line) {
			sp.Attributes["severity"] = "High"
		}
		st.emitEntity(sp)
		if owner := st.owner(); owner != nil {
			st.emitRelation(common.RelRequires, *owner, sp, ConfidenceKeyword)
		}
	}

	for _, clause := range clauseSplit.Split(line, -1) {
		r.clause(st, clause)
	}
}

func (r *RuleExtractor) labeled(st *ruleState, label, value string) {
	switch label {
	case "procedure", "规程":
		p := entity(common.EntityProcedure, stripPrefix(value, "procedure"), ConfidenceLabeled, st.in)
		st.emitEntity(p)
		st.procedure = &p
		st.step = nil
	case "component", "part", "部件", "零件":
		for _, name := range splitList(value) {
			st.emitEntity(entity(common.EntityComponent, name, ConfidenceLabeled, st.in))
		}
	case "task", "任务":
		st.emitEntity(entity(common.EntityTask, value, ConfidenceLabeled, st.in))
	case "tool", "tools", "工具":
		owner := st.owner()
		for _, name := range splitList(value) {
			tool := entity(common.EntityTool, name, ConfidenceLabeled, st.in)
			st.emitEntity(tool)
			if owner != nil {
				st.emitRelation(common.RelRequires, *owner, tool, ConfidencePhrase)
			}
		}
	case "fault code":
		for _, code := range splitList(value) {
			st.emitEntity(entity(common.EntityFaultCode, code, ConfidenceLabeled, st.in))
		}
	}
}

// toolLine reads a free-form line naming a tool, e.g. "扭力扳手：拧紧螺栓".
// Text after the colon is kept as the tool's purpose.
func (r *RuleExtractor) toolLine(st *ruleState, line string) {
	name, purpose, _ := strings.Cut(line, ":")
	tool := entity(common.EntityTool, name, ConfidenceKeyword, st.in)
	if purpose = strings.TrimSpace(purpose); purpose != "" {
		tool.Attributes = map[string]string{"purpose": purpose}
	}
	st.emitEntity(tool)
	if owner := st.owner(); owner != nil {
		st.emitRelation(common.RelRequires, *owner, tool, ConfidenceKeyword)
	}
}

func (r *RuleExtractor) clause(st *ruleState, clause string) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return
	}

	for _, m := range procedureRef.FindAllStringSubmatch(clause, -1) {
		st.emitEntity(entity(common.EntityProcedure, m[1], ConfidenceKeyword, st.in))
	}
	for _, m := range faultCodeRef.FindAllStringSubmatch(clause, -1) {
		st.emitEntity(entity(common.EntityFaultCode, m[1], ConfidenceKeyword, st.in))
	}
	for _, m := range thresholdRe.FindAllStringSubmatch(clause, -1) {
		st.emitEntity(threshold(m, st.in))
	}

	m := relationVerb.FindStringSubmatch(clause)
	if m == nil {
		return
	}
	rel, subjDefault, objDefault := verbRelation(strings.ToLower(m[2]))
	subjText, subjOK := phrase(m[1])
	objText, objOK := phrase(m[3])
	if !objOK {
		return
	}

	objType, objSurface := classify(objText, objDefault)
	obj := entity(objType, objSurface, ConfidencePhrase, st.in)
	if tm := thresholdRe.FindStringSubmatch(objText); tm != nil {
		obj = threshold(tm, st.in)
	}

	if !subjOK {
		// questions such as "which components require procedure P" only
		// contribute the object
		st.emitEntity(obj)
		return
	}
	if rel == common.RelSupersedes {
		subjDefault = objType
	}
	subjType, subjSurface := classify(subjText, subjDefault)
	subj := entity(subjType, subjSurface, ConfidencePhrase, st.in)
	if rel == common.RelSupersedes && subj.Type != obj.Type {
		return
	}
	if !r.schema.AllowsEndpoints(rel, subj.Type, obj.Type) {
		return
	}
	st.emitRelation(rel, subj, obj, ConfidencePhrase)
}

func (st *ruleState) owner() *common.EntityMention {
	if st.step != nil {
		return st.step
	}
	return st.procedure
}

func (st *ruleState) emitEntity(e common.EntityMention) {
	if e.Normalized == "" {
		return
	}
	st.out = append(st.out, common.NewEntityMention(e))
}

func (st *ruleState) emitRelation(rel common.RelationType, src, tgt common.EntityMention, conf float64) {
	if src.Normalized == "" || tgt.Normalized == "" {
		return
	}
	st.out = append(st.out, common.NewRelationMention(common.RelationMention{
		Relation:   rel,
		Source:     src,
		Target:     tgt,
		Confidence: conf,
		Provenance: st.in.Provenance(),
	}))
}

func entity(t common.EntityType, surface string, conf float64, in SegmentInput) common.EntityMention {
	surface = common.CleanText(surface)
	if len([]rune(surface)) > 160 {
		surface = string([]rune(surface)[:160])
	}
	return common.EntityMention{
		Type:       t,
		Surface:    surface,
		Normalized: common.NormalizeValue(surface),
		Confidence: conf,
		Provenance: in.Provenance(),
	}
}

func threshold(m []string, in SegmentInput) common.EntityMention {
	quantity := strings.ToLower(m[1])
	unit := strings.ToLower(m[4])
	surface := strings.TrimSpace(m[0])
	e := entity(common.EntityThreshold, surface, ConfidenceLabeled, in)
	e.Normalized = strings.TrimSpace(quantity + " " + m[2] + m[3] + " " + unit)
	e.Attributes = map[string]string{"quantity": quantity, "value": m[3], "unit": unit}
	if m[2] != "" {
		e.Attributes["comparator"] = m[2]
	}
	return e
}

func verbRelation(verb string) (common.RelationType, common.EntityType, common.EntityType) {
	switch verb {
	case "is part of", "is a part of", "belongs to":
		return common.RelPartOf, common.EntityComponent, common.EntityComponent
	case "causes", "cause", "leads to", "results in":
		return common.RelCauses, common.EntityFaultCode, common.EntityComponent
	case "supersedes", "replaces":
		return common.RelSupersedes, common.EntityProcedure, common.EntityProcedure
	default:
		return common.RelRequires, common.EntityComponent, common.EntityProcedure
	}
}

// classify derives the entity type from an explicit type word at the start
// of the phrase, a fault code shape or a measured limit, else the default.
func classify(text string, def common.EntityType) (common.EntityType, string) {
	lower := strings.ToLower(text)
	prefixes := []struct {
		word string
		t    common.EntityType
	}{
		{"procedure ", common.EntityProcedure},
		{"tool ", common.EntityTool},
		{"task ", common.EntityTask},
		{"step ", common.EntityStep},
		{"component ", common.EntityComponent},
		{"part ", common.EntityComponent},
		{"fault code ", common.EntityFaultCode},
	}
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p.word) {
			return p.t, strings.TrimSpace(text[len(p.word):])
		}
	}
	if faultCodeOnly.MatchString(text) {
		return common.EntityFaultCode, text
	}
	if thresholdRe.MatchString(text) {
		return common.EntityThreshold, text
	}
	if def == common.EntityFaultCode {
		return common.EntityComponent, text
	}
	return def, text
}

func phrase(s string) (string, bool) {
	s = strings.Trim(strings.TrimSpace(s), ".,:;\"'")
	if s == "" || interrogative.MatchString(s) {
		return "", false
	}
	s = leadingFiller.ReplaceAllString(s, "")
	if n := len(strings.Fields(s)); n == 0 || n > 8 {
		return "", false
	}
	return s, true
}

func stripPrefix(s, word string) string {
	if strings.HasPrefix(strings.ToLower(s), word+" ") {
		return strings.TrimSpace(s[len(word)+1:])
	}
	return s
}

func splitList(s string) []string {
	parts := listSplit.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StepOrder returns the numeric order attribute of a step mention, or -1.
func StepOrder(e common.EntityMention) int {
	n, err := strconv.Atoi(e.Attributes["order"])
	if err != nil {
		return -1
	}
	return n
}
