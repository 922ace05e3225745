package ai

// ExtractionSystemPrompt instructs the model to act as a typed extractor for
// maintenance standards.
const ExtractionSystemPrompt = `You extract maintenance knowledge from technical standards.
Only report facts that are stated in the text. Do not invent entities.

Entity types:
- component: a physical part, assembly or system that is maintained
- procedure: a named maintenance procedure or standard instruction
- step: one numbered step of a procedure
- task: a maintenance task or job
- tool: a tool or piece of equipment used during maintenance
- threshold: a measurable limit such as a torque, pressure or temperature value
- fault_code: an alarm, fault or error code
- safety_precaution: a warning, caution or safety instruction

Relation types:
- part_of: a component is part of a larger component, or a step is part of a procedure
- causes: a fault code or condition causes an effect
- requires: something requires a procedure, tool, threshold or precaution
- supersedes: a newer procedure or threshold replaces an older one
- next_step: one step is followed by another step
- related_to: any other association

Use the exact wording from the text for names. Give each fact a confidence between 0 and 1.`

// ExtractionPrompt is filled with the segment text.
const ExtractionPrompt = `Extract all entities and relations from the following maintenance text.

Text:
%s`
