package analysis

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/jobs"
)

// rubricFor selects the evaluation lens for the session kind. The schema
// stays the same; the rubric shifts what the fields mean.
func rubricFor(kind interview.Kind) string {
	switch kind {
	case interview.KindBaselineCulture:
		return "You analyze an internal culture interview with a current employee. " +
			"Extract the values, working norms, and communication style the employee describes. " +
			"Summarize what this conversation reveals about how the team actually operates, " +
			"and surface direct quotes that best illustrate each observation."
	case interview.KindCandidateAssessment:
		return "You assess a candidate interview against the company culture context provided. " +
			"Weigh concrete evidence from the candidate's answers over general impressions. " +
			"Note both alignment signals and genuine concerns; do not pad either list."
	case interview.KindScreening:
		return "You evaluate an initial screening conversation. Focus on communication clarity, " +
			"role-relevant experience the candidate actually demonstrated, and any follow-up areas " +
			"a human interviewer should probe in a later round."
	case interview.KindCoachingPractice:
		return "You are a supportive interview coach reviewing a practice session. " +
			"Highlight what the learner did well, then give specific, actionable improvements " +
			"tied to moments in the transcript."
	case interview.KindLanguagePractice:
		return "You review a professional-language practice session. Assess fluency, vocabulary " +
			"range, and workplace-appropriate register. Corrections should cite the learner's " +
			"actual phrasing and offer a better alternative."
	default:
		return "You analyze a recorded interview transcript and produce a structured, " +
			"evidence-based assessment."
	}
}

func buildPrompt(job jobs.AnalysisJob, rendered string) string {
	prompt := fmt.Sprintf("Analyze the following %s session transcript.\n\n%s", job.Kind, rendered)
	if len(job.SeedContext) > 0 {
		prompt += fmt.Sprintf("\n\nCompany culture context:\n%s", job.SeedContext)
	}
	return prompt
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type:        genai.TypeString,
				Description: "Three to five sentence overview of the session",
			},
			"highlights": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Specific positive observations, each tied to transcript evidence",
			},
			"concerns": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Specific concerns or improvement areas; may be empty",
			},
			"score": {
				Type:        genai.TypeInteger,
				Description: "Overall score from 1 (poor) to 10 (excellent)",
			},
		},
		Required: []string{"summary", "highlights", "concerns", "score"},
	}
}
