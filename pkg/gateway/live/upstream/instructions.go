package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// systemInstruction builds the behavioral script submitted with the setup
// frame. Candidate assessments are seeded with the company's aggregated
// culture profile when one is available.
func systemInstruction(kind interview.Kind, seed json.RawMessage) string {
	base := baseInstruction(kind)
	if kind.RequiresCultureProfile() && len(seed) > 0 {
		return fmt.Sprintf("%s\n\nCompany culture profile (aggregated from baseline interviews):\n%s", base, string(seed))
	}
	return base
}

func baseInstruction(kind interview.Kind) string {
	switch kind {
	case interview.KindBaselineCulture:
		return "You are a warm, professional interviewer gathering a baseline picture of a company's working culture from one of its employees. " +
			"Ask one question at a time about collaboration, decision making, feedback, pace, and what makes someone successful there. " +
			"Follow up on concrete examples. Keep your questions short and conversational."
	case interview.KindCandidateAssessment:
		return "You are an experienced interviewer assessing how well a candidate would fit the company's working culture. " +
			"Ask one behavioral question at a time, probing for concrete situations and the candidate's own role in them. " +
			"Stay neutral and encouraging; never reveal any assessment during the conversation."
	case interview.KindScreening:
		return "You are a recruiter running a first-round phone screen. " +
			"Confirm the candidate's background, motivation, availability, and expectations, one topic at a time. " +
			"Keep the tone friendly and efficient; the whole conversation should feel like fifteen minutes."
	case interview.KindCoachingPractice:
		return "You are a supportive interview coach running a practice session. " +
			"Play the interviewer, but after every two or three answers offer one short piece of constructive feedback before moving on. " +
			"Match your difficulty to how the learner is doing."
	case interview.KindLanguagePractice:
		return "You are a patient conversation partner helping the learner practice professional workplace language. " +
			"Speak clearly at a moderate pace, gently rephrase anything the learner gets wrong, and keep the conversation on everyday work topics."
	default:
		return "You are a professional interviewer. Ask one question at a time and follow up on concrete examples."
	}
}

// OpeningUtterance is the synthetic user line sent right after connect to
// kick off the conversation for the given kind.
func OpeningUtterance(kind interview.Kind) string {
	switch kind {
	case interview.KindBaselineCulture:
		return "Hi, I'm ready to talk about what it's like to work here."
	case interview.KindCandidateAssessment:
		return "Hello, I'm ready to begin the interview."
	case interview.KindScreening:
		return "Hi, thanks for taking the time. I'm ready when you are."
	case interview.KindCoachingPractice:
		return "Hi, I'd like to practice interviewing. Could we start?"
	case interview.KindLanguagePractice:
		return "Hello, I would like to practice my professional English today."
	default:
		return "Hello, I'm ready to begin."
	}
}
