package i18n

var messagesEN = map[string]string{
	// Below-threshold fallback. Shown verbatim when retrieval finds nothing
	// relevant enough to ground an answer.
	"answer.fallback": `I couldn't find relevant information in the textbook for your question.
This might be because:
- The topic isn't covered in the current chapters
- Your question is too broad or too specific
- There's a typo or unclear phrasing

Please try rephrasing your question or ask about topics related to Physical AI, robotics, kinematics, or control systems covered in the textbook.`,

	// Generic errors. Deliberately vague so upstream failures and credential
	// problems leak nothing to the client.
	"error.retrieval":   "We couldn't process your question right now. Please try again in a moment.",
	"error.generation":  "The answer was interrupted. Please try asking again.",
	"error.guest_limit": "You've reached the free question limit. Please sign in to continue.",
}
