package memory

// extractionPrompt is the system instruction for an extraction pass.
const extractionPrompt = `Extract key information from this conversation to remember for future chats. Focus on:
- Important life events or situations
- Relationships mentioned
- Emotional patterns or triggers
- Goals or struggles
- Personal preferences
Return only the most important 3-5 facts as a JSON array of strings. Be specific and concise.`

const extractionRequestPrefix = "Extract key memories from this conversation:\n\n"
