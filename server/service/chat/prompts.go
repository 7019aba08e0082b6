package chat

// Fixed texts shown to the model and the user.
const (
	personaPrompt = "Have a natural conversation. Keep responses concise - usually just 1-3 sentences unless they ask for more detail. Be helpful but not preachy."

	memoryBlockHeader = "\n\nContext from previous conversations:"
	memoryBlockFooter = "\n\nUse this context naturally in your responses when relevant, but don't explicitly mention that you remember these things unless directly asked."

	historyBlockHeader = "\n\nRecent conversation context:"
	historyLinePrefix  = "\n- User mentioned: "

	// UpsellReply is returned instead of a model reply when the free allowance is used up.
	UpsellReply = "You've reached your daily limit of 5 messages. Upgrade to continue unlimited conversations."
	// RetryReply is the only failure text users ever see.
	RetryReply = "Something went wrong. Want to try that again?"

	insightPrefix   = "Based on our conversations, "
	noMemoryInsight = "Keep sharing - I'm learning more about you each conversation."
)

const (
	// HistoryCap is the number of turns kept per memory-enabled user.
	HistoryCap = 100
	// RecentContextTurns is how many of the latest stored turns the prompt looks at.
	RecentContextTurns = 10
	// RecentContextChars truncates each quoted user turn.
	RecentContextChars = 100
	// WeeklyTopMemories is the number of memories echoed in a weekly summary.
	WeeklyTopMemories = 3

	replyMaxTokens   = 500
	replyTemperature = 0.7
)
