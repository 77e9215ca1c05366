package bot

const welcomeText = "👋 Welcome! I'm your AI assistant.\n\n" +
	"**What I can do:**\n" +
	"- Answer general questions\n" +
	"- Access your files with your permission\n" +
	"- Search your SharePoint and OneDrive\n\n" +
	"**Commands:**\n" +
	"- `/login` - Sign in to access your files\n" +
	"- `/logout` - Sign out\n" +
	"- Just ask naturally! I'll request authentication when needed.\n\n" +
	"Try: *'What is Azure?'* or *'Show my recent files'*"

const (
	signInPromptText = "🔐 To access your files, please sign in:"
	signInCardTitle  = "Sign in"
	signInCardText   = "Sign in to allow me to access your files on your behalf"

	signedInText        = "✅ Thank you for signing in! I can now access your files on your behalf. You can ask me things like 'list my files' or 'search for documents about X'."
	alreadySignedInText = "✅ You are already signed in!"
	signedOutText       = "✅ You have been signed out successfully."
	badMagicCodeText    = "That code didn't work. Please type `/login` to try again."

	emptyMessageText = "I didn't catch that. Ask me a question, or type `/login` to connect your files."

	tenantDeniedText = "I'm sorry, but your organization is not authorized to use this bot. Please contact your administrator for access."

	signInErrorText  = "⚠️ An error occurred during sign-in. Please try again."
	signOutErrorText = "Error signing out. Please try again."
	graphErrorText   = "⚠️ I encountered an error accessing your files. Please try again or contact support."
	llmErrorText     = "An error occurred while processing your message. Please try again later."
)

const anonymousSystemPrompt = "You are a helpful AI assistant. Respond naturally and helpfully to user queries."

const delegatedSystemPromptPrefix = "You are a helpful AI assistant with access to the user's cloud files. " +
	"Use the following data retrieved on the user's behalf to answer their question:\n\n"

const delegatedSystemPromptSuffix = "\n\nProvide a helpful and natural response based on this data."
