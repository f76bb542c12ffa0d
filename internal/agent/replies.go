package agent

// User-visible replies. Wording is part of the bot's observable behaviour.
const (
	DefaultSystemPrompt = "You are a helpful AI assistant in a WhatsApp bot. Be concise, friendly, and helpful. " +
		"Keep responses brief since this is a messaging platform."
	DefaultImagePrompt = "Describe this image in detail"

	replyGreeting = "👋 Hello! I'm your AI WhatsApp assistant!\n\n" +
		"Send me:\n" +
		"📝 Text - Chat with me\n" +
		"🎤 Audio - I'll transcribe and respond\n" +
		"🖼️ Image - I'll analyze it\n\n" +
		"Type /reset to clear conversation history"
	replyReset        = "✅ Conversation history cleared!"
	replyFetchFailed  = "❌ Sorry, couldn't download the media."
	replyNoContent    = "❌ No message content received"
	replyGenericError = "❌ Sorry, an error occurred while processing your message."
	replyChatError    = "Error communicating with AI. Please try again later."
	replyImageError   = "Error analyzing image. Please try again later."

	unsupportedMediaFormat = "❌ Unsupported media type: %s"
	transcribeErrorFormat  = "Error transcribing audio: %v"
	audioReplyFormat       = "🎤 *Transcription:*\n%s\n\n💬 *AI Response:*\n%s"
	imageReplyPrefix       = "🖼️ *Image Analysis:*\n"
)

// GenericErrorReply is sent when handling fails outside any provider call.
func GenericErrorReply() string { return replyGenericError }
